package model

import "time"

// TemplateCategory はテンプレートの用途区分を表す。
type TemplateCategory string

const (
	CategoryInvitation  TemplateCategory = "INVITATION"
	CategoryFlyer       TemplateCategory = "FLYER"
	CategorySouvenir    TemplateCategory = "SOUVENIR"
	CategoryPoster      TemplateCategory = "POSTER"
	CategoryCard        TemplateCategory = "CARD"
	CategoryBanner      TemplateCategory = "BANNER"
	CategorySocialMedia TemplateCategory = "SOCIAL_MEDIA"
	CategoryOther       TemplateCategory = "OTHER"
)

// TemplateCategories は定義済みカテゴリの一覧。
var TemplateCategories = []TemplateCategory{
	CategoryInvitation,
	CategoryFlyer,
	CategorySouvenir,
	CategoryPoster,
	CategoryCard,
	CategoryBanner,
	CategorySocialMedia,
	CategoryOther,
}

// IsValid はカテゴリが定義済みの値かを判定する。
func (c TemplateCategory) IsValid() bool {
	for _, v := range TemplateCategories {
		if c == v {
			return true
		}
	}
	return false
}

// Template はデザインの元になる再利用可能なテンプレートを表す。
// プレミアムテンプレートの利用制限はデザイン作成時に適用し、閲覧時には適用しない。
type Template struct {
	ID          string
	Name        string
	Description string
	Category    TemplateCategory
	Thumbnail   string
	Width       int
	Height      int
	Data        TemplateData
	IsPremium   bool
	IsPublic    bool
	IsFeatured  bool
	Price       *float64
	Tags        []string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TemplateData はテンプレートのキャンバス定義（jsonbで保存）。
type TemplateData struct {
	Version    string             `json:"version,omitempty"`
	Width      int                `json:"width,omitempty"`
	Height     int                `json:"height,omitempty"`
	Background TemplateBackground `json:"background"`
	Elements   []TemplateElement  `json:"elements"`
	Variables  []TemplateVariable `json:"variables,omitempty"`
}

// TemplateBackground はキャンバス背景の定義。
type TemplateBackground struct {
	Type     string `json:"type"` // solid, gradient, image
	Color    string `json:"color,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// TemplateElement はキャンバス上の描画要素。
// Contentには {{name}} または [name] 形式の変数プレースホルダを含められる。
type TemplateElement struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"` // text, image, shape
	Content    string  `json:"content,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width,omitempty"`
	Height     float64 `json:"height,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	FontWeight string  `json:"fontWeight,omitempty"`
	Color      string  `json:"color,omitempty"`
	TextAlign  string  `json:"textAlign,omitempty"`
	Src        string  `json:"src,omitempty"`
	Shape      string  `json:"shape,omitempty"` // circle, rect, ellipse
	Fill       string  `json:"fill,omitempty"`
	Opacity    float64 `json:"opacity,omitempty"`
	Editable   bool    `json:"editable,omitempty"`
}

// TemplateVariable はユーザーが入力する変数の定義。
type TemplateVariable struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Type      string `json:"type"` // text, date, number
	Default   string `json:"default,omitempty"`
	Required  bool   `json:"required,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
}

// TemplateSummary は一覧表示やデザインへの埋め込みに使うテンプレート要約。
type TemplateSummary struct {
	ID        string
	Name      string
	Category  TemplateCategory
	Thumbnail string
}

// TemplateUsage はテンプレートと利用回数の組。
type TemplateUsage struct {
	TemplateSummary
	UsageCount int
}
