package model

import "time"

// DesignStatus はデザインの状態を表す。
type DesignStatus string

const (
	DesignDraft     DesignStatus = "DRAFT"
	DesignRendering DesignStatus = "RENDERING"
	DesignFailed    DesignStatus = "FAILED"
	DesignCompleted DesignStatus = "COMPLETED"
)

// Design はテンプレートに変数値を埋めたユーザーのデザインを表す。
// 所有ユーザー以外からは参照できない。
type Design struct {
	ID         string
	UserID     string
	TemplateID string
	Name       string
	Status     DesignStatus
	Data       map[string]string // 変数名 -> 値
	Thumbnail  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DesignWithTemplate はデザインにテンプレート要約を付与した構造体。
type DesignWithTemplate struct {
	Design
	Template TemplateSummary
}
