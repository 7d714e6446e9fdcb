// Package template はテンプレートの閲覧・登録のドメインロジックを提供する。
package template

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/repository"
	"github.com/hitoshi/designstudio/internal/security"
)

const (
	// DefaultLimit は一覧取得の既定件数。
	DefaultLimit = 20
	// MaxLimit は一覧取得の最大件数。
	MaxLimit = 100
)

// ListParams はテンプレート一覧の取得条件。
type ListParams struct {
	Category model.TemplateCategory
	Featured bool // trueの場合はおすすめのみ
	Page     int
	Limit    int
}

// Pagination はページング情報。
type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// ListResult はテンプレート一覧の取得結果。
type ListResult struct {
	Templates  []*model.Template
	Pagination Pagination
}

// CreateInput はテンプレート登録の入力値。
type CreateInput struct {
	Name        string
	Description string
	Category    model.TemplateCategory
	Width       int
	Height      int
	Data        model.TemplateData
	IsPremium   bool
	Price       *float64
	Tags        []string
}

// Service はテンプレートのサービス層。
type Service struct {
	repo      repository.TemplateRepository
	sanitizer security.ContentSanitizerService
}

// NewService はServiceを生成する。
func NewService(repo repository.TemplateRepository, sanitizer security.ContentSanitizerService) *Service {
	return &Service{repo: repo, sanitizer: sanitizer}
}

// ListTemplates は公開テンプレートをおすすめ優先・新しい順で返す。
// pageは1未満を1に、limitは1未満を既定値に、上限超過を上限に丸める。
func (s *Service) ListTemplates(ctx context.Context, params ListParams) (*ListResult, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	filter := repository.TemplateFilter{
		Category: params.Category,
		Limit:    limit,
		Offset:   (page - 1) * limit,
	}
	if params.Featured {
		featured := true
		filter.Featured = &featured
	}

	templates, total, err := s.repo.ListPublic(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("テンプレート一覧の取得に失敗しました: %w", err)
	}
	if templates == nil {
		templates = []*model.Template{}
	}

	return &ListResult{
		Templates: templates,
		Pagination: Pagination{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasMore: page*limit < total,
		},
	}, nil
}

// GetTemplate は公開テンプレートを取得する。
// 非公開または存在しない場合はTEMPLATE_NOT_FOUNDを返す。
func (s *Service) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	tmpl, err := s.repo.FindPublicByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("テンプレートの取得に失敗しました: %w", err)
	}
	if tmpl == nil {
		return nil, model.NewTemplateNotFoundError(id)
	}
	return tmpl, nil
}

// CreateTemplate はテンプレートを公開状態で登録する。
// 表示用のテキストはマークアップを除去してから保存する。
func (s *Service) CreateTemplate(ctx context.Context, userID string, in CreateInput) (*model.Template, error) {
	if !in.Category.IsValid() {
		return nil, model.NewValidationError(model.FieldError{Field: "category", Reason: "oneof"})
	}
	if in.Price != nil && *in.Price < 0 {
		return nil, model.NewValidationError(model.FieldError{Field: "price", Reason: "min"})
	}

	data := in.Data
	elements := make([]model.TemplateElement, len(data.Elements))
	for i, el := range data.Elements {
		el.Content = s.sanitizer.SanitizeText(el.Content)
		elements[i] = el
	}
	data.Elements = elements

	tags := make([]string, 0, len(in.Tags))
	for _, tag := range in.Tags {
		if t := s.sanitizer.SanitizeText(tag); t != "" {
			tags = append(tags, t)
		}
	}

	now := time.Now()
	tmpl := &model.Template{
		ID:          uuid.New().String(),
		Name:        s.sanitizer.SanitizeText(in.Name),
		Description: s.sanitizer.SanitizeText(in.Description),
		Category:    in.Category,
		Width:       in.Width,
		Height:      in.Height,
		Data:        data,
		IsPremium:   in.IsPremium,
		IsPublic:    true,
		Price:       in.Price,
		Tags:        tags,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if tmpl.Name == "" {
		return nil, model.NewValidationError(model.FieldError{Field: "name", Reason: "required"})
	}

	if err := s.repo.Create(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("テンプレートの登録に失敗しました: %w", err)
	}

	slog.Info("template created",
		slog.String("template_id", tmpl.ID),
		slog.String("user_id", userID),
		slog.String("category", string(tmpl.Category)),
	)
	return tmpl, nil
}
