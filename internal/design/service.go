// Package design はデザインの作成・管理のドメインロジックを提供する。
package design

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/designstudio/internal/entitlement"
	"github.com/hitoshi/designstudio/internal/metrics"
	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/repository"
	"github.com/hitoshi/designstudio/internal/security"
)

// CreateInput はデザイン作成の入力値。
type CreateInput struct {
	TemplateID string
	Name       string
	Data       map[string]string
}

// UpdateInput はデザイン更新の入力値。nilのフィールドは変更しない。
type UpdateInput struct {
	Name *string
	Data map[string]string
}

// Detail はデザインにテンプレートと出力履歴を付与した詳細情報。
type Detail struct {
	Design   *model.Design
	Template *model.Template
	Outputs  []*model.Output
}

// Service はデザインのサービス層。
// 作成フロー: ユーザー取得 → 作成数チェック → テンプレート取得 → プレミアムチェック → 加算と保存
type Service struct {
	userRepo     repository.UserRepository
	templateRepo repository.TemplateRepository
	designRepo   repository.DesignRepository
	outputRepo   repository.OutputRepository
	sanitizer    security.ContentSanitizerService
	metrics      metrics.MetricsCollector
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	templateRepo repository.TemplateRepository,
	designRepo repository.DesignRepository,
	outputRepo repository.OutputRepository,
	sanitizer security.ContentSanitizerService,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		userRepo:     userRepo,
		templateRepo: templateRepo,
		designRepo:   designRepo,
		outputRepo:   outputRepo,
		sanitizer:    sanitizer,
		metrics:      collector,
	}
}

// CreateDesign はテンプレートからデザインを作成する。
// 制限チェックはすべて永続化の前に行い、FREEプランの作成数加算とデザイン保存は同一トランザクションで行う。
func (s *Service) CreateDesign(ctx context.Context, userID string, in CreateInput) (*model.Design, error) {
	now := time.Now()

	// 1. ユーザー取得
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	// 前月以前のカウンタは当月分として0件扱い
	if user.QuotaPeriod.Before(model.MonthStart(now)) {
		user.DesignsThisMonth = 0
	}

	// 2. 作成数チェック
	if !entitlement.CanCreateDesign(user) {
		s.metrics.RecordEntitlementRejection(metrics.RejectQuota)
		return nil, model.NewQuotaExceededError(entitlement.FreeDesignsPerMonth)
	}

	// 3. テンプレート取得
	tmpl, err := s.templateRepo.FindByID(ctx, in.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("テンプレートの取得に失敗しました: %w", err)
	}
	if tmpl == nil {
		return nil, model.NewTemplateNotFoundError(in.TemplateID)
	}

	// 4. プレミアムチェック
	if tmpl.IsPremium && !user.SubscriptionTier.IsPaid() {
		s.metrics.RecordEntitlementRejection(metrics.RejectPremium)
		return nil, model.NewPremiumRequiredError()
	}

	name := s.sanitizer.SanitizeText(in.Name)
	if name == "" {
		name = tmpl.Name
	}

	design := &model.Design{
		ID:         uuid.New().String(),
		UserID:     userID,
		TemplateID: tmpl.ID,
		Name:       name,
		Status:     model.DesignDraft,
		Data:       s.sanitizer.SanitizeVariables(in.Data),
		Thumbnail:  tmpl.Thumbnail,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// 5. 作成数の加算とデザイン保存
	quotaLimit := entitlement.Unlimited
	if entitlement.TracksQuota(user.SubscriptionTier) {
		quotaLimit = entitlement.Resolve(user.SubscriptionTier).MaxDesignsPerMonth
	}
	if err := s.designRepo.CreateWithQuota(ctx, design, quotaLimit); err != nil {
		if errors.Is(err, repository.ErrQuotaExceeded) {
			s.metrics.RecordEntitlementRejection(metrics.RejectQuota)
			return nil, model.NewQuotaExceededError(entitlement.FreeDesignsPerMonth)
		}
		return nil, fmt.Errorf("デザインの作成に失敗しました: %w", err)
	}

	slog.Info("design created",
		slog.String("design_id", design.ID),
		slog.String("user_id", userID),
		slog.String("template_id", tmpl.ID),
	)
	return design, nil
}

// ListDesigns はユーザーのデザインを更新日時の新しい順で返す。
func (s *Service) ListDesigns(ctx context.Context, userID string) ([]model.DesignWithTemplate, error) {
	designs, err := s.designRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("デザイン一覧の取得に失敗しました: %w", err)
	}
	if designs == nil {
		designs = []model.DesignWithTemplate{}
	}
	return designs, nil
}

// GetDesign はデザインをテンプレートと出力履歴（新しい順）付きで返す。
// 他ユーザーのデザインは存在しないものとして扱う。
func (s *Service) GetDesign(ctx context.Context, userID, designID string) (*Detail, error) {
	design, err := s.findOwned(ctx, userID, designID)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.templateRepo.FindByID(ctx, design.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("テンプレートの取得に失敗しました: %w", err)
	}

	outputs, err := s.outputRepo.ListByDesignID(ctx, design.ID)
	if err != nil {
		return nil, fmt.Errorf("出力履歴の取得に失敗しました: %w", err)
	}
	if outputs == nil {
		outputs = []*model.Output{}
	}

	return &Detail{Design: design, Template: tmpl, Outputs: outputs}, nil
}

// UpdateDesign はデザイン名と変数値を更新する。
func (s *Service) UpdateDesign(ctx context.Context, userID, designID string, in UpdateInput) (*model.Design, error) {
	design, err := s.findOwned(ctx, userID, designID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := s.sanitizer.SanitizeText(*in.Name)
		if name == "" {
			return nil, model.NewValidationError(model.FieldError{Field: "name", Reason: "required"})
		}
		design.Name = name
	}
	if in.Data != nil {
		design.Data = s.sanitizer.SanitizeVariables(in.Data)
	}
	design.UpdatedAt = time.Now()

	if err := s.designRepo.Update(ctx, design); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewDesignNotFoundError(designID)
		}
		return nil, fmt.Errorf("デザインの更新に失敗しました: %w", err)
	}
	return design, nil
}

// DeleteDesign はデザインと出力履歴を削除する。
func (s *Service) DeleteDesign(ctx context.Context, userID, designID string) error {
	if err := s.designRepo.DeleteByIDAndUserID(ctx, designID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewDesignNotFoundError(designID)
		}
		return fmt.Errorf("デザインの削除に失敗しました: %w", err)
	}

	slog.Info("design deleted",
		slog.String("design_id", designID),
		slog.String("user_id", userID),
	)
	return nil
}

func (s *Service) findOwned(ctx context.Context, userID, designID string) (*model.Design, error) {
	design, err := s.designRepo.FindByIDAndUserID(ctx, designID, userID)
	if err != nil {
		return nil, fmt.Errorf("デザインの取得に失敗しました: %w", err)
	}
	if design == nil {
		return nil, model.NewDesignNotFoundError(designID)
	}
	return design, nil
}
