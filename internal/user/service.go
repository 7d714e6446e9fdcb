// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/designstudio/internal/auth"
	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/repository"
)

// 統計の既定値。
const (
	DefaultStatsPeriod = 30
	MaxStatsPeriod     = 365
	statsListLimit     = 5
)

// Profile はユーザー情報と累計値。
type Profile struct {
	User             *model.User
	TotalDesigns     int
	TotalExports     int
	DesignsThisMonth int
}

// ProfileUpdate はプロフィール更新の入力。nilのフィールドは変更しない。
type ProfileUpdate struct {
	Name  *string
	Image *string
}

// Stats は期間内の利用状況。
type Stats struct {
	PeriodDays       int
	DesignsCreated   int
	ExportsGenerated int
	RecentDesigns    []model.DesignWithTemplate
	TopTemplates     []model.TemplateUsage
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	statsRepo   repository.StatsRepository
	bcryptCost  int
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	statsRepo repository.StatsRepository,
	bcryptCost int,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		statsRepo:   statsRepo,
		bcryptCost:  bcryptCost,
		now:         time.Now,
	}
}

// GetProfile はユーザー情報とデザイン・エクスポートの累計を返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	designs, err := s.statsRepo.CountDesigns(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("デザイン数の取得に失敗しました: %w", err)
	}
	exports, err := s.statsRepo.CountExports(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("エクスポート数の取得に失敗しました: %w", err)
	}

	used := user.DesignsThisMonth
	if user.QuotaPeriod.Before(model.MonthStart(s.now())) {
		used = 0
	}

	return &Profile{
		User:             user,
		TotalDesigns:     designs,
		TotalExports:     exports,
		DesignsThisMonth: used,
	}, nil
}

// UpdateProfile は表示名とアイコン画像を更新し、更新後のユーザーを返す。
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*model.User, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	name, image := user.Name, user.Image
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
		if n := utf8.RuneCountInString(name); n < 2 || n > 50 {
			return nil, model.NewValidationError(model.FieldError{Field: "name", Reason: "length"})
		}
	}
	if in.Image != nil {
		image = strings.TrimSpace(*in.Image)
	}

	if err := s.userRepo.UpdateProfile(ctx, userID, name, image); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewUserNotFoundError()
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	user.Name, user.Image = name, image
	user.UpdatedAt = s.now()
	return user, nil
}

// ChangePassword は現在のパスワードを確認してから新しいパスワードに変更する。
// 外部IdPのみで登録したアカウントはOAUTH_ACCOUNTを返す。
// 変更後、sessionID以外のセッションはすべて失効させる。
func (s *Service) ChangePassword(ctx context.Context, userID, sessionID, current, next string) error {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.HasPassword() {
		return model.NewOAuthAccountError()
	}
	if !auth.CheckPassword(user.PasswordHash, current) {
		return model.NewInvalidCredentialsError()
	}
	if utf8.RuneCountInString(next) < 6 {
		return model.NewValidationError(model.FieldError{Field: "newPassword", Reason: "min"})
	}

	hash, err := auth.HashPassword(next, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.userRepo.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}

	// パスワードは更新済みのため、失効に失敗してもエラーにはしない
	revoked, err := s.sessionRepo.DeleteOthersByUserID(ctx, userID, sessionID)
	if err != nil {
		slog.Warn("failed to revoke other sessions",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("password changed",
		slog.String("user_id", userID),
		slog.Int64("revoked_sessions", revoked),
	)
	return nil
}

// GetStats は直近periodDays日の利用状況を返す。0の場合は30日とする。
func (s *Service) GetStats(ctx context.Context, userID string, periodDays int) (*Stats, error) {
	if periodDays == 0 {
		periodDays = DefaultStatsPeriod
	}
	if periodDays < 1 || periodDays > MaxStatsPeriod {
		return nil, model.NewValidationError(model.FieldError{Field: "period", Reason: "range"})
	}
	if _, err := s.findUser(ctx, userID); err != nil {
		return nil, err
	}

	since := s.now().AddDate(0, 0, -periodDays)
	stats := &Stats{PeriodDays: periodDays}

	var err error
	if stats.DesignsCreated, err = s.statsRepo.CountDesigns(ctx, userID, since); err != nil {
		return nil, fmt.Errorf("デザイン数の取得に失敗しました: %w", err)
	}
	if stats.ExportsGenerated, err = s.statsRepo.CountExports(ctx, userID, since); err != nil {
		return nil, fmt.Errorf("エクスポート数の取得に失敗しました: %w", err)
	}
	if stats.RecentDesigns, err = s.statsRepo.RecentDesigns(ctx, userID, statsListLimit); err != nil {
		return nil, fmt.Errorf("最近のデザインの取得に失敗しました: %w", err)
	}
	if stats.TopTemplates, err = s.statsRepo.TopTemplatesByUser(ctx, userID, since, statsListLimit); err != nil {
		return nil, fmt.Errorf("よく使うテンプレートの取得に失敗しました: %w", err)
	}
	return stats, nil
}

// DeleteAccount はユーザーを削除する。
// 削除順序: sessions → user（+ CASCADE: identities, designs, outputs, subscriptions）
// 決済サービス側のサブスクリプションは解約しない。
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if _, err := s.findUser(ctx, userID); err != nil {
		return err
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}
