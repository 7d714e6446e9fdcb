// Package analytics は管理者向けのサービス全体集計を提供する。
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hitoshi/designstudio/internal/billing"
	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/repository"
)

// 集計期間の既定値と人気テンプレートの件数。
const (
	DefaultPeriod        = 30
	MaxPeriod            = 365
	popularTemplateLimit = 10
)

// Overview はサービス全体の集計結果。
type Overview struct {
	PeriodDays       int
	TotalUsers       int
	NewUsers         int
	TotalDesigns     int
	TotalExports     int
	ActiveUsers      int
	PremiumUsers     int
	MonthlyRevenue   float64
	PopularTemplates []model.TemplateUsage
}

// Service は管理者向け集計のサービス層。
type Service struct {
	statsRepo repository.StatsRepository
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(statsRepo repository.StatsRepository) *Service {
	return &Service{statsRepo: statsRepo, now: time.Now}
}

// Overview は直近periodDays日の集計を返す。0の場合は30日とする。
// 月次売上はACTIVEなサブスクリプションのプラン別月額の合計。
func (s *Service) Overview(ctx context.Context, periodDays int) (*Overview, error) {
	if periodDays == 0 {
		periodDays = DefaultPeriod
	}
	if periodDays < 1 || periodDays > MaxPeriod {
		return nil, model.NewValidationError(model.FieldError{Field: "period", Reason: "range"})
	}

	since := s.now().AddDate(0, 0, -periodDays)
	counts, err := s.statsRepo.PlatformCounts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("集計値の取得に失敗しました: %w", err)
	}
	popular, err := s.statsRepo.PopularTemplates(ctx, popularTemplateLimit)
	if err != nil {
		return nil, fmt.Errorf("人気テンプレートの取得に失敗しました: %w", err)
	}

	return &Overview{
		PeriodDays:       periodDays,
		TotalUsers:       counts.TotalUsers,
		NewUsers:         counts.NewUsers,
		TotalDesigns:     counts.TotalDesigns,
		TotalExports:     counts.TotalExports,
		ActiveUsers:      counts.ActiveUsers,
		PremiumUsers:     counts.PremiumUsers,
		MonthlyRevenue:   monthlyRevenue(counts.ActiveByTier),
		PopularTemplates: popular,
	}, nil
}

// monthlyRevenue はプラン別件数から月次売上を計算する。セント単位で丸める。
func monthlyRevenue(activeByTier map[model.SubscriptionTier]int) float64 {
	var total float64
	for tier, n := range activeByTier {
		total += billing.MonthlyPrice[tier] * float64(n)
	}
	return math.Round(total*100) / 100
}
