package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/designstudio/internal/analytics"
)

// AnalyticsServiceInterface は管理者向け集計ハンドラーが必要とするサービスインターフェース。
type AnalyticsServiceInterface interface {
	Overview(ctx context.Context, periodDays int) (*analytics.Overview, error)
}

// AnalyticsHandler は管理者向け集計のHTTPハンドラー。
type AnalyticsHandler struct {
	service AnalyticsServiceInterface
}

// NewAnalyticsHandler はAnalyticsHandlerを生成する。
func NewAnalyticsHandler(service AnalyticsServiceInterface) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

type analyticsResponse struct {
	PeriodDays       int                     `json:"periodDays"`
	TotalUsers       int                     `json:"totalUsers"`
	NewUsers         int                     `json:"newUsers"`
	TotalDesigns     int                     `json:"totalDesigns"`
	TotalExports     int                     `json:"totalExports"`
	ActiveUsers      int                     `json:"activeUsers"`
	PremiumUsers     int                     `json:"premiumUsers"`
	MonthlyRevenue   float64                 `json:"monthlyRevenue"`
	PopularTemplates []templateUsageResponse `json:"popularTemplates"`
}

// Overview はサービス全体の集計を返す。
// GET /api/admin/analytics?period=30
func (h *AnalyticsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.Overview(r.Context(), queryInt(r.URL.Query().Get("period")))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analyticsResponse{
		PeriodDays:       overview.PeriodDays,
		TotalUsers:       overview.TotalUsers,
		NewUsers:         overview.NewUsers,
		TotalDesigns:     overview.TotalDesigns,
		TotalExports:     overview.TotalExports,
		ActiveUsers:      overview.ActiveUsers,
		PremiumUsers:     overview.PremiumUsers,
		MonthlyRevenue:   overview.MonthlyRevenue,
		PopularTemplates: toTemplateUsageResponses(overview.PopularTemplates),
	})
}
