package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/designstudio/internal/analytics"
	"github.com/hitoshi/designstudio/internal/model"
)

func TestAnalyticsHandler_Overview(t *testing.T) {
	var gotPeriod int
	svc := &mockAnalyticsService{
		overviewFn: func(ctx context.Context, periodDays int) (*analytics.Overview, error) {
			gotPeriod = periodDays
			return &analytics.Overview{
				PeriodDays:     30,
				TotalUsers:     100,
				NewUsers:       10,
				TotalDesigns:   250,
				TotalExports:   400,
				ActiveUsers:    42,
				PremiumUsers:   7,
				MonthlyRevenue: 69.93,
				PopularTemplates: []model.TemplateUsage{
					{TemplateSummary: model.TemplateSummary{ID: "t1", Name: "Wedding"}, UsageCount: 50},
				},
			}, nil
		},
	}
	h := NewAnalyticsHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/analytics?period=30", nil)
	w := httptest.NewRecorder()
	h.Overview(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if gotPeriod != 30 {
		t.Errorf("expected period 30, got %d", gotPeriod)
	}
	var resp analyticsResponse
	decodeBody(t, w, &resp)
	if resp.TotalUsers != 100 || resp.PremiumUsers != 7 || resp.MonthlyRevenue != 69.93 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(resp.PopularTemplates) != 1 || resp.PopularTemplates[0].UsageCount != 50 {
		t.Errorf("unexpected popular templates: %+v", resp.PopularTemplates)
	}
}

func TestAnalyticsHandler_Overview_Error(t *testing.T) {
	svc := &mockAnalyticsService{
		overviewFn: func(ctx context.Context, periodDays int) (*analytics.Overview, error) {
			return nil, errors.New("query failed")
		},
	}
	h := NewAnalyticsHandler(svc)

	w := httptest.NewRecorder()
	h.Overview(w, httptest.NewRequest(http.MethodGet, "/api/admin/analytics", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
}
