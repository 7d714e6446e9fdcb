package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/designstudio/internal/middleware"
	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*user.Profile, error)
	UpdateProfile(ctx context.Context, userID string, in user.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, userID, sessionID, current, next string) error
	GetStats(ctx context.Context, userID string, periodDays int) (*user.Stats, error)
	// DeleteAccount はユーザーと所有データ（デザイン、出力、セッション、サブスクリプション）を削除する。
	DeleteAccount(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type updateProfileRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=2,max=50"`
	Image *string `json:"image" validate:"omitempty,url,max=2048"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72"`
}

type profileResponse struct {
	userResponse
	TotalDesigns int `json:"totalDesigns"`
	TotalExports int `json:"totalExports"`
}

type designSummaryResponse struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Status    string                  `json:"status"`
	UpdatedAt time.Time               `json:"updatedAt"`
	Template  templateSummaryResponse `json:"template"`
}

type templateUsageResponse struct {
	templateSummaryResponse
	UsageCount int `json:"usageCount"`
}

type statsResponse struct {
	PeriodDays       int                     `json:"periodDays"`
	DesignsCreated   int                     `json:"designsCreated"`
	ExportsGenerated int                     `json:"exportsGenerated"`
	RecentDesigns    []designSummaryResponse `json:"recentDesigns"`
	TopTemplates     []templateUsageResponse `json:"topTemplates"`
}

// GetProfile はプロフィールと累計値を返す。
// GET /api/user/profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := profileResponse{
		userResponse: toUserResponse(profile.User),
		TotalDesigns: profile.TotalDesigns,
		TotalExports: profile.TotalExports,
	}
	resp.DesignsThisMonth = profile.DesignsThisMonth
	writeJSON(w, http.StatusOK, resp)
}

// UpdateProfile は表示名とアイコン画像を更新する。
// PATCH /api/user/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), userID, user.ProfileUpdate{
		Name:  req.Name,
		Image: req.Image,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// ChangePassword はパスワードを変更する。
// PUT /api/user/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, middleware.SessionIDFromRequest(r), req.CurrentPassword, req.NewPassword); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStats は期間内の利用状況を返す。
// GET /api/user/stats?period=30
func (h *UserHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.GetStats(r.Context(), userID, queryInt(r.URL.Query().Get("period")))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := statsResponse{
		PeriodDays:       stats.PeriodDays,
		DesignsCreated:   stats.DesignsCreated,
		ExportsGenerated: stats.ExportsGenerated,
		RecentDesigns:    make([]designSummaryResponse, 0, len(stats.RecentDesigns)),
		TopTemplates:     toTemplateUsageResponses(stats.TopTemplates),
	}
	for _, d := range stats.RecentDesigns {
		resp.RecentDesigns = append(resp.RecentDesigns, designSummaryResponse{
			ID:        d.ID,
			Name:      d.Name,
			Status:    string(d.Status),
			UpdatedAt: d.UpdatedAt,
			Template:  toTemplateSummaryResponse(d.Template),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteAccount はユーザーの退会処理を実行し、セッションCookieを破棄する。
// DELETE /api/user
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func toTemplateUsageResponses(usages []model.TemplateUsage) []templateUsageResponse {
	resp := make([]templateUsageResponse, 0, len(usages))
	for _, u := range usages {
		resp = append(resp, templateUsageResponse{
			templateSummaryResponse: toTemplateSummaryResponse(u.TemplateSummary),
			UsageCount:              u.UsageCount,
		})
	}
	return resp
}
