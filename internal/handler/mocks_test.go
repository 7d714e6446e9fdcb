package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/designstudio/internal/analytics"
	"github.com/hitoshi/designstudio/internal/billing"
	"github.com/hitoshi/designstudio/internal/design"
	"github.com/hitoshi/designstudio/internal/export"
	"github.com/hitoshi/designstudio/internal/middleware"
	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/template"
	"github.com/hitoshi/designstudio/internal/user"
)

// --- 認証 ---

type mockAuthService struct {
	registerFn       func(ctx context.Context, email, name, password string) (*model.User, *model.Session, error)
	loginFn          func(ctx context.Context, email, password string) (*model.User, *model.Session, error)
	oauthEnabled     bool
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, email, name, password string) (*model.User, *model.Session, error) {
	return m.registerFn(ctx, email, name, password)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	return m.loginFn(ctx, email, password)
}

func (m *mockAuthService) OAuthEnabled() bool {
	return m.oauthEnabled
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	return m.handleCallbackFn(ctx, code)
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	return m.getCurrentUserFn(ctx, sessionID)
}

// --- テンプレート ---

type mockTemplateService struct {
	listFn   func(ctx context.Context, params template.ListParams) (*template.ListResult, error)
	getFn    func(ctx context.Context, id string) (*model.Template, error)
	createFn func(ctx context.Context, userID string, in template.CreateInput) (*model.Template, error)
}

func (m *mockTemplateService) ListTemplates(ctx context.Context, params template.ListParams) (*template.ListResult, error) {
	return m.listFn(ctx, params)
}

func (m *mockTemplateService) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	return m.getFn(ctx, id)
}

func (m *mockTemplateService) CreateTemplate(ctx context.Context, userID string, in template.CreateInput) (*model.Template, error) {
	return m.createFn(ctx, userID, in)
}

// --- デザイン ---

type mockDesignService struct {
	createFn func(ctx context.Context, userID string, in design.CreateInput) (*model.Design, error)
	listFn   func(ctx context.Context, userID string) ([]model.DesignWithTemplate, error)
	getFn    func(ctx context.Context, userID, designID string) (*design.Detail, error)
	updateFn func(ctx context.Context, userID, designID string, in design.UpdateInput) (*model.Design, error)
	deleteFn func(ctx context.Context, userID, designID string) error
}

func (m *mockDesignService) CreateDesign(ctx context.Context, userID string, in design.CreateInput) (*model.Design, error) {
	return m.createFn(ctx, userID, in)
}

func (m *mockDesignService) ListDesigns(ctx context.Context, userID string) ([]model.DesignWithTemplate, error) {
	return m.listFn(ctx, userID)
}

func (m *mockDesignService) GetDesign(ctx context.Context, userID, designID string) (*design.Detail, error) {
	return m.getFn(ctx, userID, designID)
}

func (m *mockDesignService) UpdateDesign(ctx context.Context, userID, designID string, in design.UpdateInput) (*model.Design, error) {
	return m.updateFn(ctx, userID, designID, in)
}

func (m *mockDesignService) DeleteDesign(ctx context.Context, userID, designID string) error {
	return m.deleteFn(ctx, userID, designID)
}

// --- エクスポート ---

type mockExportService struct {
	requestFn  func(ctx context.Context, userID string, in export.RequestInput) (*export.Job, error)
	statusFn   func(ctx context.Context, userID, jobID string) (*export.Job, error)
	listFn     func(ctx context.Context, userID string) ([]export.Job, error)
	downloadFn func(ctx context.Context, userID, jobID string) (string, error)
}

func (m *mockExportService) RequestExport(ctx context.Context, userID string, in export.RequestInput) (*export.Job, error) {
	return m.requestFn(ctx, userID, in)
}

func (m *mockExportService) GetExportStatus(ctx context.Context, userID, jobID string) (*export.Job, error) {
	return m.statusFn(ctx, userID, jobID)
}

func (m *mockExportService) ListExports(ctx context.Context, userID string) ([]export.Job, error) {
	return m.listFn(ctx, userID)
}

func (m *mockExportService) DownloadURL(ctx context.Context, userID, jobID string) (string, error) {
	return m.downloadFn(ctx, userID, jobID)
}

// --- ユーザー ---

type mockUserService struct {
	getProfileFn     func(ctx context.Context, userID string) (*user.Profile, error)
	updateProfileFn  func(ctx context.Context, userID string, in user.ProfileUpdate) (*model.User, error)
	changePasswordFn func(ctx context.Context, userID, sessionID, current, next string) error
	getStatsFn       func(ctx context.Context, userID string, periodDays int) (*user.Stats, error)
	deleteAccountFn  func(ctx context.Context, userID string) error
}

func (m *mockUserService) GetProfile(ctx context.Context, userID string) (*user.Profile, error) {
	return m.getProfileFn(ctx, userID)
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID string, in user.ProfileUpdate) (*model.User, error) {
	return m.updateProfileFn(ctx, userID, in)
}

func (m *mockUserService) ChangePassword(ctx context.Context, userID, sessionID, current, next string) error {
	return m.changePasswordFn(ctx, userID, sessionID, current, next)
}

func (m *mockUserService) GetStats(ctx context.Context, userID string, periodDays int) (*user.Stats, error) {
	return m.getStatsFn(ctx, userID, periodDays)
}

func (m *mockUserService) DeleteAccount(ctx context.Context, userID string) error {
	return m.deleteAccountFn(ctx, userID)
}

// --- 課金 ---

type mockBillingService struct {
	webhookFn      func(ctx context.Context, payload []byte, signature string) error
	checkoutFn     func(ctx context.Context, userID string, tier model.SubscriptionTier) (string, error)
	cancelFn       func(ctx context.Context, userID string) error
	entitlementsFn func(ctx context.Context, userID string) (*billing.Entitlements, error)
}

func (m *mockBillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return m.webhookFn(ctx, payload, signature)
}

func (m *mockBillingService) CreateCheckout(ctx context.Context, userID string, tier model.SubscriptionTier) (string, error) {
	return m.checkoutFn(ctx, userID, tier)
}

func (m *mockBillingService) CancelSubscription(ctx context.Context, userID string) error {
	return m.cancelFn(ctx, userID)
}

func (m *mockBillingService) GetEntitlements(ctx context.Context, userID string) (*billing.Entitlements, error) {
	return m.entitlementsFn(ctx, userID)
}

// --- 集計 ---

type mockAnalyticsService struct {
	overviewFn func(ctx context.Context, periodDays int) (*analytics.Overview, error)
}

func (m *mockAnalyticsService) Overview(ctx context.Context, periodDays int) (*analytics.Overview, error) {
	return m.overviewFn(ctx, periodDays)
}

// --- ヘルパー ---

// withUserID はテスト用に認証済みユーザーIDをコンテキストに注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからエラーレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// decodeBody はレスポンスボディをvにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
