package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/designstudio/internal/billing"
	"github.com/hitoshi/designstudio/internal/entitlement"
	"github.com/hitoshi/designstudio/internal/model"
)

// maxWebhookBodySize はWebhookペイロードの上限。
const maxWebhookBodySize = 65536

// BillingServiceInterface は課金ハンドラーが必要とするサービスインターフェース。
type BillingServiceInterface interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	CreateCheckout(ctx context.Context, userID string, tier model.SubscriptionTier) (string, error)
	CancelSubscription(ctx context.Context, userID string) error
	GetEntitlements(ctx context.Context, userID string) (*billing.Entitlements, error)
}

// BillingHandler は課金とサブスクリプションのHTTPハンドラー。
type BillingHandler struct {
	service BillingServiceInterface
}

// NewBillingHandler はBillingHandlerを生成する。
func NewBillingHandler(service BillingServiceInterface) *BillingHandler {
	return &BillingHandler{service: service}
}

type checkoutRequest struct {
	Tier string `json:"tier" validate:"required"`
}

type entitlementsResponse struct {
	Tier              string          `json:"tier"`
	Status            string          `json:"status"`
	Entitlements      entitlement.Set `json:"entitlements"`
	DesignsThisMonth  int             `json:"designsThisMonth"`
	CancelAtPeriodEnd bool            `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd  *time.Time      `json:"currentPeriodEnd,omitempty"`
}

// Webhook は決済サービスからのイベント通知を処理する。
// 署名検証のため、ボディは加工せずにそのまま渡す。
// POST /webhooks/stripe
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		slog.Warn("failed to read webhook body", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	if err := h.service.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// GetEntitlements は現在のプランと利用権限を返す。
// GET /api/subscription/entitlements
func (h *BillingHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	ent, err := h.service.GetEntitlements(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entitlementsResponse{
		Tier:              string(ent.Tier),
		Status:            string(ent.Status),
		Entitlements:      ent.Entitlements,
		DesignsThisMonth:  ent.DesignsThisMonth,
		CancelAtPeriodEnd: ent.CancelAtPeriodEnd,
		CurrentPeriodEnd:  ent.CurrentPeriodEnd,
	})
}

// CreateCheckout は有料プラン購読の決済ページURLを発行する。
// POST /api/subscriptions/checkout
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	url, err := h.service.CreateCheckout(r.Context(), userID, model.SubscriptionTier(strings.ToUpper(req.Tier)))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// CancelSubscription は現在の請求期間の終了時に解約する。
// POST /api/subscriptions/cancel
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.CancelSubscription(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelAtPeriodEnd": true})
}
