// Package billing は決済サービスとのサブスクリプション連携を提供する。
//
// Webhookイベントはイベントごとに1度だけ適用する。台帳（billing_events）への記録と
// サブスクリプション・ユーザーのプラン区分キャッシュの更新は同一トランザクションで行う。
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/hitoshi/designstudio/internal/entitlement"
	"github.com/hitoshi/designstudio/internal/metrics"
	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/repository"
)

// 処理対象のWebhookイベント種別。
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// Webhook処理結果のラベル値。
const (
	outcomeApplied   = "applied"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
)

// MonthlyPrice はプラン区分ごとの月額料金（USD）。
var MonthlyPrice = map[model.SubscriptionTier]float64{
	model.TierPro:      9.99,
	model.TierBusiness: 29.99,
}

// Config は課金サービスの設定。
type Config struct {
	WebhookSecret   string
	ProPriceID      string
	BusinessPriceID string
	BaseURL         string
}

// Entitlements はユーザーの現在のプランと利用権限。
type Entitlements struct {
	Tier              model.SubscriptionTier
	Status            model.SubscriptionStatus
	Entitlements      entitlement.Set
	DesignsThisMonth  int
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
}

// Service は課金のサービス層。
type Service struct {
	userRepo repository.UserRepository
	subRepo  repository.SubscriptionRepository
	stripe   StripeClient
	config   Config
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。
// stripeClientがnilの場合、決済サービスを呼び出す操作はBILLING_NOT_CONFIGUREDを返す。
func NewService(
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	stripeClient StripeClient,
	config Config,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		userRepo: userRepo,
		subRepo:  subRepo,
		stripe:   stripeClient,
		config:   config,
		metrics:  collector,
		now:      time.Now,
	}
}

// HandleWebhook は署名を検証し、未処理のイベントを適用する。
// 同じイベントの再配送は何も変更しない。
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.config.WebhookSecret == "" {
		return model.NewBillingNotConfiguredError()
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		slog.Warn("webhook signature verification failed", slog.String("error", err.Error()))
		return model.NewInvalidSignatureError()
	}
	eventType := string(event.Type)

	processed, err := s.subRepo.IsEventProcessed(ctx, event.ID)
	if err != nil {
		return err
	}
	if processed {
		s.metrics.RecordWebhookEvent(eventType, outcomeDuplicate)
		slog.Info("webhook event already processed", slog.String("event_id", event.ID))
		return nil
	}

	change, err := s.buildChange(ctx, eventType, event.Data.Raw, s.eventTime(event.Created))
	if err != nil {
		return fmt.Errorf("webhookイベントの解釈に失敗しました (%s): %w", eventType, err)
	}

	applied, err := s.subRepo.ApplyEvent(ctx, model.BillingEvent{
		EventID:     event.ID,
		EventType:   eventType,
		ProcessedAt: s.now(),
	}, change)
	if err != nil {
		return err
	}

	outcome := outcomeApplied
	switch {
	case !applied:
		outcome = outcomeDuplicate
	case change == nil:
		outcome = outcomeIgnored
	}
	s.metrics.RecordWebhookEvent(eventType, outcome)
	slog.Info("webhook event handled",
		slog.String("event_id", event.ID),
		slog.String("event_type", eventType),
		slog.String("outcome", outcome),
	)
	return nil
}

// buildChange はイベントから適用する変更を組み立てる。occurredAtはイベントの発生時刻。
// 変更不要のイベントや紐付くユーザーが不明なイベントはnilを返す。
func (s *Service) buildChange(ctx context.Context, eventType string, raw json.RawMessage, occurredAt time.Time) (*repository.SubscriptionChange, error) {
	switch eventType {
	case EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return nil, err
		}
		return s.checkoutCompleted(ctx, &sess)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, err
		}
		return s.subscriptionUpdated(ctx, &sub, occurredAt)

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, err
		}
		return s.subscriptionDeleted(ctx, &sub, occurredAt)

	case EventInvoicePaymentSucceeded:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil, nil
		}
		sub, err := s.retrieveSubscription(ctx, inv.Subscription.ID)
		if err != nil {
			return nil, err
		}
		return s.subscriptionUpdated(ctx, sub, occurredAt)

	case EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil, nil
		}
		return s.paymentFailed(ctx, inv.Subscription.ID, occurredAt)

	default:
		return nil, nil
	}
}

func (s *Service) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) (*repository.SubscriptionChange, error) {
	userID := sess.Metadata["userId"]
	if userID == "" {
		userID = sess.ClientReferenceID
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		slog.Warn("checkout session without subscription", slog.String("session_id", sess.ID))
		return nil, nil
	}
	user, err := s.lookupUser(ctx, userID)
	if err != nil || user == nil {
		return nil, err
	}

	sub, err := s.retrieveSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return nil, err
	}

	tier := model.SubscriptionTier(sess.Metadata["tier"])
	if !tier.IsValid() || !tier.IsPaid() {
		tier = s.tierForPrice(priceID(sub), model.TierPro)
	}

	record := s.toRecord(sub, user.ID, tier, nil)
	record.Status = model.StatusActive

	change := &repository.SubscriptionChange{
		UserID:       user.ID,
		Subscription: record,
		UserTier:     tier,
		UserStatus:   model.StatusActive,
	}
	if sess.Customer != nil {
		change.StripeCustomerID = sess.Customer.ID
	}
	return change, nil
}

// subscriptionUpdated は購読内容の変更を反映する。
// 解約済みのレコードと、最後に反映したイベントより古いイベントは無視する。
func (s *Service) subscriptionUpdated(ctx context.Context, sub *stripe.Subscription, occurredAt time.Time) (*repository.SubscriptionChange, error) {
	existing, userID, err := s.resolveOwner(ctx, sub)
	if err != nil || userID == "" {
		return nil, err
	}
	if existing != nil {
		switch {
		case existing.Status == model.StatusCanceled:
			slog.Info("ignoring update for canceled subscription",
				slog.String("stripe_subscription_id", sub.ID),
				slog.String("status", string(sub.Status)),
			)
			return nil, nil
		case occurredAt.Before(existing.UpdatedAt):
			slog.Info("ignoring stale subscription update",
				slog.String("stripe_subscription_id", sub.ID),
				slog.Time("occurred_at", occurredAt),
				slog.Time("last_applied_at", existing.UpdatedAt),
			)
			return nil, nil
		}
	}

	fallback := model.TierPro
	if existing != nil {
		fallback = existing.Tier
	}
	tier := s.tierForPrice(priceID(sub), fallback)
	record := s.toRecord(sub, userID, tier, existing)
	record.UpdatedAt = occurredAt

	change := &repository.SubscriptionChange{
		UserID:       userID,
		Subscription: record,
		UserTier:     tier,
		UserStatus:   record.Status,
	}
	if sub.Customer != nil {
		change.StripeCustomerID = sub.Customer.ID
	}
	return change, nil
}

func (s *Service) subscriptionDeleted(ctx context.Context, sub *stripe.Subscription, occurredAt time.Time) (*repository.SubscriptionChange, error) {
	existing, userID, err := s.resolveOwner(ctx, sub)
	if err != nil || userID == "" {
		return nil, err
	}

	fallback := model.TierPro
	if existing != nil {
		fallback = existing.Tier
	}
	record := s.toRecord(sub, userID, s.tierForPrice(priceID(sub), fallback), existing)
	record.Status = model.StatusCanceled
	record.UpdatedAt = occurredAt

	return &repository.SubscriptionChange{
		UserID:       userID,
		Subscription: record,
		UserTier:     model.TierFree,
		UserStatus:   model.StatusCanceled,
	}, nil
}

func (s *Service) paymentFailed(ctx context.Context, stripeSubscriptionID string, occurredAt time.Time) (*repository.SubscriptionChange, error) {
	existing, err := s.subRepo.FindByStripeSubscriptionID(ctx, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		slog.Warn("payment failed for unknown subscription", slog.String("stripe_subscription_id", stripeSubscriptionID))
		return nil, nil
	}
	if existing.Status == model.StatusCanceled {
		slog.Info("ignoring payment failure for canceled subscription", slog.String("stripe_subscription_id", stripeSubscriptionID))
		return nil, nil
	}

	record := *existing
	record.Status = model.StatusPastDue
	record.UpdatedAt = occurredAt

	return &repository.SubscriptionChange{
		UserID:       existing.UserID,
		Subscription: &record,
		UserTier:     existing.Tier,
		UserStatus:   model.StatusPastDue,
	}, nil
}

// eventTime はイベントの発生時刻を返す。時刻を持たないイベントは現在時刻とみなす。
func (s *Service) eventTime(created int64) time.Time {
	if created <= 0 {
		return s.now()
	}
	return time.Unix(created, 0).UTC()
}

// resolveOwner はサブスクリプションの所有ユーザーを既存レコード、メタデータの順で特定する。
// 特定できない場合は空文字列を返す。
func (s *Service) resolveOwner(ctx context.Context, sub *stripe.Subscription) (*model.Subscription, string, error) {
	existing, err := s.subRepo.FindByStripeSubscriptionID(ctx, sub.ID)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return existing, existing.UserID, nil
	}

	user, err := s.lookupUser(ctx, sub.Metadata["userId"])
	if err != nil || user == nil {
		return nil, "", err
	}
	return nil, user.ID, nil
}

func (s *Service) lookupUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		slog.Warn("webhook event without user reference")
		return nil, nil
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		slog.Warn("webhook event for unknown user", slog.String("user_id", userID))
	}
	return user, nil
}

func (s *Service) retrieveSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if s.stripe == nil {
		return nil, fmt.Errorf("stripe client is not configured")
	}
	sub, err := s.stripe.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("サブスクリプションの取得に失敗しました: %w", err)
	}
	return sub, nil
}

// toRecord は決済サービス側のサブスクリプションを保存用レコードに変換する。
func (s *Service) toRecord(sub *stripe.Subscription, userID string, tier model.SubscriptionTier, existing *model.Subscription) *model.Subscription {
	now := s.now()
	record := &model.Subscription{
		ID:                   uuid.New().String(),
		UserID:               userID,
		Tier:                 tier,
		Status:               mapStatus(sub.Status),
		StripeSubscriptionID: sub.ID,
		StripePriceID:        priceID(sub),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if sub.CurrentPeriodStart > 0 {
		record.CurrentPeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		record.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if existing != nil {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	}
	return record
}

// tierForPrice は価格IDに対応するプラン区分を返す。未知の価格IDはfallbackを返す。
func (s *Service) tierForPrice(id string, fallback model.SubscriptionTier) model.SubscriptionTier {
	switch {
	case id == "":
		return fallback
	case id == s.config.ProPriceID:
		return model.TierPro
	case id == s.config.BusinessPriceID:
		return model.TierBusiness
	default:
		return fallback
	}
}

func (s *Service) priceForTier(tier model.SubscriptionTier) string {
	switch tier {
	case model.TierPro:
		return s.config.ProPriceID
	case model.TierBusiness:
		return s.config.BusinessPriceID
	default:
		return ""
	}
}

func priceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}

// mapStatus は決済サービス側の契約状態を内部の契約状態に変換する。
func mapStatus(status stripe.SubscriptionStatus) model.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return model.StatusActive
	case stripe.SubscriptionStatusTrialing:
		return model.StatusTrialing
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return model.StatusCanceled
	default:
		// past_due, unpaid, incomplete, paused
		return model.StatusPastDue
	}
}

// CreateCheckout は有料プランの購読手続きURLを発行する。
func (s *Service) CreateCheckout(ctx context.Context, userID string, tier model.SubscriptionTier) (string, error) {
	if tier != model.TierPro && tier != model.TierBusiness {
		return "", model.NewValidationError(model.FieldError{Field: "tier", Reason: "oneof"})
	}
	price := s.priceForTier(tier)
	if s.stripe == nil || price == "" {
		return "", model.NewBillingNotConfiguredError()
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return "", model.NewUserNotFoundError()
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(price),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(s.config.BaseURL + "/dashboard?checkout=success"),
		CancelURL:         stripe.String(s.config.BaseURL + "/pricing?checkout=canceled"),
		ClientReferenceID: stripe.String(user.ID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"userId": user.ID},
		},
	}
	params.AddMetadata("userId", user.ID)
	params.AddMetadata("tier", string(tier))
	if user.StripeCustomerID != "" {
		params.Customer = stripe.String(user.StripeCustomerID)
	} else {
		params.CustomerEmail = stripe.String(user.Email)
	}

	sess, err := s.stripe.NewCheckoutSession(ctx, params)
	if err != nil {
		return "", fmt.Errorf("購読手続きの作成に失敗しました: %w", err)
	}

	slog.Info("checkout session created",
		slog.String("user_id", user.ID),
		slog.String("tier", string(tier)),
	)
	return sess.URL, nil
}

// CancelSubscription は現在の請求期間の終了時に解約する。
func (s *Service) CancelSubscription(ctx context.Context, userID string) error {
	sub, err := s.subRepo.FindByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("サブスクリプションの取得に失敗しました: %w", err)
	}
	if sub == nil || sub.StripeSubscriptionID == "" || sub.Status == model.StatusCanceled {
		return model.NewSubscriptionNotFoundError()
	}
	if s.stripe == nil {
		return model.NewBillingNotConfiguredError()
	}

	if _, err := s.stripe.CancelAtPeriodEnd(ctx, sub.StripeSubscriptionID); err != nil {
		return fmt.Errorf("解約予約に失敗しました: %w", err)
	}
	if err := s.subRepo.MarkCancelAtPeriodEnd(ctx, userID); err != nil {
		return err
	}

	slog.Info("subscription set to cancel at period end",
		slog.String("user_id", userID),
		slog.String("stripe_subscription_id", sub.StripeSubscriptionID),
	)
	return nil
}

// GetEntitlements はユーザーのプラン区分と利用権限を返す。
func (s *Service) GetEntitlements(ctx context.Context, userID string) (*Entitlements, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	used := user.DesignsThisMonth
	if user.QuotaPeriod.Before(model.MonthStart(s.now())) {
		used = 0
	}

	result := &Entitlements{
		Tier:             user.SubscriptionTier,
		Status:           user.SubscriptionStatus,
		Entitlements:     entitlement.Resolve(user.SubscriptionTier),
		DesignsThisMonth: used,
	}

	sub, err := s.subRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("サブスクリプションの取得に失敗しました: %w", err)
	}
	if sub != nil {
		result.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		if !sub.CurrentPeriodEnd.IsZero() {
			end := sub.CurrentPeriodEnd
			result.CurrentPeriodEnd = &end
		}
	}
	return result, nil
}
