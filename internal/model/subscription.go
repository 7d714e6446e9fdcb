package model

import "time"

// Subscription は決済サービス側のサブスクリプションを写したレコード。
// ユーザーのプラン区分キャッシュはこのレコードと同一トランザクションで更新する。
type Subscription struct {
	ID                   string
	UserID               string
	Tier                 SubscriptionTier
	Status               SubscriptionStatus
	StripeSubscriptionID string
	StripePriceID        string
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// BillingEvent は処理済みWebhookイベントの記録。
type BillingEvent struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}
