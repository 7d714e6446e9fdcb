// Package model はドメインモデルを定義する。
package model

import "time"

// SubscriptionTier はサブスクリプションのプラン区分を表す。
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "FREE"
	TierPro        SubscriptionTier = "PRO"
	TierBusiness   SubscriptionTier = "BUSINESS"
	TierEnterprise SubscriptionTier = "ENTERPRISE"
)

// IsValid はプラン区分が定義済みの値かを判定する。
func (t SubscriptionTier) IsValid() bool {
	switch t {
	case TierFree, TierPro, TierBusiness, TierEnterprise:
		return true
	default:
		return false
	}
}

// IsPaid は有料プランかを判定する。
func (t SubscriptionTier) IsPaid() bool {
	return t != TierFree
}

// SubscriptionStatus はサブスクリプションの契約状態を表す。
// プラン区分とは独立した軸であり、解約済みPROユーザーもダウングレードまではPROの権限を持つ。
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusCanceled SubscriptionStatus = "CANCELED"
	StatusPastDue  SubscriptionStatus = "PAST_DUE"
	StatusTrialing SubscriptionStatus = "TRIALING"
)

// User はサービス利用ユーザーを表す。
// SubscriptionTier/SubscriptionStatus はSubscriptionレコードの非正規化キャッシュ。
type User struct {
	ID                   string
	Email                string
	Name                 string
	Image                string
	PasswordHash         string // 外部IdPのみのアカウントは空
	SubscriptionTier     SubscriptionTier
	SubscriptionStatus   SubscriptionStatus
	DesignsThisMonth     int
	QuotaPeriod          time.Time // カウンタが対象とする月（UTC月初）
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasPassword はパスワード認証が設定されたアカウントかを判定する。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// MonthStart は指定時刻が属するUTC暦月の月初を返す。
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
