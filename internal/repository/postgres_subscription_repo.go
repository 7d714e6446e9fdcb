package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/designstudio/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用したサブスクリプションリポジトリ。
// 課金Webhookの冪等性台帳（billing_events）も扱う。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, tier, status, stripe_subscription_id, stripe_price_id,
	current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var periodStart, periodEnd sql.NullTime
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Tier, &sub.Status, &sub.StripeSubscriptionID, &sub.StripePriceID,
		&periodStart, &periodEnd, &sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.CurrentPeriodStart = periodStart.Time
	sub.CurrentPeriodEnd = periodEnd.Time
	return sub, nil
}

// FindByUserID はユーザーのサブスクリプションを取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByUserID(ctx context.Context, userID string) (*model.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("サブスクリプションの取得に失敗しました: %w", err)
	}
	return sub, nil
}

// FindByStripeSubscriptionID は決済サービス側IDでサブスクリプションを取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*model.Subscription, error) {
	sub, err := scanSubscription(r.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = $1`,
		stripeSubscriptionID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("サブスクリプションの取得に失敗しました: %w", err)
	}
	return sub, nil
}

// IsEventProcessed はイベントが処理済みかを返す。
func (r *PostgresSubscriptionRepo) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM billing_events WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("課金イベントの確認に失敗しました: %w", err)
	}
	return exists, nil
}

// ApplyEvent はイベント台帳への記録と変更の適用を同一トランザクションで行う。
// 台帳への挿入が競合した場合は別の配送で処理済みのため何も適用しない。
func (r *PostgresSubscriptionRepo) ApplyEvent(ctx context.Context, event model.BillingEvent, change *SubscriptionChange) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO billing_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.EventType, event.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("課金イベントの記録に失敗しました: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	if change != nil {
		if change.Subscription != nil {
			if err := upsertSubscription(ctx, tx, change.Subscription); err != nil {
				return false, err
			}
		}

		var stripeSubID string
		if change.Subscription != nil {
			stripeSubID = change.Subscription.StripeSubscriptionID
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET
			    subscription_tier = $2,
			    subscription_status = $3,
			    stripe_customer_id = COALESCE($4, stripe_customer_id),
			    stripe_subscription_id = COALESCE($5, stripe_subscription_id),
			    updated_at = now()
			 WHERE id = $1`,
			change.UserID, change.UserTier, change.UserStatus,
			nullString(change.StripeCustomerID), nullString(stripeSubID),
		); err != nil {
			return false, fmt.Errorf("ユーザーのプラン情報の更新に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return true, nil
}

// upsertSubscription はuser_id単位でサブスクリプションを作成または更新する。
func upsertSubscription(ctx context.Context, tx *sql.Tx, sub *model.Subscription) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, tier, status, stripe_subscription_id, stripe_price_id,
		                            current_period_start, current_period_end, cancel_at_period_end,
		                            created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id) DO UPDATE SET
		    tier = EXCLUDED.tier,
		    status = EXCLUDED.status,
		    stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		    stripe_price_id = EXCLUDED.stripe_price_id,
		    current_period_start = EXCLUDED.current_period_start,
		    current_period_end = EXCLUDED.current_period_end,
		    cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		    updated_at = EXCLUDED.updated_at`,
		sub.ID, sub.UserID, sub.Tier, sub.Status, sub.StripeSubscriptionID, sub.StripePriceID,
		nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd), sub.CancelAtPeriodEnd,
		sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("サブスクリプションの保存に失敗しました: %w", err)
	}
	return nil
}

// MarkCancelAtPeriodEnd は期間終了時の解約予約を記録する。
func (r *PostgresSubscriptionRepo) MarkCancelAtPeriodEnd(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET cancel_at_period_end = true, updated_at = now() WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("解約予約の記録に失敗しました: %w", err)
	}
	return requireAffected(result)
}

// nullTime はゼロ値の時刻をNULLに変換する。
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
