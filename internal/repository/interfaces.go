// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/designstudio/internal/model"
)

// ErrQuotaExceeded は条件付きカウンタ加算が上限により適用されなかったことを表す。
var ErrQuotaExceeded = errors.New("monthly design quota exceeded")

// ErrNotFound は更新・削除対象の行が存在しない（または所有者が異なる）ことを表す。
var ErrNotFound = errors.New("record not found")

// ErrEmailTaken はメールアドレスの一意制約違反を表す。
var ErrEmailTaken = errors.New("email already registered")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はパスワード認証のユーザーを作成する。
	// メールアドレスが重複する場合はErrEmailTakenを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile は表示名とアイコン画像を更新する。
	UpdateProfile(ctx context.Context, id, name, image string) error

	// UpdatePasswordHash はパスワードハッシュを更新する。
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、designs、outputs、subscriptionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteOthersByUserID は指定ユーザーのkeepID以外のセッションを削除し、削除件数を返す。
	DeleteOthersByUserID(ctx context.Context, userID, keepID string) (int64, error)
}

// TemplateFilter はテンプレート一覧の絞り込み条件。
type TemplateFilter struct {
	Category model.TemplateCategory // 空の場合は全カテゴリ
	Featured *bool
	Limit    int
	Offset   int
}

// TemplateRepository はテンプレートデータの永続化インターフェース。
type TemplateRepository interface {
	// ListPublic は公開テンプレートをis_featured降順、created_at降順で取得し、条件に一致する総件数と共に返す。
	ListPublic(ctx context.Context, filter TemplateFilter) ([]*model.Template, int, error)

	// FindPublicByID は公開テンプレートを取得する。見つからない場合はnilを返す。
	FindPublicByID(ctx context.Context, id string) (*model.Template, error)

	// FindByID は公開状態に関わらずテンプレートを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Template, error)

	// Create はテンプレートを作成する。
	Create(ctx context.Context, tmpl *model.Template) error
}

// DesignRepository はデザインデータの永続化インターフェース。
// 参照・更新・削除はすべて (id, user_id) の組で絞り込む。
type DesignRepository interface {
	// CreateWithQuota はデザイン作成と月間作成数の加算を同一トランザクションで行う。
	// quotaLimitが0以上の場合のみ designs_this_month < quotaLimit を条件に加算し、
	// 条件を満たさない場合はErrQuotaExceededを返す。
	CreateWithQuota(ctx context.Context, design *model.Design, quotaLimit int) error

	// ListByUserID はユーザーのデザインをupdated_at降順でテンプレート要約付きで返す。
	ListByUserID(ctx context.Context, userID string) ([]model.DesignWithTemplate, error)

	// FindByIDAndUserID は所有者で絞り込んでデザインを取得する。見つからない場合はnilを返す。
	FindByIDAndUserID(ctx context.Context, id, userID string) (*model.Design, error)

	// FindByID はレンダリングワーカー用に所有者を問わずデザインを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Design, error)

	// Update はデザイン名と変数値を更新する。対象がない場合はErrNotFoundを返す。
	Update(ctx context.Context, design *model.Design) error

	// DeleteByIDAndUserID はデザインを削除する（outputsはCASCADE削除）。
	// 対象がない場合はErrNotFoundを返す。
	DeleteByIDAndUserID(ctx context.Context, id, userID string) error
}

// OutputRepository はエクスポートジョブの永続化インターフェース。
type OutputRepository interface {
	// CreateJob はジョブ作成と親デザインのRENDERINGへの遷移を同一トランザクションで行う。
	CreateJob(ctx context.Context, output *model.Output, userID string) error

	// FindJobByIDAndUserID は所有者で絞り込んでジョブを取得する。見つからない場合はnilを返す。
	FindJobByIDAndUserID(ctx context.Context, jobID, userID string) (*model.ExportJob, error)

	// ListJobsByUserID はユーザーの全デザインのジョブをcreated_at降順で最大limit件返す。
	ListJobsByUserID(ctx context.Context, userID string, limit int) ([]model.ExportJob, error)

	// ListByDesignID はデザインのジョブをcreated_at降順で返す。
	ListByDesignID(ctx context.Context, designID string) ([]*model.Output, error)

	// ClaimDue は実行可能なqueuedジョブを最大limit件FOR UPDATE SKIP LOCKEDで取得し、
	// processingへ遷移させてから返す。
	ClaimDue(ctx context.Context, limit int) ([]*model.ExportJob, error)

	// Complete は成果物の場所とサイズを書き込み、processing中のジョブを完了にする。
	// ジョブがprocessingでない場合はErrNotFoundを返す。
	Complete(ctx context.Context, jobID, fileURL string, fileSize int64) error

	// Reschedule はprocessing中のジョブをqueuedへ戻し、次回試行時刻を設定する。
	Reschedule(ctx context.Context, jobID string, nextAttemptAt time.Time, errorMessage string) error

	// Fail はprocessing中のジョブをfailedにする。
	// 親デザインは実行中の兄弟ジョブがない場合のみFAILEDになる。
	Fail(ctx context.Context, jobID, errorMessage string) error
}

// SubscriptionChange は課金イベント1件で適用する変更内容。
// Subscriptionはuser_id単位でUPSERTし、ユーザーのプラン区分キャッシュも同時に更新する。
type SubscriptionChange struct {
	UserID           string
	Subscription     *model.Subscription
	UserTier         model.SubscriptionTier
	UserStatus       model.SubscriptionStatus
	StripeCustomerID string
}

// SubscriptionRepository はサブスクリプションと課金イベント台帳の永続化インターフェース。
type SubscriptionRepository interface {
	// FindByUserID はユーザーのサブスクリプションを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Subscription, error)

	// FindByStripeSubscriptionID は決済サービス側IDでサブスクリプションを取得する。見つからない場合はnilを返す。
	FindByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*model.Subscription, error)

	// IsEventProcessed はイベントが処理済みかを返す。
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)

	// ApplyEvent はイベント台帳への記録と変更の適用を同一トランザクションで行う。
	// 既に記録済みのイベントは何も適用せずfalseを返す。changeがnilの場合は記録のみ行う。
	ApplyEvent(ctx context.Context, event model.BillingEvent, change *SubscriptionChange) (bool, error)

	// MarkCancelAtPeriodEnd は期間終了時の解約予約を記録する。
	MarkCancelAtPeriodEnd(ctx context.Context, userID string) error
}

// StatsRepository はユーザー統計と管理者向け集計の読み取りインターフェース。
type StatsRepository interface {
	// CountDesigns はユーザーのデザイン数を返す。sinceがゼロ値の場合は全期間。
	CountDesigns(ctx context.Context, userID string, since time.Time) (int, error)

	// CountExports はユーザーのエクスポート数を返す。sinceがゼロ値の場合は全期間。
	CountExports(ctx context.Context, userID string, since time.Time) (int, error)

	// RecentDesigns はユーザーの最近更新されたデザインを返す。
	RecentDesigns(ctx context.Context, userID string, limit int) ([]model.DesignWithTemplate, error)

	// TopTemplatesByUser は期間内にユーザーが多く使ったテンプレートを返す。
	TopTemplatesByUser(ctx context.Context, userID string, since time.Time, limit int) ([]model.TemplateUsage, error)

	// PlatformCounts はサービス全体の集計値を返す。
	PlatformCounts(ctx context.Context, since time.Time) (*PlatformCounts, error)

	// PopularTemplates はデザイン数の多いテンプレートを返す。
	PopularTemplates(ctx context.Context, limit int) ([]model.TemplateUsage, error)
}

// PlatformCounts はサービス全体の集計値。
type PlatformCounts struct {
	TotalUsers   int
	NewUsers     int
	TotalDesigns int
	TotalExports int
	ActiveUsers  int
	PremiumUsers int
	ActiveByTier map[model.SubscriptionTier]int // ACTIVEなサブスクリプションのプラン別件数
}
