package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/designstudio/internal/model"
)

// PostgresStatsRepo はPostgreSQLを使用した集計用リポジトリ。
type PostgresStatsRepo struct {
	db *sql.DB
}

// NewPostgresStatsRepo はPostgresStatsRepoを生成する。
func NewPostgresStatsRepo(db *sql.DB) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db}
}

// CountDesigns はユーザーのデザイン数を返す。sinceがゼロ値の場合は全期間。
func (r *PostgresStatsRepo) CountDesigns(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM designs WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("デザイン数の集計に失敗しました: %w", err)
	}
	return count, nil
}

// CountExports はユーザーのエクスポート数を返す。sinceがゼロ値の場合は全期間。
func (r *PostgresStatsRepo) CountExports(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM outputs o
		 INNER JOIN designs d ON d.id = o.design_id
		 WHERE d.user_id = $1 AND o.created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("エクスポート数の集計に失敗しました: %w", err)
	}
	return count, nil
}

// RecentDesigns はユーザーの最近更新されたデザインを返す。
func (r *PostgresStatsRepo) RecentDesigns(ctx context.Context, userID string, limit int) ([]model.DesignWithTemplate, error) {
	return listDesignsWithTemplate(ctx, r.db,
		`SELECT `+designColumns+`, t.id, t.name, t.category, t.thumbnail
		 FROM designs d
		 INNER JOIN templates t ON t.id = d.template_id
		 WHERE d.user_id = $1
		 ORDER BY d.updated_at DESC
		 LIMIT $2`,
		userID, limit,
	)
}

// TopTemplatesByUser は期間内にユーザーが多く使ったテンプレートを返す。
func (r *PostgresStatsRepo) TopTemplatesByUser(ctx context.Context, userID string, since time.Time, limit int) ([]model.TemplateUsage, error) {
	return r.templateUsage(ctx,
		`SELECT t.id, t.name, t.category, t.thumbnail, count(d.id) AS usage
		 FROM designs d
		 INNER JOIN templates t ON t.id = d.template_id
		 WHERE d.user_id = $1 AND d.created_at >= $2
		 GROUP BY t.id, t.name, t.category, t.thumbnail
		 ORDER BY usage DESC, t.name ASC
		 LIMIT $3`,
		userID, since, limit,
	)
}

// PopularTemplates はデザイン数の多いテンプレートを返す。
func (r *PostgresStatsRepo) PopularTemplates(ctx context.Context, limit int) ([]model.TemplateUsage, error) {
	return r.templateUsage(ctx,
		`SELECT t.id, t.name, t.category, t.thumbnail, count(d.id) AS usage
		 FROM templates t
		 INNER JOIN designs d ON d.template_id = t.id
		 GROUP BY t.id, t.name, t.category, t.thumbnail
		 ORDER BY usage DESC, t.name ASC
		 LIMIT $1`,
		limit,
	)
}

func (r *PostgresStatsRepo) templateUsage(ctx context.Context, query string, args ...any) ([]model.TemplateUsage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("テンプレート利用数の集計に失敗しました: %w", err)
	}
	defer rows.Close()

	usages := []model.TemplateUsage{}
	for rows.Next() {
		var u model.TemplateUsage
		if err := rows.Scan(&u.ID, &u.Name, &u.Category, &u.Thumbnail, &u.UsageCount); err != nil {
			return nil, fmt.Errorf("テンプレート利用数の読み取りに失敗しました: %w", err)
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("テンプレート利用数の走査に失敗しました: %w", err)
	}
	return usages, nil
}

// PlatformCounts はサービス全体の集計値を返す。
func (r *PostgresStatsRepo) PlatformCounts(ctx context.Context, since time.Time) (*PlatformCounts, error) {
	c := &PlatformCounts{ActiveByTier: map[model.SubscriptionTier]int{}}

	err := r.db.QueryRowContext(ctx,
		`SELECT
		    (SELECT count(*) FROM users),
		    (SELECT count(*) FROM users WHERE created_at >= $1),
		    (SELECT count(*) FROM designs),
		    (SELECT count(*) FROM outputs),
		    (SELECT count(DISTINCT user_id) FROM designs WHERE created_at >= $1),
		    (SELECT count(*) FROM users WHERE subscription_tier IN ('PRO', 'BUSINESS', 'ENTERPRISE'))`,
		since,
	).Scan(&c.TotalUsers, &c.NewUsers, &c.TotalDesigns, &c.TotalExports, &c.ActiveUsers, &c.PremiumUsers)
	if err != nil {
		return nil, fmt.Errorf("サービス集計値の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT tier, count(*) FROM subscriptions WHERE status = 'ACTIVE' GROUP BY tier`,
	)
	if err != nil {
		return nil, fmt.Errorf("プラン別契約数の取得に失敗しました: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier model.SubscriptionTier
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("プラン別契約数の読み取りに失敗しました: %w", err)
		}
		c.ActiveByTier[tier] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プラン別契約数の走査に失敗しました: %w", err)
	}

	return c, nil
}

// compile-time interface check
var _ StatsRepository = (*PostgresStatsRepo)(nil)
