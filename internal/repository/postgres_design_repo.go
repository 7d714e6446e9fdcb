package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/designstudio/internal/model"
)

// PostgresDesignRepo はPostgreSQLを使用したデザインリポジトリ。
type PostgresDesignRepo struct {
	db *sql.DB
}

// NewPostgresDesignRepo はPostgresDesignRepoを生成する。
func NewPostgresDesignRepo(db *sql.DB) *PostgresDesignRepo {
	return &PostgresDesignRepo{db: db}
}

const designColumns = `d.id, d.user_id, d.template_id, d.name, d.status, d.data, d.thumbnail, d.created_at, d.updated_at`

func scanDesign(row interface{ Scan(...any) error }, extra ...any) (*model.Design, error) {
	design := &model.Design{}
	var data []byte
	dest := []any{
		&design.ID, &design.UserID, &design.TemplateID, &design.Name, &design.Status,
		&data, &design.Thumbnail, &design.CreatedAt, &design.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := decodeDesignData(data, design); err != nil {
		return nil, err
	}
	return design, nil
}

func decodeDesignData(data []byte, design *model.Design) error {
	design.Data = map[string]string{}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &design.Data); err != nil {
		return fmt.Errorf("デザインデータの解析に失敗しました: %w", err)
	}
	return nil
}

func encodeDesignData(data map[string]string) ([]byte, error) {
	if data == nil {
		data = map[string]string{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("デザインデータの変換に失敗しました: %w", err)
	}
	return b, nil
}

// CreateWithQuota はデザイン作成と月間作成数の加算を同一トランザクションで行う。
// 加算は条件付きUPDATE1文で行い、同時作成時も上限を超えない。
// quota_periodが当月より前の場合はカウンタを当月分として1から数え直す。
func (r *PostgresDesignRepo) CreateWithQuota(ctx context.Context, design *model.Design, quotaLimit int) error {
	data, err := encodeDesignData(design.Data)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if quotaLimit >= 0 {
		result, err := tx.ExecContext(ctx,
			`UPDATE users
			 SET designs_this_month = CASE WHEN quota_period < $3 THEN 1 ELSE designs_this_month + 1 END,
			     quota_period = $3,
			     updated_at = now()
			 WHERE id = $1 AND (quota_period < $3 OR designs_this_month < $2)`,
			design.UserID, quotaLimit, model.MonthStart(design.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("デザイン作成数の加算に失敗しました: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return ErrQuotaExceeded
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO designs (id, user_id, template_id, name, status, data, thumbnail, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		design.ID, design.UserID, design.TemplateID, design.Name, design.Status,
		data, design.Thumbnail, design.CreatedAt, design.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("デザインの作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListByUserID はユーザーのデザインをupdated_at降順でテンプレート要約付きで返す。
func (r *PostgresDesignRepo) ListByUserID(ctx context.Context, userID string) ([]model.DesignWithTemplate, error) {
	return listDesignsWithTemplate(ctx, r.db,
		`SELECT `+designColumns+`, t.id, t.name, t.category, t.thumbnail
		 FROM designs d
		 INNER JOIN templates t ON t.id = d.template_id
		 WHERE d.user_id = $1
		 ORDER BY d.updated_at DESC`,
		userID,
	)
}

// listDesignsWithTemplate はテンプレート要約付きデザインの一覧クエリを実行する。
func listDesignsWithTemplate(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.DesignWithTemplate, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("デザイン一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	designs := []model.DesignWithTemplate{}
	for rows.Next() {
		var summary model.TemplateSummary
		design, err := scanDesign(rows, &summary.ID, &summary.Name, &summary.Category, &summary.Thumbnail)
		if err != nil {
			return nil, fmt.Errorf("デザインの読み取りに失敗しました: %w", err)
		}
		designs = append(designs, model.DesignWithTemplate{Design: *design, Template: summary})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("デザイン一覧の走査に失敗しました: %w", err)
	}
	return designs, nil
}

// FindByIDAndUserID は所有者で絞り込んでデザインを取得する。見つからない場合はnilを返す。
func (r *PostgresDesignRepo) FindByIDAndUserID(ctx context.Context, id, userID string) (*model.Design, error) {
	if !isUUID(id) {
		return nil, nil
	}
	design, err := scanDesign(r.db.QueryRowContext(ctx,
		`SELECT `+designColumns+` FROM designs d WHERE d.id = $1 AND d.user_id = $2`,
		id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("デザインの取得に失敗しました: %w", err)
	}
	return design, nil
}

// FindByID はレンダリングワーカー用に所有者を問わずデザインを取得する。見つからない場合はnilを返す。
func (r *PostgresDesignRepo) FindByID(ctx context.Context, id string) (*model.Design, error) {
	if !isUUID(id) {
		return nil, nil
	}
	design, err := scanDesign(r.db.QueryRowContext(ctx,
		`SELECT `+designColumns+` FROM designs d WHERE d.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("デザインの取得に失敗しました: %w", err)
	}
	return design, nil
}

// Update はデザイン名と変数値を更新する。対象がない場合はErrNotFoundを返す。
func (r *PostgresDesignRepo) Update(ctx context.Context, design *model.Design) error {
	data, err := encodeDesignData(design.Data)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE designs SET name = $3, data = $4, updated_at = $5
		 WHERE id = $1 AND user_id = $2`,
		design.ID, design.UserID, design.Name, data, design.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("デザインの更新に失敗しました: %w", err)
	}
	return requireAffected(result)
}

// DeleteByIDAndUserID はデザインを削除する（outputsはCASCADE削除）。
func (r *PostgresDesignRepo) DeleteByIDAndUserID(ctx context.Context, id, userID string) error {
	if !isUUID(id) {
		return ErrNotFound
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM designs WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("デザインの削除に失敗しました: %w", err)
	}
	return requireAffected(result)
}

// compile-time interface check
var _ DesignRepository = (*PostgresDesignRepo)(nil)
