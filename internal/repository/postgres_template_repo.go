package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/designstudio/internal/model"
)

// PostgresTemplateRepo はPostgreSQLを使用したテンプレートリポジトリ。
type PostgresTemplateRepo struct {
	db *sql.DB
}

// NewPostgresTemplateRepo はPostgresTemplateRepoを生成する。
func NewPostgresTemplateRepo(db *sql.DB) *PostgresTemplateRepo {
	return &PostgresTemplateRepo{db: db}
}

const templateColumns = `id, name, description, category, thumbnail, width, height, data,
	is_premium, is_public, is_featured, price, tags, created_by, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (*model.Template, error) {
	tmpl := &model.Template{}
	var data []byte
	var price sql.NullFloat64
	var createdBy sql.NullString
	var tags []string
	err := row.Scan(
		&tmpl.ID, &tmpl.Name, &tmpl.Description, &tmpl.Category, &tmpl.Thumbnail,
		&tmpl.Width, &tmpl.Height, &data,
		&tmpl.IsPremium, &tmpl.IsPublic, &tmpl.IsFeatured, &price,
		pq.Array(&tags), &createdBy, &tmpl.CreatedAt, &tmpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tmpl.Data); err != nil {
			return nil, fmt.Errorf("テンプレートデータの解析に失敗しました: %w", err)
		}
	}
	if price.Valid {
		p := price.Float64
		tmpl.Price = &p
	}
	tmpl.Tags = tags
	tmpl.CreatedBy = nullStringValue(createdBy)
	return tmpl, nil
}

// ListPublic は公開テンプレートをis_featured降順、created_at降順で取得し、条件に一致する総件数と共に返す。
func (r *PostgresTemplateRepo) ListPublic(ctx context.Context, filter TemplateFilter) ([]*model.Template, int, error) {
	where := []string{"is_public = true"}
	var args []any
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Featured != nil {
		args = append(args, *filter.Featured)
		where = append(where, fmt.Sprintf("is_featured = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM templates WHERE `+cond,
		args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("テンプレート件数の取得に失敗しました: %w", err)
	}

	listArgs := append(args, filter.Limit, filter.Offset)
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM templates WHERE %s
		 ORDER BY is_featured DESC, created_at DESC
		 LIMIT $%d OFFSET $%d`, templateColumns, cond, len(args)+1, len(args)+2),
		listArgs...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("テンプレート一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var templates []*model.Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("テンプレートの読み取りに失敗しました: %w", err)
		}
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("テンプレート一覧の走査に失敗しました: %w", err)
	}

	return templates, total, nil
}

// FindPublicByID は公開テンプレートを取得する。見つからない場合はnilを返す。
func (r *PostgresTemplateRepo) FindPublicByID(ctx context.Context, id string) (*model.Template, error) {
	return r.findOne(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1 AND is_public = true`, id)
}

// FindByID は公開状態に関わらずテンプレートを取得する。見つからない場合はnilを返す。
func (r *PostgresTemplateRepo) FindByID(ctx context.Context, id string) (*model.Template, error) {
	return r.findOne(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id)
}

func (r *PostgresTemplateRepo) findOne(ctx context.Context, query, id string) (*model.Template, error) {
	if !isUUID(id) {
		return nil, nil
	}
	tmpl, err := scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("テンプレートの取得に失敗しました: %w", err)
	}
	return tmpl, nil
}

// Create はテンプレートを作成する。
func (r *PostgresTemplateRepo) Create(ctx context.Context, tmpl *model.Template) error {
	data, err := json.Marshal(tmpl.Data)
	if err != nil {
		return fmt.Errorf("テンプレートデータの変換に失敗しました: %w", err)
	}
	var price sql.NullFloat64
	if tmpl.Price != nil {
		price = sql.NullFloat64{Float64: *tmpl.Price, Valid: true}
	}
	tags := tmpl.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, description, category, thumbnail, width, height, data,
		                        is_premium, is_public, is_featured, price, tags, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		tmpl.ID, tmpl.Name, tmpl.Description, tmpl.Category, tmpl.Thumbnail,
		tmpl.Width, tmpl.Height, data,
		tmpl.IsPremium, tmpl.IsPublic, tmpl.IsFeatured, price,
		pq.Array(tags), nullString(tmpl.CreatedBy), tmpl.CreatedAt, tmpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("テンプレートの作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ TemplateRepository = (*PostgresTemplateRepo)(nil)
