package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/designstudio/internal/model"
)

// PostgresOutputRepo はPostgreSQLを使用したエクスポートジョブリポジトリ。
// outputsテーブルをジョブキューとして兼用する。
type PostgresOutputRepo struct {
	db *sql.DB
}

// NewPostgresOutputRepo はPostgresOutputRepoを生成する。
func NewPostgresOutputRepo(db *sql.DB) *PostgresOutputRepo {
	return &PostgresOutputRepo{db: db}
}

const outputColumns = `o.id, o.design_id, o.format, o.width, o.height, o.dpi, o.file_url, o.file_size,
	o.state, o.attempts, o.error_message, o.next_attempt_at, o.started_at, o.completed_at, o.created_at`

const jobSelect = `SELECT ` + outputColumns + `, d.user_id, d.name, d.status, t.id, t.name, t.category, t.thumbnail
	FROM outputs o
	INNER JOIN designs d ON d.id = o.design_id
	INNER JOIN templates t ON t.id = d.template_id`

func scanOutput(row interface{ Scan(...any) error }, extra ...any) (*model.Output, error) {
	o := &model.Output{}
	var startedAt, completedAt sql.NullTime
	dest := []any{
		&o.ID, &o.DesignID, &o.Format, &o.Width, &o.Height, &o.DPI, &o.FileURL, &o.FileSize,
		&o.State, &o.Attempts, &o.ErrorMessage, &o.NextAttemptAt, &startedAt, &completedAt, &o.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		t := startedAt.Time
		o.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	return o, nil
}

func scanJob(row interface{ Scan(...any) error }) (*model.ExportJob, error) {
	job := &model.ExportJob{}
	output, err := scanOutput(row,
		&job.UserID, &job.DesignName, &job.DesignStatus,
		&job.Template.ID, &job.Template.Name, &job.Template.Category, &job.Template.Thumbnail,
	)
	if err != nil {
		return nil, err
	}
	job.Output = *output
	return job, nil
}

// CreateJob はジョブ作成と親デザインのRENDERINGへの遷移を同一トランザクションで行う。
// デザインが存在しないか所有者が異なる場合はErrNotFoundを返し、何も書き込まない。
func (r *PostgresOutputRepo) CreateJob(ctx context.Context, output *model.Output, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outputs (id, design_id, format, width, height, dpi, file_url, file_size,
		                      state, attempts, error_message, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '', 0, $7, 0, '', $8, $9)`,
		output.ID, output.DesignID, output.Format, output.Width, output.Height, output.DPI,
		output.State, output.NextAttemptAt, output.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("エクスポートジョブの作成に失敗しました: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE designs SET status = $3, updated_at = now() WHERE id = $1 AND user_id = $2`,
		output.DesignID, userID, model.DesignRendering,
	)
	if err != nil {
		return fmt.Errorf("デザイン状態の更新に失敗しました: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// FindJobByIDAndUserID は所有者で絞り込んでジョブを取得する。見つからない場合はnilを返す。
func (r *PostgresOutputRepo) FindJobByIDAndUserID(ctx context.Context, jobID, userID string) (*model.ExportJob, error) {
	if !isUUID(jobID) {
		return nil, nil
	}
	job, err := scanJob(r.db.QueryRowContext(ctx,
		jobSelect+` WHERE o.id = $1 AND d.user_id = $2`,
		jobID, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("エクスポートジョブの取得に失敗しました: %w", err)
	}
	return job, nil
}

// ListJobsByUserID はユーザーの全デザインのジョブをcreated_at降順で最大limit件返す。
func (r *PostgresOutputRepo) ListJobsByUserID(ctx context.Context, userID string, limit int) ([]model.ExportJob, error) {
	rows, err := r.db.QueryContext(ctx,
		jobSelect+` WHERE d.user_id = $1 ORDER BY o.created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("エクスポート一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	jobs := []model.ExportJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("エクスポートジョブの読み取りに失敗しました: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("エクスポート一覧の走査に失敗しました: %w", err)
	}
	return jobs, nil
}

// ListByDesignID はデザインのジョブをcreated_at降順で返す。
func (r *PostgresOutputRepo) ListByDesignID(ctx context.Context, designID string) ([]*model.Output, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+outputColumns+` FROM outputs o WHERE o.design_id = $1 ORDER BY o.created_at DESC`,
		designID,
	)
	if err != nil {
		return nil, fmt.Errorf("デザインの出力一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	outputs := []*model.Output{}
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, fmt.Errorf("出力の読み取りに失敗しました: %w", err)
		}
		outputs = append(outputs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("出力一覧の走査に失敗しました: %w", err)
	}
	return outputs, nil
}

// ClaimDue は実行可能なqueuedジョブを最大limit件FOR UPDATE SKIP LOCKEDで取得し、
// processingへ遷移させてから返す。複数ワーカーが同時に実行しても同じジョブは取得されない。
func (r *PostgresOutputRepo) ClaimDue(ctx context.Context, limit int) ([]*model.ExportJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT o.id FROM outputs o
		 WHERE o.state = 'queued' AND o.next_attempt_at <= now()
		 ORDER BY o.next_attempt_at ASC, o.created_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("実行対象ジョブの取得に失敗しました: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("実行対象ジョブの読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行対象ジョブの走査に失敗しました: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE outputs SET state = 'processing', started_at = now(), attempts = attempts + 1
		 WHERE id = ANY($1::uuid[])`,
		pq.Array(ids),
	); err != nil {
		return nil, fmt.Errorf("ジョブ状態の更新に失敗しました: %w", err)
	}

	jobRows, err := tx.QueryContext(ctx,
		jobSelect+` WHERE o.id = ANY($1::uuid[]) ORDER BY o.next_attempt_at ASC, o.created_at ASC`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("取得したジョブの読み込みに失敗しました: %w", err)
	}
	var jobs []*model.ExportJob
	for jobRows.Next() {
		job, err := scanJob(jobRows)
		if err != nil {
			jobRows.Close()
			return nil, fmt.Errorf("取得したジョブの読み取りに失敗しました: %w", err)
		}
		jobs = append(jobs, job)
	}
	jobRows.Close()
	if err := jobRows.Err(); err != nil {
		return nil, fmt.Errorf("取得したジョブの走査に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return jobs, nil
}

// Complete は成果物の場所とサイズを書き込み、processing中のジョブを完了にする。
// 同じデザインに実行中の別ジョブがなければ親デザインもCOMPLETEDにする。
// ジョブが既にprocessingでない場合はErrNotFoundを返し、何も書き込まない。
func (r *PostgresOutputRepo) Complete(ctx context.Context, jobID, fileURL string, fileSize int64) error {
	return r.finish(ctx,
		`UPDATE outputs SET file_url = $2, file_size = $3, state = 'completed', error_message = '', completed_at = now()
		 WHERE id = $1 AND state = 'processing' RETURNING design_id`,
		model.DesignCompleted,
		jobID, fileURL, fileSize,
	)
}

// Fail はprocessing中のジョブをfailedにする。
// 親デザインは同じデザインに実行中の別ジョブがない場合のみFAILEDにする。
func (r *PostgresOutputRepo) Fail(ctx context.Context, jobID, errorMessage string) error {
	return r.finish(ctx,
		`UPDATE outputs SET state = 'failed', error_message = $2, completed_at = now()
		 WHERE id = $1 AND state = 'processing' RETURNING design_id`,
		model.DesignFailed,
		jobID, errorMessage,
	)
}

// settleDesignSQL は兄弟ジョブがすべて終端状態のときだけデザインの状態を確定させる。
const settleDesignSQL = `UPDATE designs SET status = $2, updated_at = now()
	WHERE id = $1 AND NOT EXISTS (
		SELECT 1 FROM outputs
		WHERE design_id = $1 AND id <> $3 AND state IN ('queued', 'processing')
	)`

// finish はジョブの終端状態への更新と親デザインの状態更新を同一トランザクションで行う。
// args[0]はジョブIDであること。
func (r *PostgresOutputRepo) finish(ctx context.Context, outputSQL string, designStatus model.DesignStatus, args ...any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	var designID string
	err = tx.QueryRowContext(ctx, outputSQL, args...).Scan(&designID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ジョブ状態の更新に失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx, settleDesignSQL, designID, designStatus, args[0]); err != nil {
		return fmt.Errorf("デザイン状態の更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// Reschedule はprocessing中のジョブをqueuedへ戻し、次回試行時刻を設定する。
// 既に終端状態のジョブはErrNotFoundになる。
func (r *PostgresOutputRepo) Reschedule(ctx context.Context, jobID string, nextAttemptAt time.Time, errorMessage string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE outputs SET state = 'queued', next_attempt_at = $2, error_message = $3
		 WHERE id = $1 AND state = 'processing'`,
		jobID, nextAttemptAt, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("ジョブの再スケジュールに失敗しました: %w", err)
	}
	return requireAffected(result)
}

// compile-time interface check
var _ OutputRepository = (*PostgresOutputRepo)(nil)
