// Package cleanup はデータ保守の定期ジョブを提供する。
// 期限切れセッションの削除、停止したレンダリングジョブの失敗確定、
// 課金イベント台帳の保持期間管理、月間作成数のリセットを行う。
// いずれも条件付きの単一SQLで実行するため、繰り返し実行しても結果は変わらない。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/designstudio/internal/model"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// stuckJobMessage はタイムアウトで失敗確定したジョブに記録するメッセージ。
const stuckJobMessage = "レンダリングが制限時間内に完了しませんでした"

const (
	deleteExpiredSessionsSQL = `DELETE FROM sessions WHERE expires_at < now()`

	// CTE内の更新は本体のクエリから見えないため、stuckに含まれるジョブは明示的に除外する。
	failStuckJobsSQL = `WITH stuck AS (
		UPDATE outputs SET state = 'failed', error_message = $2, completed_at = now()
		WHERE state = 'processing' AND started_at < now() - $1::interval
		RETURNING id, design_id
	)
	UPDATE designs d SET status = 'FAILED', updated_at = now()
	WHERE d.id IN (SELECT design_id FROM stuck)
	  AND NOT EXISTS (
		SELECT 1 FROM outputs o
		WHERE o.design_id = d.id AND o.state IN ('queued', 'processing')
		  AND o.id NOT IN (SELECT id FROM stuck)
	  )`

	deleteOldBillingEventsSQL = `DELETE FROM billing_events WHERE processed_at < now() - $1::interval`

	resetMonthlyQuotaSQL = `UPDATE users SET designs_this_month = 0, quota_period = $1, updated_at = now()
		WHERE quota_period < $1`
)

// CleanupJob はデータ保守の定期ジョブ。
type CleanupJob struct {
	db                        Executor
	logger                    *slog.Logger
	RenderTimeout             time.Duration // processingのまま放置されたジョブを失敗とみなす時間（デフォルト: 5分）
	BillingEventRetentionDays int           // 課金イベント台帳の保持日数（デフォルト: 90）
	now                       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:                        db,
		logger:                    logger,
		RenderTimeout:             5 * time.Minute,
		BillingEventRetentionDays: 90,
		now:                       time.Now,
	}
}

// Start はintervalごとにRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("保守ジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("保守ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

// Run は全ての保守タスクを順に実行する。
// 1つのタスクが失敗しても残りのタスクは実行し、失敗したタスクのエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	return errors.Join(
		j.PurgeExpiredSessions(ctx),
		j.FailStuckJobs(ctx),
		j.PurgeBillingEvents(ctx),
		j.ResetMonthlyQuota(ctx),
	)
}

// PurgeExpiredSessions は有効期限を過ぎたセッションを削除する。
func (j *CleanupJob) PurgeExpiredSessions(ctx context.Context) error {
	return j.exec(ctx, "expired_sessions", deleteExpiredSessionsSQL)
}

// FailStuckJobs はRenderTimeoutを超えてprocessingのままのジョブを失敗確定する。
// 親デザインは実行中の兄弟ジョブが残っていない場合のみFAILEDにする。
func (j *CleanupJob) FailStuckJobs(ctx context.Context) error {
	interval := fmt.Sprintf("%d seconds", int(j.RenderTimeout.Seconds()))
	return j.exec(ctx, "stuck_render_jobs", failStuckJobsSQL, interval, stuckJobMessage)
}

// PurgeBillingEvents は保持期間を超過した課金イベントの記録を削除する。
func (j *CleanupJob) PurgeBillingEvents(ctx context.Context) error {
	interval := fmt.Sprintf("%d days", j.BillingEventRetentionDays)
	return j.exec(ctx, "billing_events", deleteOldBillingEventsSQL, interval)
}

// ResetMonthlyQuota は前月以前のクォータ期間を持つユーザーの月間作成数を0に戻す。
// 月の境界はUTC。
func (j *CleanupJob) ResetMonthlyQuota(ctx context.Context) error {
	return j.exec(ctx, "monthly_quota", resetMonthlyQuotaSQL, model.MonthStart(j.now()))
}

func (j *CleanupJob) exec(ctx context.Context, task, query string, args ...interface{}) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("保守タスクの実行に失敗しました",
			slog.String("task", task),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("保守タスク %s の実行に失敗: %w", task, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("更新件数の取得に失敗しました",
			slog.String("task", task),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("保守タスクが完了しました",
		slog.String("task", task),
		slog.Int64("affected_count", affected),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}
