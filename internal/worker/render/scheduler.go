// Package render はエクスポートジョブのバックグラウンドレンダリング処理を提供する。
// スケジューラ、ジョブプロセッサ、リトライ/バックオフ戦略を含む。
package render

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/queue"
	"github.com/hitoshi/designstudio/internal/repository"
)

// JobProcessor はジョブ1件の処理インターフェース。
type JobProcessor interface {
	// Process はジョブを処理し、結果に応じてジョブ状態を更新する。
	Process(ctx context.Context, job *model.ExportJob) error
}

// Scheduler はエクスポートジョブの取得と並列制御を行う。
// 一定間隔、またはジョブ作成通知を受けた時点で実行可能なジョブを取得し、
// semaphoreパターンで最大並列数を制御しながら処理する。
type Scheduler struct {
	outputRepo     repository.OutputRepository
	processor      JobProcessor
	waiter         queue.Waiter
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
// waiterがnilの場合は一定間隔のポーリングのみ行う。
func NewScheduler(
	outputRepo repository.OutputRepository,
	processor JobProcessor,
	waiter queue.Waiter,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		outputRepo:     outputRepo,
		processor:      processor,
		waiter:         waiter,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start はスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("レンダリングスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Bool("notifier", s.waiter != nil),
	)

	for {
		if err := s.runUntilIdle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("レンダリングサイクルの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
		if !s.wait(ctx, interval) {
			s.logger.Info("レンダリングスケジューラを停止しました")
			return
		}
	}
}

// runUntilIdle は取得できるジョブがなくなるまでRunOnceを繰り返す。
func (s *Scheduler) runUntilIdle(ctx context.Context) error {
	for ctx.Err() == nil {
		n, err := s.RunOnce(ctx)
		if err != nil {
			return err
		}
		if n < s.maxConcurrency {
			return nil
		}
	}
	return nil
}

// wait は次のサイクルまで待機する。コンテキストがキャンセルされた場合はfalseを返す。
func (s *Scheduler) wait(ctx context.Context, interval time.Duration) bool {
	if s.waiter != nil {
		_, err := s.waiter.Wait(ctx, interval)
		if err == nil || ctx.Err() != nil {
			return ctx.Err() == nil
		}
		// Redisに接続できない間はポーリング間隔で待機する
		s.logger.Warn("ジョブ通知の待機に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RunOnce は実行可能なジョブを最大並列数まで取得し、並列で処理する。
// 取得したジョブ数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()

	// 実行可能ジョブを取得（FOR UPDATE SKIP LOCKED）
	jobs, err := s.outputRepo.ClaimDue(ctx, s.maxConcurrency)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		s.logger.Debug("実行可能なエクスポートジョブはありません")
		return 0, nil
	}

	s.logger.Info("レンダリングサイクルを開始します",
		slog.Int("job_count", len(jobs)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}

		go func(j *model.ExportJob) {
			defer wg.Done()
			defer func() { <-sem }()

			// 失敗時のジョブ状態の更新とログ出力はProcessorが行う
			_ = s.processor.Process(ctx, j)
		}(job)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("レンダリングサイクルが完了しました",
		slog.Int("job_count", len(jobs)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return len(jobs), nil
}
