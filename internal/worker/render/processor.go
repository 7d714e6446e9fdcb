package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/designstudio/internal/entitlement"
	"github.com/hitoshi/designstudio/internal/metrics"
	"github.com/hitoshi/designstudio/internal/model"
	designrender "github.com/hitoshi/designstudio/internal/render"
	"github.com/hitoshi/designstudio/internal/repository"
	"github.com/hitoshi/designstudio/internal/storage"
)

// errPermanent は再試行しても成功しない失敗を表す。
var errPermanent = errors.New("permanent render failure")

// Renderer はジョブ1件分の成果物を生成する。
type Renderer interface {
	Render(ctx context.Context, req designrender.Request) (*designrender.Result, error)
}

// Uploader は成果物を保存し、その場所を返す。
type Uploader interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// ProcessorConfig はProcessorの設定。
type ProcessorConfig struct {
	MaxAttempts int
	JobTimeout  time.Duration
}

// Processor はエクスポートジョブ1件をレンダリングしてアップロードする。
// 成功時はジョブを完了させ、失敗時は試行回数に応じて再スケジュールまたは失敗確定する。
type Processor struct {
	userRepo     repository.UserRepository
	designRepo   repository.DesignRepository
	templateRepo repository.TemplateRepository
	outputRepo   repository.OutputRepository
	renderer     Renderer
	uploader     Uploader
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	config       ProcessorConfig
	now          func() time.Time
}

// NewProcessor はProcessorの新しいインスタンスを生成する。
func NewProcessor(
	userRepo repository.UserRepository,
	designRepo repository.DesignRepository,
	templateRepo repository.TemplateRepository,
	outputRepo repository.OutputRepository,
	renderer Renderer,
	uploader Uploader,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config ProcessorConfig,
) *Processor {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &Processor{
		userRepo:     userRepo,
		designRepo:   designRepo,
		templateRepo: templateRepo,
		outputRepo:   outputRepo,
		renderer:     renderer,
		uploader:     uploader,
		metrics:      collector,
		logger:       logger,
		config:       config,
		now:          time.Now,
	}
}

// Process はジョブを処理する。
// JobProcessorインターフェースを実装する。
func (p *Processor) Process(ctx context.Context, job *model.ExportJob) error {
	start := p.now()
	format := string(job.Format)

	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	fileURL, size, err := p.render(jobCtx, job)
	if err != nil {
		return p.handleFailure(ctx, job, err)
	}

	if err := p.outputRepo.Complete(ctx, job.ID, fileURL, size); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 保守ジョブが先にタイムアウトとして失敗確定している
			p.logger.Warn("終了済みのジョブの成果物を破棄しました",
				slog.String("job_id", job.ID),
				slog.String("file_url", fileURL),
			)
			return nil
		}
		return p.handleFailure(ctx, job, fmt.Errorf("完了状態の保存に失敗: %w", err))
	}

	duration := p.now().Sub(start)
	p.metrics.RecordRenderSuccess(format)
	p.metrics.RecordRenderLatency(duration)
	p.logger.Info("エクスポートジョブが完了しました",
		slog.String("job_id", job.ID),
		slog.String("design_id", job.DesignID),
		slog.String("format", format),
		slog.Int64("file_size", size),
		slog.Int("attempts", job.Attempts),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// render はデザインとテンプレートを読み込み、成果物を生成して保存する。
func (p *Processor) render(ctx context.Context, job *model.ExportJob) (string, int64, error) {
	design, err := p.designRepo.FindByID(ctx, job.DesignID)
	if err != nil {
		return "", 0, fmt.Errorf("デザインの取得に失敗: %w", err)
	}
	if design == nil {
		return "", 0, fmt.Errorf("%w: デザインが見つかりません", errPermanent)
	}

	tmpl, err := p.templateRepo.FindByID(ctx, design.TemplateID)
	if err != nil {
		return "", 0, fmt.Errorf("テンプレートの取得に失敗: %w", err)
	}
	if tmpl == nil {
		return "", 0, fmt.Errorf("%w: テンプレートが見つかりません", errPermanent)
	}

	user, err := p.userRepo.FindByID(ctx, job.UserID)
	if err != nil {
		return "", 0, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	if user == nil {
		return "", 0, fmt.Errorf("%w: ユーザーが見つかりません", errPermanent)
	}

	result, err := p.renderer.Render(ctx, designrender.Request{
		Template:  tmpl,
		Variables: design.Data,
		Format:    job.Format,
		Width:     job.Width,
		Height:    job.Height,
		DPI:       job.DPI,
		Watermark: entitlement.Resolve(user.SubscriptionTier).Watermarked,
		Title:     design.Name,
	})
	if err != nil {
		return "", 0, fmt.Errorf("レンダリングに失敗: %w", err)
	}

	key := storage.ObjectKey(job.UserID, job.ID, result.Extension)
	fileURL, err := p.uploader.Put(ctx, key, result.ContentType, result.Data)
	if err != nil {
		return "", 0, fmt.Errorf("成果物のアップロードに失敗: %w", err)
	}
	return fileURL, int64(len(result.Data)), nil
}

// handleFailure は試行回数に応じてジョブを再スケジュールまたは失敗確定する。
// ジョブに保存するのは固定メッセージのみで、原因はログに出力する。
func (p *Processor) handleFailure(ctx context.Context, job *model.ExportJob, cause error) error {
	format := string(job.Format)
	retry := !errors.Is(cause, errPermanent) && ShouldRetry(job.Attempts, p.config.MaxAttempts)
	msg := failureMessage(cause, !retry)

	if retry {
		delay := CalculateBackoff(job.Attempts)
		p.logTransitionError(job.ID, "再スケジュール",
			p.outputRepo.Reschedule(ctx, job.ID, p.now().Add(delay), msg))
		p.metrics.RecordRenderFailure(format, "retry")
		p.logger.Warn("エクスポートジョブを再試行します",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Duration("backoff", delay),
			slog.String("error", cause.Error()),
		)
		return cause
	}

	p.logTransitionError(job.ID, "失敗確定", p.outputRepo.Fail(ctx, job.ID, msg))
	p.metrics.RecordRenderFailure(format, "final")
	p.logger.Error("エクスポートジョブが失敗しました",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts),
		slog.String("error", cause.Error()),
	)
	return cause
}

// logTransitionError は状態遷移の書き込み失敗を記録する。
// 既に終端状態のジョブ（ErrNotFound）は警告にとどめる。
func (p *Processor) logTransitionError(jobID, action string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		p.logger.Warn("ジョブは既に終了しています",
			slog.String("job_id", jobID),
			slog.String("action", action),
		)
	default:
		p.logger.Error("ジョブ状態の更新に失敗しました",
			slog.String("job_id", jobID),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}
