// Package export はエクスポートジョブの受け付けと状態参照のドメインロジックを提供する。
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/designstudio/internal/entitlement"
	"github.com/hitoshi/designstudio/internal/metrics"
	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/queue"
	"github.com/hitoshi/designstudio/internal/repository"
	"github.com/hitoshi/designstudio/internal/storage"
)

// ListLimit はエクスポート一覧で返す最大件数。
const ListLimit = 50

// MaxDimension は明示指定できる幅・高さの上限（キャンバス単位）。
const MaxDimension = 10000

// Presigner はダウンロード用URLを発行するインターフェース。
type Presigner interface {
	PresignGet(ctx context.Context, key, filename string) (string, error)
}

// RequestInput はエクスポート要求の入力値。0の数値は未指定を表す。
type RequestInput struct {
	DesignID string
	Format   string
	Width    int
	Height   int
	DPI      int
}

// Job はクライアントに返すジョブの状態。
type Job struct {
	JobID        string
	Status       model.JobState
	Format       model.ExportFormat
	Width        int
	Height       int
	DPI          int
	FileURL      string
	FileSize     int64
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
	DesignID     string
	DesignName   string
	Template     model.TemplateSummary
}

// Service はエクスポートジョブのサービス層。
type Service struct {
	userRepo     repository.UserRepository
	designRepo   repository.DesignRepository
	templateRepo repository.TemplateRepository
	outputRepo   repository.OutputRepository
	notifier     queue.Notifier
	presigner    Presigner
	metrics      metrics.MetricsCollector
}

// NewService はServiceを生成する。
// notifierがnilの場合は通知を行わず、ワーカーの定期ポーリングのみでジョブが処理される。
func NewService(
	userRepo repository.UserRepository,
	designRepo repository.DesignRepository,
	templateRepo repository.TemplateRepository,
	outputRepo repository.OutputRepository,
	notifier queue.Notifier,
	presigner Presigner,
	collector metrics.MetricsCollector,
) *Service {
	if notifier == nil {
		notifier = queue.NoopNotifier{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		userRepo:     userRepo,
		designRepo:   designRepo,
		templateRepo: templateRepo,
		outputRepo:   outputRepo,
		notifier:     notifier,
		presigner:    presigner,
		metrics:      collector,
	}
}

// ResolveStatus は保存された状態からクライアントに見せるジョブ状態をポーリングのたびに導出する。
// 成果物URLが書き込まれていれば完了、ジョブまたは親デザインが失敗していれば失敗、
// それ以外はキュー待ちを含めて処理中とする。queuedは作成直後の応答でのみ返す。
func ResolveStatus(output model.Output, designStatus model.DesignStatus) model.JobState {
	if output.FileURL != "" {
		return model.JobCompleted
	}
	if output.State == model.JobFailed || designStatus == model.DesignFailed {
		return model.JobFailed
	}
	return model.JobProcessing
}

// RequestExport は権限を検証してエクスポートジョブを作成する。
// 検証順: 入力形式 → ユーザーとデザインの所有 → 出力形式の権限 → 解像度の権限
func (s *Service) RequestExport(ctx context.Context, userID string, in RequestInput) (*Job, error) {
	format, dpi, err := validateInput(in)
	if err != nil {
		return nil, err
	}

	// 1. ユーザーと対象デザインの解決
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	design, err := s.designRepo.FindByIDAndUserID(ctx, in.DesignID, userID)
	if err != nil {
		return nil, fmt.Errorf("デザインの取得に失敗しました: %w", err)
	}
	if design == nil {
		return nil, model.NewDesignNotFoundError(in.DesignID)
	}

	// 2. プラン区分の権限解決
	ent := entitlement.Resolve(user.SubscriptionTier)

	// 3. 出力形式
	if !ent.AllowsFormat(format) {
		s.metrics.RecordEntitlementRejection(metrics.RejectFormat)
		return nil, model.NewFormatNotAllowedError(format)
	}

	// 4. 解像度
	if !ent.AllowsDPI(dpi) {
		s.metrics.RecordEntitlementRejection(metrics.RejectDPI)
		return nil, model.NewDpiExceededError(ent.MaxDPI)
	}

	// 5. ジョブ作成（未指定の寸法はテンプレートのキャンバス寸法）
	width, height := in.Width, in.Height
	if width == 0 || height == 0 {
		tmpl, err := s.templateRepo.FindByID(ctx, design.TemplateID)
		if err != nil {
			return nil, fmt.Errorf("テンプレートの取得に失敗しました: %w", err)
		}
		if tmpl == nil {
			return nil, model.NewTemplateNotFoundError(design.TemplateID)
		}
		tw, th := canvasSize(tmpl)
		if width == 0 {
			width = tw
		}
		if height == 0 {
			height = th
		}
	}

	now := time.Now()
	output := &model.Output{
		ID:            uuid.New().String(),
		DesignID:      design.ID,
		Format:        format,
		Width:         width,
		Height:        height,
		DPI:           dpi,
		State:         model.JobQueued,
		NextAttemptAt: now,
		CreatedAt:     now,
	}

	// 6. ジョブ挿入とデザインのRENDERING遷移は同一トランザクション
	if err := s.outputRepo.CreateJob(ctx, output, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewDesignNotFoundError(in.DesignID)
		}
		return nil, fmt.Errorf("エクスポートジョブの作成に失敗しました: %w", err)
	}
	s.metrics.RecordExportRequested(string(format))

	// ワーカーの起床通知は失敗してもポーリングで拾われる
	if err := s.notifier.Notify(ctx, output.ID); err != nil {
		slog.Warn("render notification failed",
			slog.String("job_id", output.ID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("export requested",
		slog.String("job_id", output.ID),
		slog.String("design_id", design.ID),
		slog.String("user_id", userID),
		slog.String("format", string(format)),
		slog.Int("dpi", dpi),
	)

	// 7. queuedとして返す
	return &Job{
		JobID:      output.ID,
		Status:     model.JobQueued,
		Format:     format,
		Width:      width,
		Height:     height,
		DPI:        dpi,
		CreatedAt:  now,
		DesignID:   design.ID,
		DesignName: design.Name,
	}, nil
}

// GetExportStatus はジョブの状態を毎回保存済みの状態から導出して返す。
func (s *Service) GetExportStatus(ctx context.Context, userID, jobID string) (*Job, error) {
	job, err := s.findOwned(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	result := toJob(*job)
	return &result, nil
}

// ListExports はユーザーの全デザインのジョブを新しい順に最大50件返す。
func (s *Service) ListExports(ctx context.Context, userID string) ([]Job, error) {
	jobs, err := s.outputRepo.ListJobsByUserID(ctx, userID, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("エクスポート一覧の取得に失敗しました: %w", err)
	}
	result := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		result = append(result, toJob(j))
	}
	return result, nil
}

// DownloadURL は完了したジョブの成果物のダウンロードURLを返す。
// ストレージが署名付きURLを発行できる場合はそれを、できない場合は保存済みURLを返す。
func (s *Service) DownloadURL(ctx context.Context, userID, jobID string) (string, error) {
	job, err := s.findOwned(ctx, userID, jobID)
	if err != nil {
		return "", err
	}
	if ResolveStatus(job.Output, job.DesignStatus) != model.JobCompleted {
		return "", model.NewExportNotReadyError()
	}
	if s.presigner == nil {
		return job.FileURL, nil
	}

	key := storage.ObjectKey(job.UserID, job.ID, job.Format.Extension())
	url, err := s.presigner.PresignGet(ctx, key, downloadFilename(job.DesignName, job.Format))
	if err != nil {
		return "", fmt.Errorf("ダウンロードURLの発行に失敗しました: %w", err)
	}
	return url, nil
}

func (s *Service) findOwned(ctx context.Context, userID, jobID string) (*model.ExportJob, error) {
	job, err := s.outputRepo.FindJobByIDAndUserID(ctx, jobID, userID)
	if err != nil {
		return nil, fmt.Errorf("エクスポートジョブの取得に失敗しました: %w", err)
	}
	if job == nil {
		return nil, model.NewExportNotFoundError(jobID)
	}
	return job, nil
}

func validateInput(in RequestInput) (model.ExportFormat, int, error) {
	var fields []model.FieldError

	format, ok := model.ParseExportFormat(in.Format)
	if !ok {
		fields = append(fields, model.FieldError{Field: "format", Reason: "oneof"})
	}

	dpi := in.DPI
	if dpi == 0 {
		dpi = model.DefaultDPI
	}
	if !model.IsValidDPI(dpi) {
		fields = append(fields, model.FieldError{Field: "dpi", Reason: "oneof"})
	}

	if in.Width < 0 || in.Width > MaxDimension {
		fields = append(fields, model.FieldError{Field: "width", Reason: "range"})
	}
	if in.Height < 0 || in.Height > MaxDimension {
		fields = append(fields, model.FieldError{Field: "height", Reason: "range"})
	}
	if in.DesignID == "" {
		fields = append(fields, model.FieldError{Field: "designId", Reason: "required"})
	}

	if len(fields) > 0 {
		return "", 0, model.NewValidationError(fields...)
	}
	return format, dpi, nil
}

func toJob(j model.ExportJob) Job {
	return Job{
		JobID:        j.ID,
		Status:       ResolveStatus(j.Output, j.DesignStatus),
		Format:       j.Format,
		Width:        j.Width,
		Height:       j.Height,
		DPI:          j.DPI,
		FileURL:      j.FileURL,
		FileSize:     j.FileSize,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
		DesignID:     j.DesignID,
		DesignName:   j.DesignName,
		Template:     j.Template,
	}
}

func canvasSize(tmpl *model.Template) (int, int) {
	w, h := tmpl.Data.Width, tmpl.Data.Height
	if w <= 0 {
		w = tmpl.Width
	}
	if h <= 0 {
		h = tmpl.Height
	}
	return w, h
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// downloadFilename はContent-Dispositionに使うファイル名を返す。
func downloadFilename(designName string, format model.ExportFormat) string {
	base := strings.Trim(unsafeFilenameChars.ReplaceAllString(designName, "_"), "_.")
	if base == "" {
		base = "design"
	}
	if len(base) > 80 {
		base = base[:80]
	}
	return base + "." + format.Extension()
}
