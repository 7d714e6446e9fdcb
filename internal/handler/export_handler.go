package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/designstudio/internal/export"
)

// ExportServiceInterface はエクスポートハンドラーが必要とするサービスインターフェース。
type ExportServiceInterface interface {
	RequestExport(ctx context.Context, userID string, in export.RequestInput) (*export.Job, error)
	GetExportStatus(ctx context.Context, userID, jobID string) (*export.Job, error)
	ListExports(ctx context.Context, userID string) ([]export.Job, error)
	DownloadURL(ctx context.Context, userID, jobID string) (string, error)
}

// ExportHandler はエクスポートジョブのHTTPハンドラー。
type ExportHandler struct {
	service ExportServiceInterface
}

// NewExportHandler はExportHandlerを生成する。
func NewExportHandler(service ExportServiceInterface) *ExportHandler {
	return &ExportHandler{service: service}
}

// 形式とDPIの値域はサービス層で検証する。
type requestExportRequest struct {
	DesignID string `json:"designId" validate:"required"`
	Format   string `json:"format" validate:"required"`
	Width    int    `json:"width" validate:"omitempty,min=1"`
	Height   int    `json:"height" validate:"omitempty,min=1"`
	DPI      int    `json:"dpi" validate:"omitempty,min=1"`
}

type exportQueuedResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type exportJobResponse struct {
	JobID        string     `json:"jobId"`
	Status       string     `json:"status"`
	Format       string     `json:"format"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	DPI          int        `json:"dpi"`
	FileURL      string     `json:"fileUrl,omitempty"`
	FileSize     int64      `json:"fileSize"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

type exportListItem struct {
	exportJobResponse
	Design exportDesignResponse `json:"design"`
}

type exportDesignResponse struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Template templateSummaryResponse `json:"template"`
}

// RequestExport はエクスポートジョブを作成する。
// POST /api/export
func (h *ExportHandler) RequestExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req requestExportRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	job, err := h.service.RequestExport(r.Context(), userID, export.RequestInput{
		DesignID: req.DesignID,
		Format:   req.Format,
		Width:    req.Width,
		Height:   req.Height,
		DPI:      req.DPI,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, exportQueuedResponse{
		JobID:  job.JobID,
		Status: string(job.Status),
	})
}

// GetExportStatus はジョブの現在の状態を返す。
// GET /api/export/{jobId}
func (h *ExportHandler) GetExportStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	job, err := h.service.GetExportStatus(r.Context(), userID, chi.URLParam(r, "jobId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExportJobResponse(job))
}

// Download は完了したジョブの成果物へリダイレクトする。
// GET /api/export/{jobId}/download
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	url, err := h.service.DownloadURL(r.Context(), userID, chi.URLParam(r, "jobId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// ListExports はユーザーの最近のジョブを新しい順に返す。
// GET /api/exports
func (h *ExportHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	jobs, err := h.service.ListExports(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]exportListItem, 0, len(jobs))
	for i := range jobs {
		resp = append(resp, exportListItem{
			exportJobResponse: toExportJobResponse(&jobs[i]),
			Design: exportDesignResponse{
				ID:       jobs[i].DesignID,
				Name:     jobs[i].DesignName,
				Template: toTemplateSummaryResponse(jobs[i].Template),
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": resp})
}

func toExportJobResponse(job *export.Job) exportJobResponse {
	return exportJobResponse{
		JobID:        job.JobID,
		Status:       string(job.Status),
		Format:       string(job.Format),
		Width:        job.Width,
		Height:       job.Height,
		DPI:          job.DPI,
		FileURL:      job.FileURL,
		FileSize:     job.FileSize,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
}
