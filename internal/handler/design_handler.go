package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/designstudio/internal/design"
	"github.com/hitoshi/designstudio/internal/export"
	"github.com/hitoshi/designstudio/internal/model"
)

// DesignServiceInterface はデザインハンドラーが必要とするサービスインターフェース。
type DesignServiceInterface interface {
	CreateDesign(ctx context.Context, userID string, in design.CreateInput) (*model.Design, error)
	ListDesigns(ctx context.Context, userID string) ([]model.DesignWithTemplate, error)
	GetDesign(ctx context.Context, userID, designID string) (*design.Detail, error)
	UpdateDesign(ctx context.Context, userID, designID string, in design.UpdateInput) (*model.Design, error)
	DeleteDesign(ctx context.Context, userID, designID string) error
}

// DesignHandler はデザイン管理のHTTPハンドラー。
type DesignHandler struct {
	service DesignServiceInterface
}

// NewDesignHandler はDesignHandlerを生成する。
func NewDesignHandler(service DesignServiceInterface) *DesignHandler {
	return &DesignHandler{service: service}
}

type createDesignRequest struct {
	TemplateID string            `json:"templateId" validate:"required"`
	Name       string            `json:"name" validate:"required,min=1,max=100"`
	Data       map[string]string `json:"data" validate:"max=100,dive,max=5000"`
}

type updateDesignRequest struct {
	Name *string           `json:"name" validate:"omitempty,min=1,max=100"`
	Data map[string]string `json:"data" validate:"omitempty,max=100,dive,max=5000"`
}

type designResponse struct {
	ID         string                   `json:"id"`
	TemplateID string                   `json:"templateId"`
	Name       string                   `json:"name"`
	Status     string                   `json:"status"`
	Data       map[string]string        `json:"data"`
	Thumbnail  string                   `json:"thumbnail"`
	CreatedAt  time.Time                `json:"createdAt"`
	UpdatedAt  time.Time                `json:"updatedAt"`
	Template   *templateSummaryResponse `json:"template,omitempty"`
}

type designDetailResponse struct {
	designResponse
	Template templateResponse `json:"template"`
	Outputs  []outputResponse `json:"outputs"`
}

type outputResponse struct {
	ID          string     `json:"id"`
	Format      string     `json:"format"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	DPI         int        `json:"dpi"`
	Status      string     `json:"status"`
	FileURL     string     `json:"fileUrl"`
	FileSize    int64      `json:"fileSize"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ListDesigns はユーザーのデザインを更新日時の新しい順に返す。
// GET /api/designs
func (h *DesignHandler) ListDesigns(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	designs, err := h.service.ListDesigns(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]designResponse, 0, len(designs))
	for _, d := range designs {
		dr := toDesignResponse(&d.Design)
		summary := toTemplateSummaryResponse(d.Template)
		dr.Template = &summary
		resp = append(resp, dr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"designs": resp})
}

// CreateDesign はテンプレートからデザインを作成する。
// POST /api/designs
func (h *DesignHandler) CreateDesign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createDesignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.service.CreateDesign(r.Context(), userID, design.CreateInput{
		TemplateID: req.TemplateID,
		Name:       req.Name,
		Data:       req.Data,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDesignResponse(d))
}

// GetDesign はデザインの詳細をテンプレートと出力履歴付きで返す。
// GET /api/designs/{id}
func (h *DesignHandler) GetDesign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	detail, err := h.service.GetDesign(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := designDetailResponse{
		designResponse: toDesignResponse(detail.Design),
		Outputs:        make([]outputResponse, 0, len(detail.Outputs)),
	}
	if detail.Template != nil {
		resp.Template = toTemplateResponse(detail.Template)
	}
	for _, o := range detail.Outputs {
		resp.Outputs = append(resp.Outputs, toOutputResponse(o, detail.Design.Status))
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateDesign はデザインの名前と変数値を更新する。
// PATCH /api/designs/{id}
func (h *DesignHandler) UpdateDesign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateDesignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.service.UpdateDesign(r.Context(), userID, chi.URLParam(r, "id"), design.UpdateInput{
		Name: req.Name,
		Data: req.Data,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDesignResponse(d))
}

// DeleteDesign はデザインと出力履歴を削除する。
// DELETE /api/designs/{id}
func (h *DesignHandler) DeleteDesign(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteDesign(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toDesignResponse(d *model.Design) designResponse {
	data := d.Data
	if data == nil {
		data = map[string]string{}
	}
	return designResponse{
		ID:         d.ID,
		TemplateID: d.TemplateID,
		Name:       d.Name,
		Status:     string(d.Status),
		Data:       data,
		Thumbnail:  d.Thumbnail,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func toOutputResponse(o *model.Output, designStatus model.DesignStatus) outputResponse {
	return outputResponse{
		ID:          o.ID,
		Format:      string(o.Format),
		Width:       o.Width,
		Height:      o.Height,
		DPI:         o.DPI,
		Status:      string(export.ResolveStatus(*o, designStatus)),
		FileURL:     o.FileURL,
		FileSize:    o.FileSize,
		CreatedAt:   o.CreatedAt,
		CompletedAt: o.CompletedAt,
	}
}
