package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/template"
)

// TemplateServiceInterface はテンプレートハンドラーが必要とするサービスインターフェース。
type TemplateServiceInterface interface {
	ListTemplates(ctx context.Context, params template.ListParams) (*template.ListResult, error)
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	CreateTemplate(ctx context.Context, userID string, in template.CreateInput) (*model.Template, error)
}

// TemplateHandler はテンプレートのHTTPハンドラー。
type TemplateHandler struct {
	service TemplateServiceInterface
}

// NewTemplateHandler はTemplateHandlerを生成する。
func NewTemplateHandler(service TemplateServiceInterface) *TemplateHandler {
	return &TemplateHandler{service: service}
}

type createTemplateRequest struct {
	Name        string             `json:"name" validate:"required,min=1,max=100"`
	Description string             `json:"description" validate:"max=500"`
	Category    string             `json:"category" validate:"required"`
	Width       int                `json:"width" validate:"min=100,max=10000"`
	Height      int                `json:"height" validate:"min=100,max=10000"`
	Data        model.TemplateData `json:"data"`
	IsPremium   bool               `json:"isPremium"`
	Price       *float64           `json:"price" validate:"omitempty,min=0"`
	Tags        []string           `json:"tags" validate:"max=20,dive,max=50"`
}

type templateResponse struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	Thumbnail   string             `json:"thumbnail"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	Data        model.TemplateData `json:"data"`
	IsPremium   bool               `json:"isPremium"`
	IsFeatured  bool               `json:"isFeatured"`
	Price       *float64           `json:"price"`
	Tags        []string           `json:"tags"`
	CreatedAt   time.Time          `json:"createdAt"`
}

type templateSummaryResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Thumbnail string `json:"thumbnail"`
}

type templateListResponse struct {
	Templates  []templateResponse  `json:"templates"`
	Pagination template.Pagination `json:"pagination"`
}

// ListTemplates は公開テンプレートの一覧を返す。
// GET /api/templates?category=FLYER&featured=true&page=1&limit=20
func (h *TemplateHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := template.ListParams{
		Page:  queryInt(q.Get("page")),
		Limit: queryInt(q.Get("limit")),
	}
	if c := q.Get("category"); c != "" {
		params.Category = model.TemplateCategory(strings.ToUpper(c))
		if !params.Category.IsValid() {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError(model.FieldError{Field: "category", Reason: "oneof"}))
			return
		}
	}
	params.Featured, _ = strconv.ParseBool(q.Get("featured"))

	result, err := h.service.ListTemplates(r.Context(), params)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := templateListResponse{
		Templates:  make([]templateResponse, 0, len(result.Templates)),
		Pagination: result.Pagination,
	}
	for _, t := range result.Templates {
		resp.Templates = append(resp.Templates, toTemplateResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTemplate は公開テンプレートの詳細を返す。
// GET /api/templates/{id}
func (h *TemplateHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.service.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(tmpl))
}

// CreateTemplate はテンプレートを登録する。
// POST /api/templates
func (h *TemplateHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tmpl, err := h.service.CreateTemplate(r.Context(), userID, template.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    model.TemplateCategory(strings.ToUpper(req.Category)),
		Width:       req.Width,
		Height:      req.Height,
		Data:        req.Data,
		IsPremium:   req.IsPremium,
		Price:       req.Price,
		Tags:        req.Tags,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(tmpl))
}

func toTemplateResponse(t *model.Template) templateResponse {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return templateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Category:    string(t.Category),
		Thumbnail:   t.Thumbnail,
		Width:       t.Width,
		Height:      t.Height,
		Data:        t.Data,
		IsPremium:   t.IsPremium,
		IsFeatured:  t.IsFeatured,
		Price:       t.Price,
		Tags:        tags,
		CreatedAt:   t.CreatedAt,
	}
}

func toTemplateSummaryResponse(s model.TemplateSummary) templateSummaryResponse {
	return templateSummaryResponse{
		ID:        s.ID,
		Name:      s.Name,
		Category:  string(s.Category),
		Thumbnail: s.Thumbnail,
	}
}

// queryInt はクエリ値を整数に変換する。解析できない場合は0を返す。
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
