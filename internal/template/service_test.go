package template

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/repository"
	"github.com/hitoshi/designstudio/internal/security"
)

type mockTemplateRepo struct {
	listPublicFn     func(ctx context.Context, filter repository.TemplateFilter) ([]*model.Template, int, error)
	findPublicByIDFn func(ctx context.Context, id string) (*model.Template, error)
	createFn         func(ctx context.Context, tmpl *model.Template) error
}

func (m *mockTemplateRepo) ListPublic(ctx context.Context, filter repository.TemplateFilter) ([]*model.Template, int, error) {
	if m.listPublicFn != nil {
		return m.listPublicFn(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockTemplateRepo) FindPublicByID(ctx context.Context, id string) (*model.Template, error) {
	if m.findPublicByIDFn != nil {
		return m.findPublicByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockTemplateRepo) FindByID(_ context.Context, _ string) (*model.Template, error) {
	return nil, nil
}

func (m *mockTemplateRepo) Create(ctx context.Context, tmpl *model.Template) error {
	if m.createFn != nil {
		return m.createFn(ctx, tmpl)
	}
	return nil
}

var _ repository.TemplateRepository = (*mockTemplateRepo)(nil)

func TestListTemplates_Pagination(t *testing.T) {
	tests := []struct {
		name        string
		params      ListParams
		total       int
		wantLimit   int
		wantOffset  int
		wantPage    int
		wantHasMore bool
	}{
		{"既定値", ListParams{}, 45, 20, 0, 1, true},
		{"2ページ目", ListParams{Page: 2, Limit: 20}, 45, 20, 20, 2, true},
		{"最終ページ", ListParams{Page: 3, Limit: 20}, 45, 20, 40, 3, false},
		{"上限を超えるlimit", ListParams{Page: 1, Limit: 500}, 45, 100, 0, 1, false},
		{"負のpage", ListParams{Page: -3, Limit: 10}, 5, 10, 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got repository.TemplateFilter
			repo := &mockTemplateRepo{
				listPublicFn: func(ctx context.Context, filter repository.TemplateFilter) ([]*model.Template, int, error) {
					got = filter
					return nil, tt.total, nil
				},
			}
			svc := NewService(repo, security.NewContentSanitizer())

			result, err := svc.ListTemplates(context.Background(), tt.params)
			if err != nil {
				t.Fatalf("ListTemplates() error = %v", err)
			}
			if got.Limit != tt.wantLimit || got.Offset != tt.wantOffset {
				t.Errorf("filter limit/offset = %d/%d, want %d/%d", got.Limit, got.Offset, tt.wantLimit, tt.wantOffset)
			}
			if result.Pagination.Page != tt.wantPage {
				t.Errorf("page = %d, want %d", result.Pagination.Page, tt.wantPage)
			}
			if result.Pagination.HasMore != tt.wantHasMore {
				t.Errorf("hasMore = %v, want %v", result.Pagination.HasMore, tt.wantHasMore)
			}
			if result.Pagination.Total != tt.total {
				t.Errorf("total = %d, want %d", result.Pagination.Total, tt.total)
			}
			if result.Templates == nil {
				t.Error("templates should be an empty slice, not nil")
			}
		})
	}
}

func TestListTemplates_Filters(t *testing.T) {
	var got repository.TemplateFilter
	repo := &mockTemplateRepo{
		listPublicFn: func(ctx context.Context, filter repository.TemplateFilter) ([]*model.Template, int, error) {
			got = filter
			return nil, 0, nil
		},
	}
	svc := NewService(repo, security.NewContentSanitizer())

	if _, err := svc.ListTemplates(context.Background(), ListParams{Category: model.CategoryFlyer, Featured: true}); err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if got.Category != model.CategoryFlyer {
		t.Errorf("category = %q, want FLYER", got.Category)
	}
	if got.Featured == nil || !*got.Featured {
		t.Error("featured filter should be set")
	}

	if _, err := svc.ListTemplates(context.Background(), ListParams{}); err != nil {
		t.Fatalf("ListTemplates() error = %v", err)
	}
	if got.Featured != nil {
		t.Error("featured filter should be nil when not requested")
	}
}

func TestListTemplates_RepoError(t *testing.T) {
	repo := &mockTemplateRepo{
		listPublicFn: func(ctx context.Context, filter repository.TemplateFilter) ([]*model.Template, int, error) {
			return nil, 0, errors.New("db down")
		},
	}
	svc := NewService(repo, security.NewContentSanitizer())

	if _, err := svc.ListTemplates(context.Background(), ListParams{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestGetTemplate(t *testing.T) {
	repo := &mockTemplateRepo{
		findPublicByIDFn: func(ctx context.Context, id string) (*model.Template, error) {
			if id == "public-1" {
				return &model.Template{ID: id, Name: "Poster", IsPublic: true}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(repo, security.NewContentSanitizer())

	tmpl, err := svc.GetTemplate(context.Background(), "public-1")
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if tmpl.Name != "Poster" {
		t.Errorf("name = %q", tmpl.Name)
	}

	_, err = svc.GetTemplate(context.Background(), "private-or-missing")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeTemplateNotFound {
		t.Fatalf("expected TEMPLATE_NOT_FOUND, got %v", err)
	}
}

func TestCreateTemplate_SanitizesAndPersists(t *testing.T) {
	var saved *model.Template
	repo := &mockTemplateRepo{
		createFn: func(ctx context.Context, tmpl *model.Template) error {
			saved = tmpl
			return nil
		},
	}
	svc := NewService(repo, security.NewContentSanitizer())

	price := 4.5
	in := CreateInput{
		Name:        "<b>Summer</b> Flyer",
		Description: `<script>alert(1)</script>Bright colors`,
		Category:    model.CategoryFlyer,
		Width:       1080,
		Height:      1350,
		Data: model.TemplateData{
			Elements: []model.TemplateElement{
				{ID: "t1", Type: "text", Content: `<img src=x onerror=alert(1)>Hello {{name}}`},
			},
		},
		IsPremium: true,
		Price:     &price,
		Tags:      []string{"summer", "<i></i>", "sale"},
	}

	tmpl, err := svc.CreateTemplate(context.Background(), "user-1", in)
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if saved != tmpl {
		t.Fatal("created template should be persisted")
	}
	if tmpl.Name != "Summer Flyer" {
		t.Errorf("name = %q", tmpl.Name)
	}
	if tmpl.Description != "Bright colors" {
		t.Errorf("description = %q", tmpl.Description)
	}
	if got := tmpl.Data.Elements[0].Content; got != "Hello {{name}}" {
		t.Errorf("element content = %q", got)
	}
	if len(tmpl.Tags) != 2 {
		t.Errorf("tags = %v, want empty tags dropped", tmpl.Tags)
	}
	if !tmpl.IsPublic || !tmpl.IsPremium || tmpl.CreatedBy != "user-1" || tmpl.ID == "" {
		t.Errorf("unexpected template: %+v", tmpl)
	}
	if in.Data.Elements[0].Content == tmpl.Data.Elements[0].Content {
		t.Error("input elements must not be mutated")
	}
}

func TestCreateTemplate_InvalidInput(t *testing.T) {
	negative := -1.0
	tests := []struct {
		name      string
		in        CreateInput
		wantField string
	}{
		{"未定義カテゴリ", CreateInput{Name: "x", Category: "UNKNOWN"}, "category"},
		{"負の価格", CreateInput{Name: "x", Category: model.CategoryCard, Price: &negative}, "price"},
		{"マークアップのみの名前", CreateInput{Name: "<b></b>", Category: model.CategoryCard}, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockTemplateRepo{
				createFn: func(ctx context.Context, tmpl *model.Template) error {
					t.Fatal("Create should not be called")
					return nil
				},
			}
			svc := NewService(repo, security.NewContentSanitizer())

			_, err := svc.CreateTemplate(context.Background(), "user-1", tt.in)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
			if len(apiErr.Fields) != 1 || apiErr.Fields[0].Field != tt.wantField {
				t.Errorf("fields = %+v, want %s", apiErr.Fields, tt.wantField)
			}
		})
	}
}
