package design

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/designstudio/internal/entitlement"
	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/repository"
	"github.com/hitoshi/designstudio/internal/security"
)

// --- モック定義 ---

type mockUserRepo struct {
	repository.UserRepository
	findByIDFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return m.findByIDFn(ctx, id)
}

type mockTemplateRepo struct {
	repository.TemplateRepository
	findByIDFn func(ctx context.Context, id string) (*model.Template, error)
}

func (m *mockTemplateRepo) FindByID(ctx context.Context, id string) (*model.Template, error) {
	return m.findByIDFn(ctx, id)
}

type mockDesignRepo struct {
	createWithQuotaFn   func(ctx context.Context, design *model.Design, quotaLimit int) error
	listByUserIDFn      func(ctx context.Context, userID string) ([]model.DesignWithTemplate, error)
	findByIDAndUserIDFn func(ctx context.Context, id, userID string) (*model.Design, error)
	updateFn            func(ctx context.Context, design *model.Design) error
	deleteFn            func(ctx context.Context, id, userID string) error
}

func (m *mockDesignRepo) CreateWithQuota(ctx context.Context, design *model.Design, quotaLimit int) error {
	if m.createWithQuotaFn != nil {
		return m.createWithQuotaFn(ctx, design, quotaLimit)
	}
	return nil
}

func (m *mockDesignRepo) ListByUserID(ctx context.Context, userID string) ([]model.DesignWithTemplate, error) {
	if m.listByUserIDFn != nil {
		return m.listByUserIDFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockDesignRepo) FindByIDAndUserID(ctx context.Context, id, userID string) (*model.Design, error) {
	if m.findByIDAndUserIDFn != nil {
		return m.findByIDAndUserIDFn(ctx, id, userID)
	}
	return nil, nil
}

func (m *mockDesignRepo) FindByID(_ context.Context, _ string) (*model.Design, error) {
	return nil, nil
}

func (m *mockDesignRepo) Update(ctx context.Context, design *model.Design) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, design)
	}
	return nil
}

func (m *mockDesignRepo) DeleteByIDAndUserID(ctx context.Context, id, userID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id, userID)
	}
	return nil
}

type mockOutputRepo struct {
	repository.OutputRepository
	listByDesignIDFn func(ctx context.Context, designID string) ([]*model.Output, error)
}

func (m *mockOutputRepo) ListByDesignID(ctx context.Context, designID string) ([]*model.Output, error) {
	if m.listByDesignIDFn != nil {
		return m.listByDesignIDFn(ctx, designID)
	}
	return nil, nil
}

type mockMetrics struct {
	rejections []string
}

func (m *mockMetrics) RecordExportRequested(string) {}
func (m *mockMetrics) RecordRenderSuccess(string) {}
func (m *mockMetrics) RecordRenderFailure(string, string) {}
func (m *mockMetrics) RecordRenderLatency(time.Duration) {}
func (m *mockMetrics) RecordWebhookEvent(string, string) {}
func (m *mockMetrics) RecordEntitlementRejection(reason string) {
	m.rejections = append(m.rejections, reason)
}

var _ repository.DesignRepository = (*mockDesignRepo)(nil)

// --- ヘルパー ---

func freeUser(designsThisMonth int) *model.User {
	return &model.User{
		ID:                 "user-1",
		SubscriptionTier:   model.TierFree,
		SubscriptionStatus: model.StatusActive,
		DesignsThisMonth:   designsThisMonth,
		QuotaPeriod:        model.MonthStart(time.Now()),
	}
}

func proUser(designsThisMonth int) *model.User {
	u := freeUser(designsThisMonth)
	u.SubscriptionTier = model.TierPro
	return u
}

type fixture struct {
	user     *model.User
	template *model.Template
	designs  *mockDesignRepo
	metrics  *mockMetrics
}

func newFixture(user *model.User) *fixture {
	return &fixture{
		user:     user,
		template: &model.Template{ID: "tmpl-1", Name: "Wedding Invitation", Thumbnail: "thumb.png"},
		designs:  &mockDesignRepo{},
		metrics:  &mockMetrics{},
	}
}

func (f *fixture) service() *Service {
	users := &mockUserRepo{findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
		if f.user != nil && f.user.ID == id {
			return f.user, nil
		}
		return nil, nil
	}}
	templates := &mockTemplateRepo{findByIDFn: func(ctx context.Context, id string) (*model.Template, error) {
		if f.template != nil && f.template.ID == id {
			return f.template, nil
		}
		return nil, nil
	}}
	return NewService(users, templates, f.designs, &mockOutputRepo{}, security.NewContentSanitizer(), f.metrics)
}

func assertAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("error code = %s, want %s", apiErr.Code, code)
	}
}

// --- CreateDesign ---

func TestCreateDesign_FreeUserWithinQuota(t *testing.T) {
	f := newFixture(freeUser(2))
	var saved *model.Design
	var gotLimit int
	f.designs.createWithQuotaFn = func(ctx context.Context, design *model.Design, quotaLimit int) error {
		saved = design
		gotLimit = quotaLimit
		return nil
	}

	design, err := f.service().CreateDesign(context.Background(), "user-1", CreateInput{
		TemplateID: "tmpl-1",
		Name:       "Our <b>Wedding</b>",
		Data:       map[string]string{"names": "Ann & Bob<script>x</script>"},
	})
	if err != nil {
		t.Fatalf("CreateDesign() error = %v", err)
	}
	if saved != design {
		t.Fatal("design should be persisted")
	}
	if gotLimit != entitlement.FreeDesignsPerMonth {
		t.Errorf("quota limit = %d, want %d", gotLimit, entitlement.FreeDesignsPerMonth)
	}
	if design.Status != model.DesignDraft {
		t.Errorf("status = %s, want DRAFT", design.Status)
	}
	if design.Name != "Our Wedding" {
		t.Errorf("name = %q", design.Name)
	}
	if design.Data["names"] != "Ann & Bob" {
		t.Errorf("data = %q", design.Data["names"])
	}
	if design.UserID != "user-1" || design.TemplateID != "tmpl-1" {
		t.Errorf("unexpected owner/template: %s/%s", design.UserID, design.TemplateID)
	}
}

func TestCreateDesign_FreeUserAtQuota_ReturnsQuotaExceeded(t *testing.T) {
	f := newFixture(freeUser(3))
	f.designs.createWithQuotaFn = func(ctx context.Context, design *model.Design, quotaLimit int) error {
		t.Fatal("nothing must be persisted when the quota is exhausted")
		return nil
	}

	_, err := f.service().CreateDesign(context.Background(), "user-1", CreateInput{TemplateID: "tmpl-1"})
	assertAPIError(t, err, model.ErrCodeQuotaExceeded)
	if len(f.metrics.rejections) != 1 {
		t.Errorf("rejections = %v", f.metrics.rejections)
	}
}

func TestCreateDesign_StaleQuotaPeriodCountsAsNewMonth(t *testing.T) {
	user := freeUser(3)
	user.QuotaPeriod = model.MonthStart(time.Now()).AddDate(0, -1, 0)
	f := newFixture(user)

	if _, err := f.service().CreateDesign(context.Background(), "user-1", CreateInput{TemplateID: "tmpl-1"}); err != nil {
		t.Fatalf("CreateDesign() error = %v", err)
	}
}

func TestCreateDesign_ConcurrentIncrementRejected(t *testing.T) {
	f := newFixture(freeUser(2))
	f.designs.createWithQuotaFn = func(ctx context.Context, design *model.Design, quotaLimit int) error {
		return repository.ErrQuotaExceeded
	}

	_, err := f.service().CreateDesign(context.Background(), "user-1", CreateInput{TemplateID: "tmpl-1"})
	assertAPIError(t, err, model.ErrCodeQuotaExceeded)
}

func TestCreateDesign_PaidUserIsUnlimited(t *testing.T) {
	f := newFixture(proUser(1000))
	f.template.IsPremium = true
	var gotLimit int
	f.designs.createWithQuotaFn = func(ctx context.Context, design *model.Design, quotaLimit int) error {
		gotLimit = quotaLimit
		return nil
	}

	design, err := f.service().CreateDesign(context.Background(), "user-1", CreateInput{TemplateID: "tmpl-1"})
	if err != nil {
		t.Fatalf("CreateDesign() error = %v", err)
	}
	if gotLimit != entitlement.Unlimited {
		t.Errorf("quota limit = %d, want unlimited", gotLimit)
	}
	if design.Name != "Wedding Invitation" {
		t.Errorf("name should default to template name, got %q", design.Name)
	}
}

func TestCreateDesign_FreeUserPremiumTemplate_ReturnsPremiumRequired(t *testing.T) {
	f := newFixture(freeUser(0))
	f.template.IsPremium = true
	f.designs.createWithQuotaFn = func(ctx context.Context, design *model.Design, quotaLimit int) error {
		t.Fatal("nothing must be persisted for a premium template")
		return nil
	}

	_, err := f.service().CreateDesign(context.Background(), "user-1", CreateInput{TemplateID: "tmpl-1"})
	assertAPIError(t, err, model.ErrCodePremiumRequired)
}

func TestCreateDesign_NotFound(t *testing.T) {
	t.Run("ユーザーが存在しない", func(t *testing.T) {
		f := newFixture(freeUser(0))
		_, err := f.service().CreateDesign(context.Background(), "someone-else", CreateInput{TemplateID: "tmpl-1"})
		assertAPIError(t, err, model.ErrCodeUserNotFound)
	})
	t.Run("テンプレートが存在しない", func(t *testing.T) {
		f := newFixture(freeUser(0))
		_, err := f.service().CreateDesign(context.Background(), "user-1", CreateInput{TemplateID: "missing"})
		assertAPIError(t, err, model.ErrCodeTemplateNotFound)
	})
}

func TestCreateDesign_QuotaCheckedBeforeTemplate(t *testing.T) {
	f := newFixture(freeUser(3))
	_, err := f.service().CreateDesign(context.Background(), "user-1", CreateInput{TemplateID: "missing"})
	assertAPIError(t, err, model.ErrCodeQuotaExceeded)
}

// --- 参照・更新・削除 ---

func TestGetDesign_OtherUsersDesign_ReturnsNotFound(t *testing.T) {
	f := newFixture(freeUser(0))
	f.designs.findByIDAndUserIDFn = func(ctx context.Context, id, userID string) (*model.Design, error) {
		if id == "design-1" && userID == "owner" {
			return &model.Design{ID: id, UserID: userID, TemplateID: "tmpl-1"}, nil
		}
		return nil, nil
	}

	svc := f.service()
	if _, err := svc.GetDesign(context.Background(), "owner", "design-1"); err != nil {
		t.Fatalf("owner GetDesign() error = %v", err)
	}
	_, err := svc.GetDesign(context.Background(), "intruder", "design-1")
	assertAPIError(t, err, model.ErrCodeDesignNotFound)
}

func TestGetDesign_IncludesTemplateAndOutputs(t *testing.T) {
	f := newFixture(freeUser(0))
	f.designs.findByIDAndUserIDFn = func(ctx context.Context, id, userID string) (*model.Design, error) {
		return &model.Design{ID: id, UserID: userID, TemplateID: "tmpl-1"}, nil
	}
	users := &mockUserRepo{}
	templates := &mockTemplateRepo{findByIDFn: func(ctx context.Context, id string) (*model.Template, error) {
		return f.template, nil
	}}
	outputs := &mockOutputRepo{listByDesignIDFn: func(ctx context.Context, designID string) ([]*model.Output, error) {
		return []*model.Output{{ID: "out-2"}, {ID: "out-1"}}, nil
	}}
	svc := NewService(users, templates, f.designs, outputs, security.NewContentSanitizer(), nil)

	detail, err := svc.GetDesign(context.Background(), "user-1", "design-1")
	if err != nil {
		t.Fatalf("GetDesign() error = %v", err)
	}
	if detail.Template == nil || detail.Template.ID != "tmpl-1" {
		t.Error("template should be included")
	}
	if len(detail.Outputs) != 2 || detail.Outputs[0].ID != "out-2" {
		t.Errorf("outputs = %+v", detail.Outputs)
	}
}

func TestUpdateDesign(t *testing.T) {
	f := newFixture(freeUser(0))
	f.designs.findByIDAndUserIDFn = func(ctx context.Context, id, userID string) (*model.Design, error) {
		return &model.Design{ID: id, UserID: userID, Name: "Old", Data: map[string]string{"a": "1"}}, nil
	}
	var updated *model.Design
	f.designs.updateFn = func(ctx context.Context, design *model.Design) error {
		updated = design
		return nil
	}

	name := "New <i>name</i>"
	design, err := f.service().UpdateDesign(context.Background(), "user-1", "design-1", UpdateInput{Name: &name})
	if err != nil {
		t.Fatalf("UpdateDesign() error = %v", err)
	}
	if updated != design || design.Name != "New name" {
		t.Errorf("name = %q", design.Name)
	}
	if design.Data["a"] != "1" {
		t.Error("data should be unchanged when not provided")
	}

	blank := "  "
	_, err = f.service().UpdateDesign(context.Background(), "user-1", "design-1", UpdateInput{Name: &blank})
	assertAPIError(t, err, model.ErrCodeValidation)
}

func TestUpdateDesign_RowVanished_ReturnsNotFound(t *testing.T) {
	f := newFixture(freeUser(0))
	f.designs.findByIDAndUserIDFn = func(ctx context.Context, id, userID string) (*model.Design, error) {
		return &model.Design{ID: id, UserID: userID}, nil
	}
	f.designs.updateFn = func(ctx context.Context, design *model.Design) error {
		return repository.ErrNotFound
	}

	_, err := f.service().UpdateDesign(context.Background(), "user-1", "design-1", UpdateInput{Data: map[string]string{}})
	assertAPIError(t, err, model.ErrCodeDesignNotFound)
}

func TestDeleteDesign(t *testing.T) {
	f := newFixture(freeUser(0))
	f.designs.deleteFn = func(ctx context.Context, id, userID string) error {
		if userID != "user-1" {
			return repository.ErrNotFound
		}
		return nil
	}

	svc := f.service()
	if err := svc.DeleteDesign(context.Background(), "user-1", "design-1"); err != nil {
		t.Fatalf("DeleteDesign() error = %v", err)
	}
	assertAPIError(t, svc.DeleteDesign(context.Background(), "user-2", "design-1"), model.ErrCodeDesignNotFound)

	f.designs.deleteFn = func(ctx context.Context, id, userID string) error {
		return errors.New("db down")
	}
	err := svc.DeleteDesign(context.Background(), "user-1", "design-1")
	var apiErr *model.APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("infrastructure errors should not be APIErrors: %v", err)
	}
}

func TestListDesigns_EmptyIsNotNil(t *testing.T) {
	f := newFixture(freeUser(0))
	designs, err := f.service().ListDesigns(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListDesigns() error = %v", err)
	}
	if designs == nil {
		t.Error("expected empty slice")
	}
}
