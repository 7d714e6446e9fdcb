package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/designstudio/internal/auth"
	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/repository"
)

// --- モック ---

type mockUserRepo struct {
	repository.UserRepository
	findByIDFn      func(ctx context.Context, id string) (*model.User, error)
	updateProfileFn func(ctx context.Context, id, name, image string) error
	updateHashFn    func(ctx context.Context, id, hash string) error
	deleteByIDFn    func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) UpdateProfile(ctx context.Context, id, name, image string) error {
	return m.updateProfileFn(ctx, id, name, image)
}
func (m *mockUserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return m.updateHashFn(ctx, id, hash)
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionRepo struct {
	repository.SessionRepository
	deleteByUserIDFn func(ctx context.Context, userID string) error
	deleteOthersFn   func(ctx context.Context, userID, keepID string) (int64, error)
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}
func (m *mockSessionRepo) DeleteOthersByUserID(ctx context.Context, userID, keepID string) (int64, error) {
	return m.deleteOthersFn(ctx, userID, keepID)
}

type mockStatsRepo struct {
	repository.StatsRepository
	countDesignsFn func(ctx context.Context, userID string, since time.Time) (int, error)
	countExportsFn func(ctx context.Context, userID string, since time.Time) (int, error)
	recentLimit    int
	topLimit       int
	topSince       time.Time
}

func (m *mockStatsRepo) CountDesigns(ctx context.Context, userID string, since time.Time) (int, error) {
	return m.countDesignsFn(ctx, userID, since)
}
func (m *mockStatsRepo) CountExports(ctx context.Context, userID string, since time.Time) (int, error) {
	return m.countExportsFn(ctx, userID, since)
}
func (m *mockStatsRepo) RecentDesigns(ctx context.Context, userID string, limit int) ([]model.DesignWithTemplate, error) {
	m.recentLimit = limit
	return []model.DesignWithTemplate{{Design: model.Design{ID: "d1"}}}, nil
}
func (m *mockStatsRepo) TopTemplatesByUser(ctx context.Context, userID string, since time.Time, limit int) ([]model.TemplateUsage, error) {
	m.topLimit = limit
	m.topSince = since
	return []model.TemplateUsage{{TemplateSummary: model.TemplateSummary{ID: "t1"}, UsageCount: 3}}, nil
}

func userWith(u *model.User) *mockUserRepo {
	return &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			if id != u.ID {
				return nil, nil
			}
			copied := *u
			return &copied, nil
		},
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("Code = %s, want %s", apiErr.Code, code)
	}
}

// --- GetProfile ---

func TestService_GetProfile(t *testing.T) {
	userRepo := userWith(&model.User{ID: "user-1", DesignsThisMonth: 2, QuotaPeriod: model.MonthStart(time.Now())})
	stats := &mockStatsRepo{
		countDesignsFn: func(ctx context.Context, userID string, since time.Time) (int, error) {
			if !since.IsZero() {
				t.Errorf("累計は全期間で数えるべき: since = %v", since)
			}
			return 7, nil
		},
		countExportsFn: func(ctx context.Context, userID string, since time.Time) (int, error) {
			return 4, nil
		},
	}

	svc := NewService(userRepo, nil, stats, bcrypt.MinCost)
	profile, err := svc.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile returned error: %v", err)
	}
	if profile.TotalDesigns != 7 || profile.TotalExports != 4 || profile.DesignsThisMonth != 2 {
		t.Errorf("profile = %+v", profile)
	}
}

func TestService_GetProfile_StaleQuotaPeriod(t *testing.T) {
	userRepo := userWith(&model.User{ID: "user-1", DesignsThisMonth: 3, QuotaPeriod: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)})
	stats := &mockStatsRepo{
		countDesignsFn: func(context.Context, string, time.Time) (int, error) { return 0, nil },
		countExportsFn: func(context.Context, string, time.Time) (int, error) { return 0, nil },
	}

	profile, err := NewService(userRepo, nil, stats, bcrypt.MinCost).GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile returned error: %v", err)
	}
	if profile.DesignsThisMonth != 0 {
		t.Errorf("前月のカウンタは0として扱うべき: %d", profile.DesignsThisMonth)
	}
}

// --- UpdateProfile ---

func TestService_UpdateProfile(t *testing.T) {
	userRepo := userWith(&model.User{ID: "user-1", Name: "Old", Image: "https://img.example.com/a.png"})
	var gotName, gotImage string
	userRepo.updateProfileFn = func(ctx context.Context, id, name, image string) error {
		gotName, gotImage = name, image
		return nil
	}

	name := "  New Name "
	user, err := NewService(userRepo, nil, nil, bcrypt.MinCost).UpdateProfile(context.Background(), "user-1", ProfileUpdate{Name: &name})
	if err != nil {
		t.Fatalf("UpdateProfile returned error: %v", err)
	}
	if gotName != "New Name" || gotImage != "https://img.example.com/a.png" {
		t.Errorf("saved name/image = %q/%q", gotName, gotImage)
	}
	if user.Name != "New Name" {
		t.Errorf("returned name = %q", user.Name)
	}
}

func TestService_UpdateProfile_NameTooShort(t *testing.T) {
	userRepo := userWith(&model.User{ID: "user-1", Name: "Old"})
	name := "a"
	_, err := NewService(userRepo, nil, nil, bcrypt.MinCost).UpdateProfile(context.Background(), "user-1", ProfileUpdate{Name: &name})
	assertCode(t, err, model.ErrCodeValidation)
}

// --- ChangePassword ---

func TestService_ChangePassword(t *testing.T) {
	hash, err := auth.HashPassword("old-secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}

	tests := []struct {
		name     string
		user     *model.User
		current  string
		next     string
		wantCode string
	}{
		{"成功", &model.User{ID: "user-1", PasswordHash: hash}, "old-secret", "new-secret", ""},
		{"外部IdPアカウント", &model.User{ID: "user-1"}, "old-secret", "new-secret", model.ErrCodeOAuthAccount},
		{"現在のパスワード不一致", &model.User{ID: "user-1", PasswordHash: hash}, "wrong", "new-secret", model.ErrCodeInvalidCredentials},
		{"新しいパスワードが短い", &model.User{ID: "user-1", PasswordHash: hash}, "old-secret", "short", model.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userRepo := userWith(tt.user)
			var saved string
			userRepo.updateHashFn = func(ctx context.Context, id, h string) error {
				saved = h
				return nil
			}
			var keptSession string
			sessionRepo := &mockSessionRepo{
				deleteOthersFn: func(ctx context.Context, userID, keepID string) (int64, error) {
					keptSession = keepID
					return 2, nil
				},
			}

			err := NewService(userRepo, sessionRepo, nil, bcrypt.MinCost).ChangePassword(context.Background(), "user-1", "sess-current", tt.current, tt.next)
			if tt.wantCode != "" {
				assertCode(t, err, tt.wantCode)
				if saved != "" {
					t.Error("エラー時はパスワードを保存するべきではない")
				}
				if keptSession != "" {
					t.Error("エラー時はセッションを失効させるべきではない")
				}
				return
			}
			if err != nil {
				t.Fatalf("ChangePassword returned error: %v", err)
			}
			if !auth.CheckPassword(saved, tt.next) {
				t.Error("新しいパスワードのハッシュが保存されていない")
			}
			if keptSession != "sess-current" {
				t.Errorf("kept session = %q, want sess-current", keptSession)
			}
		})
	}
}

func TestService_ChangePassword_RevokeFailureIsNotFatal(t *testing.T) {
	hash, err := auth.HashPassword("old-secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	userRepo := userWith(&model.User{ID: "user-1", PasswordHash: hash})
	userRepo.updateHashFn = func(ctx context.Context, id, h string) error { return nil }
	sessionRepo := &mockSessionRepo{
		deleteOthersFn: func(ctx context.Context, userID, keepID string) (int64, error) {
			return 0, errors.New("db down")
		},
	}

	err = NewService(userRepo, sessionRepo, nil, bcrypt.MinCost).ChangePassword(context.Background(), "user-1", "sess-current", "old-secret", "new-secret")
	if err != nil {
		t.Fatalf("セッション失効の失敗でエラーを返すべきではない: %v", err)
	}
}

// --- GetStats ---

func TestService_GetStats_DefaultPeriod(t *testing.T) {
	userRepo := userWith(&model.User{ID: "user-1"})
	var designsSince time.Time
	stats := &mockStatsRepo{
		countDesignsFn: func(ctx context.Context, userID string, since time.Time) (int, error) {
			designsSince = since
			return 2, nil
		},
		countExportsFn: func(ctx context.Context, userID string, since time.Time) (int, error) {
			return 5, nil
		},
	}

	before := time.Now()
	got, err := NewService(userRepo, nil, stats, bcrypt.MinCost).GetStats(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("GetStats returned error: %v", err)
	}
	if got.PeriodDays != 30 || got.DesignsCreated != 2 || got.ExportsGenerated != 5 {
		t.Errorf("stats = %+v", got)
	}
	if d := before.Sub(designsSince); d < 29*24*time.Hour || d > 31*24*time.Hour {
		t.Errorf("since = %v, want about 30 days ago", designsSince)
	}
	if stats.recentLimit != 5 || stats.topLimit != 5 {
		t.Errorf("limits = %d/%d, want 5/5", stats.recentLimit, stats.topLimit)
	}
	if !stats.topSince.Equal(designsSince) {
		t.Error("テンプレート集計も同じ期間を使うべき")
	}
	if len(got.RecentDesigns) != 1 || len(got.TopTemplates) != 1 {
		t.Errorf("lists = %d/%d", len(got.RecentDesigns), len(got.TopTemplates))
	}
}

func TestService_GetStats_InvalidPeriod(t *testing.T) {
	userRepo := userWith(&model.User{ID: "user-1"})
	for _, period := range []int{-1, 366} {
		_, err := NewService(userRepo, nil, &mockStatsRepo{}, bcrypt.MinCost).GetStats(context.Background(), "user-1", period)
		assertCode(t, err, model.ErrCodeValidation)
	}
}

// --- DeleteAccount ---

// TestService_DeleteAccount は退会処理がセッションとユーザーを削除することを検証する。
func TestService_DeleteAccount(t *testing.T) {
	var calls []string
	userRepo := userWith(&model.User{ID: "user-1", Email: "test@example.com"})
	userRepo.deleteByIDFn = func(ctx context.Context, id string) error {
		calls = append(calls, "user")
		return nil
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			calls = append(calls, "sessions")
			return nil
		},
	}

	if err := NewService(userRepo, sessionRepo, nil, bcrypt.MinCost).DeleteAccount(context.Background(), "user-1"); err != nil {
		t.Fatalf("DeleteAccount returned error: %v", err)
	}
	if len(calls) != 2 || calls[0] != "sessions" || calls[1] != "user" {
		t.Errorf("calls = %v, want [sessions user]", calls)
	}
}

// TestService_DeleteAccount_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_DeleteAccount_UserNotFound(t *testing.T) {
	err := NewService(&mockUserRepo{}, nil, nil, bcrypt.MinCost).DeleteAccount(context.Background(), "nonexistent-user")
	assertCode(t, err, model.ErrCodeUserNotFound)
}

func TestService_DeleteAccount_SessionError(t *testing.T) {
	userRepo := userWith(&model.User{ID: "user-1"})
	userRepo.deleteByIDFn = func(ctx context.Context, id string) error {
		t.Error("セッション削除に失敗した場合はユーザーを削除するべきではない")
		return nil
	}
	sessionRepo := &mockSessionRepo{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			return errors.New("db error")
		},
	}

	if err := NewService(userRepo, sessionRepo, nil, bcrypt.MinCost).DeleteAccount(context.Background(), "user-1"); err == nil {
		t.Error("expected error")
	}
}
