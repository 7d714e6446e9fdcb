// Package auth はメールアドレス・パスワード認証、OAuth認証フロー、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/designstudio/internal/model"
	"github.com/hitoshi/designstudio/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Image          string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BcryptCost    int // 0の場合はbcrypt.DefaultCost
	Now           func() time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
// oauthがnilの場合、OAuthログインは無効になる。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// OAuthEnabled はOAuthログインが構成されているかを返す。
func (s *Service) OAuthEnabled() bool {
	return s.oauth != nil
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	if s.oauth == nil {
		return ""
	}
	return s.oauth.GetLoginURL(state)
}

// Register はメールアドレスとパスワードでユーザーを登録し、セッションを発行する。
// 新規ユーザーはFREEプラン・ACTIVE状態で作成される。
func (s *Service) Register(ctx context.Context, email, name, password string) (*model.User, *model.Session, error) {
	email = normalizeEmail(email)

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, nil, model.NewEmailTakenError()
	}

	hash, err := HashPassword(password, s.config.BcryptCost)
	if err != nil {
		return nil, nil, err
	}

	user := newUser(email, strings.TrimSpace(name), "", s.config.Now())
	user.PasswordHash = hash

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, nil, model.NewEmailTakenError()
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}
	slog.InfoContext(ctx, "new user registered",
		slog.String("user_id", user.ID),
		slog.String("provider", "credentials"),
	)

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return user, session, nil
}

// dummyHash は存在しないユーザーのログイン試行でも比較処理を行うためのハッシュ。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("designstudio-dummy-password"), bcrypt.MinCost)

// Login はメールアドレスとパスワードを検証し、セッションを発行する。
// ユーザー不在とパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.Session, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || !user.HasPassword() {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, nil, model.NewInvalidCredentialsError()
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	slog.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", "credentials"),
	)
	return user, session, nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 初回ログインのユーザーはusersとidentitiesを同一トランザクションで作成する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if s.oauth == nil {
		return nil, fmt.Errorf("oauth provider is not configured")
	}

	info, err := s.oauth.ExchangeCode(ctx, code)
	switch {
	case errors.Is(err, ErrUnverifiedEmail):
		apiErr := model.NewUnauthorizedError()
		apiErr.Message = "メールアドレスが確認されていないアカウントではログインできません。"
		apiErr.Action = "連携先でメールアドレスを確認してから再度お試しください。"
		return nil, apiErr
	case err != nil:
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	userID, created, err := s.resolveOAuthUser(ctx, info)
	if err != nil {
		return nil, err
	}
	msg := "user logged in"
	if created {
		msg = "new user registered"
	}
	slog.InfoContext(ctx, msg,
		slog.String("user_id", userID),
		slog.String("provider", info.Provider),
	)

	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// resolveOAuthUser はプロバイダー上のIDに紐付くユーザーIDを返す。
// 紐付けがなければユーザーを作成し、createdをtrueにする。
// 同じメールアドレスのパスワードアカウントがある場合は自動連携せずEMAIL_TAKENを返す。
func (s *Service) resolveOAuthUser(ctx context.Context, info *OAuthUserInfo) (userID string, created bool, err error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return "", false, fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		return identity.UserID, false, nil
	}

	user := newUser(normalizeEmail(info.Email), info.Name, info.Image, s.config.Now())
	err = s.userRepo.CreateWithIdentity(ctx, user, &model.Identity{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      user.CreatedAt,
	})
	switch {
	case errors.Is(err, repository.ErrEmailTaken):
		return "", false, model.NewEmailTakenError()
	case err != nil:
		return "", false, fmt.Errorf("failed to create user and identity: %w", err)
	}
	return user.ID, true, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.InfoContext(ctx, "user logged out")
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || !session.ExpiresAt.After(s.config.Now()) {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// newUser は初期状態（FREEプラン、当月のクォータ期間）のユーザーを生成する。
func newUser(email, name, image string, now time.Time) *model.User {
	return &model.User{
		ID:                 uuid.NewString(),
		Email:              email,
		Name:               name,
		Image:              image,
		SubscriptionTier:   model.TierFree,
		SubscriptionStatus: model.StatusActive,
		QuotaPeriod:        model.MonthStart(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.config.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashPassword はパスワードをbcryptでハッシュ化する。
// bcryptが扱えない72バイト超のパスワードはバリデーションエラーになる。
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", model.NewValidationError(model.FieldError{Field: "password", Reason: "max"})
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword はパスワードがハッシュと一致するかを返す。
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
