// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/designstudio/internal/model"
)

// SessionCookieName はセッションIDを保持するHTTP Only Cookieの名前。
const SessionCookieName = "session_id"

// ErrNoUser は認証済みユーザーがコンテキストに存在しないことを示す。
var ErrNoUser = errors.New("user ID not found in context")

type contextKey string

var userIDContextKey = contextKey("user_id")

// SessionFinder はrepository.SessionRepositoryのうちセッション解決に使う部分。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はCookieのセッションを解決してユーザーIDをコンテキストに載せる。
// 解決できないリクエストは後段に渡さず401で終える。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return NewSessionMiddlewareWithClock(sessionFinder, time.Now)
}

// NewSessionMiddlewareWithClock は現在時刻の取得元を差し替えられるNewSessionMiddleware。
func NewSessionMiddlewareWithClock(sessionFinder SessionFinder, now func() time.Time) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID, ok := resolveSession(ctx, sessionFinder, SessionIDFromRequest(r), now())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			rememberUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(ctx, userID)))
		})
	}
}

// resolveSession はセッションIDから有効なセッションの所有者を返す。
// リポジトリも期限切れを除外するが、DBとアプリの時計のずれを考慮してここでも判定する。
func resolveSession(ctx context.Context, finder SessionFinder, sessionID string, now time.Time) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	session, err := finder.FindByID(ctx, sessionID)
	if err != nil {
		slog.ErrorContext(ctx, "session lookup failed",
			slog.String("request_id", RequestIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	if session == nil || session.UserID == "" || !session.ExpiresAt.After(now) {
		return "", false
	}
	return session.UserID, true
}

// SessionIDFromRequest はCookieからセッションIDを取り出す。なければ空文字。
func SessionIDFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// UserIDFromContext はセッションミドルウェアが載せたユーザーIDを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	if userID, ok := ctx.Value(userIDContextKey).(string); ok && userID != "" {
		return userID, nil
	}
	return "", ErrNoUser
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
