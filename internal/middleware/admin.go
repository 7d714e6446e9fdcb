package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/designstudio/internal/model"
)

// UserFinder はユーザーの検索に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// NewAdminMiddleware は管理者メールアドレスのユーザーだけを通すミドルウェアを返す。
// SessionMiddlewareの後に配置する。それ以外のユーザーには403 Forbiddenを返す。
func NewAdminMiddleware(userFinder UserFinder, adminEmails []string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			allowed[email] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			user, err := userFinder.FindByID(r.Context(), userID)
			if err != nil {
				slog.Error("failed to find user for admin check",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if _, ok := allowed[strings.ToLower(user.Email)]; !ok {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
