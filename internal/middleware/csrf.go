package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/hitoshi/designstudio/internal/model"
)

const (
	// csrfCookieName はダブルサブミット用のCookie名。フロントエンドが読むためHttpOnlyにしない。
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	csrfTokenTTL   = 24 * time.Hour
)

// CSRFConfig はCSRFミドルウェアの設定。
// TrustedOriginsが空でなければ、状態変更リクエストのOriginヘッダーもこのリストで照合する。
type CSRFConfig struct {
	CookieSecure   bool
	CookieDomain   string
	TrustedOrigins []string
}

func (c CSRFConfig) cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   c.CookieDomain,
		MaxAge:   int(csrfTokenTTL.Seconds()),
		HttpOnly: false,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// NewCSRFMiddleware はダブルサブミットCookie方式でCSRFを防ぐミドルウェアを返す。
// GET/HEAD/OPTIONSは検証せず、トークンCookieがなければ発行する。
// それ以外のメソッドはCookieとX-CSRF-Tokenヘッダーの一致を要求する。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				if _, err := r.Cookie(csrfCookieName); err != nil {
					if token, err := generateCSRFToken(); err == nil {
						http.SetCookie(w, config.cookie(token))
					} else {
						slog.ErrorContext(r.Context(), "failed to generate CSRF token", slog.String("error", err.Error()))
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			if reason := config.rejectReason(r); reason != "" {
				slog.WarnContext(r.Context(), "CSRF validation failed",
					slog.String("reason", reason),
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				writeCSRFRejected(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rejectReason は検証に通れば空文字を、失敗すればログ用の理由を返す。
func (c CSRFConfig) rejectReason(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" && len(c.TrustedOrigins) > 0 &&
		!slices.Contains(c.TrustedOrigins, origin) {
		return "untrusted origin"
	}

	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return "missing cookie token"
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return "missing header token"
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return "token mismatch"
	}
	return ""
}

// NewCSRFTokenHandler はGET /api/csrf-tokenのハンドラーを返す。
// 既存のトークンCookieがあればその値を、なければ新しく発行した値を {"token": ...} で返す。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if cookie, err := r.Cookie(csrfCookieName); err == nil {
			token = cookie.Value
		}
		if token == "" {
			var err error
			if token, err = generateCSRFToken(); err != nil {
				slog.ErrorContext(r.Context(), "failed to generate CSRF token", slog.String("error", err.Error()))
				WriteInternalServerError(w)
				return
			}
			http.SetCookie(w, config.cookie(token))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// generateCSRFToken は32バイトの乱数を16進文字列で返す。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func writeCSRFRejected(w http.ResponseWriter) {
	apiErr := model.NewForbiddenError()
	apiErr.Message = "CSRFトークンの検証に失敗しました。"
	apiErr.Action = "ページを再読み込みしてから再度お試しください。"
	WriteErrorResponse(w, http.StatusForbidden, apiErr)
}
