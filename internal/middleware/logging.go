package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

// requestInfo は1リクエストの間に後段のミドルウェアが埋める可変の情報。
// ロギングはセッション解決より外側で動くため、ポインタ経由で受け取る。
type requestInfo struct {
	requestID string
	userID    string
}

var requestInfoContextKey = contextKey("request_info")

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoContextKey).(*requestInfo)
	return info
}

// RequestIDFromContext はロギングミドルウェアが割り当てたリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) string {
	if info := requestInfoFrom(ctx); info != nil {
		return info.requestID
	}
	return ""
}

// rememberUserID は認証済みユーザーをアクセスログへ伝える。
func rememberUserID(ctx context.Context, userID string) {
	if info := requestInfoFrom(ctx); info != nil {
		info.userID = userID
	}
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードと書き込みバイト数を記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はWriteHeaderが未呼び出しの場合に200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

// Unwrap はhttp.ResponseControllerが元のWriterに到達できるようにする。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// NewLoggingMiddleware はリクエストごとにJSON構造化のアクセスログを1行出力する。
// クライアントが妥当なX-Request-IDを送った場合はそれを引き継ぎ、なければ採番してレスポンスに返す。
// ヘルスチェックとメトリクス収集は正常応答の限りDebugレベルに落とす。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := &requestInfo{requestID: incomingRequestID(r)}
			w.Header().Set(RequestIDHeader, info.requestID)
			ctx := context.WithValue(r.Context(), requestInfoContextKey, info)

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			attrs := []slog.Attr{
				slog.String("request_id", info.requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Int("bytes", rec.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}

			userID := info.userID
			if userID == "" {
				userID, _ = UserIDFromContext(r.Context())
			}
			if userID != "" {
				attrs = append(attrs, slog.String("user_id", userID))
			}

			logger.LogAttrs(ctx, accessLogLevel(r.URL.Path, rec.statusCode), "http_request", attrs...)
		})
	}
}

func accessLogLevel(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case path == "/healthz" || path == "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// incomingRequestID は印字可能なASCIIのみで構成された長さ制限内のIDだけを受け入れる。
func incomingRequestID(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLen {
		return uuid.NewString()
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return uuid.NewString()
		}
	}
	return id
}
