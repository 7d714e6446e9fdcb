package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/designstudio/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string              `json:"code"`
	Message  string              `json:"message"`
	Category string              `json:"category"`
	Action   string              `json:"action"`
	Fields   []FieldErrorPayload `json:"fields,omitempty"`
	// RequestID は問い合わせ時にアクセスログと突き合わせるためのID。
	RequestID string `json:"requestId,omitempty"`
}

// FieldErrorPayload はバリデーションエラーのフィールド別詳細。
type FieldErrorPayload struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// ロギングミドルウェアが付けたX-Request-IDがあれば本文にも含める。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	body := ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: w.Header().Get(RequestIDHeader),
	}
	for _, f := range apiErr.Fields {
		body.Fields = append(body.Fields, FieldErrorPayload{Field: f.Field, Reason: f.Reason})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
