package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/designstudio/internal/middleware"
	"github.com/hitoshi/designstudio/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（テンプレート定義を含むため大きめ）。
const maxRequestBodySize = 2 << 20

// validate はリクエストDTOの検証器。
// エラーのフィールド名にはjsonタグの名前を使う。
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON はリクエストボディをdstに読み込み、validateタグで検証する。
// 失敗時はエラーレスポンスを書き込み、falseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, toValidationError(err))
		return false
	}
	return true
}

// toValidationError はvalidatorのエラーをフィールド別詳細付きのAPIErrorに変換する。
func toValidationError(err error) *model.APIError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewInvalidRequestError()
	}
	fields := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, model.FieldError{Field: fe.Field(), Reason: fe.Tag()})
	}
	return model.NewValidationError(fields...)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// requireUserID はコンテキストから認証済みユーザーIDを取り出す。
// 取得できない場合は401を書き込み、falseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden,
		model.ErrCodeQuotaExceeded,
		model.ErrCodePremiumRequired,
		model.ErrCodeFormatNotAllowed,
		model.ErrCodeDpiExceeded:
		return http.StatusForbidden
	case model.ErrCodeNotFound,
		model.ErrCodeUserNotFound,
		model.ErrCodeDesignNotFound,
		model.ErrCodeTemplateNotFound,
		model.ErrCodeExportNotFound,
		model.ErrCodeSubscriptionNotFound:
		return http.StatusNotFound
	case model.ErrCodeValidation,
		model.ErrCodeInvalidRequest,
		model.ErrCodeOAuthAccount,
		model.ErrCodeInvalidSignature:
		return http.StatusBadRequest
	case model.ErrCodeEmailTaken, model.ErrCodeExportNotReady:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeBillingNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
