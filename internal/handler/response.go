package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/plancheckout/internal/middleware"
	"github.com/hitoshi/plancheckout/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディとWebhookペイロードの上限。
const maxRequestBodyBytes = 1 << 20

// writeJSON は値をJSONとして書き込む。
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

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外のエラーは詳細をログのみに記録し、INTERNAL_ERRORとして返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidRequest, model.ErrCodeInvalidSignature:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeProductNotFound, model.ErrCodePurchaseNotFound:
		return http.StatusNotFound
	case model.ErrCodeEmailAlreadyRegistered, model.ErrCodeDuplicateSession, model.ErrCodeInvalidTransition:
		return http.StatusConflict
	case model.ErrCodeProviderRejected:
		return http.StatusBadGateway
	case model.ErrCodeProviderUnavailable, model.ErrCodeWebhookRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSONBody はリクエストボディをJSONとして読み込む。
// 失敗した場合はINVALID_REQUESTを書き込み、falseを返す。
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	if _, err := dec.Token(); err != io.EOF {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// requireUserID は認証済みユーザーIDを取得する。取得できない場合は401を書き込み、falseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return 0, false
	}
	return userID, true
}

// parseIDParam は正の整数のパスパラメータを解析する。
func parseIDParam(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// notFoundError は存在しないエンドポイントへのリクエストに返すエラー。
func notFoundError() *model.APIError {
	return &model.APIError{
		Code:     "NOT_FOUND",
		Message:  "指定されたエンドポイントは存在しません。",
		Category: "system",
		Action:   "URLを確認してください。",
	}
}
