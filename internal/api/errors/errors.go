// Пакет errors — конструкторы стандартных ошибок API tgvault.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeNotFound            = "NOT_FOUND"
	CodeSessionNotFound     = "SESSION_NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeConflict            = "CONFLICT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeChunkUnavailable    = "CHUNK_UNAVAILABLE"
	CodeInconsistentSession = "INCONSISTENT_SESSION"
	CodeUploadFailed        = "UPLOAD_FAILED"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки. Field и FailedChunkIndex заполняются,
// когда ошибка относится к полю запроса или к конкретному чанку.
type ErrorDetail struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Field            string `json:"field,omitempty"`
	FailedChunkIndex *int   `json:"failed_chunk_index,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteDetail(w, statusCode, ErrorDetail{Code: code, Message: message})
}

// WriteDetail записывает ответ ошибки с дополнительными полями.
func WriteDetail(w http.ResponseWriter, statusCode int, detail ErrorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// FieldError — 400 с указанием поля запроса.
func FieldError(w http.ResponseWriter, field, message string) {
	WriteDetail(w, http.StatusBadRequest, ErrorDetail{
		Code:    CodeValidationError,
		Message: message,
		Field:   field,
	})
}

// PayloadTooLarge — 400 превышен лимит размера.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodePayloadTooLarge, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// SessionNotFound — 404 у сессии нет чанков.
func SessionNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeSessionNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Conflict — 409 конфликт (дублирующийся ресурс).
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// UpstreamUnavailable — 500 Blob Backend недоступен.
func UpstreamUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeUpstreamUnavailable, message)
}

// ChunkUnavailable — 500 чанк не может быть собран.
func ChunkUnavailable(w http.ResponseWriter, index int, message string) {
	WriteDetail(w, http.StatusInternalServerError, ErrorDetail{
		Code:             CodeChunkUnavailable,
		Message:          message,
		FailedChunkIndex: &index,
	})
}

// UploadFailed — 500 загрузка прервана на чанке index.
func UploadFailed(w http.ResponseWriter, index int, message string) {
	WriteDetail(w, http.StatusInternalServerError, ErrorDetail{
		Code:             CodeUploadFailed,
		Message:          message,
		FailedChunkIndex: &index,
	})
}

// NotImplemented — 501 операция не поддерживается.
func NotImplemented(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotImplemented, CodeNotImplemented, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
