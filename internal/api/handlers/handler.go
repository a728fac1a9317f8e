// handler.go — основной обработчик API, реализующий ServerInterface.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/tgvault/internal/api/errors"
	"github.com/bigkaa/tgvault/internal/api/middleware"
	"github.com/bigkaa/tgvault/internal/chunk"
	"github.com/bigkaa/tgvault/internal/service"
)

// multipartOverhead — запас на заголовки и поля multipart сверх размера файла.
const multipartOverhead = 1 << 20

// Options — лимиты HTTP-слоя.
type Options struct {
	// MultipartMemory — объём памяти для разбора multipart
	MultipartMemory int64
	// MaxObjectSize — максимальный размер целого файла
	MaxObjectSize int64
	// ChunkSize — максимальный размер одного чанка
	ChunkSize int64
}

// APIHandler — основной обработчик API tgvault.
type APIHandler struct {
	health  *HealthHandler
	files   *service.FileService
	folders *service.FolderService
	auth    *service.AuthService
	jwtAuth *middleware.JWTAuth
	opts    Options
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// jwtAuth может быть nil, если аутентификация отключена.
func NewAPIHandler(
	health *HealthHandler,
	files *service.FileService,
	folders *service.FolderService,
	auth *service.AuthService,
	jwtAuth *middleware.JWTAuth,
	opts Options,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:  health,
		files:   files,
		folders: folders,
		auth:    auth,
		jwtAuth: jwtAuth,
		opts:    opts,
		logger:  logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paramErrorHandler отвечает 400 на неразобранный параметр пути или запроса.
func paramErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	var pe *InvalidParamFormatError
	if errors.As(err, &pe) {
		apierrors.FieldError(w, pe.ParamName, err.Error())
		return
	}
	apierrors.ValidationError(w, err.Error())
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Если в цепочке есть *chunk.ChunkError, ответ содержит failed_chunk_index.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fe *service.FieldError
		cu *chunk.ChunkUnavailableError
		ce *chunk.ChunkError
	)

	detail := apierrors.ErrorDetail{Message: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &fe):
		status, detail.Code, detail.Field, detail.Message = http.StatusBadRequest, apierrors.CodeValidationError, fe.Field, fe.Message
	case errors.Is(err, service.ErrPayloadTooLarge):
		status, detail.Code = http.StatusBadRequest, apierrors.CodePayloadTooLarge
	case errors.Is(err, service.ErrInvalidInput):
		status, detail.Code = http.StatusBadRequest, apierrors.CodeValidationError
	case errors.Is(err, service.ErrUnauthorized):
		status, detail.Code, detail.Message = http.StatusUnauthorized, apierrors.CodeUnauthorized, "Неверный email или пароль"
	case errors.Is(err, service.ErrSessionNotFound):
		status, detail.Code = http.StatusNotFound, apierrors.CodeSessionNotFound
	case errors.Is(err, service.ErrNotFound):
		status, detail.Code, detail.Message = http.StatusNotFound, apierrors.CodeNotFound, "Ресурс не найден"
	case errors.Is(err, service.ErrConflict):
		status, detail.Code = http.StatusConflict, apierrors.CodeConflict
	case errors.Is(err, service.ErrNotImplemented):
		status, detail.Code = http.StatusNotImplemented, apierrors.CodeNotImplemented
	case errors.As(err, &cu):
		detail.Code = apierrors.CodeChunkUnavailable
		index := cu.Index
		detail.FailedChunkIndex = &index
	case errors.Is(err, service.ErrInconsistentSession):
		detail.Code = apierrors.CodeInconsistentSession
	case errors.Is(err, service.ErrUpstreamUnavailable):
		detail.Code = apierrors.CodeUpstreamUnavailable
	case errors.As(err, &ce):
		detail.Code = apierrors.CodeUploadFailed
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", middleware.NormalizePath(r.URL.Path)),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	if detail.FailedChunkIndex == nil && errors.As(err, &ce) {
		index := ce.Index
		detail.FailedChunkIndex = &index
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка обработки запроса",
			slog.String("code", detail.Code),
			slog.String("path", middleware.NormalizePath(r.URL.Path)),
			slog.String("error", err.Error()),
		)
	}
	apierrors.WriteDetail(w, status, detail)
}

// optionalID нормализует необязательный идентификатор папки:
// пустая строка и "root" означают корень.
func optionalID(v *string) *string {
	if v == nil || *v == "" || *v == "root" {
		return nil
	}
	s := *v
	return &s
}
