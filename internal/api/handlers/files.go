// files.go — HTTP handlers файловых операций tgvault.
// Загрузка (целиком, по чанку, с разбиением на сервере), листинг,
// скачивание, состояние сессии, публикация.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apierrors "github.com/bigkaa/tgvault/internal/api/errors"
	"github.com/bigkaa/tgvault/internal/service"
)

// UploadFile обрабатывает POST /api/v1/files/upload.
// Multipart form: file (обязательно), parent_folder_id (опционально).
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseMultipart(w, r, h.opts.MaxObjectSize)
	if !ok {
		return
	}
	defer form.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.FieldError(w, "file", "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	parent := r.FormValue("parent_folder_id")
	rec, err := h.files.UploadSingle(r.Context(), service.SingleUpload{
		Reader:         file,
		Size:           header.Size,
		Filename:       header.Filename,
		ParentFolderID: optionalID(&parent),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(rec, true))
}

// UploadChunk обрабатывает POST /api/v1/files/upload-chunk.
// Multipart form: chunk, original_filename, upload_session_id, chunk_index,
// total_chunks, parent_folder_id, total_file_size (опционально).
func (h *APIHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseMultipart(w, r, h.opts.ChunkSize)
	if !ok {
		return
	}
	defer form.RemoveAll()

	index, err := formInt(r, "chunk_index")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	total, err := formInt(r, "total_chunks")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	var totalFileSize *int64
	if v := r.FormValue("total_file_size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			apierrors.FieldError(w, "total_file_size", "Ожидается целое число")
			return
		}
		totalFileSize = &n
	}

	file, header, err := r.FormFile("chunk")
	if err != nil {
		apierrors.FieldError(w, "chunk", "Поле 'chunk' обязательно")
		return
	}
	defer file.Close()

	parent := r.FormValue("parent_folder_id")
	rec, err := h.files.UploadChunk(r.Context(), service.ChunkUpload{
		Reader:         file,
		Size:           header.Size,
		Filename:       r.FormValue("original_filename"),
		SessionID:      r.FormValue("upload_session_id"),
		Index:          index,
		TotalChunks:    total,
		ParentFolderID: optionalID(&parent),
		TotalFileSize:  totalFileSize,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFileResponse(rec, true))
}

// UploadLarge обрабатывает POST /api/v1/files/upload-large.
// Тело запроса — байты файла; имя — заголовок X-Filename или параметр filename.
func (h *APIHandler) UploadLarge(w http.ResponseWriter, r *http.Request, params UploadLargeParams) {
	// Заголовок несёт имя в percent-encoding: не-ASCII в заголовках не передаётся
	filename := r.Header.Get("X-Filename")
	if unescaped, err := url.PathUnescape(filename); err == nil {
		filename = unescaped
	}
	if filename == "" && params.Filename != nil {
		filename = *params.Filename
	}

	res, err := h.files.UploadLarge(r.Context(), service.LargeUpload{
		Reader:         r.Body,
		Filename:       filename,
		ParentFolderID: optionalID(params.ParentFolderID),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLargeUploadResponse(res))
}

// ListFiles обрабатывает GET /api/v1/files.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request, params ListFilesParams) {
	entries, err := h.files.List(r.Context(), optionalID(params.FolderID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]listingItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toListingItem(e))
	}
	writeJSON(w, http.StatusOK, listingResponse{Items: items, Total: len(items)})
}

// DownloadFile обрабатывает GET /api/v1/files/{file_id}/download.
// С параметром token доступ проверяется по публичной ссылке, иначе — по JWT.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request, fileID FileID, params DownloadFileParams) {
	var (
		dl  *service.Download
		err error
	)
	if params.Token != nil && *params.Token != "" {
		dl, err = h.files.OpenPublicFile(r.Context(), fileID.String(), *params.Token)
	} else {
		if !h.authorize(w, r) {
			return
		}
		dl, err = h.files.OpenFile(r.Context(), fileID.String())
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.stream(w, r, dl)
}

// GetSession обрабатывает GET /api/v1/sessions/{session_id}.
func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	st, err := h.files.SessionState(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(st))
}

// DownloadSession обрабатывает GET /api/v1/sessions/{session_id}/download.
// Собирает файл из чанков сессии в порядке индексов.
func (h *APIHandler) DownloadSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	dl, err := h.files.OpenSession(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.stream(w, r, dl)
}

// ToggleShare обрабатывает PUT /api/v1/share/{file_id}.
func (h *APIHandler) ToggleShare(w http.ResponseWriter, r *http.Request, fileID FileID) {
	rec, err := h.files.ToggleShare(r.Context(), fileID.String())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := shareResponse{
		FileID:           rec.ID,
		IsPublic:         rec.IsPublic,
		PublicShareToken: rec.PublicShareToken,
	}
	if rec.IsPublic && rec.PublicShareToken != nil {
		resp.PublicURL = requestOrigin(r) + "/api/v1/public/" + url.PathEscape(*rec.PublicShareToken)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPublic обрабатывает GET /api/v1/public/{token}.
// Целый файл — 302 на скачивание с токеном; файл из чанков — 501.
func (h *APIHandler) GetPublic(w http.ResponseWriter, r *http.Request, token string) {
	rec, err := h.files.ResolvePublic(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	target := fmt.Sprintf("%s/api/v1/files/%s/download?token=%s",
		requestOrigin(r), url.PathEscape(rec.ID), url.QueryEscape(token))
	http.Redirect(w, r, target, http.StatusFound)
}

// --- Вспомогательные функции ---

// parseMultipart ограничивает тело запроса и разбирает multipart form.
// При ошибке ответ уже записан.
func (h *APIHandler) parseMultipart(w http.ResponseWriter, r *http.Request, limit int64) (*multipart.Form, bool) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	if err := r.ParseMultipartForm(h.opts.MultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.PayloadTooLarge(w, fmt.Sprintf("Размер запроса превышает %d байт", limit))
			return nil, false
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return nil, false
	}
	return r.MultipartForm, true
}

// formInt разбирает обязательное целое поле формы.
func formInt(r *http.Request, field string) (int, error) {
	v := strings.TrimSpace(r.FormValue(field))
	if v == "" {
		return 0, &service.FieldError{Field: field, Message: "обязательное поле"}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &service.FieldError{Field: field, Message: "ожидается целое число"}
	}
	return n, nil
}

// authorize проверяет JWT, если аутентификация включена.
// При отказе ответ 401 уже записан.
func (h *APIHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.jwtAuth == nil {
		return true
	}
	if _, err := h.jwtAuth.Authenticate(r); err != nil {
		apierrors.Unauthorized(w, "Требуется Bearer token или token публичной ссылки")
		return false
	}
	return true
}

// stream отдаёт скачивание клиенту. Заголовки отправляются до первого байта,
// поэтому ошибка посреди передачи только логируется: клиент увидит
// соединение, закрытое раньше объявленного Content-Length.
func (h *APIHandler) stream(w http.ResponseWriter, r *http.Request, dl *service.Download) {
	defer dl.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", contentDisposition(dl.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.WriteHeader(http.StatusOK)

	n, err := dl.Stream(r.Context(), w)
	if err != nil {
		h.logger.Error("Скачивание прервано",
			slog.String("path", r.URL.Path),
			slog.String("filename", dl.Filename),
			slog.Int64("written", n),
			slog.Int64("size", dl.Size),
			slog.String("error", err.Error()),
		)
	}
}

// contentDisposition формирует заголовок attachment с оригинальным именем.
// Имена вне ASCII дополнительно передаются в filename* (RFC 6266).
func contentDisposition(name string) string {
	ascii := make([]rune, 0, len(name))
	plain := true
	for _, c := range name {
		switch {
		case c == '"' || c == '\\':
			ascii = append(ascii, '\\', c)
		case c < 0x20 || c == 0x7f:
			ascii = append(ascii, '_')
			plain = false
		case c > 0x7e:
			ascii = append(ascii, '_')
			plain = false
		default:
			ascii = append(ascii, c)
		}
	}
	v := `attachment; filename="` + string(ascii) + `"`
	if !plain {
		v += "; filename*=UTF-8''" + url.PathEscape(name)
	}
	return v
}

// requestOrigin восстанавливает схему и хост запроса с учётом прокси.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
