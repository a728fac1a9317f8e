// logging.go — журнал HTTP-запросов tgvault через slog.
//
// В журнал попадает только шаблон маршрута из NormalizePath: идентификаторы
// файлов и сессий заменяются на {id}, share-токены на {token}, неизвестные
// пути на "other". Query-строка (folder_id и т.п.) не логируется. Так токен
// публичной ссылки, дающий доступ к файлу без аутентификации, не оседает
// в логах, а кардинальность поля path совпадает с лейблом метрик.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// statusRecorder запоминает код ответа и число отданных байт.
// Для скачивания собранного файла это фактический объём потока.
type statusRecorder struct {
	http.ResponseWriter
	status int
	sent   int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.sent += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController (Flush при потоковой отдаче).
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// levelFor: 5xx — ERROR (включая 501 для публичных ссылок), 4xx — WARN.
func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// RequestLogger возвращает middleware журнала запросов.
// Для загрузок (upload, upload-chunk, upload-large) пишется и объём тела
// запроса request_bytes, если клиент передал Content-Length.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", NormalizePath(r.URL.Path)),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", rec.sent),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if r.ContentLength > 0 {
				attrs = append(attrs, slog.Int64("request_bytes", r.ContentLength))
			}
			logger.LogAttrs(r.Context(), levelFor(rec.status), "HTTP запрос", attrs...)
		})
	}
}
