// reassembler.go — сборка файла из чанков сессии.
// Порядок байтов определяется только chunk_index, не порядком записи.
// Отсутствующий или нечитаемый чанк — фатальная ошибка всей сборки.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/tgvault/internal/blob"
	"github.com/bigkaa/tgvault/internal/domain/model"
)

// Prometheus-метрики сборки.
var (
	reassemblyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tv_reassembly_total",
		Help: "Количество сборок файлов из чанков (по статусу).",
	}, []string{"status"})

	reassemblyBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tv_reassembly_bytes_total",
		Help: "Количество байт, отданных при сборке файлов из чанков.",
	})
)

// ChunkLister — выборка чанков сессии, отсортированных по chunk_index.
type ChunkLister interface {
	ListChunks(ctx context.Context, sessionID string) ([]*model.FileRecord, error)
}

// Reassembler — сборщик файлов из чанков.
type Reassembler struct {
	chunks  ChunkLister
	backend blob.Backend
	logger  *slog.Logger
}

// NewReassembler создаёт сборщик.
func NewReassembler(chunks ChunkLister, backend blob.Backend, logger *slog.Logger) *Reassembler {
	return &Reassembler{
		chunks:  chunks,
		backend: backend,
		logger:  logger.With(slog.String("component", "reassembler")),
	}
}

// Assembly — подготовленная сборка: полнота сессии проверена,
// chunk 0 уже открыт. До вызова Stream можно отдавать заголовки ответа.
type Assembly struct {
	SessionID string
	Filename  string
	// Size — сумма размеров чанков, объявляемая как Content-Length
	Size   int64
	Chunks []*model.FileRecord

	r     *Reassembler
	first io.ReadCloser
}

// Prepare загружает записи сессии и проверяет, что chunk_index образует
// непрерывный диапазон [0, total_chunks) с handle у каждого чанка.
// Chunk 0 открывается сразу, чтобы ошибка бэкенда была видна до ответа клиенту.
func (r *Reassembler) Prepare(ctx context.Context, sessionID string) (*Assembly, error) {
	chunks, err := r.chunks.ListChunks(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("выборка чанков сессии %s: %w", sessionID, err)
	}
	if len(chunks) == 0 {
		reassemblyTotal.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	size, err := validateSession(sessionID, chunks)
	if err != nil {
		reassemblyTotal.WithLabelValues("incomplete").Inc()
		r.logger.Warn("Сессия не может быть собрана",
			slog.String("session_id", sessionID),
			slog.Int("persisted_chunks", len(chunks)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	first := chunks[0]
	if first.TotalFileSize != nil && *first.TotalFileSize != size {
		r.logger.Warn("total_file_size chunk 0 не совпадает с суммой чанков, используется сумма",
			slog.String("session_id", sessionID),
			slog.Int64("total_file_size", *first.TotalFileSize),
			slog.Int64("sum", size),
		)
	}

	body, err := r.backend.Resolve(ctx, first.BlobHandle)
	if err != nil {
		reassemblyTotal.WithLabelValues("chunk_unavailable").Inc()
		return nil, &ChunkUnavailableError{SessionID: sessionID, Index: 0, Reason: "resolve", Err: err}
	}

	return &Assembly{
		SessionID: sessionID,
		Filename:  first.OriginalFilename,
		Size:      size,
		Chunks:    chunks,
		r:         r,
		first:     body,
	}, nil
}

// validateSession проверяет полноту сессии и возвращает сумму размеров чанков.
func validateSession(sessionID string, chunks []*model.FileRecord) (int64, error) {
	if chunks[0].TotalChunks == nil || *chunks[0].TotalChunks < 1 {
		if chunks[0].Index() != 0 {
			return 0, &ChunkUnavailableError{SessionID: sessionID, Index: 0, Reason: "record missing"}
		}
		return 0, fmt.Errorf("%w: %s: total_chunks не задан", ErrInconsistentSession, sessionID)
	}
	total := *chunks[0].TotalChunks

	var size int64
	for i, c := range chunks {
		if c.Index() != i {
			if c.Index() < i {
				return 0, fmt.Errorf("%w: %s: повтор chunk_index %d", ErrInconsistentSession, sessionID, c.Index())
			}
			return 0, &ChunkUnavailableError{SessionID: sessionID, Index: i, Reason: "record missing"}
		}
		if i >= total {
			return 0, fmt.Errorf("%w: %s: chunk_index %d >= total_chunks %d", ErrInconsistentSession, sessionID, i, total)
		}
		if c.TotalChunks != nil && *c.TotalChunks != total {
			return 0, fmt.Errorf("%w: %s: chunk %d: total_chunks %d != %d", ErrInconsistentSession, sessionID, i, *c.TotalChunks, total)
		}
		if c.BlobHandle == "" {
			return 0, &ChunkUnavailableError{SessionID: sessionID, Index: i, Reason: "no blob handle"}
		}
		size += c.OriginalFileSize
	}
	if len(chunks) < total {
		return 0, &ChunkUnavailableError{SessionID: sessionID, Index: len(chunks), Reason: "record missing"}
	}
	return size, nil
}

// Stream пишет байты всех чанков в w строго по возрастанию индекса.
// Каждый чанк должен дать ровно OriginalFileSize байт. Ошибка записи
// в w (клиент отключился) или отмена ctx прерывают сборку.
func (a *Assembly) Stream(ctx context.Context, w io.Writer) (int64, error) {
	ew := &errWriter{w: w}
	var written int64

	for i, c := range a.Chunks {
		if err := ctx.Err(); err != nil {
			a.Close()
			reassemblyTotal.WithLabelValues("aborted").Inc()
			return written, err
		}

		body := a.first
		a.first = nil
		if i == 0 && body == nil {
			return 0, errors.New("сборка уже выполнена или закрыта")
		}
		if i > 0 {
			var err error
			body, err = a.r.backend.Resolve(ctx, c.BlobHandle)
			if err != nil {
				reassemblyTotal.WithLabelValues("chunk_unavailable").Inc()
				return written, &ChunkUnavailableError{SessionID: a.SessionID, Index: i, Reason: "resolve", Err: err}
			}
		}

		n, err := copyChunk(ew, body, c.OriginalFileSize)
		body.Close()
		written += n
		reassemblyBytesTotal.Add(float64(n))

		if err != nil {
			if ew.err != nil {
				reassemblyTotal.WithLabelValues("aborted").Inc()
				a.r.logger.Info("Сборка прервана: ошибка записи клиенту",
					slog.String("session_id", a.SessionID),
					slog.Int("chunk_index", i),
					slog.Int64("written", written),
				)
				return written, ew.err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				reassemblyTotal.WithLabelValues("aborted").Inc()
				return written, ctxErr
			}
			reassemblyTotal.WithLabelValues("chunk_unavailable").Inc()
			return written, &ChunkUnavailableError{SessionID: a.SessionID, Index: i, Reason: "read", Err: err}
		}
	}

	reassemblyTotal.WithLabelValues("success").Inc()
	a.r.logger.Debug("Сессия собрана",
		slog.String("session_id", a.SessionID),
		slog.Int("chunks", len(a.Chunks)),
		slog.Int64("bytes", written),
	)
	return written, nil
}

// Close освобождает открытый chunk 0, если Stream не был вызван.
func (a *Assembly) Close() error {
	if a.first == nil {
		return nil
	}
	err := a.first.Close()
	a.first = nil
	return err
}

// errShortChunk — бэкенд вернул меньше байт, чем записано в метаданных.
var errShortChunk = errors.New("chunk shorter than recorded size")

// errLongChunk — бэкенд вернул больше байт, чем записано в метаданных.
var errLongChunk = errors.New("chunk longer than recorded size")

// copyChunk копирует ровно size байт и проверяет, что источник исчерпан.
func copyChunk(w io.Writer, body io.Reader, size int64) (int64, error) {
	n, err := io.CopyN(w, body, size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, fmt.Errorf("%w: %d из %d байт", errShortChunk, n, size)
		}
		return n, err
	}
	var probe [1]byte
	if m, _ := io.ReadFull(body, probe[:]); m > 0 {
		return n, errLongChunk
	}
	return n, nil
}

// errWriter запоминает ошибку записи, чтобы отличать её от ошибки чтения.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
