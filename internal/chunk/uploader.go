// uploader.go — загрузка чанков в Blob Backend с записью FileRecord на каждый чанк.
// Запись в каталог выполняется только после подтверждения записи в бэкенд.
// При ошибке загрузка останавливается, уже сохранённые чанки не откатываются.
package chunk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/tgvault/internal/blob"
	"github.com/bigkaa/tgvault/internal/domain/model"
)

// Prometheus-метрики загрузки чанков.
var (
	chunksUploadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tv_chunks_uploaded_total",
		Help: "Количество загруженных чанков (по статусу).",
	}, []string{"status"})

	chunkUploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tv_chunk_upload_duration_seconds",
		Help:    "Длительность загрузки одного чанка (store + persist).",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1200},
	})
)

// RecordWriter — запись метаданных чанка (Session Catalog).
type RecordWriter interface {
	Insert(ctx context.Context, rec *model.FileRecord) error
}

// ProgressFunc получает (завершено, всего) после каждого сохранённого чанка.
type ProgressFunc func(done, total int)

// ChunkMeta — метаданные одного чанка.
type ChunkMeta struct {
	SessionID      string
	Filename       string
	Index          int
	TotalChunks    int
	ParentFolderID *string
	// TotalFileSize — логический размер файла, записывается только для chunk 0
	TotalFileSize *int64
}

// Params — параметры загрузки файла целиком через план чанков.
type Params struct {
	SessionID      string
	Filename       string
	FileSize       int64
	ParentFolderID *string
}

// Result — итог успешной загрузки.
type Result struct {
	SessionID   string
	TotalChunks int
	// Records — записи чанков в порядке индексов
	Records []*model.FileRecord
}

// Uploader — загрузчик чанков.
type Uploader struct {
	backend     blob.Backend
	records     RecordWriter
	chunkSize   int64
	parallelism int
	logger      *slog.Logger
}

// NewUploader создаёт загрузчик. parallelism <= 1 — строго последовательная загрузка.
func NewUploader(backend blob.Backend, records RecordWriter, chunkSize int64, parallelism int, logger *slog.Logger) *Uploader {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Uploader{
		backend:     backend,
		records:     records,
		chunkSize:   chunkSize,
		parallelism: parallelism,
		logger:      logger.With(slog.String("component", "chunk_uploader")),
	}
}

// ChunkSize возвращает настроенный размер чанка.
func (u *Uploader) ChunkSize() int64 {
	return u.chunkSize
}

// Upload разбивает src на чанки и загружает их по плану.
//
// При ошибке возвращается *ChunkError с индексом упавшего чанка; чанки,
// которые ещё не начаты, не загружаются. Пустой файл загружается одним
// пустым чанком, чтобы сессия существовала и собиралась обратно.
func (u *Uploader) Upload(ctx context.Context, src io.ReaderAt, p Params, progress ProgressFunc) (*Result, error) {
	if p.SessionID == "" || p.Filename == "" {
		return nil, fmt.Errorf("%w: session id и имя файла обязательны", ErrInvalidInput)
	}
	plan, err := Plan(p.FileSize, u.chunkSize)
	if err != nil {
		return nil, err
	}
	if len(plan) == 0 {
		plan = []Range{{Index: 0}}
	}

	total := len(plan)
	totalSize := p.FileSize
	metaFor := func(rg Range) ChunkMeta {
		m := ChunkMeta{
			SessionID:      p.SessionID,
			Filename:       p.Filename,
			Index:          rg.Index,
			TotalChunks:    total,
			ParentFolderID: p.ParentFolderID,
		}
		if rg.Index == 0 {
			m.TotalFileSize = &totalSize
		}
		return m
	}
	if progress == nil {
		progress = func(int, int) {}
	}

	u.logger.Info("Начало загрузки файла по чанкам",
		slog.String("session_id", p.SessionID),
		slog.String("filename", p.Filename),
		slog.String("size", units.BytesSize(float64(p.FileSize))),
		slog.Int("total_chunks", total),
		slog.Int("parallelism", u.parallelism),
	)

	records := make([]*model.FileRecord, total)
	if u.parallelism == 1 {
		for i, rg := range plan {
			if err := ctx.Err(); err != nil {
				return nil, &ChunkError{Index: rg.Index, Stage: StageStore, Err: err}
			}
			rec, err := u.UploadChunk(ctx, io.NewSectionReader(src, rg.Start, rg.Size()), rg.Size(), metaFor(rg))
			if err != nil {
				return nil, err
			}
			records[rg.Index] = rec
			progress(i+1, total)
		}
	} else {
		if err := u.uploadParallel(ctx, src, plan, metaFor, records, progress); err != nil {
			return nil, err
		}
	}

	u.logger.Info("Файл загружен",
		slog.String("session_id", p.SessionID),
		slog.Int("total_chunks", total),
	)
	return &Result{SessionID: p.SessionID, TotalChunks: total, Records: records}, nil
}

// uploadParallel загружает чанки ограниченным пулом горутин.
// Первая ошибка отменяет контекст группы, новые чанки не запускаются.
// Возвращается ошибка с наименьшим индексом: все чанки ниже него сохранены.
func (u *Uploader) uploadParallel(
	ctx context.Context,
	src io.ReaderAt,
	plan []Range,
	metaFor func(Range) ChunkMeta,
	records []*model.FileRecord,
	progress ProgressFunc,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallelism)

	var (
		mu     sync.Mutex
		done   int
		failed *ChunkError
	)
	total := len(plan)

	for _, rg := range plan {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec, err := u.UploadChunk(gctx, io.NewSectionReader(src, rg.Start, rg.Size()), rg.Size(), metaFor(rg))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ce, ok := err.(*ChunkError)
				if !ok {
					ce = &ChunkError{Index: rg.Index, Stage: StageStore, Err: err}
				}
				if failed == nil || ce.Index < failed.Index {
					failed = ce
				}
				return err
			}
			records[rg.Index] = rec
			done++
			progress(done, total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed
	}
	// Контекст отменён до запуска части чанков
	for _, rg := range plan {
		if records[rg.Index] == nil {
			return &ChunkError{Index: rg.Index, Stage: StageStore, Err: context.Cause(gctx)}
		}
	}
	return nil
}

// UploadChunk сохраняет один чанк: запись в бэкенд под именем
// "<имя>_chunk_<индекс>", затем FileRecord в каталог.
// Ошибка всегда *ChunkError.
func (u *Uploader) UploadChunk(ctx context.Context, r io.Reader, size int64, m ChunkMeta) (*model.FileRecord, error) {
	if err := validateMeta(m); err != nil {
		return nil, &ChunkError{Index: m.Index, Stage: StageStore, Err: err}
	}
	if size > u.chunkSize {
		chunksUploadedTotal.WithLabelValues("rejected").Inc()
		return nil, &ChunkError{Index: m.Index, Stage: StageStore, Err: fmt.Errorf("%w: %s > %s",
			ErrChunkTooLarge, units.BytesSize(float64(size)), units.BytesSize(float64(u.chunkSize)))}
	}

	start := time.Now()
	handle, err := u.backend.Store(ctx, r, size, blob.ChunkName(m.Filename, m.Index))
	if err != nil {
		chunksUploadedTotal.WithLabelValues("store_error").Inc()
		u.logger.Error("Ошибка записи чанка в бэкенд",
			slog.String("session_id", m.SessionID),
			slog.Int("chunk_index", m.Index),
			slog.String("error", err.Error()),
		)
		return nil, &ChunkError{Index: m.Index, Stage: StageStore, Err: err}
	}

	rec := newChunkRecord(m, size, handle)
	// Объект в бэкенде уже существует: запись не должна теряться из-за отмены
	if err := u.records.Insert(context.WithoutCancel(ctx), rec); err != nil {
		chunksUploadedTotal.WithLabelValues("persist_error").Inc()
		u.logger.Error("Ошибка записи метаданных чанка",
			slog.String("session_id", m.SessionID),
			slog.Int("chunk_index", m.Index),
			slog.String("handle", handle.ID),
			slog.String("error", err.Error()),
		)
		return nil, &ChunkError{Index: m.Index, Stage: StagePersist, Err: err}
	}

	chunksUploadedTotal.WithLabelValues("success").Inc()
	chunkUploadDuration.Observe(time.Since(start).Seconds())
	u.logger.Debug("Чанк сохранён",
		slog.String("session_id", m.SessionID),
		slog.Int("chunk_index", m.Index),
		slog.Int("total_chunks", m.TotalChunks),
		slog.String("size", units.BytesSize(float64(size))),
	)
	return rec, nil
}

// validateMeta проверяет метаданные чанка до обращения к бэкенду.
func validateMeta(m ChunkMeta) error {
	switch {
	case m.SessionID == "":
		return fmt.Errorf("%w: upload_session_id обязателен", ErrInvalidInput)
	case m.Filename == "":
		return fmt.Errorf("%w: original_filename обязателен", ErrInvalidInput)
	case m.TotalChunks < 1:
		return fmt.Errorf("%w: total_chunks должен быть >= 1", ErrInvalidInput)
	case m.Index < 0 || m.Index >= m.TotalChunks:
		return fmt.Errorf("%w: chunk_index %d вне диапазона [0, %d)", ErrInvalidInput, m.Index, m.TotalChunks)
	}
	return nil
}

// newChunkRecord строит FileRecord чанка. Размер файла целиком
// сохраняется только в chunk 0.
func newChunkRecord(m ChunkMeta, size int64, h blob.Handle) *model.FileRecord {
	sessionID := m.SessionID
	index := m.Index
	total := m.TotalChunks
	rec := &model.FileRecord{
		OriginalFilename: m.Filename,
		OriginalFileSize: size,
		BlobHandle:       h.ID,
		IsChunked:        true,
		UploadSessionID:  &sessionID,
		ChunkIndex:       &index,
		TotalChunks:      &total,
		ParentFolderID:   m.ParentFolderID,
	}
	if h.MessageID != 0 {
		msgID := h.MessageID
		rec.BlobMessageID = &msgID
	}
	if m.Index == 0 && m.TotalFileSize != nil {
		totalSize := *m.TotalFileSize
		rec.TotalFileSize = &totalSize
	}
	return rec
}
