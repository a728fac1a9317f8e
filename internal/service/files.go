// files.go — сервис файлов: загрузка целиком и по чанкам, скачивание,
// листинг, публикация и публичный доступ.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/tgvault/internal/blob"
	"github.com/bigkaa/tgvault/internal/chunk"
	"github.com/bigkaa/tgvault/internal/domain/model"
	"github.com/bigkaa/tgvault/internal/repository"
)

// Prometheus-метрики сервиса файлов.
var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tv_uploads_total",
		Help: "Количество загрузок (по типу и статусу).",
	}, []string{"kind", "status"})

	uploadProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tv_upload_progress_ratio",
		Help: "Доля загруженных чанков серверной загрузки по сессиям.",
	}, []string{"session_id"})

	activeDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tv_active_downloads",
		Help: "Количество активных скачиваний.",
	})
)

// maxSessionIDLen — ограничение длины upload_session_id.
const maxSessionIDLen = 128

// FileOptions — параметры сервиса файлов.
type FileOptions struct {
	// MaxObjectSize — лимит размера для загрузки целиком
	MaxObjectSize int64
	// SpoolDir — каталог временных файлов серверной загрузки ("" — системный)
	SpoolDir string
}

// FileService — сервис файлов.
type FileService struct {
	files       repository.FileRepository
	folders     repository.FolderRepository
	backend     blob.Backend
	uploader    *chunk.Uploader
	reassembler *chunk.Reassembler
	opts        FileOptions
	logger      *slog.Logger
}

// NewFileService создаёт сервис файлов.
func NewFileService(
	files repository.FileRepository,
	folders repository.FolderRepository,
	backend blob.Backend,
	uploader *chunk.Uploader,
	reassembler *chunk.Reassembler,
	opts FileOptions,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		files:       files,
		folders:     folders,
		backend:     backend,
		uploader:    uploader,
		reassembler: reassembler,
		opts:        opts,
		logger:      logger.With(slog.String("component", "file_service")),
	}
}

// --- Загрузка целиком ---

// SingleUpload — параметры загрузки файла одним объектом.
type SingleUpload struct {
	Reader         io.Reader
	Size           int64
	Filename       string
	ParentFolderID *string
}

// UploadSingle сохраняет файл одним объектом в бэкенде.
// Превышение лимита отклоняется до обращения к бэкенду.
func (s *FileService) UploadSingle(ctx context.Context, p SingleUpload) (*model.FileRecord, error) {
	if strings.TrimSpace(p.Filename) == "" {
		return nil, fieldError("file", "имя файла не задано")
	}
	if p.Size < 0 {
		return nil, fieldError("file", "размер файла неизвестен")
	}
	if limit := min(s.opts.MaxObjectSize, s.backend.MaxObjectSize()); p.Size > limit {
		uploadsTotal.WithLabelValues("single", "too_large").Inc()
		return nil, fmt.Errorf("%w: %s > %s", ErrPayloadTooLarge,
			units.BytesSize(float64(p.Size)), units.BytesSize(float64(limit)))
	}
	if err := s.checkFolder(ctx, "parent_folder_id", p.ParentFolderID); err != nil {
		return nil, err
	}

	handle, err := s.backend.Store(ctx, p.Reader, p.Size, p.Filename)
	if err != nil {
		uploadsTotal.WithLabelValues("single", "store_error").Inc()
		s.logger.Error("Ошибка записи файла в бэкенд",
			slog.String("filename", p.Filename),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, blob.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrPayloadTooLarge, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	size := p.Size
	rec := &model.FileRecord{
		OriginalFilename: p.Filename,
		OriginalFileSize: size,
		TotalFileSize:    &size,
		BlobHandle:       handle.ID,
		ParentFolderID:   p.ParentFolderID,
	}
	if handle.MessageID != 0 {
		msgID := handle.MessageID
		rec.BlobMessageID = &msgID
	}
	if err := s.files.Insert(context.WithoutCancel(ctx), rec); err != nil {
		uploadsTotal.WithLabelValues("single", "persist_error").Inc()
		return nil, s.mapRepoError(err, "parent_folder_id")
	}

	uploadsTotal.WithLabelValues("single", "success").Inc()
	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.OriginalFilename),
		slog.String("size", units.BytesSize(float64(size))),
	)
	return rec, nil
}

// --- Загрузка по чанкам ---

// ChunkUpload — один чанк, присланный клиентом.
type ChunkUpload struct {
	Reader         io.Reader
	Size           int64
	Filename       string
	SessionID      string
	Index          int
	TotalChunks    int
	ParentFolderID *string
	// TotalFileSize — логический размер файла (необязателен, хранится в chunk 0)
	TotalFileSize *int64
}

// UploadChunk сохраняет один чанк сессии.
// Все поля проверяются до обращения к бэкенду; ошибка называет поле.
func (s *FileService) UploadChunk(ctx context.Context, p ChunkUpload) (*model.FileRecord, error) {
	if err := validateChunkUpload(p); err != nil {
		return nil, err
	}
	if err := s.checkFolder(ctx, "parent_folder_id", p.ParentFolderID); err != nil {
		return nil, err
	}
	if err := s.checkSessionConsistency(ctx, p); err != nil {
		return nil, err
	}

	rec, err := s.uploader.UploadChunk(ctx, p.Reader, p.Size, chunk.ChunkMeta{
		SessionID:      p.SessionID,
		Filename:       p.Filename,
		Index:          p.Index,
		TotalChunks:    p.TotalChunks,
		ParentFolderID: p.ParentFolderID,
		TotalFileSize:  p.TotalFileSize,
	})
	if err != nil {
		uploadsTotal.WithLabelValues("chunk", "error").Inc()
		return nil, s.mapChunkError(err)
	}
	uploadsTotal.WithLabelValues("chunk", "success").Inc()
	return rec, nil
}

func validateChunkUpload(p ChunkUpload) error {
	switch {
	case strings.TrimSpace(p.Filename) == "":
		return fieldError("original_filename", "обязательное поле")
	case strings.TrimSpace(p.SessionID) == "":
		return fieldError("upload_session_id", "обязательное поле")
	case len(p.SessionID) > maxSessionIDLen:
		return fieldError("upload_session_id", "длина больше %d символов", maxSessionIDLen)
	case p.TotalChunks < 1:
		return fieldError("total_chunks", "должно быть >= 1")
	case p.Index < 0 || p.Index >= p.TotalChunks:
		return fieldError("chunk_index", "значение %d вне диапазона [0, %d)", p.Index, p.TotalChunks)
	case p.Size < 0:
		return fieldError("chunk", "размер чанка неизвестен")
	case p.TotalFileSize != nil && *p.TotalFileSize < 0:
		return fieldError("total_file_size", "должно быть >= 0")
	}
	return nil
}

// checkSessionConsistency сверяет чанк с уже сохранёнными чанками сессии:
// с chunk 0, а если его ещё нет — с чанком с наименьшим индексом.
func (s *FileService) checkSessionConsistency(ctx context.Context, p ChunkUpload) error {
	ref, err := s.files.FindFirstChunk(ctx, p.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		var chunks []*model.FileRecord
		chunks, err = s.files.ListChunks(ctx, p.SessionID)
		if err == nil && len(chunks) == 0 {
			return nil
		}
		if err == nil {
			ref = chunks[0]
		}
	}
	if err != nil {
		return fmt.Errorf("проверка сессии %s: %w", p.SessionID, err)
	}

	if ref.TotalChunks != nil && *ref.TotalChunks != p.TotalChunks {
		return fieldError("total_chunks", "сессия %s ожидает %d чанков", p.SessionID, *ref.TotalChunks)
	}
	if ref.OriginalFilename != p.Filename {
		return fieldError("original_filename", "сессия %s загружает файл %q", p.SessionID, ref.OriginalFilename)
	}
	return nil
}

// --- Серверная загрузка большого файла ---

// LargeUpload — поток файла, который сервер сам разбивает на чанки.
type LargeUpload struct {
	Reader         io.Reader
	Filename       string
	ParentFolderID *string
}

// UploadLarge сохраняет поток во временный файл, планирует чанки и
// загружает их. При сбое ошибка содержит *chunk.ChunkError с индексом
// упавшего чанка; сохранённые чанки остаются в каталоге.
func (s *FileService) UploadLarge(ctx context.Context, p LargeUpload) (*chunk.Result, error) {
	if strings.TrimSpace(p.Filename) == "" {
		return nil, fieldError("filename", "обязательное поле")
	}
	if err := s.checkFolder(ctx, "parent_folder_id", p.ParentFolderID); err != nil {
		return nil, err
	}

	spool, err := os.CreateTemp(s.opts.SpoolDir, "tgvault-upload-*")
	if err != nil {
		return nil, fmt.Errorf("создание временного файла: %w", err)
	}
	defer func() {
		spool.Close()
		if err := os.Remove(spool.Name()); err != nil {
			s.logger.Warn("Не удалось удалить временный файл",
				slog.String("path", spool.Name()),
				slog.String("error", err.Error()),
			)
		}
	}()

	size, err := io.Copy(spool, p.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение тела запроса: %w", ErrInvalidInput, err)
	}

	sessionID := uuid.NewString()
	gauge := uploadProgress.WithLabelValues(sessionID)
	defer uploadProgress.DeleteLabelValues(sessionID)

	start := time.Now()
	res, err := s.uploader.Upload(ctx, spool, chunk.Params{
		SessionID:      sessionID,
		Filename:       p.Filename,
		FileSize:       size,
		ParentFolderID: p.ParentFolderID,
	}, func(done, total int) {
		gauge.Set(float64(done) / float64(total))
	})
	if err != nil {
		uploadsTotal.WithLabelValues("large", "error").Inc()
		return nil, s.mapChunkError(err)
	}

	uploadsTotal.WithLabelValues("large", "success").Inc()
	s.logger.Info("Большой файл загружен",
		slog.String("session_id", sessionID),
		slog.String("filename", p.Filename),
		slog.String("size", units.BytesSize(float64(size))),
		slog.Int("total_chunks", res.TotalChunks),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

// --- Скачивание ---

// Download — открытое скачивание. Заголовки ответа можно сформировать
// по Filename и Size до вызова Stream. Close обязателен.
type Download struct {
	Filename string
	Size     int64

	stream func(ctx context.Context, w io.Writer) (int64, error)
	close  func() error
	once   sync.Once
}

func newDownload(filename string, size int64,
	stream func(context.Context, io.Writer) (int64, error), closeFn func() error,
) *Download {
	activeDownloads.Inc()
	return &Download{Filename: filename, Size: size, stream: stream, close: closeFn}
}

// Stream пишет байты файла в w.
func (d *Download) Stream(ctx context.Context, w io.Writer) (int64, error) {
	return d.stream(ctx, w)
}

// Close освобождает ресурсы скачивания.
func (d *Download) Close() error {
	var err error
	d.once.Do(func() {
		activeDownloads.Dec()
		err = d.close()
	})
	return err
}

// OpenFile открывает скачивание целого файла.
func (s *FileService) OpenFile(ctx context.Context, fileID string) (*Download, error) {
	rec, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, s.mapRepoError(err, "file_id")
	}
	return s.openRecord(ctx, rec)
}

// OpenPublicFile открывает скачивание по публичной ссылке:
// токен должен принадлежать именно этому файлу.
func (s *FileService) OpenPublicFile(ctx context.Context, fileID, token string) (*Download, error) {
	rec, err := s.files.FindByShareToken(ctx, token)
	if err != nil {
		return nil, s.mapRepoError(err, "token")
	}
	if rec.ID != fileID {
		return nil, ErrNotFound
	}
	return s.openRecord(ctx, rec)
}

func (s *FileService) openRecord(ctx context.Context, rec *model.FileRecord) (*Download, error) {
	if rec.IsChunked {
		return nil, fieldError("file_id", "запись является чанком сессии %s, используйте скачивание сессии", rec.SessionID())
	}

	body, err := s.backend.Resolve(ctx, rec.BlobHandle)
	if err != nil {
		s.logger.Error("Ошибка чтения файла из бэкенда",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	size := rec.OriginalFileSize
	return newDownload(rec.OriginalFilename, size,
		func(_ context.Context, w io.Writer) (int64, error) {
			n, err := io.CopyN(w, body, size)
			if errors.Is(err, io.EOF) {
				return n, fmt.Errorf("%w: получено %d из %d байт", ErrUpstreamUnavailable, n, size)
			}
			return n, err
		},
		body.Close,
	), nil
}

// OpenSession открывает скачивание файла, собранного из чанков сессии.
// Полнота сессии проверяется до того, как клиент получит заголовки.
func (s *FileService) OpenSession(ctx context.Context, sessionID string) (*Download, error) {
	a, err := s.reassembler.Prepare(ctx, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, chunk.ErrSessionNotFound):
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		case errors.Is(err, chunk.ErrChunkUnavailable):
			return nil, err
		case errors.Is(err, chunk.ErrInconsistentSession):
			return nil, fmt.Errorf("%w: %w", ErrInconsistentSession, err)
		}
		return nil, fmt.Errorf("подготовка сборки сессии %s: %w", sessionID, err)
	}
	return newDownload(a.Filename, a.Size, a.Stream, a.Close), nil
}

// --- Листинг и состояние сессий ---

// List возвращает листинг папки (nil — корень).
func (s *FileService) List(ctx context.Context, folderID *string) ([]model.ListingEntry, error) {
	if folderID != nil {
		if _, err := s.folders.GetByID(ctx, *folderID); err != nil {
			return nil, s.mapRepoError(err, "folder_id")
		}
	}
	entries, err := s.files.ListTopLevel(ctx, folderID)
	if err != nil {
		return nil, s.mapRepoError(err, "folder_id")
	}
	return entries, nil
}

// SessionState возвращает количество сохранённых и ожидаемых чанков.
func (s *FileService) SessionState(ctx context.Context, sessionID string) (model.SessionState, error) {
	st, err := s.files.SessionState(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.SessionState{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return model.SessionState{}, err
	}
	return st, nil
}

// --- Публикация ---

// ToggleShare переключает публичность файла. Для чанкованного файла
// переключается chunk 0 сессии, к какому бы чанку ни пришёл запрос.
func (s *FileService) ToggleShare(ctx context.Context, fileID string) (*model.FileRecord, error) {
	rec, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, s.mapRepoError(err, "file_id")
	}
	if rec.IsChunked && !rec.IsFirstChunk() {
		sessionID := rec.SessionID()
		rec, err = s.files.FindFirstChunk(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: chunk 0 сессии %s не сохранён", ErrNotFound, sessionID)
			}
			return nil, err
		}
	}

	updated, err := s.files.ToggleShare(ctx, rec.ID, uuid.NewString())
	if err != nil {
		return nil, s.mapRepoError(err, "file_id")
	}
	s.logger.Info("Публичность файла изменена",
		slog.String("file_id", updated.ID),
		slog.Bool("is_public", updated.IsPublic),
	)
	return updated, nil
}

// ResolvePublic возвращает целый файл по токену публичной ссылки.
// Для чанкованных файлов публичный доступ не поддерживается.
func (s *FileService) ResolvePublic(ctx context.Context, token string) (*model.FileRecord, error) {
	rec, err := s.files.FindByShareToken(ctx, token)
	if err != nil {
		return nil, s.mapRepoError(err, "token")
	}
	if rec.IsChunked {
		return nil, fmt.Errorf("%w: публичный доступ к файлу из чанков", ErrNotImplemented)
	}
	return rec, nil
}

// --- Вспомогательные функции ---

// checkFolder проверяет, что папка существует.
func (s *FileService) checkFolder(ctx context.Context, field string, folderID *string) error {
	if folderID == nil {
		return nil
	}
	if _, err := s.folders.GetByID(ctx, *folderID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fieldError(field, "папка %s не найдена", *folderID)
		}
		return fmt.Errorf("проверка папки: %w", err)
	}
	return nil
}

// mapRepoError переводит ошибки репозитория в ошибки сервиса.
func (s *FileService) mapRepoError(err error, field string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, repository.ErrInvalidReference):
		return fieldError(field, "ссылка на несуществующую папку")
	}
	return err
}

// mapChunkError переводит *chunk.ChunkError в ошибку сервиса,
// сохраняя ChunkError в цепочке для индекса упавшего чанка.
func (s *FileService) mapChunkError(err error) error {
	var ce *chunk.ChunkError
	if !errors.As(err, &ce) {
		if errors.Is(err, chunk.ErrInvalidInput) {
			return fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return err
	}
	switch {
	case errors.Is(err, chunk.ErrChunkTooLarge), errors.Is(err, blob.ErrTooLarge):
		return fmt.Errorf("%w: %w", ErrPayloadTooLarge, err)
	case errors.Is(err, chunk.ErrInvalidInput):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, repository.ErrInvalidReference):
		return fieldError("parent_folder_id", "ссылка на несуществующую папку")
	case ce.Stage == chunk.StageStore:
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return err
}
