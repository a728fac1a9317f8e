// Пакет fs — Blob Backend на локальном диске для разработки и тестовых стендов.
// Объект — файл в каталоге данных, handle — имя файла.
// Запись: temp файл → fsync → atomic rename, поэтому handle выдаётся
// только для полностью записанного объекта.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/bigkaa/tgvault/internal/blob"
)

// Store — реализация blob.Backend поверх каталога на диске.
type Store struct {
	dataDir       string
	maxObjectSize int64
	logger        *slog.Logger
}

// New создаёт Store. Каталог данных создаётся, если его нет.
func New(dataDir string, maxObjectSize int64, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &Store{
		dataDir:       dataDir,
		maxObjectSize: maxObjectSize,
		logger:        logger.With(slog.String("component", "fs_backend")),
	}, nil
}

// MaxObjectSize возвращает лимит на размер объекта.
func (s *Store) MaxObjectSize() int64 {
	return s.maxObjectSize
}

// Store записывает ровно size байт из r в новый файл.
// Источник короче size — ошибка, файл не создаётся.
func (s *Store) Store(ctx context.Context, r io.Reader, size int64, name string) (blob.Handle, error) {
	if size > s.maxObjectSize {
		return blob.Handle{}, &blob.StoreError{
			Name: name,
			Err:  fmt.Errorf("%w: %s > %s", blob.ErrTooLarge, units.BytesSize(float64(size)), units.BytesSize(float64(s.maxObjectSize))),
		}
	}

	handleID := storageName(name)
	fullPath := filepath.Join(s.dataDir, handleID)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return blob.Handle{}, &blob.StoreError{Name: name, Err: fmt.Errorf("создание временного файла: %w", err)}
	}
	fail := func(err error) (blob.Handle, error) {
		f.Close()
		os.Remove(tmpPath)
		return blob.Handle{}, &blob.StoreError{Name: name, Err: err}
	}

	start := time.Now()
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: io.LimitReader(r, size)})
	if err != nil {
		return fail(fmt.Errorf("запись данных: %w", err))
	}
	if n != size {
		return fail(fmt.Errorf("источник короче заявленного: %d из %d байт", n, size))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("fsync: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return blob.Handle{}, &blob.StoreError{Name: name, Err: fmt.Errorf("закрытие файла: %w", err)}
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return blob.Handle{}, &blob.StoreError{Name: name, Err: fmt.Errorf("атомарное переименование: %w", err)}
	}

	s.logger.Debug("Объект записан",
		slog.String("handle", handleID),
		slog.String("size", units.BytesSize(float64(size))),
		slog.Duration("duration", time.Since(start)),
	)
	return blob.Handle{ID: handleID}, nil
}

// Resolve открывает файл объекта на чтение.
func (s *Store) Resolve(_ context.Context, handleID string) (io.ReadCloser, error) {
	// handle — только имя файла внутри каталога данных
	if handleID == "" || handleID != filepath.Base(handleID) || strings.HasPrefix(handleID, ".") {
		return nil, &blob.ResolveError{HandleID: handleID, Err: fmt.Errorf("%w: некорректный handle", blob.ErrNotFound)}
	}

	f, err := os.Open(filepath.Join(s.dataDir, handleID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &blob.ResolveError{HandleID: handleID, Err: blob.ErrNotFound}
		}
		return nil, &blob.ResolveError{HandleID: handleID, Err: fmt.Errorf("открытие файла: %w", err)}
	}
	return f, nil
}

// Ping проверяет, что каталог данных доступен.
func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(s.dataDir)
	if err != nil {
		return fmt.Errorf("каталог данных %s: %w", s.dataDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является директорией", s.dataDir)
	}
	return nil
}

// storageName генерирует имя файла: {name}_{timestamp}_{uuid}.{ext}
func storageName(name string) string {
	ext := filepath.Ext(name)
	base := sanitize(strings.TrimSuffix(name, ext))
	if len(base) > 50 {
		base = base[:50]
	}

	ts := time.Now().UTC().Format("20060102150405")
	id := uuid.NewString()

	if raw := strings.TrimPrefix(ext, "."); raw != "" {
		return fmt.Sprintf("%s_%s_%s.%s", base, ts, id, sanitize(raw))
	}
	return fmt.Sprintf("%s_%s_%s", base, ts, id)
}

// sanitize оставляет только латиницу, кириллицу, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' ||
			(r >= 0x0400 && r <= 0x04FF) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

// ctxReader прекращает чтение после отмены контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ blob.Backend = (*Store)(nil)
