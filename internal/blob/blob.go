// Пакет blob — контракт Blob Backend: хранилище непрозрачных байтов,
// которое выдаёт handle на запись и отдаёт поток байтов по handle.
// Реализации: blob/telegram (Bot API), blob/s3 (S3-совместимое хранилище)
// и blob/fs (локальный диск).
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Handle — непрозрачная ссылка на объект в бэкенде.
type Handle struct {
	// ID — идентификатор объекта (Telegram file_id или ключ S3)
	ID string
	// MessageID — идентификатор сообщения в канале (только Telegram, 0 — нет)
	MessageID int64
}

// Backend — минимальная поверхность хранилища, от которой зависит ядро.
type Backend interface {
	// Store сохраняет size байт из r одним объектом под именем name.
	// Загрузка однократная и не возобновляемая.
	Store(ctx context.Context, r io.Reader, size int64, name string) (Handle, error)
	// Resolve возвращает поток байтов объекта. Вызывающий код обязан закрыть поток.
	Resolve(ctx context.Context, handleID string) (io.ReadCloser, error)
	// MaxObjectSize — лимит бэкенда на размер одного объекта.
	MaxObjectSize() int64
}

var (
	// ErrNotFound — объект по handle не существует или истёк.
	ErrNotFound = errors.New("blob not found")
	// ErrTooLarge — объект превышает лимит бэкенда.
	ErrTooLarge = errors.New("blob exceeds backend object size limit")
)

// StoreError — ошибка записи объекта в бэкенд.
type StoreError struct {
	Name string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %q: %v", e.Name, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ResolveError — ошибка получения объекта. Покрывает обе фазы
// (поиск метаданных и скачивание), вызывающему коду фаза не видна.
type ResolveError struct {
	HandleID string
	Err      error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.HandleID, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ChunkName возвращает имя объекта для чанка: "<имя>_chunk_<индекс>".
func ChunkName(filename string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", filename, index)
}
