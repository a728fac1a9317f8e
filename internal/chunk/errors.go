package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput — некорректные параметры плана или чанка.
	ErrInvalidInput = errors.New("invalid input")
	// ErrChunkTooLarge — чанк больше настроенного размера чанка.
	ErrChunkTooLarge = errors.New("chunk exceeds configured chunk size")
	// ErrSessionNotFound — для сессии нет ни одной записи чанка.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrChunkUnavailable — чанк отсутствует или не читается из бэкенда.
	ErrChunkUnavailable = errors.New("chunk unavailable")
	// ErrInconsistentSession — метаданные сессии противоречат друг другу.
	ErrInconsistentSession = errors.New("inconsistent upload session")
)

// Стадии, на которых может упасть загрузка чанка.
const (
	StageStore   = "store"
	StagePersist = "persist"
)

// ChunkError — загрузка прервана на чанке Index.
// Чанки с меньшими индексами могли быть сохранены: сессия не откатывается.
type ChunkError struct {
	Index int
	Stage string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// ChunkUnavailableError — чанк Index сессии не может быть собран.
// Сборка без этого чанка не выполняется.
type ChunkUnavailableError struct {
	SessionID string
	Index     int
	Reason    string
	Err       error
}

func (e *ChunkUnavailableError) Error() string {
	msg := fmt.Sprintf("session %s: chunk %d unavailable: %s", e.SessionID, e.Index, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is сопоставляет ошибку с ErrChunkUnavailable.
func (e *ChunkUnavailableError) Is(target error) bool {
	return target == ErrChunkUnavailable
}

func (e *ChunkUnavailableError) Unwrap() error { return e.Err }
