// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput — некорректные или отсутствующие поля запроса.
	ErrInvalidInput = errors.New("некорректные входные данные")
	// ErrPayloadTooLarge — размер превышает настроенный лимит.
	ErrPayloadTooLarge = errors.New("превышен допустимый размер")
	// ErrUpstreamUnavailable — ошибка записи или чтения Blob Backend.
	ErrUpstreamUnavailable = errors.New("хранилище недоступно")
	// ErrSessionNotFound — у сессии нет ни одного чанка.
	ErrSessionNotFound = errors.New("сессия загрузки не найдена")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — чанк с таким индексом в сессии уже сохранён.
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrNotImplemented — операция не поддерживается для данного ресурса.
	ErrNotImplemented = errors.New("операция не поддерживается")
	// ErrUnauthorized — неверные учётные данные.
	ErrUnauthorized = errors.New("неверные учётные данные")
	// ErrInconsistentSession — чанки сессии противоречат друг другу.
	ErrInconsistentSession = errors.New("сессия загрузки повреждена")
)

// FieldError — ошибка валидации конкретного поля запроса.
// errors.Is(err, ErrInvalidInput) возвращает true.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is сопоставляет ошибку с ErrInvalidInput.
func (e *FieldError) Is(target error) bool {
	return target == ErrInvalidInput
}

func fieldError(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}
