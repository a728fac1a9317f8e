package model

import "time"

// EntryKind — дискриминатор элемента листинга.
type EntryKind string

const (
	// EntrySingle — обычный (нечанкованный) файл
	EntrySingle EntryKind = "single"
	// EntryChunkedAggregate — чанкованный файл, представленный своим chunk 0
	EntryChunkedAggregate EntryKind = "chunked_aggregate"
)

// ListingEntry — элемент листинга папки.
// Ровно одно из полей Single / Aggregate заполнено в соответствии с Kind.
type ListingEntry struct {
	Kind      EntryKind
	Single    *FileRecord
	Aggregate *ChunkedAggregate
}

// UploadDate возвращает дату загрузки элемента (для сортировки).
func (e ListingEntry) UploadDate() time.Time {
	if e.Aggregate != nil {
		return e.Aggregate.UploadDate
	}
	if e.Single != nil {
		return e.Single.UploadDate
	}
	return time.Time{}
}

// ChunkedAggregate — синтезированное представление всей сессии чанков
// как одного файла, построенное по метаданным chunk 0.
type ChunkedAggregate struct {
	// SessionID — идентификатор сессии загрузки
	SessionID string
	// FirstChunkID — ID записи chunk 0 (используется для share toggle)
	FirstChunkID string
	// Filename — оригинальное имя файла
	Filename string
	// TotalFileSize — логический размер файла
	TotalFileSize int64
	// TotalChunks — ожидаемое количество чанков
	TotalChunks int
	// PersistedChunks — фактически сохранённые чанки
	PersistedChunks int
	// ParentFolderID — папка-владелец
	ParentFolderID *string
	// IsPublic / PublicShareToken — состояние публикации (авторитетно только на chunk 0)
	IsPublic         bool
	PublicShareToken *string
	// UploadDate — дата загрузки chunk 0
	UploadDate time.Time
}

// NewSingleEntry оборачивает целый файл в элемент листинга.
func NewSingleEntry(f *FileRecord) ListingEntry {
	return ListingEntry{Kind: EntrySingle, Single: f}
}

// NewAggregateEntry строит агрегированный элемент по chunk 0.
// persisted — количество сохранённых записей сессии, persistedSize — сумма
// их размеров; она становится логическим размером, если chunk 0 его не несёт.
func NewAggregateEntry(first *FileRecord, persisted int, persistedSize int64) ListingEntry {
	total := 0
	if first.TotalChunks != nil {
		total = *first.TotalChunks
	}
	size := persistedSize
	if first.TotalFileSize != nil {
		size = *first.TotalFileSize
	}
	return ListingEntry{
		Kind: EntryChunkedAggregate,
		Aggregate: &ChunkedAggregate{
			SessionID:        first.SessionID(),
			FirstChunkID:     first.ID,
			Filename:         first.OriginalFilename,
			TotalFileSize:    size,
			TotalChunks:      total,
			PersistedChunks:  persisted,
			ParentFolderID:   first.ParentFolderID,
			IsPublic:         first.IsPublic,
			PublicShareToken: first.PublicShareToken,
			UploadDate:       first.UploadDate,
		},
	}
}
