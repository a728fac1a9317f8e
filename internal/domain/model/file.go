// Пакет model — доменные модели tgvault.
// FileRecord — маппинг таблицы files: один целый файл или один чанк
// большого файла, загруженного по частям.
package model

import "time"

// FileRecord — запись файла или чанка в таблице files.
//
// Для целого файла заполнены только BlobHandle и размеры, поля сессии пусты.
// Для чанкованного файла N записей разделяют один UploadSessionID,
// а ChunkIndex образует непрерывный диапазон [0, TotalChunks).
type FileRecord struct {
	// ID — UUID записи (назначается системой)
	ID string
	// OriginalFilename — оригинальное имя файла, одинаковое для всех чанков сессии
	OriginalFilename string
	// OriginalFileSize — размер байтов, хранящихся в этой записи (для чанка — размер чанка)
	OriginalFileSize int64
	// TotalFileSize — логический размер файла. Для чанков заполняется только у chunk 0.
	TotalFileSize *int64
	// BlobHandle — непрозрачная ссылка в Blob Backend (Telegram file_id или ключ S3)
	BlobHandle string
	// BlobMessageID — идентификатор сообщения в канале (только для Telegram, информационное поле)
	BlobMessageID *int64
	// IsChunked — запись является чанком большого файла
	IsChunked bool
	// UploadSessionID — идентификатор сессии загрузки (только для чанков)
	UploadSessionID *string
	// ChunkIndex — позиция чанка в сессии, начиная с 0
	ChunkIndex *int
	// TotalChunks — ожидаемое количество чанков в сессии
	TotalChunks *int
	// ParentFolderID — папка-владелец (nil — корень)
	ParentFolderID *string
	// IsPublic — файл доступен по публичной ссылке (для чанков — только chunk 0)
	IsPublic bool
	// PublicShareToken — токен публичной ссылки
	PublicShareToken *string
	// UploadDate — время создания записи, не изменяется
	UploadDate time.Time
}

// IsFirstChunk проверяет, что запись — chunk 0 чанкованного файла.
func (f *FileRecord) IsFirstChunk() bool {
	return f.IsChunked && f.ChunkIndex != nil && *f.ChunkIndex == 0
}

// Index возвращает индекс чанка или -1 для целого файла.
func (f *FileRecord) Index() int {
	if f.ChunkIndex == nil {
		return -1
	}
	return *f.ChunkIndex
}

// SessionID возвращает идентификатор сессии или пустую строку.
func (f *FileRecord) SessionID() string {
	if f.UploadSessionID == nil {
		return ""
	}
	return *f.UploadSessionID
}

// LogicalSize возвращает логический размер файла:
// TotalFileSize, если задан, иначе собственный размер записи.
func (f *FileRecord) LogicalSize() int64 {
	if f.TotalFileSize != nil {
		return *f.TotalFileSize
	}
	return f.OriginalFileSize
}
