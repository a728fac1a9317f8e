package handlers

import (
	"time"

	"github.com/bigkaa/tgvault/internal/chunk"
	"github.com/bigkaa/tgvault/internal/domain/model"
)

// fileResponse — запись файла или чанка.
type fileResponse struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	OriginalFileSize int64     `json:"original_file_size"`
	TotalFileSize    *int64    `json:"total_file_size,omitempty"`
	IsChunked        bool      `json:"is_chunked"`
	UploadSessionID  *string   `json:"upload_session_id,omitempty"`
	ChunkIndex       *int      `json:"chunk_index,omitempty"`
	TotalChunks      *int      `json:"total_chunks,omitempty"`
	ParentFolderID   *string   `json:"parent_folder_id"`
	IsPublic         bool      `json:"is_public"`
	PublicShareToken *string   `json:"public_share_token,omitempty"`
	BlobHandle       string    `json:"blob_handle,omitempty"`
	BlobMessageID    *int64    `json:"telegram_message_id,omitempty"`
	UploadDate       time.Time `json:"upload_date"`
}

// toFileResponse преобразует доменную запись в ответ.
// Ссылка в бэкенде отдаётся только в ответах на загрузку.
func toFileResponse(f *model.FileRecord, withBlob bool) fileResponse {
	resp := fileResponse{
		ID:               f.ID,
		OriginalFilename: f.OriginalFilename,
		OriginalFileSize: f.OriginalFileSize,
		TotalFileSize:    f.TotalFileSize,
		IsChunked:        f.IsChunked,
		UploadSessionID:  f.UploadSessionID,
		ChunkIndex:       f.ChunkIndex,
		TotalChunks:      f.TotalChunks,
		ParentFolderID:   f.ParentFolderID,
		IsPublic:         f.IsPublic,
		PublicShareToken: f.PublicShareToken,
		UploadDate:       f.UploadDate,
	}
	if withBlob {
		resp.BlobHandle = f.BlobHandle
		resp.BlobMessageID = f.BlobMessageID
	}
	return resp
}

// listingItem — элемент листинга: целый файл или агрегат сессии.
type listingItem struct {
	Kind             model.EntryKind `json:"kind"`
	ID               string          `json:"id"`
	Filename         string          `json:"filename"`
	Size             int64           `json:"size"`
	ParentFolderID   *string         `json:"parent_folder_id"`
	IsPublic         bool            `json:"is_public"`
	PublicShareToken *string         `json:"public_share_token,omitempty"`
	UploadDate       time.Time       `json:"upload_date"`
	// Только для chunked_aggregate
	SessionID       string `json:"upload_session_id,omitempty"`
	TotalChunks     int    `json:"total_chunks,omitempty"`
	PersistedChunks int    `json:"persisted_chunks,omitempty"`
	Complete        *bool  `json:"complete,omitempty"`
}

type listingResponse struct {
	Items []listingItem `json:"items"`
	Total int           `json:"total"`
}

func toListingItem(e model.ListingEntry) listingItem {
	if e.Kind == model.EntryChunkedAggregate && e.Aggregate != nil {
		a := e.Aggregate
		complete := a.PersistedChunks == a.TotalChunks
		return listingItem{
			Kind:             e.Kind,
			ID:               a.FirstChunkID,
			Filename:         a.Filename,
			Size:             a.TotalFileSize,
			ParentFolderID:   a.ParentFolderID,
			IsPublic:         a.IsPublic,
			PublicShareToken: a.PublicShareToken,
			UploadDate:       a.UploadDate,
			SessionID:        a.SessionID,
			TotalChunks:      a.TotalChunks,
			PersistedChunks:  a.PersistedChunks,
			Complete:         &complete,
		}
	}
	f := e.Single
	return listingItem{
		Kind:             model.EntrySingle,
		ID:               f.ID,
		Filename:         f.OriginalFilename,
		Size:             f.OriginalFileSize,
		ParentFolderID:   f.ParentFolderID,
		IsPublic:         f.IsPublic,
		PublicShareToken: f.PublicShareToken,
		UploadDate:       f.UploadDate,
	}
}

// sessionResponse — состояние сессии загрузки.
type sessionResponse struct {
	SessionID       string `json:"upload_session_id"`
	Filename        string `json:"original_filename"`
	TotalChunks     int    `json:"total_chunks"`
	PersistedChunks int    `json:"persisted_chunks"`
	MissingIndices  []int  `json:"missing_chunk_indices"`
	PersistedBytes  int64  `json:"persisted_bytes"`
	Complete        bool   `json:"complete"`
}

func toSessionResponse(st model.SessionState) sessionResponse {
	missing := st.MissingIndices
	if missing == nil {
		missing = []int{}
	}
	return sessionResponse{
		SessionID:       st.SessionID,
		Filename:        st.Filename,
		TotalChunks:     st.TotalChunks,
		PersistedChunks: st.PersistedChunks,
		MissingIndices:  missing,
		PersistedBytes:  st.PersistedBytes,
		Complete:        st.Complete,
	}
}

// largeUploadResponse — результат серверной загрузки с разбиением.
type largeUploadResponse struct {
	SessionID   string         `json:"upload_session_id"`
	TotalChunks int            `json:"total_chunks"`
	Chunks      []fileResponse `json:"chunks"`
}

func toLargeUploadResponse(res *chunk.Result) largeUploadResponse {
	chunks := make([]fileResponse, 0, len(res.Records))
	for _, rec := range res.Records {
		chunks = append(chunks, toFileResponse(rec, true))
	}
	return largeUploadResponse{SessionID: res.SessionID, TotalChunks: res.TotalChunks, Chunks: chunks}
}

// shareResponse — состояние публикации после переключения.
type shareResponse struct {
	FileID           string  `json:"file_id"`
	IsPublic         bool    `json:"is_public"`
	PublicShareToken *string `json:"public_share_token,omitempty"`
	PublicURL        string  `json:"public_url,omitempty"`
}

// folderResponse — папка.
type folderResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  *string   `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toFolderResponse(f *model.Folder) folderResponse {
	return folderResponse{
		ID:        f.ID,
		Name:      f.Name,
		ParentID:  f.ParentID,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// loginResponse — выданный токен доступа.
type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}
