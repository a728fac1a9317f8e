package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/tgvault/internal/domain/model"
)

// fileColumns — список столбцов таблицы files для SELECT-запросов.
const fileColumns = `id, original_filename, original_file_size, total_file_size,
	blob_handle, blob_message_id, is_chunked, upload_session_id, chunk_index,
	total_chunks, parent_folder_id, is_public, public_share_token, upload_date`

// FileRepository — Session Catalog: записи целых файлов и чанков.
type FileRepository interface {
	// Insert сохраняет запись, заполняя ID и UploadDate.
	Insert(ctx context.Context, rec *model.FileRecord) error
	// GetByID возвращает запись по UUID.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// ListChunks возвращает чанки сессии по возрастанию chunk_index.
	ListChunks(ctx context.Context, sessionID string) ([]*model.FileRecord, error)
	// FindFirstChunk возвращает chunk 0 сессии.
	FindFirstChunk(ctx context.Context, sessionID string) (*model.FileRecord, error)
	// ListTopLevel возвращает листинг папки (nil — корень): целые файлы
	// и по одному агрегату на сессию, новые первыми.
	ListTopLevel(ctx context.Context, folderID *string) ([]model.ListingEntry, error)
	// SessionState возвращает сохранённые и ожидаемые чанки сессии.
	SessionState(ctx context.Context, sessionID string) (model.SessionState, error)
	// ToggleShare атомарно переключает is_public; при включении
	// устанавливает token, при выключении очищает токен.
	ToggleShare(ctx context.Context, id, token string) (*model.FileRecord, error)
	// FindByShareToken возвращает публичную запись по токену.
	FindByShareToken(ctx context.Context, token string) (*model.FileRecord, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// Insert сохраняет запись. Повтор (session, chunk_index) → ErrConflict,
// несуществующая папка → ErrInvalidReference.
func (r *fileRepo) Insert(ctx context.Context, rec *model.FileRecord) error {
	query := `
		INSERT INTO files (
			original_filename, original_file_size, total_file_size,
			blob_handle, blob_message_id, is_chunked, upload_session_id, chunk_index,
			total_chunks, parent_folder_id, is_public, public_share_token
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, upload_date`

	err := r.db.QueryRow(ctx, query,
		rec.OriginalFilename, rec.OriginalFileSize, rec.TotalFileSize,
		rec.BlobHandle, rec.BlobMessageID, rec.IsChunked, rec.UploadSessionID, rec.ChunkIndex,
		rec.TotalChunks, rec.ParentFolderID, rec.IsPublic, rec.PublicShareToken,
	).Scan(&rec.ID, &rec.UploadDate)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: чанк %d сессии %s уже сохранён", ErrConflict, rec.Index(), rec.SessionID())
		case isForeignKeyViolation(err), isInvalidText(err):
			return fmt.Errorf("%w: папка", ErrInvalidReference)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

// GetByID возвращает запись по UUID или ErrNotFound.
func (r *fileRepo) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, fileColumns)
	f, err := scanFile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// ListChunks возвращает чанки сессии по возрастанию chunk_index.
func (r *fileRepo) ListChunks(ctx context.Context, sessionID string) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM files
		WHERE is_chunked AND upload_session_id = $1
		ORDER BY chunk_index ASC`, fileColumns)

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки чанков: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования чанка: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации чанков: %w", err)
	}
	return result, nil
}

// FindFirstChunk возвращает chunk 0 сессии или ErrNotFound.
func (r *fileRepo) FindFirstChunk(ctx context.Context, sessionID string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM files
		WHERE is_chunked AND upload_session_id = $1 AND chunk_index = 0`, fileColumns)

	f, err := scanFile(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения первого чанка: %w", err)
	}
	return f, nil
}

// ListTopLevel возвращает листинг папки.
// Каждая сессия представлена одной строкой — своим chunk 0 — с количеством
// и суммарным размером сохранённых чанков; сессия без chunk 0 в листинг не попадает.
func (r *fileRepo) ListTopLevel(ctx context.Context, folderID *string) ([]model.ListingEntry, error) {
	query := fmt.Sprintf(`
		SELECT %s,
			COALESCE(s.persisted_chunks, 0), COALESCE(s.persisted_size, 0)
		FROM files f
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS persisted_chunks, SUM(c.original_file_size)::bigint AS persisted_size
			FROM files c
			WHERE f.is_chunked AND c.is_chunked AND c.upload_session_id = f.upload_session_id
		) s ON true
		WHERE f.parent_folder_id IS NOT DISTINCT FROM $1
			AND (NOT f.is_chunked OR f.chunk_index = 0)
		ORDER BY f.upload_date DESC, f.id`, prefixed("f", fileColumns))

	rows, err := r.db.Query(ctx, query, folderID)
	if err != nil {
		if isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка выборки листинга: %w", err)
	}
	defer rows.Close()

	entries := make([]model.ListingEntry, 0)
	for rows.Next() {
		f := &model.FileRecord{}
		var (
			persisted     int
			persistedSize int64
		)
		if err := rows.Scan(append(fileDest(f), &persisted, &persistedSize)...); err != nil {
			return nil, fmt.Errorf("ошибка сканирования листинга: %w", err)
		}
		if f.IsChunked {
			entries = append(entries, model.NewAggregateEntry(f, persisted, persistedSize))
		} else {
			entries = append(entries, model.NewSingleEntry(f))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации листинга: %w", err)
	}
	return entries, nil
}

// SessionState возвращает состояние сессии или ErrNotFound, если чанков нет.
func (r *fileRepo) SessionState(ctx context.Context, sessionID string) (model.SessionState, error) {
	chunks, err := r.ListChunks(ctx, sessionID)
	if err != nil {
		return model.SessionState{}, err
	}
	if len(chunks) == 0 {
		return model.SessionState{}, ErrNotFound
	}
	return model.BuildSessionState(sessionID, chunks), nil
}

// ToggleShare переключает публичность одним UPDATE: в SET старое значение
// is_public видно справа, поэтому гонки двух переключений нет.
func (r *fileRepo) ToggleShare(ctx context.Context, id, token string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`
		UPDATE files
		SET is_public = NOT is_public,
			public_share_token = CASE WHEN is_public THEN NULL ELSE $2 END
		WHERE id = $1
		RETURNING %s`, fileColumns)

	f, err := scanFile(r.db.QueryRow(ctx, query, id, token))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows), isInvalidText(err):
			return nil, ErrNotFound
		case isUniqueViolation(err):
			return nil, fmt.Errorf("%w: токен публичной ссылки", ErrConflict)
		}
		return nil, fmt.Errorf("ошибка переключения публичности: %w", err)
	}
	return f, nil
}

// FindByShareToken возвращает публичную запись по токену или ErrNotFound.
func (r *fileRepo) FindByShareToken(ctx context.Context, token string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE public_share_token = $1 AND is_public`, fileColumns)
	f, err := scanFile(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска по токену: %w", err)
	}
	return f, nil
}

// fileDest возвращает указатели на поля в порядке fileColumns.
func fileDest(f *model.FileRecord) []any {
	return []any{
		&f.ID, &f.OriginalFilename, &f.OriginalFileSize, &f.TotalFileSize,
		&f.BlobHandle, &f.BlobMessageID, &f.IsChunked, &f.UploadSessionID, &f.ChunkIndex,
		&f.TotalChunks, &f.ParentFolderID, &f.IsPublic, &f.PublicShareToken, &f.UploadDate,
	}
}

// scanFile сканирует одну строку в FileRecord.
func scanFile(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	if err := row.Scan(fileDest(f)...); err != nil {
		return nil, err
	}
	return f, nil
}
