package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/tgvault/internal/domain/model"
)

const folderColumns = `id, name, parent_id, created_at, updated_at`

// FolderRepository — доступ к таблице folders.
type FolderRepository interface {
	// Create создаёт папку, заполняя ID и даты.
	Create(ctx context.Context, f *model.Folder) error
	// GetByID возвращает папку по UUID.
	GetByID(ctx context.Context, id string) (*model.Folder, error)
	// ListByParent возвращает дочерние папки (nil — корень) по дате создания.
	ListByParent(ctx context.Context, parentID *string) ([]*model.Folder, error)
}

type folderRepo struct {
	db DBTX
}

// NewFolderRepository создаёт репозиторий папок.
func NewFolderRepository(db DBTX) FolderRepository {
	return &folderRepo{db: db}
}

func (r *folderRepo) Create(ctx context.Context, f *model.Folder) error {
	query := `
		INSERT INTO folders (name, parent_id)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, f.Name, f.ParentID).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) || isInvalidText(err) {
			return fmt.Errorf("%w: родительская папка", ErrInvalidReference)
		}
		return fmt.Errorf("ошибка создания папки: %w", err)
	}
	return nil
}

func (r *folderRepo) GetByID(ctx context.Context, id string) (*model.Folder, error) {
	query := fmt.Sprintf(`SELECT %s FROM folders WHERE id = $1`, folderColumns)

	f := &model.Folder{}
	err := r.db.QueryRow(ctx, query, id).Scan(&f.ID, &f.Name, &f.ParentID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения папки: %w", err)
	}
	return f, nil
}

func (r *folderRepo) ListByParent(ctx context.Context, parentID *string) ([]*model.Folder, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM folders
		WHERE parent_id IS NOT DISTINCT FROM $1
		ORDER BY created_at ASC, id`, folderColumns)

	rows, err := r.db.Query(ctx, query, parentID)
	if err != nil {
		if isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка выборки папок: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Folder, 0)
	for rows.Next() {
		f := &model.Folder{}
		if err := rows.Scan(&f.ID, &f.Name, &f.ParentID, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования папки: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации папок: %w", err)
	}
	return result, nil
}
