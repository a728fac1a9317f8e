package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bigkaa/tgvault/internal/domain/model"
	"github.com/bigkaa/tgvault/internal/repository"
)

// maxFolderNameLen — максимальная длина имени папки в символах.
const maxFolderNameLen = 255

// FolderService — сервис папок.
type FolderService struct {
	folders repository.FolderRepository
	logger  *slog.Logger
}

// NewFolderService создаёт сервис папок.
func NewFolderService(folders repository.FolderRepository, logger *slog.Logger) *FolderService {
	return &FolderService{
		folders: folders,
		logger:  logger.With(slog.String("component", "folder_service")),
	}
}

// Create создаёт папку. parentID nil — папка в корне.
func (s *FolderService) Create(ctx context.Context, name string, parentID *string) (*model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fieldError("name", "обязательное поле")
	}
	if utf8.RuneCountInString(name) > maxFolderNameLen {
		return nil, fieldError("name", "длина больше %d символов", maxFolderNameLen)
	}

	f := &model.Folder{Name: name, ParentID: parentID}
	if err := s.folders.Create(ctx, f); err != nil {
		if errors.Is(err, repository.ErrInvalidReference) {
			return nil, fieldError("parent_id", "папка %s не найдена", *parentID)
		}
		return nil, fmt.Errorf("создание папки: %w", err)
	}

	s.logger.Info("Папка создана",
		slog.String("folder_id", f.ID),
		slog.String("name", f.Name),
	)
	return f, nil
}

// List возвращает дочерние папки. parentID nil — папки корня.
func (s *FolderService) List(ctx context.Context, parentID *string) ([]*model.Folder, error) {
	if parentID != nil {
		if _, err := s.folders.GetByID(ctx, *parentID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("проверка папки: %w", err)
		}
	}
	return s.folders.ListByParent(ctx, parentID)
}
