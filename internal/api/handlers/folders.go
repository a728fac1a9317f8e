package handlers

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/bigkaa/tgvault/internal/api/errors"
)

// createFolderRequest — тело POST /api/v1/folders.
type createFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

// ListFolders обрабатывает GET /api/v1/folders.
func (h *APIHandler) ListFolders(w http.ResponseWriter, r *http.Request, params ListFoldersParams) {
	folders, err := h.folders.List(r.Context(), optionalID(params.ParentID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]folderResponse, 0, len(folders))
	for _, f := range folders {
		items = append(items, toFolderResponse(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// CreateFolder обрабатывает POST /api/v1/folders.
func (h *APIHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req createFolderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	folder, err := h.folders.Create(r.Context(), req.Name, optionalID(req.ParentID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFolderResponse(folder))
}
