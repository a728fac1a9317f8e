// routes.go — таблица маршрутов API и привязка параметров пути/запроса.
// Построено по образцу chi-server из oapi-codegen: ServerInterface описывает
// операции, ServerInterfaceWrapper разбирает параметры через oapi-codegen/runtime.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// FileID — идентификатор записи файла в пути.
type FileID = openapi_types.UUID

// ListFilesParams — параметры GET /api/v1/files.
type ListFilesParams struct {
	// FolderID — папка листинга: "root" или отсутствие — корень
	FolderID *string
}

// DownloadFileParams — параметры GET /api/v1/files/{file_id}/download.
type DownloadFileParams struct {
	// Token — токен публичной ссылки (вместо JWT)
	Token *string
}

// ListFoldersParams — параметры GET /api/v1/folders.
type ListFoldersParams struct {
	ParentID *string
}

// UploadLargeParams — параметры POST /api/v1/files/upload-large.
type UploadLargeParams struct {
	Filename       *string
	ParentFolderID *string
}

// ServerInterface — операции HTTP API tgvault.
type ServerInterface interface {
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/auth/login)
	Login(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/files/upload)
	UploadFile(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/files/upload-chunk)
	UploadChunk(w http.ResponseWriter, r *http.Request)
	// (POST /api/v1/files/upload-large)
	UploadLarge(w http.ResponseWriter, r *http.Request, params UploadLargeParams)
	// (GET /api/v1/files)
	ListFiles(w http.ResponseWriter, r *http.Request, params ListFilesParams)
	// (GET /api/v1/files/{file_id}/download)
	DownloadFile(w http.ResponseWriter, r *http.Request, fileID FileID, params DownloadFileParams)
	// (GET /api/v1/sessions/{session_id})
	GetSession(w http.ResponseWriter, r *http.Request, sessionID string)
	// (GET /api/v1/sessions/{session_id}/download)
	DownloadSession(w http.ResponseWriter, r *http.Request, sessionID string)
	// (PUT /api/v1/share/{file_id})
	ToggleShare(w http.ResponseWriter, r *http.Request, fileID FileID)
	// (GET /api/v1/public/{token})
	GetPublic(w http.ResponseWriter, r *http.Request, token string)
	// (GET /api/v1/folders)
	ListFolders(w http.ResponseWriter, r *http.Request, params ListFoldersParams)
	// (POST /api/v1/folders)
	CreateFolder(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError — параметр запроса не разобран.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("некорректный формат параметра %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// ServerInterfaceWrapper разбирает параметры и вызывает ServerInterface.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func bindPath(r *http.Request, name string, dest any) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return &InvalidParamFormatError{ParamName: name, Err: err}
	}
	return nil
}

func bindQuery(r *http.Request, name string, dest any) error {
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dest); err != nil {
		return &InvalidParamFormatError{ParamName: name, Err: err}
	}
	return nil
}

// UploadLarge operation middleware
func (siw *ServerInterfaceWrapper) UploadLarge(w http.ResponseWriter, r *http.Request) {
	var params UploadLargeParams
	if err := bindQuery(r, "filename", &params.Filename); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	if err := bindQuery(r, "parent_folder_id", &params.ParentFolderID); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	siw.Handler.UploadLarge(w, r, params)
}

// ListFiles operation middleware
func (siw *ServerInterfaceWrapper) ListFiles(w http.ResponseWriter, r *http.Request) {
	var params ListFilesParams
	if err := bindQuery(r, "folder_id", &params.FolderID); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	siw.Handler.ListFiles(w, r, params)
}

// DownloadFile operation middleware
func (siw *ServerInterfaceWrapper) DownloadFile(w http.ResponseWriter, r *http.Request) {
	var fileID FileID
	if err := bindPath(r, "file_id", &fileID); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	var params DownloadFileParams
	if err := bindQuery(r, "token", &params.Token); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	siw.Handler.DownloadFile(w, r, fileID, params)
}

// GetSession operation middleware
func (siw *ServerInterfaceWrapper) GetSession(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if err := bindPath(r, "session_id", &sessionID); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	siw.Handler.GetSession(w, r, sessionID)
}

// DownloadSession operation middleware
func (siw *ServerInterfaceWrapper) DownloadSession(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if err := bindPath(r, "session_id", &sessionID); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	siw.Handler.DownloadSession(w, r, sessionID)
}

// ToggleShare operation middleware
func (siw *ServerInterfaceWrapper) ToggleShare(w http.ResponseWriter, r *http.Request) {
	var fileID FileID
	if err := bindPath(r, "file_id", &fileID); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	siw.Handler.ToggleShare(w, r, fileID)
}

// GetPublic operation middleware
func (siw *ServerInterfaceWrapper) GetPublic(w http.ResponseWriter, r *http.Request) {
	var token string
	if err := bindPath(r, "token", &token); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	siw.Handler.GetPublic(w, r, token)
}

// ListFolders operation middleware
func (siw *ServerInterfaceWrapper) ListFolders(w http.ResponseWriter, r *http.Request) {
	var params ListFoldersParams
	if err := bindQuery(r, "parent_id", &params.ParentID); err != nil {
		siw.ErrorHandlerFunc(w, r, err)
		return
	}
	siw.Handler.ListFolders(w, r, params)
}

// HandlerFromMux регистрирует все маршруты API на роутере r.
// Ошибки привязки параметров возвращаются как 400 VALIDATION_ERROR с именем поля.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	wrapper := ServerInterfaceWrapper{
		Handler:          si,
		ErrorHandlerFunc: paramErrorHandler,
	}

	r.Get("/health/live", si.HealthLive)
	r.Get("/health/ready", si.HealthReady)
	r.Get("/metrics", si.GetMetrics)

	r.Post("/api/v1/auth/login", si.Login)

	r.Post("/api/v1/files/upload", si.UploadFile)
	r.Post("/api/v1/files/upload-chunk", si.UploadChunk)
	r.Post("/api/v1/files/upload-large", wrapper.UploadLarge)
	r.Get("/api/v1/files", wrapper.ListFiles)
	r.Get("/api/v1/files/{file_id}/download", wrapper.DownloadFile)

	r.Get("/api/v1/sessions/{session_id}", wrapper.GetSession)
	r.Get("/api/v1/sessions/{session_id}/download", wrapper.DownloadSession)

	r.Put("/api/v1/share/{file_id}", wrapper.ToggleShare)
	r.Get("/api/v1/public/{token}", wrapper.GetPublic)

	r.Get("/api/v1/folders", wrapper.ListFolders)
	r.Post("/api/v1/folders", si.CreateFolder)

	return r
}
