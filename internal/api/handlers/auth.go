package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/tgvault/internal/api/errors"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login обрабатывает POST /api/v1/auth/login.
// При отключённой аутентификации — 501.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		apierrors.NotImplemented(w, "Аутентификация отключена")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	res, err := h.auth.Login(req.Email, req.Password)
	if err != nil {
		h.logger.Warn("Неудачная попытка входа", slog.String("remote_addr", r.RemoteAddr))
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   res.ExpiresAt,
	})
}
