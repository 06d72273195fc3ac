package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sipico/checklist-bff/internal/apierr"
	"github.com/sipico/checklist-bff/internal/logging"
	"github.com/sipico/checklist-bff/internal/metrics"
)

// SetLogLevelRequest is the request body for POST /api/loglevel
type SetLogLevelRequest struct {
	Level string `json:"level"`
}

// HandleSetLogLevel changes runtime log level
// POST /api/loglevel
// Body: {"level": "debug|info|warn|error"}
func (h *Handler) HandleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req SetLogLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, http.StatusBadRequest, apierr.CodeInvalidRequest, "invalid JSON body")
		return
	}

	level, err := logging.ParseLevel(req.Level)
	if err != nil {
		apierr.WriteError(w, http.StatusBadRequest, apierr.CodeInvalidRequest, "invalid level (must be: debug, info, warn, error)")
		return
	}

	previous := h.logLevel.Level()
	h.logLevel.Set(level)
	h.logger.Info("log level changed", "old_level", previous.String(), "new_level", level.String())

	writeJSON(w, http.StatusOK, map[string]string{"level": strings.ToLower(level.String())})
}

// HandleGetLogLevel reports the current log level
// GET /api/loglevel
func (h *Handler) HandleGetLogLevel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"level": strings.ToLower(h.logLevel.Level().String())})
}

// WhoamiResponse describes the authenticated operator.
type WhoamiResponse struct {
	Role    string `json:"role"`
	Version string `json:"version"`
}

// HandleWhoami confirms the ops key and reports the running version
// GET /api/whoami
func (h *Handler) HandleWhoami(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, WhoamiResponse{Role: "ops", Version: metrics.Version})
}

// PrivilegedUserResponse is an admin or super-admin as shown to operators.
type PrivilegedUserResponse struct {
	UID              string   `json:"uid"`
	Email            string   `json:"email,omitempty"`
	Role             string   `json:"role"`
	AllowedOwnerKeys []string `json:"allowed_owner_keys"`
	UpdatedAt        string   `json:"updated_at"`
}

// HandleListPrivilegedUsers lists every user holding an elevated role
// GET /api/users
func (h *Handler) HandleListPrivilegedUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.storage.ListPrivilegedUsers(r.Context())
	if err != nil {
		h.logger.Error("failed to list privileged users", "error", err)
		apierr.WriteError(w, http.StatusInternalServerError, apierr.CodeInternalError, "internal server error")
		return
	}

	response := make([]PrivilegedUserResponse, len(users))
	for i, u := range users {
		keys := u.AllowedOwnerKeys
		if keys == nil {
			keys = []string{}
		}
		response[i] = PrivilegedUserResponse{
			UID:              u.UID,
			Email:            u.Email,
			Role:             u.Role,
			AllowedOwnerKeys: keys,
			UpdatedAt:        u.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Response write errors are unrecoverable
	json.NewEncoder(w).Encode(data)
}
