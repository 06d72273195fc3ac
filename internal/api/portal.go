package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sipico/checklist-bff/internal/apierr"
	"github.com/sipico/checklist-bff/internal/auth"
	"github.com/sipico/checklist-bff/internal/storage"
)

// SetAccessRequest is the body of POST /portal/set-access.
type SetAccessRequest struct {
	TargetUID        string   `json:"targetUid"`
	Role             string   `json:"role"`
	AllowedOwnerKeys []string `json:"allowedOwnerKeys"`
}

// EntitlementResponse is a user's subscription state. Times are unix
// milliseconds and omitted when never granted.
type EntitlementResponse struct {
	Plan               string `json:"plan,omitempty"`
	Authorized         bool   `json:"authorized"`
	ExpiresAt          int64  `json:"expiresAt,omitempty"`
	AllowedAccessCount int    `json:"allowedAccessCount"`
	Active             bool   `json:"active"`
}

// MeResponse is the caller's profile.
type MeResponse struct {
	UID              string              `json:"uid"`
	Email            string              `json:"email,omitempty"`
	Role             string              `json:"role"`
	AllowedOwnerKeys []string            `json:"allowedOwnerKeys"`
	Entitlement      EntitlementResponse `json:"entitlement"`
}

// HandleSetAccess grants a role and owner-key scope to a user. Only
// super-admins may call it.
// POST /portal/set-access
func (h *Handler) HandleSetAccess(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		apierr.Write(w, apierr.Unauthorized("missing identity"))
		return
	}
	if h.Policy == nil {
		apierr.Write(w, apierr.Config("access policy is not configured"))
		return
	}

	isSuper, err := h.Policy.IsSuperAdmin(r.Context(), id.UID)
	if err != nil {
		h.logger.Error("failed to resolve caller role", "uid", id.UID, "error", err)
		apierr.Write(w, err)
		return
	}
	if !isSuper {
		h.logger.Warn("set-access denied", "uid", id.UID)
		apierr.Write(w, apierr.Forbidden("super-admin role required"))
		return
	}

	var req SetAccessRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	req.TargetUID = strings.TrimSpace(req.TargetUID)
	if req.TargetUID == "" {
		apierr.Write(w, apierr.Validation("targetUid is required"))
		return
	}
	if !storage.ValidRole(req.Role) {
		apierr.Write(w, apierr.Validation("invalid role %q (must be: %s, %s, %s)",
			req.Role, storage.RoleUser, storage.RoleAdmin, storage.RoleSuperAdmin))
		return
	}

	keys := normalizeOwnerKeys(req.AllowedOwnerKeys)
	if err := h.Store.SetAccess(r.Context(), req.TargetUID, req.Role, keys); err != nil {
		h.logger.Error("failed to set access", "target_uid", req.TargetUID, "error", err)
		apierr.Write(w, err)
		return
	}

	h.logger.Info("access updated", "by", id.UID, "target_uid", req.TargetUID, "role", req.Role, "owner_keys", len(keys))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleMe returns the caller's profile, creating the user record on first
// sight so later payments have something to apply to.
// GET /me
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		apierr.Write(w, apierr.Unauthorized("missing identity"))
		return
	}

	u, err := h.Store.EnsureUser(r.Context(), id.UID, id.Email)
	if err != nil {
		h.logger.Error("failed to ensure user", "uid", id.UID, "error", err)
		apierr.Write(w, err)
		return
	}

	role := u.Role
	if h.Policy != nil {
		if role, err = h.Policy.Role(r.Context(), id.UID); err != nil {
			apierr.Write(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, newMeResponse(u, role, time.Now()))
}

func newMeResponse(u *storage.User, role string, now time.Time) MeResponse {
	ent := u.Entitlement
	resp := MeResponse{
		UID:              u.UID,
		Email:            u.Email,
		Role:             role,
		AllowedOwnerKeys: u.AllowedOwnerKeys,
		Entitlement: EntitlementResponse{
			Plan:               ent.Plan,
			Authorized:         ent.Authorized,
			AllowedAccessCount: ent.AllowedAccessCount,
			Active:             ent.Authorized && now.Before(ent.ExpiresAt),
		},
	}
	if resp.AllowedOwnerKeys == nil {
		resp.AllowedOwnerKeys = []string{}
	}
	if !ent.ExpiresAt.IsZero() {
		resp.Entitlement.ExpiresAt = ent.ExpiresAt.UnixMilli()
	}
	return resp
}

// normalizeOwnerKeys trims, drops empties and removes duplicates, keeping order.
func normalizeOwnerKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
