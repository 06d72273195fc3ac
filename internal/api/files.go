package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sipico/checklist-bff/internal/apierr"
	"github.com/sipico/checklist-bff/internal/auth"
	"github.com/sipico/checklist-bff/internal/capability"
	"github.com/sipico/checklist-bff/internal/metrics"
	"github.com/sipico/checklist-bff/internal/storage"
)

// maxFileIDs bounds a single signed-URL request.
const maxFileIDs = 500

// fileCacheControl matches the default capability lifetime.
const fileCacheControl = "public, max-age=900"

// SignedURLsRequest is the body of POST /signed-urls.
type SignedURLsRequest struct {
	FileIDs []string `json:"fileIds"`
}

// SignedURLsResponse maps each file id to its signed retrieval URL.
type SignedURLsResponse struct {
	URLs map[string]string `json:"urls"`
}

// HandleSignedURLs issues retrieval capabilities for a list of file ids.
// POST /signed-urls
func (h *Handler) HandleSignedURLs(w http.ResponseWriter, r *http.Request) {
	var req SignedURLsRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if err := validateFileIDs(req.FileIDs); err != nil {
		apierr.Write(w, err)
		return
	}

	var allow capability.AccessFilter
	if h.SignedURLAuthz {
		var err error
		if allow, err = h.accessFilter(r, req.FileIDs); err != nil {
			h.logger.Error("failed to resolve file access", "error", err)
			apierr.Write(w, err)
			return
		}
	}

	urls, err := h.Broker.IssueURLs(req.FileIDs, allow)
	if err != nil {
		if errors.Is(err, capability.ErrSecretUnset) {
			h.logger.Error("signed URL requested without a signing secret")
			apierr.WriteError(w, http.StatusInternalServerError, apierr.CodeNotConfigured, "signing secret is not configured")
			return
		}
		h.logger.Error("failed to issue signed URLs", "error", err)
		apierr.Write(w, err)
		return
	}

	metrics.RecordCapabilitiesIssued(len(urls))
	for range countDistinct(req.FileIDs) - len(urls) {
		metrics.RecordCapabilityDenied("not_authorized")
	}
	writeJSON(w, http.StatusOK, SignedURLsResponse{URLs: urls})
}

func validateFileIDs(ids []string) error {
	if len(ids) == 0 {
		return apierr.Validation("fileIds must be a non-empty array")
	}
	if len(ids) > maxFileIDs {
		return apierr.Validation("fileIds accepts at most %d entries", maxFileIDs)
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return apierr.Validation("fileIds[%d] is empty", i)
		}
	}
	return nil
}

// accessFilter resolves the owner of every requested file and keeps the
// ones the caller's scope reaches. Unknown files are dropped.
func (h *Handler) accessFilter(r *http.Request, ids []string) (capability.AccessFilter, error) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		return nil, apierr.Unauthorized("missing identity")
	}
	if h.Policy == nil || h.Index == nil {
		return nil, apierr.Config("access policy is not configured")
	}

	scope, err := h.Policy.Scope(r.Context(), id.UID)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(ids))
	for _, fileID := range ids {
		if _, seen := allowed[fileID]; seen {
			continue
		}
		rec, err := h.Index.GetFile(r.Context(), fileID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			allowed[fileID] = false
		case err != nil:
			return nil, err
		default:
			allowed[fileID] = scope(rec.OwnerKey)
		}
	}
	return func(fileID string) bool { return allowed[fileID] }, nil
}

func countDistinct(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// HandleDriveFile streams a stored file to a holder of a valid capability.
// GET /drive-file/{id}?t={token}
func (h *Handler) HandleDriveFile(w http.ResponseWriter, r *http.Request) {
	// chi matches on the escaped path, so ids containing reserved characters
	// arrive percent-encoded.
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil || id == "" {
		metrics.RecordCapabilityDenied("malformed")
		apierr.WriteError(w, http.StatusForbidden, apierr.CodeForbidden, "access denied")
		return
	}

	obj, err := h.Broker.Retrieve(r.Context(), h.Files, id, r.URL.Query().Get("t"))
	switch {
	case errors.Is(err, capability.ErrForbidden):
		metrics.RecordCapabilityDenied("invalid_token")
		apierr.WriteError(w, http.StatusForbidden, apierr.CodeForbidden, "access denied")
		return
	case err != nil:
		metrics.RecordCapabilityDenied("unavailable")
		h.logger.Warn("failed to open stored file", "file_id", id, "error", err)
		apierr.WriteError(w, http.StatusNotFound, apierr.CodeNotFound, "file not found")
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", fileCacheControl)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, obj.Body)
	metrics.RecordBytesStreamed(n)
	if err != nil {
		h.logger.Warn("file stream interrupted", "file_id", id, "bytes", n, "error", err)
		// The status line is already out; aborting resets the connection so
		// the client cannot mistake a truncated body for a complete one.
		panic(http.ErrAbortHandler)
	}
}
