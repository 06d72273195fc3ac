package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/sipico/checklist-bff/internal/apierr"
	"github.com/sipico/checklist-bff/internal/auth"
	"github.com/sipico/checklist-bff/internal/filestore"
	"github.com/sipico/checklist-bff/internal/metrics"
	"github.com/sipico/checklist-bff/internal/storage"
)

// multipartMemory is how much of a multipart form is held in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// UploadRequest is the JSON body of POST /upload-foto.
type UploadRequest struct {
	OwnerKey string `json:"ownerKey"`
	BatchID  string `json:"batchId"`
	ItemID   string `json:"itemId"`
	Mime     string `json:"mime"`
	// Base64 is the file content, optionally as a data URL.
	Base64 string `json:"base64"`
}

// UploadResponse identifies the stored file.
type UploadResponse struct {
	FileID string `json:"fileId"`
}

// HandleUpload stores a photo sent as base64 JSON, or as a multipart form
// when the request says so.
// POST /upload-foto
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if isMultipart(r) {
		h.HandleUploadMultipart(w, r)
		return
	}

	var req UploadRequest
	if err := decodeJSON(r, &req); err != nil {
		h.uploadFailed(w, err)
		return
	}
	placement, err := validatePlacement(req.OwnerKey, req.BatchID, req.ItemID)
	if err != nil {
		h.uploadFailed(w, err)
		return
	}

	declared, data, err := decodeBase64Payload(req.Mime, req.Base64)
	if err != nil {
		h.uploadFailed(w, err)
		return
	}
	if int64(len(data)) > h.UploadMaxBytes {
		h.uploadFailed(w, errTooLarge)
		return
	}

	mimeType, err := resolveImageType(declared, mimetype.Detect(data))
	if err != nil {
		h.uploadFailed(w, err)
		return
	}

	h.store(w, r, placement, mimeType, int64(len(data)), bytes.NewReader(data))
}

// HandleUploadMultipart stores a photo sent as the "file" part of a
// multipart form with ownerKey, batchId and itemId fields.
// POST /upload-foto-multipart
func (h *Handler) HandleUploadMultipart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.uploadFailed(w, errTooLarge)
			return
		}
		h.uploadFailed(w, apierr.Validation("invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	placement, err := validatePlacement(r.FormValue("ownerKey"), r.FormValue("batchId"), r.FormValue("itemId"))
	if err != nil {
		h.uploadFailed(w, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.uploadFailed(w, apierr.Validation("file is required"))
		return
	}
	defer file.Close()

	if header.Size == 0 {
		h.uploadFailed(w, apierr.Validation("file is empty"))
		return
	}
	if header.Size > h.UploadMaxBytes {
		h.uploadFailed(w, errTooLarge)
		return
	}

	detected, err := mimetype.DetectReader(file)
	if err != nil {
		h.uploadFailed(w, apierr.Validation("failed to read file"))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		h.logger.Error("failed to rewind upload", "error", err)
		h.uploadFailed(w, err)
		return
	}

	declared := r.FormValue("mime")
	if declared == "" {
		declared = header.Header.Get("Content-Type")
	}
	mimeType, err := resolveImageType(declared, detected)
	if err != nil {
		h.uploadFailed(w, err)
		return
	}

	h.store(w, r, placement, mimeType, header.Size, file)
}

// store writes the object to the file store and records its provenance.
func (h *Handler) store(w http.ResponseWriter, r *http.Request, p filestore.Placement, mimeType string, size int64, body io.Reader) {
	ctx := r.Context()

	fileID, err := h.Files.Put(ctx, filestore.Upload{
		Placement: p,
		Name:      objectName(p.ItemID, mimeType),
		MimeType:  mimeType,
		Size:      size,
		Body:      body,
	})
	if err != nil {
		h.logger.Error("failed to store upload", "owner_key", p.OwnerKey, "batch_id", p.BatchID, "item_id", p.ItemID, "error", err)
		h.uploadFailed(w, apierr.Upstream("failed to store file", err))
		return
	}

	rec := &storage.FileRecord{
		FileID:    fileID,
		OwnerKey:  p.OwnerKey,
		BatchID:   p.BatchID,
		ItemID:    p.ItemID,
		MimeType:  mimeType,
		SizeBytes: size,
		Backend:   h.Backend,
	}
	if id := auth.IdentityFromContext(ctx); id != nil {
		rec.UploadedBy = id.UID
	}
	if err := h.recordFile(ctx, rec); err != nil {
		h.logger.Error("failed to record upload", "file_id", fileID, "error", err)
		h.uploadFailed(w, err)
		return
	}

	metrics.RecordUpload(h.Backend, "stored")
	h.logger.Info("photo uploaded", "file_id", fileID, "owner_key", p.OwnerKey, "mime", mimeType, "size", size)
	writeJSON(w, http.StatusOK, UploadResponse{FileID: fileID})
}

func (h *Handler) recordFile(ctx context.Context, rec *storage.FileRecord) error {
	err := h.Store.CreateFile(ctx, rec)
	if errors.Is(err, storage.ErrDuplicate) {
		// Backends never reuse ids; a duplicate is a retried insert.
		return nil
	}
	return err
}

var errTooLarge = &apierr.Error{Kind: apierr.KindValidation, Message: "file exceeds the upload limit"}

func (h *Handler) uploadFailed(w http.ResponseWriter, err error) {
	result := "error"
	if apierr.KindOf(err) == apierr.KindValidation {
		result = "rejected"
	}
	metrics.RecordUpload(h.Backend, result)
	if errors.Is(err, errTooLarge) {
		apierr.WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", errTooLarge.Message)
		return
	}
	apierr.Write(w, err)
}

func isMultipart(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "multipart/form-data"
}

func validatePlacement(ownerKey, batchID, itemID string) (filestore.Placement, error) {
	p := filestore.Placement{
		OwnerKey: strings.TrimSpace(ownerKey),
		BatchID:  strings.TrimSpace(batchID),
		ItemID:   strings.TrimSpace(itemID),
	}
	var missing []string
	if p.OwnerKey == "" {
		missing = append(missing, "ownerKey")
	}
	if p.BatchID == "" {
		missing = append(missing, "batchId")
	}
	if p.ItemID == "" {
		missing = append(missing, "itemId")
	}
	if len(missing) > 0 {
		return p, apierr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	return p, nil
}

// decodeBase64Payload decodes plain base64 or a "data:<mime>;base64,..."
// URL. The media type of a data URL is used when mime is empty.
func decodeBase64Payload(declared, payload string) (string, []byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return "", nil, apierr.Validation("missing required fields: base64")
	}

	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return "", nil, apierr.Validation("base64 data URL is malformed")
		}
		if declared == "" {
			declared = strings.TrimSuffix(header, ";base64")
		}
		payload = data
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return "", nil, apierr.Validation("base64 is not valid")
	}
	if len(data) == 0 {
		return "", nil, apierr.Validation("file is empty")
	}
	return declared, data, nil
}

// resolveImageType prefers the sniffed type and falls back to the declared
// one only when the content is not recognized.
func resolveImageType(declared string, detected *mimetype.MIME) (string, error) {
	sniffed := detected.String()
	if mt, _, err := mime.ParseMediaType(sniffed); err == nil {
		sniffed = mt
	}
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed, nil
	}

	if mt, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(mt, "image/") && detected.Is("application/octet-stream") {
		return mt, nil
	}
	return "", apierr.Validation("file is not a supported image")
}

func objectName(itemID, mimeType string) string {
	name := itemID + "-" + uuid.NewString()
	if m := mimetype.Lookup(mimeType); m != nil {
		name += m.Extension()
	}
	return name
}
