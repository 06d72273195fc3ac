package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateFile records the provenance of an uploaded file.
// Returns ErrDuplicate if the file id is already recorded.
func (s *Store) CreateFile(ctx context.Context, f *FileRecord) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO files
		(file_id, owner_key, batch_id, item_id, mime_type, size_bytes, backend, uploaded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		f.FileID, f.OwnerKey, f.BatchID, f.ItemID, f.MimeType, f.SizeBytes, f.Backend, f.UploadedBy,
		f.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// GetFile retrieves a file record by id. Returns ErrNotFound if absent.
func (s *Store) GetFile(ctx context.Context, fileID string) (*FileRecord, error) {
	var (
		f         FileRecord
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT file_id, owner_key, batch_id, item_id, mime_type,
		size_bytes, backend, uploaded_by, created_at FROM files WHERE file_id = ?`), fileID).
		Scan(&f.FileID, &f.OwnerKey, &f.BatchID, &f.ItemID, &f.MimeType, &f.SizeBytes, &f.Backend, &f.UploadedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	f.CreatedAt = fromMillis(sql.NullInt64{Int64: createdAt, Valid: true})
	return &f, nil
}
