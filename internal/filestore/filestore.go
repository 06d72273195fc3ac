// Package filestore defines the contract for the external object store that
// holds uploaded photos. Backends live in the drive and s3store subpackages.
package filestore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object does not exist in the store.
var ErrNotFound = errors.New("filestore: object not found")

// Placement locates an upload in the owner/batch/item hierarchy.
type Placement struct {
	OwnerKey string
	BatchID  string
	ItemID   string
}

// Upload is a single object to store.
type Upload struct {
	Placement
	Name     string
	MimeType string
	Size     int64 // -1 if unknown
	Body     io.Reader
}

// Object is an open stream from the store. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64 // -1 if unknown
}

// Store uploads and streams objects.
type Store interface {
	// Put stores the upload and returns the backend's object id.
	Put(ctx context.Context, u Upload) (string, error)
	// Open streams an object. The read is bound to ctx.
	Open(ctx context.Context, id string) (*Object, error)
}
