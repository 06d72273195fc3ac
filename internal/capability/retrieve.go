package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/sipico/checklist-bff/internal/filestore"
)

// Retrieval failures. Callers must not tell the client which check failed.
var (
	ErrForbidden = errors.New("capability: token rejected")
	ErrNotFound  = errors.New("capability: object unavailable")
)

// Opener streams objects from the backing store.
type Opener interface {
	Open(ctx context.Context, id string) (*filestore.Object, error)
}

// Retrieve verifies token for resourceID and opens the object. Any store
// failure is reported as ErrNotFound; the caller owns the returned Body.
func (b *Broker) Retrieve(ctx context.Context, store Opener, resourceID, token string) (*filestore.Object, error) {
	if !b.Verify(resourceID, token) {
		return nil, ErrForbidden
	}
	obj, err := store.Open(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return obj, nil
}
