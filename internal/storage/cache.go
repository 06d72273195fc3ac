package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// FileGetter looks up file records.
type FileGetter interface {
	GetFile(ctx context.Context, fileID string) (*FileRecord, error)
}

// CachedFiles is a read-through LRU cache of file records. Records are
// immutable after upload, so entries only expire to bound memory.
type CachedFiles struct {
	next    FileGetter
	cache   *expirable.LRU[string, *FileRecord]
	onCache func(hit bool)
}

// NewCachedFiles wraps next with an LRU of maxSize entries living for ttl.
// onLookup, if non-nil, is told whether each lookup was a hit.
func NewCachedFiles(next FileGetter, maxSize int, ttl time.Duration, onLookup func(hit bool)) *CachedFiles {
	return &CachedFiles{
		next:    next,
		cache:   expirable.NewLRU[string, *FileRecord](maxSize, nil, ttl),
		onCache: onLookup,
	}
}

// GetFile returns the cached record or loads it from the underlying store.
// Misses (ErrNotFound) are not cached.
func (c *CachedFiles) GetFile(ctx context.Context, fileID string) (*FileRecord, error) {
	if f, ok := c.cache.Get(fileID); ok {
		c.record(true)
		return f, nil
	}
	c.record(false)

	f, err := c.next.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(fileID, f)
	return f, nil
}

// Len reports the number of cached records.
func (c *CachedFiles) Len() int {
	return c.cache.Len()
}

func (c *CachedFiles) record(hit bool) {
	if c.onCache != nil {
		c.onCache(hit)
	}
}
