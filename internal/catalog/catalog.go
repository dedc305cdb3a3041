// Package catalog maps appointment status codes to the opaque ids used in storage.
package catalog

import (
	"context"
	"sync"

	"github.com/propertygo/viewing/internal/apperr"
	"github.com/propertygo/viewing/internal/repository"
)

// StatusCatalog is a read-through cache over the appointment_statuses table.
// Status rows are reference data and never change at runtime, so hits are
// cached for the life of the process. Misses are always re-read.
type StatusCatalog struct {
	db   repository.DBExecutor
	repo *repository.StatusRepository

	mu     sync.RWMutex
	byCode map[string]string
	byID   map[string]string
}

// NewStatusCatalog creates a catalog backed by db
func NewStatusCatalog(db repository.DBExecutor) *StatusCatalog {
	return &StatusCatalog{
		db:     db,
		repo:   repository.NewStatusRepository(),
		byCode: map[string]string{},
		byID:   map[string]string{},
	}
}

// Reload replaces the cache with the current table contents
func (c *StatusCatalog) Reload(ctx context.Context) error {
	statuses, err := c.repo.List(ctx, c.db)
	if err != nil {
		return err
	}

	byCode := make(map[string]string, len(statuses))
	byID := make(map[string]string, len(statuses))
	for _, s := range statuses {
		byCode[s.Code] = s.ID
		byID[s.ID] = s.Code
	}

	c.mu.Lock()
	c.byCode, c.byID = byCode, byID
	c.mu.Unlock()
	return nil
}

// CodeToID returns the storage id of a status code. A missing row means the
// deployment is broken and is reported as a system error.
func (c *StatusCatalog) CodeToID(ctx context.Context, code string) (string, error) {
	c.mu.RLock()
	id, ok := c.byCode[code]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	if err := c.Reload(ctx); err != nil {
		return "", apperr.Wrap(apperr.System, err, "failed to load appointment statuses")
	}

	c.mu.RLock()
	id, ok = c.byCode[code]
	c.mu.RUnlock()
	if !ok {
		return "", apperr.New(apperr.System, "system error: appointment status %s is not configured", code)
	}
	return id, nil
}

// IDsFor resolves several codes at once, failing on the first missing one
func (c *StatusCatalog) IDsFor(ctx context.Context, codes ...string) (map[string]string, error) {
	ids := make(map[string]string, len(codes))
	for _, code := range codes {
		id, err := c.CodeToID(ctx, code)
		if err != nil {
			return nil, err
		}
		ids[code] = id
	}
	return ids, nil
}

// IDToCode returns the code for a storage id, if known
func (c *StatusCatalog) IDToCode(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	code, ok := c.byID[id]
	return code, ok
}
