// Package registry implements the artifact registry: per-entity version
// histories with a training/completed/failed lifecycle and a single active
// version per entity.
package registry

import (
	"context"
	"errors"

	"regimecast/scheduler/pkg/models"
)

// ErrRecordNotFound is returned when no record exists for an entity.
var ErrRecordNotFound = errors.New("entity record not found")

// Store is an interface for persisting entity version records.
type Store interface {
	// GetRecord retrieves the record for an entity, or ErrRecordNotFound.
	GetRecord(ctx context.Context, entity string) (*models.EntityRecord, error)
	// PutRecord writes the full record for an entity, creating or replacing it.
	PutRecord(ctx context.Context, record *models.EntityRecord) error
	// ListRecords retrieves all records, ordered by entity name.
	ListRecords(ctx context.Context) ([]*models.EntityRecord, error)
}
