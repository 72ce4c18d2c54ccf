package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"regimecast/scheduler/pkg/models"
)

var (
	// ErrNoActiveVersion is returned when an entity has never completed
	// training.
	ErrNoActiveVersion = errors.New("entity has no active version")
	// ErrVersionNotFound is returned when a lifecycle transition names a
	// version that does not exist. Always a programming or race error.
	ErrVersionNotFound = errors.New("version not found")
	// ErrNotTraining is returned when completing or failing a version that
	// is not in the training state. Terminal states are immutable.
	ErrNotTraining = errors.New("version is not in training state")
)

// Registry manages versioned artifact lifecycles on top of a Store. Mutations
// to the same entity are serialized by a per-entity lock; different entities
// never block each other.
type Registry struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Registry backed by the given store.
func New(store Store) *Registry {
	return &Registry{
		store: store,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the registry clock. Test hook.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) lockFor(entity string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[entity]
	if !ok {
		l = &sync.Mutex{}
		r.locks[entity] = l
	}
	return l
}

// ActiveVersion returns the current usable version of an entity, or
// ErrNoActiveVersion if the entity has never completed training.
func (r *Registry) ActiveVersion(ctx context.Context, entity string) (*models.Version, error) {
	l := r.lockFor(entity)
	l.Lock()
	defer l.Unlock()

	record, err := r.store.GetRecord(ctx, entity)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrNoActiveVersion
	}
	if err != nil {
		return nil, err
	}
	active := record.Active()
	if active == nil {
		return nil, ErrNoActiveVersion
	}
	return active, nil
}

// Record returns the full persisted record for an entity, or
// ErrRecordNotFound.
func (r *Registry) Record(ctx context.Context, entity string) (*models.EntityRecord, error) {
	l := r.lockFor(entity)
	l.Lock()
	defer l.Unlock()
	return r.store.GetRecord(ctx, entity)
}

// ListRecords returns all persisted records.
func (r *Registry) ListRecords(ctx context.Context) ([]*models.EntityRecord, error) {
	return r.store.ListRecords(ctx)
}

// BeginVersion allocates the next version number for an entity and writes a
// training-status record. Version numbers are contiguous starting at 1 and
// never reused, even after failures. A prior version still in training is a
// superseding attempt and does not block allocation.
func (r *Registry) BeginVersion(ctx context.Context, entity string) (int, error) {
	l := r.lockFor(entity)
	l.Lock()
	defer l.Unlock()

	record, err := r.store.GetRecord(ctx, entity)
	if errors.Is(err, ErrRecordNotFound) {
		record = &models.EntityRecord{Entity: entity}
	} else if err != nil {
		return 0, err
	}

	next := 1
	for _, v := range record.Versions {
		if v.Version >= next {
			next = v.Version + 1
		}
	}

	now := r.now()
	record.Versions = append(record.Versions, models.Version{
		Version:   next,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.StatusTraining,
	})

	if err := r.store.PutRecord(ctx, record); err != nil {
		return 0, err
	}
	return next, nil
}

// CompleteVersion transitions a training version to completed, stores its
// metrics and artifact location, and promotes it to active. It does not
// mutate anything on error.
func (r *Registry) CompleteVersion(ctx context.Context, entity string, version int, metrics map[string]float64, artifactLocation string) error {
	l := r.lockFor(entity)
	l.Lock()
	defer l.Unlock()

	record, err := r.store.GetRecord(ctx, entity)
	if errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("complete %s v%d: %w", entity, version, ErrVersionNotFound)
	}
	if err != nil {
		return err
	}

	v := record.Find(version)
	if v == nil {
		return fmt.Errorf("complete %s v%d: %w", entity, version, ErrVersionNotFound)
	}
	if v.Status != models.StatusTraining {
		return fmt.Errorf("complete %s v%d (status %s): %w", entity, version, v.Status, ErrNotTraining)
	}

	v.Status = models.StatusCompleted
	v.UpdatedAt = r.now()
	v.Metrics = metrics
	v.ArtifactLocation = artifactLocation
	record.ActiveVersion = &v.Version

	return r.store.PutRecord(ctx, record)
}

// FailVersion transitions a training version to failed. The active version
// is left unchanged.
func (r *Registry) FailVersion(ctx context.Context, entity string, version int, cause error) error {
	l := r.lockFor(entity)
	l.Lock()
	defer l.Unlock()

	record, err := r.store.GetRecord(ctx, entity)
	if errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("fail %s v%d: %w", entity, version, ErrVersionNotFound)
	}
	if err != nil {
		return err
	}

	v := record.Find(version)
	if v == nil {
		return fmt.Errorf("fail %s v%d: %w", entity, version, ErrVersionNotFound)
	}
	if v.Status != models.StatusTraining {
		return fmt.Errorf("fail %s v%d (status %s): %w", entity, version, v.Status, ErrNotTraining)
	}

	v.Status = models.StatusFailed
	v.UpdatedAt = r.now()
	if cause != nil {
		v.Error = cause.Error()
	}

	return r.store.PutRecord(ctx, record)
}

// ReapedVersion identifies one version transitioned to failed by
// ReapAbandoned.
type ReapedVersion struct {
	Entity  string
	Version int
}

// ReapAbandoned fails every version that has been stuck in training status
// longer than olderThan. Abandoned versions come from crashed collaborators
// or aborted runs; reaping them lets the freshness policy see the entity as
// retrainable again instead of indefinitely in flight.
func (r *Registry) ReapAbandoned(ctx context.Context, olderThan time.Duration) ([]ReapedVersion, error) {
	records, err := r.store.ListRecords(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := r.now().Add(-olderThan)
	var reaped []ReapedVersion
	for _, record := range records {
		l := r.lockFor(record.Entity)
		l.Lock()
		// Re-read under the lock; the listing may be stale.
		fresh, err := r.store.GetRecord(ctx, record.Entity)
		if err != nil {
			l.Unlock()
			if errors.Is(err, ErrRecordNotFound) {
				continue
			}
			return reaped, err
		}
		changed := false
		for i := range fresh.Versions {
			v := &fresh.Versions[i]
			if v.Status == models.StatusTraining && v.CreatedAt.Before(cutoff) {
				v.Status = models.StatusFailed
				v.UpdatedAt = r.now()
				v.Error = "abandoned: reaped after training timeout"
				reaped = append(reaped, ReapedVersion{Entity: fresh.Entity, Version: v.Version})
				changed = true
			}
		}
		if changed {
			if err := r.store.PutRecord(ctx, fresh); err != nil {
				l.Unlock()
				return reaped, err
			}
		}
		l.Unlock()
	}
	return reaped, nil
}
