// Package models defines the domain models for the regimecast scheduler
package models

import (
	"time"
)

// Cadence represents the update frequency class of an entity. It drives the
// staleness threshold the freshness policy applies to the entity.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
	// CadenceCore is the cadence class of the core models (clusterer,
	// classifier). Core models sit upstream of every feature forecaster, so
	// they carry the shortest staleness window.
	CadenceCore Cadence = "core"
)

// VersionStatus represents the lifecycle state of one training attempt
type VersionStatus string

const (
	StatusTraining  VersionStatus = "training"
	StatusCompleted VersionStatus = "completed"
	StatusFailed    VersionStatus = "failed"
)

// Terminal reports whether the status is immutable.
func (s VersionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Entity is a named, independently retrainable unit: either one of the core
// models or one of the per-feature forecasters. Entities are enumerated by
// configuration and never created or destroyed at runtime.
type Entity struct {
	Name    string  `json:"name"`
	Cadence Cadence `json:"cadence"`
	Core    bool    `json:"core"`
}

// Version is one training attempt for an entity. The JSON layout of this
// struct is consumed by external monitoring tooling and must stay stable.
type Version struct {
	Version          int                `json:"version"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	Status           VersionStatus      `json:"status"`
	Metrics          map[string]float64 `json:"metrics"`
	ArtifactLocation string             `json:"artifact_location,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// EntityRecord is the persisted version history of one entity.
type EntityRecord struct {
	Entity        string    `json:"entity"`
	Versions      []Version `json:"versions"`
	ActiveVersion *int      `json:"active_version"`
}

// Active returns the active version of the record, or nil if the entity has
// never completed training.
func (r *EntityRecord) Active() *Version {
	if r == nil || r.ActiveVersion == nil {
		return nil
	}
	for i := range r.Versions {
		if r.Versions[i].Version == *r.ActiveVersion {
			return &r.Versions[i]
		}
	}
	return nil
}

// Find returns the version entry with the given number, or nil.
func (r *EntityRecord) Find(version int) *Version {
	for i := range r.Versions {
		if r.Versions[i].Version == version {
			return &r.Versions[i]
		}
	}
	return nil
}

// Decision is the outcome of a staleness recommendation.
type Decision string

const (
	DecisionInference    Decision = "inference"
	DecisionPartialTrain Decision = "partial_train"
	DecisionFullTrain    Decision = "full_train"
)

// Recommendation is the computed decision of whether to run inference only,
// retrain a subset of entities, or retrain everything. It is produced fresh
// on every decision point and never persisted.
type Recommendation struct {
	Decision      Decision `json:"decision"`
	StaleEntities []string `json:"stale_entities"`
	Reason        string   `json:"reason"`
}
