package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regimecast/scheduler/internal/freshness"
	"regimecast/scheduler/internal/recommend"
	"regimecast/scheduler/internal/registry"
	"regimecast/scheduler/pkg/models"
)

func newTestServer(t *testing.T, now time.Time) (*Server, *registry.Registry) {
	t.Helper()

	reg := registry.New(registry.NewMemoryStore())
	entities := []models.Entity{
		{Name: "regime_hmm", Cadence: models.CadenceCore, Core: true},
		{Name: "GSPC", Cadence: models.CadenceDaily},
	}
	engine := recommend.NewEngine(reg, freshness.NewPolicy(nil), entities)

	srv := NewServer(reg, engine, nil).WithClock(func() time.Time { return now })
	return srv, reg
}

func completeVersion(t *testing.T, reg *registry.Registry, entity string, at time.Time) {
	t.Helper()
	reg.WithClock(func() time.Time { return at })
	v, err := reg.BeginVersion(context.Background(), entity)
	require.NoError(t, err)
	require.NoError(t, reg.CompleteVersion(context.Background(), entity, v, map[string]float64{"smape": 8.2}, ""))
}

func TestHandleHealth(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(t, now)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "regimecast-scheduler", status.Service)
}

func TestGetRecommendation(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(t, now)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/recommendation", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var recommendation models.Recommendation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recommendation))
	// Core model never trained: the engine must demand a full train.
	assert.Equal(t, models.DecisionFullTrain, recommendation.Decision)
}

func TestListEntities(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv, reg := newTestServer(t, now)
	completeVersion(t, reg, "GSPC", now.Add(-24*time.Hour))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/entities", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var records []models.EntityRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "GSPC", records[0].Entity)
}

func TestGetEntity(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv, reg := newTestServer(t, now)
	completeVersion(t, reg, "GSPC", now.Add(-24*time.Hour))

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/entities/GSPC", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var record models.EntityRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.NotNil(t, record.ActiveVersion)
	assert.Equal(t, 1, *record.ActiveVersion)
	require.Len(t, record.Versions, 1)
	assert.Equal(t, models.StatusCompleted, record.Versions[0].Status)
}

func TestGetEntityNotFound(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(t, now)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/entities/UNKNOWN", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
