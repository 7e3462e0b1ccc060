package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avioncargo/precland/internal/bus"
	"github.com/avioncargo/precland/internal/flightlog"
	"github.com/avioncargo/precland/internal/loop"
	"github.com/avioncargo/precland/internal/track"
)

// fakeSession implements Sessioner without a running pipeline.
type fakeSession struct {
	id      string
	running bool
	stats   loop.StatsSnapshot
	health  loop.LinkHealth
	latest  loop.Snapshot
	bus     *bus.Bus[loop.Snapshot]
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		id:      "test-session",
		running: true,
		stats: loop.StatsSnapshot{
			FramesProcessed:     50,
			FramesWithDetection: 40,
			DetectionRate:       0.8,
			FPS:                 29.7,
		},
		health: loop.LinkHealth{Connected: true},
		latest: loop.Snapshot{
			SessionID: "test-session",
			Target: track.TargetState{
				SelectedID: 7,
				HasTarget:  true,
			},
			LastCommand: loop.Command{TargetID: 7, Valid: true},
		},
		bus: bus.New[loop.Snapshot](8),
	}
}

func (f *fakeSession) ID() string                               { return f.id }
func (f *fakeSession) IsRunning() bool                          { return f.running }
func (f *fakeSession) Stats() loop.StatsSnapshot                { return f.stats }
func (f *fakeSession) Health() loop.LinkHealth                  { return f.health }
func (f *fakeSession) Latest() loop.Snapshot                    { return f.latest }
func (f *fakeSession) Subscribe() (string, <-chan loop.Snapshot) { return f.bus.Subscribe() }
func (f *fakeSession) Unsubscribe(id string)                    { f.bus.Unsubscribe(id) }

func testFlightDB(t *testing.T) *flightlog.FlightDB {
	t.Helper()
	db, err := flightlog.NewFlightDB(filepath.Join(t.TempDir(), "flight.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestShowStats(t *testing.T) {
	server := NewServer(newFakeSession(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var stats loop.StatsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, uint64(50), stats.FramesProcessed)
	assert.InDelta(t, 0.8, stats.DetectionRate, 1e-12)
}

func TestShowStatsMethodNotAllowed(t *testing.T) {
	server := NewServer(newFakeSession(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/stats", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestShowTarget(t *testing.T) {
	server := NewServer(newFakeSession(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/target", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, true, payload["has_target"])
	assert.Equal(t, float64(7), payload["selected_id"])
}

func TestShowHealth(t *testing.T) {
	server := NewServer(newFakeSession(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Equal(t, "test-session", payload["session_id"])
	assert.Equal(t, true, payload["running"])

	link, ok := payload["link"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, link["connected"])
}

func TestListSessionsWithoutDB(t *testing.T) {
	server := NewServer(newFakeSession(), nil)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessions(t *testing.T) {
	db := testFlightDB(t)
	require.NoError(t, db.StartSession("test-session", "bench"))

	server := NewServer(newFakeSession(), db)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var sessions []flightlog.SessionRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "test-session", sessions[0].ID)
}

func TestListSessionsInvalidLimit(t *testing.T) {
	server := NewServer(newFakeSession(), testFlightDB(t))
	req := httptest.NewRequest(http.MethodGet, "/api/sessions?limit=zero", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCyclesDefaultsToCurrentSession(t *testing.T) {
	db := testFlightDB(t)
	require.NoError(t, db.StartSession("test-session", ""))
	require.NoError(t, db.RecordSnapshot(loop.Snapshot{SessionID: "test-session", Seq: 1}))
	require.NoError(t, db.RecordSnapshot(loop.Snapshot{SessionID: "other", Seq: 1}))

	server := NewServer(newFakeSession(), db)
	req := httptest.NewRequest(http.MethodGet, "/api/cycles", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var cycles []flightlog.CycleRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cycles))
	require.Len(t, cycles, 1)
	assert.Equal(t, "test-session", cycles[0].SessionID)
}

func TestListCyclesEmptyIsArray(t *testing.T) {
	server := NewServer(newFakeSession(), testFlightDB(t))
	req := httptest.NewRequest(http.MethodGet, "/api/cycles", nil)
	w := httptest.NewRecorder()
	server.ServeMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}
