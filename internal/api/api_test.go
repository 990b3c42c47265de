package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tilestream/internal/governor"
	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/stats"
)

func init() { logger.Use(logger.Discard()) }

type fakeEngine struct {
	enabled bool
	snap    stats.PerformanceStats
	active  []grid.Coord
	last    governor.Outcome
}

func (f *fakeEngine) Snapshot() stats.PerformanceStats { return f.snap }
func (f *fakeEngine) ActiveCoords() []grid.Coord       { return f.active }
func (f *fakeEngine) LastCheck() governor.Outcome      { return f.last }
func (f *fakeEngine) Enabled() bool                    { return f.enabled }
func (f *fakeEngine) SetEnabled(on bool)               { f.enabled = on }

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestStatsAndActive(t *testing.T) {
	e := &fakeEngine{snap: stats.PerformanceStats{TilesGenerated: 3, MemoryMB: 1.5}, active: []grid.Coord{{X: 1, Z: -2}}}
	mux := BuildRoutes(e)

	rec := do(mux, http.MethodGet, "/stats")
	var s stats.PerformanceStats
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.TilesGenerated != 3 || s.MemoryMB != 1.5 {
		t.Fatalf("stats = %+v", s)
	}

	rec = do(mux, http.MethodGet, "/active")
	var cs []coordJSON
	if err := json.NewDecoder(rec.Body).Decode(&cs); err != nil {
		t.Fatal(err)
	}
	if len(cs) != 1 || cs[0] != (coordJSON{X: 1, Z: -2}) {
		t.Fatalf("active = %v", cs)
	}
}

func TestMemoryReportsError(t *testing.T) {
	e := &fakeEngine{last: governor.Outcome{Level: governor.LevelEmergency, Evicted: 4, Err: errors.New("over")}}
	rec := do(BuildRoutes(e), http.MethodGet, "/memory")
	var m memoryJSON
	_ = json.NewDecoder(rec.Body).Decode(&m)
	if m.Level != "emergency" || m.Evicted != 4 || m.Error != "over" {
		t.Fatalf("memory = %+v", m)
	}
}

func TestControl(t *testing.T) {
	e := &fakeEngine{enabled: true}
	mux := BuildRoutes(e)
	if rec := do(mux, http.MethodPost, "/control?enabled=false"); rec.Code != http.StatusOK || e.enabled {
		t.Fatalf("code=%d enabled=%v", rec.Code, e.enabled)
	}
	if rec := do(mux, http.MethodPost, "/control?enabled=sometimes"); rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
	if rec := do(mux, http.MethodDelete, "/control"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code = %d", rec.Code)
	}
	rec := do(mux, http.MethodGet, "/control")
	var body map[string]bool
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body["enabled"] {
		t.Fatalf("body = %v", body)
	}
}
