package stats

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"tilestream/internal/grid"
	"tilestream/internal/metrics"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type recorder struct{ events []Event }

func (r *recorder) Record(e Event) { r.events = append(r.events, e) }

func TestCountersAndSnapshot(t *testing.T) {
	ck := &clock{t: time.Unix(0, 0)}
	rec := &recorder{}
	c := New(ck.now, rec)
	genBefore := testutil.ToFloat64(metrics.TilesGeneratedTotal)
	emBefore := testutil.ToFloat64(metrics.CleanupsTotal.WithLabelValues("emergency"))

	c.RecordGenerated(grid.Coord{X: 1}, 3*time.Millisecond)
	c.RecordGenerated(grid.Coord{X: 2}, 5*time.Millisecond)
	c.RecordGenerationError(grid.Coord{X: 3}, errors.New("x"))
	c.RecordDeleted(grid.Coord{}, 4)
	c.RecordDeleted(grid.Coord{}, 0)
	c.RecordDeletionError(grid.Coord{}, errors.New("y"))
	c.RecordCleanup(CleanupEmergency, 3)
	c.RecordCleanup(CleanupPreventive, 0)
	c.RecordCleanup(CleanupAggressive, 1)
	c.RecordWatchdog(301)

	if s := c.Snapshot(); s.TilesGenerated != 0 {
		t.Fatalf("snapshot visible before publish: %+v", s)
	}
	s := c.Publish(Gauges{MemoryMB: 12.5, ActiveTiles: 7, QueuedGenerations: 3, QueuedDeletions: 1})
	want := PerformanceStats{
		TilesGenerated: 2, TilesDeleted: 4, GenerationErrors: 1, DeletionErrors: 1,
		EmergencyCleanups: 1, PreventiveWarnings: 1, AggressiveCleanups: 1, WatchdogAborts: 1,
		MemoryMB: 12.5, ActiveTiles: 7, QueuedGenerations: 3, QueuedDeletions: 1, UpdatedAt: ck.t,
	}
	if s != want || c.Snapshot() != want {
		t.Fatalf("snapshot = %+v", s)
	}
	if d := testutil.ToFloat64(metrics.TilesGeneratedTotal) - genBefore; d != 2 {
		t.Fatalf("prometheus generated delta = %v", d)
	}
	if d := testutil.ToFloat64(metrics.CleanupsTotal.WithLabelValues("emergency")) - emBefore; d != 1 {
		t.Fatalf("prometheus emergency delta = %v", d)
	}
	if testutil.ToFloat64(metrics.ActiveTiles) != 7 {
		t.Fatal("active gauge not set")
	}
	// deleted with n=0 emits nothing
	if len(rec.events) != 9 {
		t.Fatalf("events = %d", len(rec.events))
	}
	if rec.events[2].Kind != EventGenerationFailed || rec.events[2].Detail != "x" {
		t.Fatalf("event = %+v", rec.events[2])
	}
}

func TestReclaimedCountsWithoutCoordinate(t *testing.T) {
	rec := &recorder{}
	c := New(nil, rec)
	before := testutil.ToFloat64(metrics.TilesDeletedTotal)
	c.RecordReclaimed(6)
	c.RecordReclaimed(0)
	if s := c.Publish(Gauges{}); s.TilesDeleted != 6 {
		t.Fatalf("deleted = %d", s.TilesDeleted)
	}
	if d := testutil.ToFloat64(metrics.TilesDeletedTotal) - before; d != 6 {
		t.Fatalf("prometheus deleted delta = %v", d)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != EventReclaimed || rec.events[0].Count != 6 {
		t.Fatalf("events = %+v", rec.events)
	}
	for _, k := range []EventKind{EventReclaimed, EventCleanup, EventWatchdog} {
		if k.HasCoord() {
			t.Errorf("%s should carry no coordinate", k)
		}
	}
	if !EventUnloaded.HasCoord() || !EventGenerated.HasCoord() {
		t.Error("per-tile events lost their coordinate")
	}
}

func TestTilesPerSecondAndFrameAverage(t *testing.T) {
	ck := &clock{t: time.Unix(0, 0)}
	c := New(ck.now, nil)
	c.Publish(Gauges{})
	for i := 0; i < 10; i++ {
		c.RecordGenerated(grid.Coord{X: i}, time.Millisecond)
	}
	c.RecordFrame(2 * time.Millisecond)
	c.RecordFrame(4 * time.Millisecond)
	ck.t = ck.t.Add(2 * time.Second)
	s := c.Publish(Gauges{})
	if math.Abs(s.TilesPerSecond-5) > 1e-9 {
		t.Fatalf("tiles/sec = %v", s.TilesPerSecond)
	}
	if math.Abs(s.AvgFrameTimeMs-3) > 1e-9 {
		t.Fatalf("avg frame = %v", s.AvgFrameTimeMs)
	}
	ck.t = ck.t.Add(100 * time.Millisecond)
	if s2 := c.Publish(Gauges{}); s2.TilesPerSecond != 5 {
		t.Fatalf("rate recomputed inside window: %v", s2.TilesPerSecond)
	}
}

func TestFrameWindowRolls(t *testing.T) {
	c := New(nil, nil)
	for i := 0; i < frameWindow; i++ {
		c.RecordFrame(10 * time.Millisecond)
	}
	for i := 0; i < frameWindow; i++ {
		c.RecordFrame(time.Millisecond)
	}
	if s := c.Publish(Gauges{}); math.Abs(s.AvgFrameTimeMs-1) > 1e-9 {
		t.Fatalf("avg = %v", s.AvgFrameTimeMs)
	}
}

func TestSnapshotConcurrentReaders(t *testing.T) {
	c := New(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = c.Snapshot()
			}
		}()
	}
	for j := 0; j < 1000; j++ {
		c.RecordGenerated(grid.Coord{}, 0)
		c.Publish(Gauges{ActiveTiles: j})
	}
	wg.Wait()
	if c.Snapshot().TilesGenerated != 1000 {
		t.Fatalf("final = %d", c.Snapshot().TilesGenerated)
	}
}
