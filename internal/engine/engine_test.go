package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"tilestream/internal/demand"
	"tilestream/internal/governor"
	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/scheduler"
	"tilestream/internal/stats"
	"tilestream/internal/store"
	"tilestream/internal/synth"
	"tilestream/internal/tile"
)

func init() { logger.Use(logger.Discard()) }

type rig struct {
	store *store.Store
	sched *scheduler.Scheduler
	pos   grid.Position
}

func newRig(t *testing.T) *rig {
	t.Helper()
	sys := grid.MustNew(1000)
	r := &rig{store: store.New(sys, tile.Pipeline{Synth: synth.DefaultNoise(), Surface: synth.Grid{}, Resolution: 5, Seed: 1})}
	m, err := demand.New(sys, demand.Radii{ImmediateLoad: 0, Preload: 1, KeepAlive: 2, ForceUnload: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := scheduler.DefaultConfig()
	cfg.Budgeted = false
	r.sched, err = scheduler.New(cfg, scheduler.Deps{
		Store:    r.store,
		Model:    m,
		Stats:    stats.New(nil, nil),
		Observer: scheduler.ObserverFunc(func() grid.Position { return r.pos }),
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestTickPublishesActiveCoords(t *testing.T) {
	r := newRig(t)
	e, err := New(DefaultConfig(), r.sched, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.ActiveCoords(); len(got) != 0 {
		t.Fatalf("initial active = %v", got)
	}
	if st := e.Tick(); st != scheduler.StatusDrained {
		t.Fatalf("status = %s", st)
	}
	if got := e.ActiveCoords(); len(got) != 5 {
		t.Fatalf("active = %v", got)
	}
}

func TestDisableStopsWork(t *testing.T) {
	r := newRig(t)
	e, _ := New(DefaultConfig(), r.sched, nil)
	e.SetEnabled(false)
	if st := e.Tick(); st != scheduler.StatusDisabled {
		t.Fatalf("status = %s", st)
	}
	if r.store.ActiveCount() != 0 {
		t.Fatal("disabled engine generated tiles")
	}
	e.SetEnabled(true)
	e.Tick()
	if r.store.ActiveCount() == 0 {
		t.Fatal("re-enabled engine did nothing")
	}
}

func TestCheckRunsGovernor(t *testing.T) {
	r := newRig(t)
	gc := governor.DefaultConfig()
	gc.LimitMB, gc.WarningMB = 0.0002, 0.0001
	g, err := governor.New(gc, r.store, r.sched.Stats())
	if err != nil {
		t.Fatal(err)
	}
	e, _ := New(DefaultConfig(), r.sched, g)
	e.Tick()
	out := e.Check()
	if out.Level != governor.LevelEmergency || out.Evicted == 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if e.LastCheck().Evicted != out.Evicted {
		t.Fatal("last check not stored")
	}
	if len(e.ActiveCoords()) != r.store.ActiveCount() {
		t.Fatalf("snapshot %d vs store %d", len(e.ActiveCoords()), r.store.ActiveCount())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := newRig(t)
	e, _ := New(Config{TickInterval: time.Millisecond, CheckInterval: time.Millisecond}, r.sched, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(e.ActiveCoords()) == 0 {
		select {
		case <-deadline:
			t.Fatal("engine never ticked")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	r := newRig(t)
	if _, err := New(Config{}, r.sched, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v", err)
	}
}
