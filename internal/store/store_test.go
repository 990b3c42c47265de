package store

import (
	"errors"
	"testing"

	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/tile"
)

func init() { logger.Use(logger.Discard()) }

type synth struct{ fail map[grid.Coord]bool }

func (s synth) Synthesize(p tile.Params) (*tile.HeightField, error) {
	if s.fail[p.Coord] {
		return nil, errors.New("no terrain here")
	}
	return tile.NewHeightField(p.Resolution), nil
}

type surface struct{}

func (surface) Build(h *tile.HeightField, p tile.Params) (*tile.Surface, error) {
	return &tile.Surface{Vertices: make([]float32, len(h.Heights)*3), Indices: []uint32{0, 1, 2}}, nil
}

func newStore(fail ...grid.Coord) *Store {
	s := synth{fail: map[grid.Coord]bool{}}
	for _, c := range fail {
		s.fail[c] = true
	}
	return New(grid.MustNew(100), tile.Pipeline{Synth: s, Surface: surface{}, Resolution: 8})
}

func TestGenerateActivatesAndAccounts(t *testing.T) {
	s := newStore()
	c := grid.Coord{X: 1, Z: 2}
	if err := s.Generate(c); err != nil {
		t.Fatal(err)
	}
	tl, ok := s.Lookup(c)
	if !ok || tl.State() != tile.Active || !s.IsActive(c) {
		t.Fatalf("tile not active: %v", tl)
	}
	want := float64(tl.SizeBytes()) / bytesPerMB
	if s.MemoryUsageMB() != want || want <= 0 {
		t.Fatalf("memory = %v, want %v", s.MemoryUsageMB(), want)
	}
}

func TestUnloadReleasesAndPrunes(t *testing.T) {
	s := newStore()
	c := grid.Coord{}
	_ = s.Generate(c)
	n, err := s.Unload(c)
	if err != nil || n != 1 {
		t.Fatalf("unload = %d %v", n, err)
	}
	if s.MemoryUsageMB() != 0 || s.Len() != 0 || s.IsActive(c) {
		t.Fatalf("after unload: mem=%v len=%d", s.MemoryUsageMB(), s.Len())
	}
	if _, err := s.Unload(c); !errors.Is(err, ErrNotActive) {
		t.Fatalf("second unload err = %v", err)
	}
}

func TestUnloadKeepsQueuedEntry(t *testing.T) {
	s := newStore()
	c := grid.Coord{X: 3}
	_ = s.Generate(c)
	s.Tile(c).Mark(tile.FlagGenQueued)
	if _, err := s.Unload(c); err != nil {
		t.Fatal(err)
	}
	if tl, ok := s.Lookup(c); !ok || !tl.Has(tile.FlagGenQueued) {
		t.Fatal("queued entry pruned from arena")
	}
}

func TestFailedGenerationNotActive(t *testing.T) {
	bad := grid.Coord{X: -4}
	s := newStore(bad)
	if err := s.Generate(bad); !errors.Is(err, tile.ErrGeneration) {
		t.Fatalf("err = %v", err)
	}
	if s.IsActive(bad) || s.ActiveCount() != 0 || s.MemoryUsageMB() != 0 {
		t.Fatal("failed tile counted as active")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestForgetOnlyIdleUnloaded(t *testing.T) {
	bad := grid.Coord{X: 7}
	s := newStore(bad)
	live := grid.Coord{X: 1}
	_ = s.Generate(live)
	_ = s.Generate(bad)
	queued := grid.Coord{X: 2}
	s.Tile(queued).Mark(tile.FlagDelQueued)
	if s.Forget(live) || s.Forget(bad) || s.Forget(queued) || s.Forget(grid.Coord{X: 99}) {
		t.Fatal("forgot an entry that is active, failed, flagged or absent")
	}
	s.Tile(queued).Clear(tile.FlagDelQueued)
	if !s.Forget(queued) || s.Len() != 2 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestPruneOutsideKeepsNearAndBusy(t *testing.T) {
	far, near := grid.Coord{X: 10}, grid.Coord{X: 1}
	s := newStore(far, near)
	_ = s.Generate(far)
	_ = s.Generate(near)
	_ = s.Generate(grid.Coord{X: 12})
	s.Tile(grid.Coord{X: -11})
	s.Tile(grid.Coord{Z: 20}).Mark(tile.FlagGenQueued)
	if n := s.PruneOutside(grid.Coord{}, 3); n != 2 {
		t.Fatalf("pruned = %d", n)
	}
	for _, c := range []grid.Coord{near, {X: 12}, {Z: 20}} {
		if _, ok := s.Lookup(c); !ok {
			t.Fatalf("%v pruned", c)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestReclaimAllClearsEverything(t *testing.T) {
	bad := grid.Coord{X: 9}
	s := newStore(bad)
	for x := 0; x < 4; x++ {
		_ = s.Generate(grid.Coord{X: x})
	}
	_ = s.Generate(bad)
	n, err := s.ReclaimAll()
	if err != nil || n != 4 {
		t.Fatalf("reclaim = %d %v", n, err)
	}
	if s.Len() != 0 || s.MemoryUsageMB() != 0 || len(s.ActiveTiles()) != 0 {
		t.Fatalf("len=%d mem=%v", s.Len(), s.MemoryUsageMB())
	}
}

func TestActiveTilesSorted(t *testing.T) {
	s := newStore()
	for _, c := range []grid.Coord{{X: 2, Z: 0}, {X: -1, Z: 5}, {X: 2, Z: -3}, {X: 0, Z: 0}} {
		_ = s.Generate(c)
	}
	got := s.ActiveTiles()
	want := []grid.Coord{{X: -1, Z: 5}, {X: 0, Z: 0}, {X: 2, Z: -3}, {X: 2, Z: 0}}
	for i := range want {
		if got[i].Coord() != want[i] {
			t.Fatalf("order[%d] = %v", i, got[i].Coord())
		}
	}
	if s.CoordinateAt(grid.Position{X: 240, Z: -160}) != (grid.Coord{X: 2, Z: -2}) {
		t.Fatal("CoordinateAt")
	}
}
