package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/stats"
)

func init() { logger.Use(logger.Discard()) }

type fakeRedis struct {
	hashes  map[string]map[string]any
	sets    map[string][]any
	ops     []string
	hsetErr error
}

func newFake() *fakeRedis {
	return &fakeRedis{hashes: map[string]map[string]any{}, sets: map[string][]any{}}
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	f.ops = append(f.ops, "hset "+key)
	cmd := redis.NewIntCmd(ctx)
	if f.hsetErr != nil {
		cmd.SetErr(f.hsetErr)
		return cmd
	}
	f.hashes[key] = values[0].(map[string]any)
	return cmd
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd {
	f.ops = append(f.ops, "sadd "+key)
	f.sets[key] = append(f.sets[key], members...)
	return redis.NewIntCmd(ctx)
}

func (f *fakeRedis) Rename(ctx context.Context, key, newkey string) *redis.StatusCmd {
	f.ops = append(f.ops, "rename "+key+" "+newkey)
	f.sets[newkey] = f.sets[key]
	delete(f.sets, key)
	return redis.NewStatusCmd(ctx)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, k := range keys {
		f.ops = append(f.ops, "del "+k)
		delete(f.sets, k)
	}
	return redis.NewIntCmd(ctx)
}

type source struct {
	snap   stats.PerformanceStats
	active []grid.Coord
}

func (s source) Snapshot() stats.PerformanceStats { return s.snap }
func (s source) ActiveCoords() []grid.Coord       { return s.active }

func TestPushWritesStatsAndReplacesActiveSet(t *testing.T) {
	rc := newFake()
	rc.sets[ActiveKey] = []any{"9,9"}
	src := source{
		snap:   stats.PerformanceStats{TilesGenerated: 12, ActiveTiles: 2, UpdatedAt: time.Unix(0, 0)},
		active: []grid.Coord{{X: 0, Z: 0}, {X: -1, Z: 2}},
	}
	if err := New(rc, src, time.Second).Push(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := rc.hashes[StatsKey]
	if h["tiles_generated"] != uint64(12) || h["active_tiles"] != 2 {
		t.Fatalf("hash = %v", h)
	}
	got := rc.sets[ActiveKey]
	if len(got) != 2 || got[0] != "0,0" || got[1] != "-1,2" {
		t.Fatalf("active = %v", got)
	}
	if _, ok := rc.sets[ActiveKey+":next"]; ok {
		t.Fatal("temporary key left behind")
	}
}

func TestPushEmptyActiveDeletesKey(t *testing.T) {
	rc := newFake()
	rc.sets[ActiveKey] = []any{"1,1"}
	if err := New(rc, source{}, time.Second).Push(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := rc.sets[ActiveKey]; ok {
		t.Fatal("stale active set kept")
	}
}

func TestPushStopsOnError(t *testing.T) {
	rc := newFake()
	rc.hsetErr = errors.New("READONLY")
	err := New(rc, source{active: []grid.Coord{{}}}, time.Second).Push(context.Background())
	if err == nil || len(rc.ops) != 1 {
		t.Fatalf("err=%v ops=%v", err, rc.ops)
	}
}

func TestFieldsCoversSnapshot(t *testing.T) {
	f := Fields(stats.PerformanceStats{})
	for _, k := range []string{"tiles_generated", "memory_mb", "queued_deletions", "watchdog_aborts", "updated_at"} {
		if _, ok := f[k]; !ok {
			t.Errorf("missing field %s", k)
		}
	}
}
