// 包 store：瓦片存储池的参考实现；按坐标索引的瓦片 arena，持有权威活动集合与内存核算
package store

import (
	"errors"
	"sort"

	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/tile"
)

var ErrNotActive = errors.New("store: tile not active")

const bytesPerMB = 1024 * 1024

// Store：单协程使用，不加锁
// 约束：活动集合 = arena 中 state 持有数据的瓦片；无数据且无调度标记的条目随卸载一起移出 arena
type Store struct {
	sys   grid.System
	pipe  tile.Pipeline
	arena map[grid.Coord]*tile.Tile
	bytes int64
}

func New(sys grid.System, pipe tile.Pipeline) *Store {
	return &Store{sys: sys, pipe: pipe, arena: make(map[grid.Coord]*tile.Tile, 256)}
}

func (s *Store) IsActive(c grid.Coord) bool {
	t, ok := s.arena[c]
	return ok && t.State().HasData()
}

// Tile：arena 取或建（新条目为 Unloaded）
func (s *Store) Tile(c grid.Coord) *tile.Tile {
	if t, ok := s.arena[c]; ok {
		return t
	}
	t := tile.New(c, s.sys)
	s.arena[c] = t
	return t
}

func (s *Store) Lookup(c grid.Coord) (*tile.Tile, bool) {
	t, ok := s.arena[c]
	return t, ok
}

// ActiveTiles：按坐标排序，保证遍历顺序确定
func (s *Store) ActiveTiles() []*tile.Tile {
	out := make([]*tile.Tile, 0, len(s.arena))
	for _, t := range s.arena {
		if t.State().HasData() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Coord(), out[j].Coord()
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
	return out
}

// Generate：生成并激活瓦片
func (s *Store) Generate(c grid.Coord) error {
	t := s.Tile(c)
	if err := t.Generate(s.pipe); err != nil {
		return err
	}
	s.bytes += t.SizeBytes()
	return t.Activate()
}

// Unload：释放单个瓦片，返回释放数量
func (s *Store) Unload(c grid.Coord) (int, error) {
	t, ok := s.arena[c]
	if !ok || !t.State().HasData() {
		return 0, ErrNotActive
	}
	s.release(t)
	return 1, nil
}

// ReclaimAll：释放全部活动瓦片
func (s *Store) ReclaimAll() (int, error) {
	n := 0
	for _, t := range s.arena {
		if t.State().HasData() {
			s.release(t)
			n++
		} else if t.State() == tile.Error && idle(t) {
			delete(s.arena, t.Coord())
		}
	}
	logger.L().Debug("store_reclaim_all", "released", n, "remaining_entries", len(s.arena))
	return n, nil
}

func (s *Store) release(t *tile.Tile) {
	size := t.SizeBytes()
	if t.Unload() {
		s.bytes -= size
	}
	if idle(t) {
		delete(s.arena, t.Coord())
	}
}

func idle(t *tile.Tile) bool {
	return !t.Has(tile.FlagGenQueued) && !t.Has(tile.FlagDelQueued)
}

// Forget：移出无调度标记的 Unloaded 条目；返回是否移除
func (s *Store) Forget(c grid.Coord) bool {
	t, ok := s.arena[c]
	if !ok || t.State() != tile.Unloaded || !idle(t) {
		return false
	}
	delete(s.arena, c)
	return true
}

// PruneOutside：移出距 center 超过 radius（瓦片单位）的空闲 Unloaded/Error 条目，返回移除数量
func (s *Store) PruneOutside(center grid.Coord, radius float64) int {
	n := 0
	for c, t := range s.arena {
		if st := t.State(); st != tile.Unloaded && st != tile.Error {
			continue
		}
		if idle(t) && c.Distance(center) > radius {
			delete(s.arena, c)
			n++
		}
	}
	return n
}

func (s *Store) MemoryUsageMB() float64 { return float64(s.bytes) / bytesPerMB }

func (s *Store) CoordinateAt(p grid.Position) grid.Coord { return s.sys.ToCoord(p) }

func (s *Store) System() grid.System { return s.sys }

// Len：arena 条目数（含排队中与失败的瓦片）
func (s *Store) Len() int { return len(s.arena) }

func (s *Store) ActiveCount() int {
	n := 0
	for _, t := range s.arena {
		if t.State().HasData() {
			n++
		}
	}
	return n
}
