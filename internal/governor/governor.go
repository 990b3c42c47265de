// 包 governor：周期性审计瓦片内存，按压力等级触发预防性或紧急回收
package governor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/stats"
	"tilestream/internal/tile"
)

var (
	ErrMemoryLimit = errors.New("governor: memory limit exceeded")
	ErrConfig      = errors.New("governor: invalid config")
)

// Policy：回收粒度
type Policy uint8

const (
	// PolicyRanked：按距离（远优先）、最近访问（旧优先）、访问次数（少优先）逐个释放，直到降到目标值
	PolicyRanked Policy = iota
	// PolicyReclaimAll：整体回收活动集合
	PolicyReclaimAll
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ranked":
		return PolicyRanked, nil
	case "reclaim_all", "reclaimall", "all":
		return PolicyReclaimAll, nil
	}
	return PolicyRanked, ErrConfig
}

func (p Policy) String() string {
	if p == PolicyReclaimAll {
		return "reclaim_all"
	}
	return "ranked"
}

// Level：单次审计结论
type Level uint8

const (
	LevelNone Level = iota
	LevelPreventive
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelPreventive:
		return "preventive"
	case LevelEmergency:
		return "emergency"
	}
	return "none"
}

type Config struct {
	LimitMB            float64
	WarningMB          float64
	TargetRatio        float64
	PreventiveEviction bool
	Aggressive         bool
	Policy             Policy
}

func DefaultConfig() Config {
	return Config{LimitMB: 512, WarningMB: 384, TargetRatio: 0.9, Policy: PolicyRanked}
}

func (c Config) Validate() error {
	if c.LimitMB <= 0 || c.WarningMB <= 0 || c.WarningMB > c.LimitMB || c.TargetRatio <= 0 || c.TargetRatio > 1 {
		return ErrConfig
	}
	return nil
}

// Store：治理所需的存储能力
type Store interface {
	ActiveTiles() []*tile.Tile
	Unload(c grid.Coord) (int, error)
	ReclaimAll() (int, error)
	MemoryUsageMB() float64
}

// Outcome：审计结果
type Outcome struct {
	Level      Level
	UsageMB    float64
	AfterMB    float64
	Evicted    int
	Aggressive bool
	Err        error
}

type Governor struct {
	cfg   Config
	store Store
	stats *stats.Collector
}

func New(cfg Config, st Store, sc *stats.Collector) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sc == nil {
		sc = stats.New(nil, nil)
	}
	return &Governor{cfg: cfg, store: st, stats: sc}, nil
}

func (g *Governor) Config() Config { return g.cfg }

// Classify：usage > limit 一律走紧急路径，即便同时超过警戒值
func (g *Governor) Classify(usageMB float64) Level {
	switch {
	case usageMB > g.cfg.LimitMB:
		return LevelEmergency
	case usageMB > g.cfg.WarningMB:
		return LevelPreventive
	}
	return LevelNone
}

func (g *Governor) target() float64 { return g.cfg.WarningMB * g.cfg.TargetRatio }

// Check：执行一次内存审计；observer 用于距离排序
func (g *Governor) Check(observer grid.Position) Outcome {
	usage := g.store.MemoryUsageMB()
	out := Outcome{Level: g.Classify(usage), UsageMB: usage}
	l := logger.L()

	switch out.Level {
	case LevelEmergency:
		out.Err = fmt.Errorf("%w: %.1fMB > %.1fMB", ErrMemoryLimit, usage, g.cfg.LimitMB)
		n, err := g.reclaim(observer, g.target())
		out.Evicted += n
		if err != nil {
			out.Err = errors.Join(out.Err, err)
		}
		g.stats.RecordCleanup(stats.CleanupEmergency, n)
		l.Error("memory_emergency_cleanup", "usage_mb", usage, "limit_mb", g.cfg.LimitMB, "evicted", n, "policy", g.cfg.Policy.String(), "err", out.Err)
	case LevelPreventive:
		n := 0
		if g.cfg.PreventiveEviction {
			var err error
			n, err = g.reclaim(observer, g.target())
			out.Evicted += n
			out.Err = err
		}
		g.stats.RecordCleanup(stats.CleanupPreventive, n)
		l.Warn("memory_preventive_cleanup", "usage_mb", usage, "warning_mb", g.cfg.WarningMB, "evicted", n)
	}

	if g.cfg.Aggressive {
		n, err := g.aggressive()
		out.Evicted += n
		out.Aggressive = true
		if err != nil {
			out.Err = errors.Join(out.Err, err)
		}
		g.stats.RecordCleanup(stats.CleanupAggressive, n)
		l.Debug("memory_aggressive_cleanup", "evicted", n)
	}
	out.AfterMB = g.store.MemoryUsageMB()
	return out
}

func (g *Governor) reclaim(observer grid.Position, targetMB float64) (int, error) {
	if g.cfg.Policy == PolicyReclaimAll {
		n, err := g.store.ReclaimAll()
		g.stats.RecordReclaimed(n)
		return n, err
	}
	n := 0
	var errs []error
	for _, t := range Rank(g.store.ActiveTiles(), observer) {
		if g.store.MemoryUsageMB() <= targetMB {
			break
		}
		c := t.Coord()
		k, err := g.store.Unload(c)
		if err != nil {
			errs = append(errs, err)
			g.stats.RecordDeletionError(c, err)
			continue
		}
		n += k
		g.stats.RecordDeleted(c, k)
	}
	return n, errors.Join(errs...)
}

// aggressive：排序策略下释放所有非 Active 的瓦片（已加载未使用或已停用）
func (g *Governor) aggressive() (int, error) {
	if g.cfg.Policy == PolicyReclaimAll {
		n, err := g.store.ReclaimAll()
		g.stats.RecordReclaimed(n)
		return n, err
	}
	n := 0
	var errs []error
	for _, t := range g.store.ActiveTiles() {
		if t.State() == tile.Active {
			continue
		}
		k, err := g.store.Unload(t.Coord())
		if err != nil {
			errs = append(errs, err)
			g.stats.RecordDeletionError(t.Coord(), err)
			continue
		}
		n += k
		g.stats.RecordDeleted(t.Coord(), k)
	}
	return n, errors.Join(errs...)
}

// Rank：回收顺序，距离远优先，其次最近访问更早，其次访问次数更少，最后按坐标保证稳定
func Rank(tiles []*tile.Tile, observer grid.Position) []*tile.Tile {
	type ranked struct {
		t *tile.Tile
		d float64
	}
	rs := make([]ranked, len(tiles))
	for i, t := range tiles {
		rs[i] = ranked{t: t, d: t.World().Distance(observer)}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.d != b.d {
			return a.d > b.d
		}
		if !a.t.LastAccess().Equal(b.t.LastAccess()) {
			return a.t.LastAccess().Before(b.t.LastAccess())
		}
		if a.t.AccessCount() != b.t.AccessCount() {
			return a.t.AccessCount() < b.t.AccessCount()
		}
		ca, cb := a.t.Coord(), b.t.Coord()
		if ca.X != cb.X {
			return ca.X < cb.X
		}
		return ca.Z < cb.Z
	})
	out := make([]*tile.Tile, len(rs))
	for i, r := range rs {
		out[i] = r.t
	}
	return out
}
