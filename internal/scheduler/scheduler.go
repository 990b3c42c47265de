// 包 scheduler：生成/删除两条 FIFO 队列的协作式调度
// 约束：单协程驱动，所有状态仅在 Step 与 Request* 内修改；不加锁
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"tilestream/internal/demand"
	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/stats"
	"tilestream/internal/tile"
)

var (
	ErrDeletion = errors.New("scheduler: deletion failed")
	ErrWatchdog = errors.New("scheduler: budgeted drain exceeded watchdog yields")
)

// TileStore：瓦片存储协作者；活动集合以它为准，调度器只保留每 tick 的簿记标记
type TileStore interface {
	IsActive(c grid.Coord) bool
	ActiveTiles() []*tile.Tile
	Tile(c grid.Coord) *tile.Tile
	Lookup(c grid.Coord) (*tile.Tile, bool)
	Generate(c grid.Coord) error
	Unload(c grid.Coord) (int, error)
	ReclaimAll() (int, error)
	Forget(c grid.Coord) bool
	PruneOutside(center grid.Coord, radius float64) int
	MemoryUsageMB() float64
	CoordinateAt(p grid.Position) grid.Coord
}

// Observer：观察者位置来源
type Observer interface {
	Position() grid.Position
}

// ObserverFunc：函数适配
type ObserverFunc func() grid.Position

func (f ObserverFunc) Position() grid.Position { return f() }

// Status：Step 的返回；Pending 表示预算内未排空，需在下一量子继续
type Status uint8

const (
	StatusDrained Status = iota
	StatusPending
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDisabled:
		return "disabled"
	}
	return "drained"
}

type stage uint8

const (
	stageIdle stage = iota
	stageGenerating
)

// Deps：调度器依赖；Model 为 nil 时不做需求计算，仅处理外部投递的请求
type Deps struct {
	Store    TileStore
	Model    *demand.Model
	Stats    *stats.Collector
	Observer Observer
	Now      func() time.Time
}

type Scheduler struct {
	cfg      Config
	store    TileStore
	model    *demand.Model
	stats    *stats.Collector
	observer Observer
	now      func() time.Time

	gen queue
	del queue

	stage   stage
	yields  int
	swept   bool
	enabled bool
	pos     grid.Position
	ticks   uint64
}

func New(cfg Config, d Deps) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrConfig)
	}
	if d.Model != nil && d.Observer == nil {
		return nil, fmt.Errorf("%w: demand model requires an observer", ErrConfig)
	}
	if d.Stats == nil {
		d.Stats = stats.New(d.Now, nil)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Scheduler{
		cfg:      cfg,
		store:    d.Store,
		model:    d.Model,
		stats:    d.Stats,
		observer: d.Observer,
		now:      d.Now,
		enabled:  true,
	}, nil
}

func (s *Scheduler) Config() Config            { return s.cfg }
func (s *Scheduler) Stats() *stats.Collector   { return s.stats }
func (s *Scheduler) Store() TileStore          { return s.store }
func (s *Scheduler) Enabled() bool             { return s.enabled }
func (s *Scheduler) Ticks() uint64             { return s.ticks }
func (s *Scheduler) QueuedGenerations() int    { return s.gen.len() }
func (s *Scheduler) QueuedDeletions() int      { return s.del.len() }
func (s *Scheduler) ObserverAt() grid.Position { return s.pos }

// Pending：是否有挂起中的分帧生成
func (s *Scheduler) Pending() bool { return s.stage != stageIdle }

// SetEnabled：关闭后下一次 Step 放弃进行中的排空（不回滚，队列保持有效）
func (s *Scheduler) SetEnabled(on bool) { s.enabled = on }

// GenerationQueue：生成队列副本（出队顺序）
func (s *Scheduler) GenerationQueue() []demand.Request { return s.gen.snapshot() }

func (s *Scheduler) DeletionQueue() []demand.Request { return s.del.snapshot() }

// Step：推进一个调度量子
// 空闲时开启新 tick：重置整体回收标记 -> 需求计算 -> 刷新 LOD -> 生成排空 -> 删除排空 -> 发布统计
func (s *Scheduler) Step() Status {
	if !s.enabled {
		if s.stage != stageIdle {
			logger.L().Debug("scheduler_drain_aborted", "tick", s.ticks, "remaining", s.gen.len(), "yields", s.yields)
			s.stage = stageIdle
			s.yields = 0
		}
		return StatusDisabled
	}
	start := s.now()
	defer func() { s.stats.RecordFrame(s.now().Sub(start)) }()

	if s.stage == stageIdle {
		s.beginTick()
	}
	if !s.drainGeneration() {
		return StatusPending
	}
	s.drainDeletion()
	s.finishTick()
	return StatusDrained
}

func (s *Scheduler) beginTick() {
	s.ticks++
	s.swept = false
	s.yields = 0
	s.stage = stageGenerating
	if s.observer != nil {
		s.pos = s.observer.Position()
	}
	if s.model != nil {
		plan := s.model.Evaluate(s.pos, s.store)
		for _, r := range plan.Generate {
			s.enqueueGeneration(r)
		}
		for _, r := range plan.Delete {
			s.enqueueDeletion(r)
		}
		if n := s.store.PruneOutside(plan.Center, float64(s.model.Radii().ForceUnload)); n > 0 {
			logger.L().Debug("scheduler_arena_pruned", "tick", s.ticks, "entries", n)
		}
	}
	for _, t := range s.store.ActiveTiles() {
		t.UpdateLOD(s.pos)
	}
}

func (s *Scheduler) finishTick() {
	s.stage = stageIdle
	s.yields = 0
	snap := s.stats.Publish(stats.Gauges{
		MemoryMB:          s.store.MemoryUsageMB(),
		ActiveTiles:       len(s.store.ActiveTiles()),
		QueuedGenerations: s.gen.len(),
		QueuedDeletions:   s.del.len(),
	})
	c := s.store.CoordinateAt(s.pos)
	logger.L().Debug("scheduler_tick_done",
		"tick", s.ticks,
		"center_x", c.X,
		"center_z", c.Z,
		"active", snap.ActiveTiles,
		"queued_gen", snap.QueuedGenerations,
		"queued_del", snap.QueuedDeletions,
		"memory_mb", snap.MemoryMB,
	)
}

// drainGeneration：返回 true 表示本 tick 的生成阶段结束（排空或被看门狗中止）
func (s *Scheduler) drainGeneration() bool {
	if !s.cfg.Budgeted {
		for s.gen.len() > 0 {
			s.generate(s.gen.pop())
		}
		return true
	}
	quantum := s.now()
	processed := 0
	for s.gen.len() > 0 && processed < s.cfg.MaxTilesPerUpdate {
		if s.now().Sub(quantum) >= s.cfg.MaxFrameTime && processed >= s.cfg.MinTilesPerUpdate {
			break
		}
		if s.generate(s.gen.pop()) {
			processed++
		}
	}
	if s.gen.len() == 0 {
		return true
	}
	s.yields++
	if s.yields > s.cfg.WatchdogYields {
		logger.L().Error("scheduler_watchdog_timeout",
			"tick", s.ticks,
			"yields", s.yields,
			"remaining", s.gen.len(),
			"err", ErrWatchdog,
		)
		s.stats.RecordWatchdog(s.yields)
		return true
	}
	return false
}

func (s *Scheduler) drainDeletion() {
	done := 0
	for s.del.len() > 0 && done < s.cfg.MaxDeletionsPerFrame {
		if s.delete(s.del.pop()) {
			done++
		}
	}
}

// RequestGeneration：Immediate 同步执行，其余入队；已活动或已排队/生成中的坐标静默丢弃
func (s *Scheduler) RequestGeneration(c grid.Coord, p demand.Priority) {
	s.enqueueGeneration(demand.Request{Coord: c, Priority: p, RequestedAt: s.now()})
}

// RequestDeletion：Immediate 同步执行，其余入队；非活动坐标静默丢弃
func (s *Scheduler) RequestDeletion(c grid.Coord, p demand.Priority) {
	s.enqueueDeletion(demand.Request{Coord: c, Priority: p, RequestedAt: s.now()})
}

func (s *Scheduler) enqueueGeneration(r demand.Request) {
	if s.store.IsActive(r.Coord) {
		if t, ok := s.store.Lookup(r.Coord); ok {
			t.Touch(r.RequestedAt)
		}
		return
	}
	t := s.store.Tile(r.Coord)
	if t.State() == tile.Loading {
		return
	}
	if r.Priority == demand.Immediate {
		s.generate(r)
		return
	}
	if t.Has(tile.FlagGenQueued) {
		return
	}
	t.Mark(tile.FlagGenQueued)
	s.gen.push(r)
}

func (s *Scheduler) enqueueDeletion(r demand.Request) {
	if !s.store.IsActive(r.Coord) {
		return
	}
	if r.Priority == demand.Immediate {
		s.delete(r)
		return
	}
	t, ok := s.store.Lookup(r.Coord)
	if !ok || t.Has(tile.FlagDelQueued) {
		return
	}
	t.Mark(tile.FlagDelQueued)
	s.del.push(r)
}

// generate：返回是否真正发起了生成
func (s *Scheduler) generate(r demand.Request) bool {
	if t, ok := s.store.Lookup(r.Coord); ok {
		t.Clear(tile.FlagGenQueued)
	}
	if s.store.IsActive(r.Coord) {
		return false
	}
	if err := s.store.Generate(r.Coord); err != nil {
		if errors.Is(err, tile.ErrNotGeneratable) {
			return false
		}
		logger.L().Warn("scheduler_generate_failed", "x", r.Coord.X, "z", r.Coord.Z, "priority", r.Priority.String(), "err", err)
		s.stats.RecordGenerationError(r.Coord, err)
		return true
	}
	var d time.Duration
	if t, ok := s.store.Lookup(r.Coord); ok {
		d = t.GenerationDuration()
		t.Touch(s.now())
		t.UpdateLOD(s.pos)
	}
	s.stats.RecordGenerated(r.Coord, d)
	return true
}

// delete：返回是否真正执行了回收调用；失败时队列标记照常清除，避免同一坐标反复阻塞队列
func (s *Scheduler) delete(r demand.Request) bool {
	if t, ok := s.store.Lookup(r.Coord); ok {
		t.Clear(tile.FlagDelQueued)
	}
	if !s.store.IsActive(r.Coord) {
		// 已被其它路径（如内存治理）释放，只剩空条目
		s.store.Forget(r.Coord)
		return false
	}
	var (
		n   int
		err error
	)
	switch s.cfg.DeletionMode {
	case DeletionSweep:
		if s.swept {
			return false
		}
		s.swept = true
		n, err = s.store.ReclaimAll()
		if err == nil {
			s.stats.RecordReclaimed(n)
			return true
		}
	default:
		n, err = s.store.Unload(r.Coord)
	}
	if err != nil {
		err = fmt.Errorf("%w: %v: %w", ErrDeletion, r.Coord, err)
		logger.L().Error("scheduler_delete_error", "x", r.Coord.X, "z", r.Coord.Z, "mode", s.cfg.DeletionMode.String(), "err", err)
		s.stats.RecordDeletionError(r.Coord, err)
		return true
	}
	s.stats.RecordDeleted(r.Coord, n)
	return true
}
