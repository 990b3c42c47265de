// 包 stats：调度结果的计数与测量聚合；写路径仅在调度协程，读路径通过原子快照无锁读取
package stats

import (
	"sync/atomic"
	"time"

	"tilestream/internal/grid"
	"tilestream/internal/metrics"
)

// PerformanceStats：单调计数 + 滚动测量
type PerformanceStats struct {
	TilesGenerated     uint64 `json:"tiles_generated"`
	TilesDeleted       uint64 `json:"tiles_deleted"`
	GenerationErrors   uint64 `json:"generation_errors"`
	DeletionErrors     uint64 `json:"deletion_errors"`
	EmergencyCleanups  uint64 `json:"emergency_cleanups"`
	PreventiveWarnings uint64 `json:"preventive_warnings"`
	AggressiveCleanups uint64 `json:"aggressive_cleanups"`
	WatchdogAborts     uint64 `json:"watchdog_aborts"`

	MemoryMB          float64   `json:"memory_mb"`
	TilesPerSecond    float64   `json:"tiles_per_second"`
	AvgFrameTimeMs    float64   `json:"avg_frame_time_ms"`
	ActiveTiles       int       `json:"active_tiles"`
	QueuedGenerations int       `json:"queued_generations"`
	QueuedDeletions   int       `json:"queued_deletions"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CleanupKind：内存治理触发的清理类别
type CleanupKind string

const (
	CleanupEmergency  CleanupKind = "emergency"
	CleanupPreventive CleanupKind = "preventive"
	CleanupAggressive CleanupKind = "aggressive"
)

// EventKind：生命周期事件类别（写入日志型 Sink）
type EventKind string

const (
	EventGenerated        EventKind = "generated"
	EventGenerationFailed EventKind = "generation_failed"
	EventUnloaded         EventKind = "unloaded"
	EventDeletionFailed   EventKind = "deletion_failed"
	EventCleanup          EventKind = "cleanup"
	EventWatchdog         EventKind = "watchdog"
	EventReclaimed        EventKind = "reclaimed"
)

// HasCoord：整体回收、清理与看门狗事件不对应单个坐标
func (k EventKind) HasCoord() bool {
	switch k {
	case EventCleanup, EventWatchdog, EventReclaimed:
		return false
	}
	return true
}

type Event struct {
	Kind     EventKind
	Coord    grid.Coord
	Duration time.Duration
	Count    int
	Detail   string
	At       time.Time
}

// Sink：事件接收方
// 约束：Record 在调度协程内调用，实现方不得阻塞
type Sink interface {
	Record(e Event)
}

// Gauges：发布快照时由调用方提供的瞬时量
type Gauges struct {
	MemoryMB          float64
	ActiveTiles       int
	QueuedGenerations int
	QueuedDeletions   int
}

const frameWindow = 60

type Collector struct {
	cur  PerformanceStats
	snap atomic.Value

	frames   [frameWindow]time.Duration
	frameN   int
	frameIdx int

	windowStart     time.Time
	windowGenerated uint64

	now  func() time.Time
	sink Sink
}

func New(now func() time.Time, sink Sink) *Collector {
	if now == nil {
		now = time.Now
	}
	c := &Collector{now: now, sink: sink}
	c.snap.Store(PerformanceStats{})
	return c
}

func (c *Collector) emit(e Event) {
	if c.sink == nil {
		return
	}
	if e.At.IsZero() {
		e.At = c.now()
	}
	c.sink.Record(e)
}

func (c *Collector) RecordGenerated(at grid.Coord, d time.Duration) {
	c.cur.TilesGenerated++
	metrics.TilesGeneratedTotal.Inc()
	metrics.GenerationDurationMs.Observe(float64(d.Microseconds()) / 1000)
	c.emit(Event{Kind: EventGenerated, Coord: at, Duration: d, Count: 1})
}

func (c *Collector) RecordGenerationError(at grid.Coord, err error) {
	c.cur.GenerationErrors++
	metrics.GenerationErrorsTotal.Inc()
	c.emit(Event{Kind: EventGenerationFailed, Coord: at, Detail: errText(err)})
}

// RecordDeleted：n 为本次回收的瓦片数（整体回收时可能大于 1）
func (c *Collector) RecordDeleted(at grid.Coord, n int) {
	if n <= 0 {
		return
	}
	c.cur.TilesDeleted += uint64(n)
	metrics.TilesDeletedTotal.Add(float64(n))
	c.emit(Event{Kind: EventUnloaded, Coord: at, Count: n})
}

// RecordReclaimed：整体回收，n 为释放的瓦片数
func (c *Collector) RecordReclaimed(n int) {
	if n <= 0 {
		return
	}
	c.cur.TilesDeleted += uint64(n)
	metrics.TilesDeletedTotal.Add(float64(n))
	c.emit(Event{Kind: EventReclaimed, Count: n})
}

func (c *Collector) RecordDeletionError(at grid.Coord, err error) {
	c.cur.DeletionErrors++
	metrics.DeletionErrorsTotal.Inc()
	c.emit(Event{Kind: EventDeletionFailed, Coord: at, Detail: errText(err)})
}

func (c *Collector) RecordCleanup(kind CleanupKind, evicted int) {
	switch kind {
	case CleanupEmergency:
		c.cur.EmergencyCleanups++
	case CleanupPreventive:
		c.cur.PreventiveWarnings++
	case CleanupAggressive:
		c.cur.AggressiveCleanups++
	}
	metrics.CleanupsTotal.WithLabelValues(string(kind)).Inc()
	c.emit(Event{Kind: EventCleanup, Count: evicted, Detail: string(kind)})
}

func (c *Collector) RecordWatchdog(yields int) {
	c.cur.WatchdogAborts++
	metrics.WatchdogAbortsTotal.Inc()
	c.emit(Event{Kind: EventWatchdog, Count: yields})
}

func (c *Collector) RecordFrame(d time.Duration) {
	c.frames[c.frameIdx] = d
	c.frameIdx = (c.frameIdx + 1) % frameWindow
	if c.frameN < frameWindow {
		c.frameN++
	}
	metrics.FrameTimeMs.Observe(float64(d.Microseconds()) / 1000)
}

// Publish：刷新测量值并发布不可变快照
func (c *Collector) Publish(g Gauges) PerformanceStats {
	now := c.now()
	if c.windowStart.IsZero() {
		c.windowStart = now
		c.windowGenerated = c.cur.TilesGenerated
	} else if el := now.Sub(c.windowStart); el >= time.Second {
		c.cur.TilesPerSecond = float64(c.cur.TilesGenerated-c.windowGenerated) / el.Seconds()
		c.windowStart = now
		c.windowGenerated = c.cur.TilesGenerated
	}
	if c.frameN > 0 {
		var sum time.Duration
		for i := 0; i < c.frameN; i++ {
			sum += c.frames[i]
		}
		c.cur.AvgFrameTimeMs = float64(sum.Microseconds()) / 1000 / float64(c.frameN)
	}
	c.cur.MemoryMB = g.MemoryMB
	c.cur.ActiveTiles = g.ActiveTiles
	c.cur.QueuedGenerations = g.QueuedGenerations
	c.cur.QueuedDeletions = g.QueuedDeletions
	c.cur.UpdatedAt = now

	metrics.MemoryMB.Set(g.MemoryMB)
	metrics.ActiveTiles.Set(float64(g.ActiveTiles))
	metrics.QueueDepth.WithLabelValues("generation").Set(float64(g.QueuedGenerations))
	metrics.QueueDepth.WithLabelValues("deletion").Set(float64(g.QueuedDeletions))

	out := c.cur
	c.snap.Store(out)
	return out
}

// Snapshot：最近一次 Publish 的结果，任意协程可读
func (c *Collector) Snapshot() PerformanceStats {
	return c.snap.Load().(PerformanceStats)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
