// 包 engine：单协程驱动调度 tick 与内存治理周期
// 约束：调度器、存储与治理器只在 Run 协程内被访问；其他协程只能通过原子快照与启停开关交互
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"tilestream/internal/governor"
	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/scheduler"
	"tilestream/internal/stats"
)

var ErrConfig = errors.New("engine: invalid config")

type Config struct {
	TickInterval  time.Duration
	CheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{TickInterval: 16 * time.Millisecond, CheckInterval: 5 * time.Second}
}

// Engine：Run 之外的方法均可跨协程调用
type Engine struct {
	cfg   Config
	sched *scheduler.Scheduler
	gov   *governor.Governor

	enabled atomic.Bool
	active  atomic.Value // []grid.Coord
	last    atomic.Value // governor.Outcome
	running atomic.Bool
}

// New：gov 为 nil 时不做内存治理
func New(cfg Config, s *scheduler.Scheduler, gov *governor.Governor) (*Engine, error) {
	if cfg.TickInterval <= 0 || cfg.CheckInterval <= 0 || s == nil {
		return nil, ErrConfig
	}
	e := &Engine{cfg: cfg, sched: s, gov: gov}
	e.enabled.Store(s.Enabled())
	e.active.Store([]grid.Coord(nil))
	e.last.Store(governor.Outcome{})
	return e, nil
}

// SetEnabled：在下一次 tick 生效
func (e *Engine) SetEnabled(on bool) { e.enabled.Store(on) }

func (e *Engine) Enabled() bool { return e.enabled.Load() }

// ActiveCoords：最近一次完整 tick 结束时的活动坐标
func (e *Engine) ActiveCoords() []grid.Coord { return e.active.Load().([]grid.Coord) }

// Snapshot：最近一次发布的统计快照
func (e *Engine) Snapshot() stats.PerformanceStats { return e.sched.Stats().Snapshot() }

// LastCheck：最近一次内存审计结果
func (e *Engine) LastCheck() governor.Outcome { return e.last.Load().(governor.Outcome) }

// Tick：推进一个调度量子；完整 tick 结束时刷新活动坐标快照
func (e *Engine) Tick() scheduler.Status {
	e.sched.SetEnabled(e.enabled.Load())
	st := e.sched.Step()
	if st == scheduler.StatusDrained {
		e.publishActive()
	}
	return st
}

// Check：执行一次内存审计；治理器回收后立即刷新活动坐标
func (e *Engine) Check() governor.Outcome {
	if e.gov == nil {
		return governor.Outcome{}
	}
	out := e.gov.Check(e.sched.ObserverAt())
	e.last.Store(out)
	if out.Evicted > 0 {
		e.publishActive()
	}
	return out
}

func (e *Engine) publishActive() {
	ts := e.sched.Store().ActiveTiles()
	cs := make([]grid.Coord, len(ts))
	for i, t := range ts {
		cs[i] = t.Coord()
	}
	e.active.Store(cs)
}

// Run：阻塞直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine: already running")
	}
	defer e.running.Store(false)

	tick := time.NewTicker(e.cfg.TickInterval)
	defer tick.Stop()
	check := time.NewTicker(e.cfg.CheckInterval)
	defer check.Stop()

	logger.L().Info("engine_started", "tick_ms", e.cfg.TickInterval.Milliseconds(), "check_ms", e.cfg.CheckInterval.Milliseconds(), "governor", e.gov != nil)
	for {
		select {
		case <-ctx.Done():
			logger.L().Info("engine_stopped", "ticks", e.sched.Ticks())
			return ctx.Err()
		case <-tick.C:
			e.Tick()
		case <-check.C:
			e.Check()
		}
	}
}
