package scheduler

import (
	"errors"
	"strings"
	"time"
)

var ErrConfig = errors.New("scheduler: invalid config")

// DeletionMode：删除请求的执行方式
type DeletionMode uint8

const (
	// DeletionUnload：按坐标释放单个瓦片
	DeletionUnload DeletionMode = iota
	// DeletionSweep：整体回收活动集合，每个 tick 至多一次
	DeletionSweep
)

func ParseDeletionMode(s string) (DeletionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unload":
		return DeletionUnload, nil
	case "sweep":
		return DeletionSweep, nil
	}
	return DeletionUnload, ErrConfig
}

func (m DeletionMode) String() string {
	if m == DeletionSweep {
		return "sweep"
	}
	return "unload"
}

type Config struct {
	Budgeted             bool
	MaxFrameTime         time.Duration
	MinTilesPerUpdate    int
	MaxTilesPerUpdate    int
	MaxDeletionsPerFrame int
	WatchdogYields       int
	DeletionMode         DeletionMode
}

func DefaultConfig() Config {
	return Config{
		Budgeted:             true,
		MaxFrameTime:         8 * time.Millisecond,
		MinTilesPerUpdate:    1,
		MaxTilesPerUpdate:    8,
		MaxDeletionsPerFrame: 4,
		WatchdogYields:       300,
		DeletionMode:         DeletionUnload,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxTilesPerUpdate < 1:
		return errors.Join(ErrConfig, errors.New("max tiles per update must be >= 1"))
	case c.MinTilesPerUpdate < 0 || c.MinTilesPerUpdate > c.MaxTilesPerUpdate:
		return errors.Join(ErrConfig, errors.New("min tiles per update must be within [0, max]"))
	case c.MaxFrameTime < 0:
		return errors.Join(ErrConfig, errors.New("max frame time must be >= 0"))
	case c.Budgeted && c.MaxFrameTime == 0 && c.MinTilesPerUpdate == 0:
		// 零时间预算且无保底数量时分帧排空永远无进展
		return errors.Join(ErrConfig, errors.New("budgeted mode needs max frame time > 0 or min tiles per update >= 1"))
	case c.MaxDeletionsPerFrame < 1:
		return errors.Join(ErrConfig, errors.New("max deletions per frame must be >= 1"))
	case c.WatchdogYields < 1:
		return errors.Join(ErrConfig, errors.New("watchdog yields must be >= 1"))
	}
	return nil
}
