// 包 mirror：把统计快照与活动坐标周期性镜像到 Redis，供外部面板读取
// 约束：只读取原子快照，不触碰调度协程的数据结构
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tilestream/internal/grid"
	"tilestream/internal/logger"
	"tilestream/internal/metrics"
	"tilestream/internal/stats"
)

const (
	StatsKey  = "tilestream:stats"
	ActiveKey = "tilestream:active"
)

// Client：*redis.Client 满足
type Client interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	Rename(ctx context.Context, key, newkey string) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Source interface {
	Snapshot() stats.PerformanceStats
	ActiveCoords() []grid.Coord
}

type Mirror struct {
	rc       Client
	src      Source
	interval time.Duration
}

func New(rc Client, src Source, interval time.Duration) *Mirror {
	if interval <= 0 {
		interval = time.Second
	}
	return &Mirror{rc: rc, src: src, interval: interval}
}

// Fields：快照转 HSET 字段
func Fields(s stats.PerformanceStats) map[string]any {
	return map[string]any{
		"tiles_generated":     s.TilesGenerated,
		"tiles_deleted":       s.TilesDeleted,
		"generation_errors":   s.GenerationErrors,
		"deletion_errors":     s.DeletionErrors,
		"emergency_cleanups":  s.EmergencyCleanups,
		"preventive_warnings": s.PreventiveWarnings,
		"aggressive_cleanups": s.AggressiveCleanups,
		"watchdog_aborts":     s.WatchdogAborts,
		"memory_mb":           s.MemoryMB,
		"tiles_per_second":    s.TilesPerSecond,
		"avg_frame_time_ms":   s.AvgFrameTimeMs,
		"active_tiles":        s.ActiveTiles,
		"queued_generations":  s.QueuedGenerations,
		"queued_deletions":    s.QueuedDeletions,
		"updated_at":          s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Push：写统计哈希；活动集合先写临时键再 RENAME 覆盖，读方不会看到半成品
func (m *Mirror) Push(ctx context.Context) error {
	if err := m.rc.HSet(ctx, StatsKey, Fields(m.src.Snapshot())).Err(); err != nil {
		return err
	}
	cs := m.src.ActiveCoords()
	if len(cs) == 0 {
		return m.rc.Del(ctx, ActiveKey).Err()
	}
	members := make([]any, len(cs))
	for i, c := range cs {
		members[i] = c.String()
	}
	tmp := ActiveKey + ":next"
	if err := m.rc.Del(ctx, tmp).Err(); err != nil {
		return err
	}
	if err := m.rc.SAdd(ctx, tmp, members...).Err(); err != nil {
		return err
	}
	return m.rc.Rename(ctx, tmp, ActiveKey).Err()
}

// Run：阻塞直到 ctx 取消；推送失败只记录，不中断
func (m *Mirror) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, m.interval)
			err := m.Push(pctx)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				metrics.MirrorPushTotal.WithLabelValues("error").Inc()
				logger.L().Warn("mirror_push_error", "err", err)
				continue
			}
			metrics.MirrorPushTotal.WithLabelValues("ok").Inc()
		}
	}
}
