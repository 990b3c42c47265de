// 包 journal：瓦片生命周期事件的异步落库
// 约束：Record 在调度协程内调用，缓冲满时丢弃并计数，绝不阻塞调度；写库在独立协程批量进行
package journal

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"tilestream/internal/logger"
	"tilestream/internal/metrics"
	"tilestream/internal/migrate"
	"tilestream/internal/stats"
)

type Config struct {
	Batch         int
	Buffer        int
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{Batch: 128, Buffer: 4096, FlushInterval: time.Second}
}

type Journal struct {
	cfg Config
	db  migrate.Execer
	ch   chan stats.Event
	done chan struct{}

	dropped atomic.Uint64
	written atomic.Uint64
	failed  atomic.Uint64
}

func New(db migrate.Execer, cfg Config) *Journal {
	d := DefaultConfig()
	if cfg.Batch <= 0 {
		cfg.Batch = d.Batch
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = d.Buffer
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = d.FlushInterval
	}
	return &Journal{cfg: cfg, db: db, ch: make(chan stats.Event, cfg.Buffer), done: make(chan struct{})}
}

// Record：实现 stats.Sink
func (j *Journal) Record(e stats.Event) {
	select {
	case j.ch <- e:
	default:
		j.dropped.Add(1)
		metrics.JournalEventsTotal.WithLabelValues("dropped").Inc()
	}
}

func (j *Journal) Dropped() uint64 { return j.dropped.Load() }
func (j *Journal) Written() uint64 { return j.written.Load() }
func (j *Journal) Failed() uint64  { return j.failed.Load() }

// Done：Run 写完剩余事件并返回后关闭
func (j *Journal) Done() <-chan struct{} { return j.done }

// Run：阻塞直到 ctx 取消；退出前把缓冲中剩余事件写完
// 约束：每个 Journal 只能 Run 一次
func (j *Journal) Run(ctx context.Context) {
	defer close(j.done)
	t := time.NewTicker(j.cfg.FlushInterval)
	defer t.Stop()
	batch := make([]stats.Event, 0, j.cfg.Batch)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-j.ch:
					batch = append(batch, e)
					if len(batch) >= j.cfg.Batch {
						batch = j.flush(context.Background(), batch)
					}
				default:
					j.flush(context.Background(), batch)
					logger.L().Info("journal_stopped", "written", j.Written(), "dropped", j.Dropped(), "failed", j.Failed())
					return
				}
			}
		case e := <-j.ch:
			batch = append(batch, e)
			if len(batch) >= j.cfg.Batch {
				batch = j.flush(ctx, batch)
			}
		case <-t.C:
			batch = j.flush(ctx, batch)
		}
	}
}

// flush：写入失败整批丢弃（不重试），返回可复用的空切片
func (j *Journal) flush(ctx context.Context, batch []stats.Event) []stats.Event {
	if len(batch) == 0 {
		return batch
	}
	q, args := insertSQL(batch)
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := j.db.ExecContext(wctx, q, args...); err != nil {
		j.failed.Add(uint64(len(batch)))
		metrics.JournalEventsTotal.WithLabelValues("failed").Add(float64(len(batch)))
		logger.L().Warn("journal_flush_error", "events", len(batch), "err", err)
		return batch[:0]
	}
	j.written.Add(uint64(len(batch)))
	metrics.JournalEventsTotal.WithLabelValues("written").Add(float64(len(batch)))
	logger.L().Debug("journal_flush_ok", "events", len(batch))
	return batch[:0]
}

const columns = 7

func insertSQL(batch []stats.Event) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO _tile_events(at, kind, x, z, count, duration_ms, detail) VALUES ")
	args := make([]any, 0, len(batch)*columns)
	for i, e := range batch {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for k := 0; k < columns; k++ {
			if k > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(i*columns + k + 1))
		}
		b.WriteByte(')')
		var x, z any
		if e.Kind.HasCoord() {
			x, z = e.Coord.X, e.Coord.Z
		}
		args = append(args, e.At.UTC(), string(e.Kind), x, z, e.Count, float64(e.Duration.Microseconds())/1000, e.Detail)
	}
	return b.String(), args
}
