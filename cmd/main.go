// 程序入口：读取配置、装配瓦片引擎与可选的外部汇（Postgres 日志、Redis 镜像），并启动调试端口
package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tilestream/internal/api"
	"tilestream/internal/config"
	"tilestream/internal/demand"
	"tilestream/internal/engine"
	"tilestream/internal/governor"
	"tilestream/internal/grid"
	"tilestream/internal/journal"
	"tilestream/internal/logger"
	"tilestream/internal/metrics"
	"tilestream/internal/middleware"
	"tilestream/internal/migrate"
	"tilestream/internal/mirror"
	"tilestream/internal/scheduler"
	"tilestream/internal/stats"
	"tilestream/internal/store"
	"tilestream/internal/synth"
	"tilestream/internal/tile"
	"tilestream/internal/utils"
)

// orbit：脚本化观察者，以固定线速度绕原点做圆周运动，代替真实输入
type orbit struct {
	start  time.Time
	radius float64
	speed  float64
}

func (o orbit) Position() grid.Position {
	if o.radius <= 0 {
		return grid.Position{}
	}
	theta := time.Since(o.start).Seconds() * o.speed / o.radius
	return grid.Position{X: o.radius * math.Cos(theta), Z: o.radius * math.Sin(theta)}
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func main() {
	config.LoadDotenv()
	l := logger.Setup()
	l.Debug("log_init_ok")

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 生命周期日志（可选）
	var (
		sink stats.Sink
		jnl  *journal.Journal
		db   *sql.DB
	)
	if cfg.Sinks.JournalEnable {
		j, conn, err := openJournal(ctx, cfg)
		if err != nil {
			l.Error("journal_open_error", "err", err, "required", cfg.Sinks.JournalRequired)
			if cfg.Sinks.JournalRequired {
				os.Exit(1)
			}
		} else {
			sink, jnl, db = j, j, conn
			go j.Run(ctx)
		}
	} else {
		l.Info("journal_disabled")
	}

	sys, err := grid.New(cfg.TileSize)
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	synthesizer, closeCache, err := synth.NewCached(synth.DefaultNoise(), cfg.Synthesis.CacheBytes)
	if err != nil {
		l.Error("heightfield_cache_error", "err", err)
		os.Exit(1)
	}
	defer closeCache()
	pipe := tile.Pipeline{
		Synth:      synthesizer,
		Surface:    synth.Grid{},
		Falloff:    cfg.Synthesis.Falloff,
		Resolution: cfg.Synthesis.Resolution,
		Seed:       cfg.Synthesis.Seed,
	}
	if cfg.Synthesis.Erosion {
		th := synth.DefaultThermal()
		th.Iterations = cfg.Synthesis.ErosionIterations
		pipe.Eroder = th
	}
	st := store.New(sys, pipe)

	model, err := demand.New(sys, cfg.Radii, nil)
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	collector := stats.New(nil, sink)
	obs := orbit{
		start:  time.Now(),
		radius: envFloat("OBSERVER_ORBIT_RADIUS", 4*cfg.TileSize),
		speed:  envFloat("OBSERVER_SPEED", 200),
	}
	sched, err := scheduler.New(cfg.Scheduler, scheduler.Deps{Store: st, Model: model, Stats: collector, Observer: obs})
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	gov, err := governor.New(cfg.Governor, st, collector)
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	eng, err := engine.New(cfg.Engine, sched, gov)
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}

	if cfg.Sinks.MirrorEnable {
		rc := utils.OpenRedisFromEnv()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
		defer rc.Close()
		go mirror.New(rc, eng, cfg.Sinks.MirrorInterval).Run(ctx)
	} else {
		l.Info("redis_disabled")
	}

	go serve(ctx, cfg, eng)

	l.Info("tilestream_start",
		"tile_size", cfg.TileSize,
		"resolution", cfg.Synthesis.Resolution,
		"budgeted", cfg.Scheduler.Budgeted,
		"deletion_mode", cfg.Scheduler.DeletionMode.String(),
		"eviction_policy", cfg.Governor.Policy.String(),
	)
	runErr := eng.Run(ctx)
	// 引擎非取消退出时 ctx 仍有效，先取消以触发日志协程收尾
	stop()
	if jnl != nil {
		drainJournal(jnl, db, journalDrainTimeout)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		l.Error("engine_error", "err", runErr)
		os.Exit(1)
	}
}

const journalDrainTimeout = 10 * time.Second

func openJournal(ctx context.Context, cfg config.Config) (*journal.Journal, *sql.DB, error) {
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		return nil, nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := migrate.EnsureSchema(pctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.L().Info("db_open_ok")
	return journal.New(db, cfg.Sinks.Journal), db, nil
}

// drainJournal：等待日志协程写完剩余事件再关闭连接；超时则放弃等待
func drainJournal(j *journal.Journal, db io.Closer, timeout time.Duration) {
	l := logger.L()
	select {
	case <-j.Done():
	case <-time.After(timeout):
		l.Warn("journal_drain_timeout", "timeout", timeout.String(), "written", j.Written())
	}
	if err := db.Close(); err != nil {
		l.Warn("db_close_error", "err", err)
	}
}

func serve(ctx context.Context, cfg config.Config, eng *engine.Engine) {
	l := logger.L()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", api.BuildRoutes(eng))

	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: cfg.Sinks.Addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()

	var err error
	if cfg.Sinks.TLS {
		if err := utils.EnsureSelfSignedCert(cfg.Sinks.TLSCertPath, cfg.Sinks.TLSKeyPath, "tilestream.local", utils.ListenHost(cfg.Sinks.Addr)); err != nil {
			l.Error("tls_cert_error", "err", err)
			return
		}
		l.Info("listening_tls", "addr", cfg.Sinks.Addr, "cert", cfg.Sinks.TLSCertPath)
		err = s.ListenAndServeTLS(cfg.Sinks.TLSCertPath, cfg.Sinks.TLSKeyPath)
	} else {
		l.Info("listening", "addr", cfg.Sinks.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("http_serve_error", "err", err)
	}
}
