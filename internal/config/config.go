// 包 config：进程配置，.env 文件 + 环境变量
// 约束：解析失败的值回退到默认值并记录调试日志；跨字段一致性由 Validate 检查
package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tilestream/internal/demand"
	"tilestream/internal/engine"
	"tilestream/internal/governor"
	"tilestream/internal/journal"
	"tilestream/internal/logger"
	"tilestream/internal/scheduler"
)

type Synthesis struct {
	Resolution        int
	Seed              int64
	Falloff           bool
	Erosion           bool
	ErosionIterations int
	CacheBytes        int64
}

type Sinks struct {
	Addr            string
	TLS             bool
	TLSCertPath     string
	TLSKeyPath      string
	MirrorEnable    bool
	MirrorInterval  time.Duration
	JournalEnable   bool
	JournalRequired bool
	Journal         journal.Config
}

type Config struct {
	TileSize  float64
	Radii     demand.Radii
	Scheduler scheduler.Config
	Governor  governor.Config
	Engine    engine.Config
	Synthesis Synthesis
	Sinks     Sinks
}

// LoadDotenv：与部署目录约定一致，依次尝试 ./.env 与 data/env/.env；缺失不报错
func LoadDotenv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// Load：读取 .env 后解析环境变量
func Load() (Config, error) {
	LoadDotenv()
	c := FromEnv()
	return c, c.Validate()
}

// FromEnv：仅解析环境变量
func FromEnv() Config {
	sc := scheduler.DefaultConfig()
	sc.Budgeted = readBool("BUDGETED", sc.Budgeted)
	sc.MaxFrameTime = readMillis("MAX_FRAME_TIME_MS", sc.MaxFrameTime)
	sc.MinTilesPerUpdate = readInt("MIN_TILES_PER_UPDATE", sc.MinTilesPerUpdate)
	sc.MaxTilesPerUpdate = readInt("MAX_TILES_PER_UPDATE", sc.MaxTilesPerUpdate)
	sc.MaxDeletionsPerFrame = readInt("MAX_DELETIONS_PER_FRAME", sc.MaxDeletionsPerFrame)
	sc.WatchdogYields = readInt("WATCHDOG_YIELDS", sc.WatchdogYields)
	if v := os.Getenv("DELETION_MODE"); v != "" {
		if m, err := scheduler.ParseDeletionMode(v); err == nil {
			sc.DeletionMode = m
		} else {
			logger.L().Debug("config_invalid", "key", "DELETION_MODE", "value", v)
		}
	}

	gc := governor.DefaultConfig()
	gc.LimitMB = readFloat("MEMORY_LIMIT_MB", gc.LimitMB)
	gc.WarningMB = readFloat("MEMORY_WARNING_MB", gc.WarningMB)
	gc.TargetRatio = readFloat("MEMORY_TARGET_RATIO", gc.TargetRatio)
	gc.PreventiveEviction = readBool("PREVENTIVE_EVICTION", gc.PreventiveEviction)
	gc.Aggressive = readBool("AGGRESSIVE_CLEANUP", gc.Aggressive)
	if v := os.Getenv("EVICTION_POLICY"); v != "" {
		if p, err := governor.ParsePolicy(v); err == nil {
			gc.Policy = p
		} else {
			logger.L().Debug("config_invalid", "key", "EVICTION_POLICY", "value", v)
		}
	}

	ec := engine.DefaultConfig()
	ec.TickInterval = readMillis("TICK_INTERVAL_MS", ec.TickInterval)
	ec.CheckInterval = readMillis("MEMORY_CHECK_INTERVAL_MS", ec.CheckInterval)

	jc := journal.DefaultConfig()
	jc.Batch = readInt("JOURNAL_BATCH", jc.Batch)
	jc.Buffer = readInt("JOURNAL_BUFFER", jc.Buffer)

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		TileSize: readFloat("TILE_SIZE", 1000),
		Radii: demand.Radii{
			ImmediateLoad: readInt("IMMEDIATE_LOAD_RADIUS", 1),
			Preload:       readInt("PRELOAD_RADIUS", 3),
			KeepAlive:     readInt("KEEP_ALIVE_RADIUS", 5),
			ForceUnload:   readInt("FORCE_UNLOAD_RADIUS", 8),
		},
		Scheduler: sc,
		Governor:  gc,
		Engine:    ec,
		Synthesis: Synthesis{
			Resolution:        readInt("TILE_RESOLUTION", 33),
			Seed:              int64(readInt("WORLD_SEED", 1337)),
			Falloff:           readBool("FALLOFF", false),
			Erosion:           readBool("EROSION", true),
			ErosionIterations: readInt("EROSION_ITERATIONS", 20),
			CacheBytes:        int64(readFloat("HEIGHTFIELD_CACHE_MB", 64) * 1024 * 1024),
		},
		Sinks: Sinks{
			Addr:            addr,
			TLS:             readBool("TLS_ENABLE", false),
			TLSCertPath:     readString("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt")),
			TLSKeyPath:      readString("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key")),
			MirrorEnable:    readBool("MIRROR_ENABLE", false),
			MirrorInterval:  readMillis("MIRROR_INTERVAL_MS", time.Second),
			JournalEnable:   readBool("JOURNAL_ENABLE", false),
			JournalRequired: readBool("JOURNAL_REQUIRED", false),
			Journal:         jc,
		},
	}
}

// Validate：跨字段一致性；任一子配置非法即返回
func (c Config) Validate() error {
	var errs []error
	if c.TileSize <= 0 || math.IsNaN(c.TileSize) || math.IsInf(c.TileSize, 0) {
		errs = append(errs, errors.New("config: TILE_SIZE must be positive"))
	}
	if c.Synthesis.Resolution < 2 {
		errs = append(errs, errors.New("config: TILE_RESOLUTION must be at least 2"))
	}
	if err := c.Radii.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Governor.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Engine.TickInterval <= 0 || c.Engine.CheckInterval <= 0 {
		errs = append(errs, engine.ErrConfig)
	}
	return errors.Join(errs...)
}

func readString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func readInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		logger.L().Debug("config_invalid", "key", key, "value", s)
		return def
	}
	return n
}

func readFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		logger.L().Debug("config_invalid", "key", key, "value", s)
		return def
	}
	return f
}

func readBool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		logger.L().Debug("config_invalid", "key", key, "value", s)
		return def
	}
	return b
}

func readMillis(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		logger.L().Debug("config_invalid", "key", key, "value", s)
		return def
	}
	return time.Duration(f * float64(time.Millisecond))
}
