package migrate

import (
	"context"
	"database/sql"

	"tilestream/internal/logger"
)

// Execer：*sql.DB 与 *sql.Tx 的公共子集
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Statements：建表语句，按顺序执行
var Statements = []string{
	`CREATE TABLE IF NOT EXISTS _tile_events (
		id BIGSERIAL PRIMARY KEY,
		at TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		x INT,
		z INT,
		count INT NOT NULL DEFAULT 0,
		duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tile_events_at ON _tile_events(at)`,
	`CREATE INDEX IF NOT EXISTS idx_tile_events_coord ON _tile_events(x, z)`,
}

// 背景：首次运行自动创建生命周期日志表
// 约束：使用 IF NOT EXISTS，可重复执行
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, s := range Statements {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
