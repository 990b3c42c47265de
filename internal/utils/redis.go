package utils

import (
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tilestream/internal/logger"
)

// RedisOptionsFromEnv：镜像协程专用的连接参数
// 约束：只有一个写入方，连接池固定为 2；REDIS_DB 非法时用 0，REDIS_TIMEOUT_MS 非法时用 500ms
func RedisOptionsFromEnv() *redis.Options {
	db := 0
	if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil && n >= 0 {
		db = n
	}
	timeout := 500 * time.Millisecond
	if n, err := strconv.Atoi(os.Getenv("REDIS_TIMEOUT_MS")); err == nil && n > 0 {
		timeout = time.Duration(n) * time.Millisecond
	}
	return &redis.Options{
		Addr:         envOr("REDIS_HOST", "127.0.0.1") + ":" + envOr("REDIS_PORT", "6379"),
		Password:     os.Getenv("REDIS_PASS"),
		DB:           db,
		PoolSize:     2,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

func OpenRedisFromEnv() *redis.Client {
	o := RedisOptionsFromEnv()
	logger.L().Debug("redis_env", "addr", o.Addr, "db", o.DB, "timeout_ms", o.WriteTimeout.Milliseconds())
	return redis.NewClient(o)
}
