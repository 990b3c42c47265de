package main

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"tilestream/internal/grid"
	"tilestream/internal/journal"
	"tilestream/internal/logger"
	"tilestream/internal/stats"
)

func init() { logger.Use(logger.Discard()) }

// slowDB：写入较慢，记录写入与关闭的先后顺序
type slowDB struct {
	mu    sync.Mutex
	delay time.Duration
	log   []string
}

func (d *slowDB) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	time.Sleep(d.delay)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, "exec")
	return nil, nil
}

func (d *slowDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, "close")
	return nil
}

func (d *slowDB) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

func TestDrainJournalWaitsForShutdownFlush(t *testing.T) {
	db := &slowDB{delay: 50 * time.Millisecond}
	j := journal.New(db, journal.Config{Batch: 100, Buffer: 16, FlushInterval: time.Hour})
	for i := 0; i < 5; i++ {
		j.Record(stats.Event{Kind: stats.EventGenerated, Coord: grid.Coord{X: i}, Count: 1, At: time.Unix(int64(i), 0)})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	go j.Run(ctx)

	drainJournal(j, db, 2*time.Second)
	if j.Written() != 5 {
		t.Fatalf("written = %d", j.Written())
	}
	got := db.calls()
	if len(got) != 2 || got[0] != "exec" || got[1] != "close" {
		t.Fatalf("calls = %v", got)
	}
}

func TestDrainJournalGivesUpAfterTimeout(t *testing.T) {
	db := &slowDB{}
	j := journal.New(db, journal.Config{})
	start := time.Now()
	drainJournal(j, db, 20*time.Millisecond)
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned before timeout")
	}
	if got := db.calls(); len(got) != 1 || got[0] != "close" {
		t.Fatalf("calls = %v", got)
	}
}
