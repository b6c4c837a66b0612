package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"ripple.app/sync/internal/store"
)

// Checkpoint tracks the greatest fully-processed log position and persists it
// with a debounce. Advance never blocks the caller: it records the position,
// arms the flush timer, and forces a flush once the pending count crosses the
// high-water mark. Only the maximum position seen is ever written, so a late
// Advance with a smaller position cannot regress the stored record.
type Checkpoint struct {
	store      store.CheckpointStore
	delay      time.Duration
	maxPending int
	stats      *Stats

	mu           sync.Mutex
	next         primitive.Timestamp
	dirty        bool
	persisted    primitive.Timestamp
	pending      int
	timer        *time.Timer
	recovered    primitive.Timestamp
	hasRecovered bool
}

func NewCheckpoint(cs store.CheckpointStore, delay time.Duration, maxPending int, stats *Stats) *Checkpoint {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	if maxPending <= 0 {
		maxPending = 1000
	}
	return &Checkpoint{store: cs, delay: delay, maxPending: maxPending, stats: stats}
}

// Load reads the persisted position, if any. The result is remembered as the
// recovery boundary: entries at or below it are replays of already-processed
// log history.
func (c *Checkpoint) Load(ctx context.Context) (primitive.Timestamp, bool, error) {
	pos, found, err := c.store.Load(ctx)
	if err != nil {
		return primitive.Timestamp{}, false, err
	}
	if found {
		c.mu.Lock()
		c.persisted = pos
		c.recovered = pos
		c.hasRecovered = true
		c.mu.Unlock()
	}
	return pos, found, nil
}

// Recovered returns the position found at startup, if one existed.
func (c *Checkpoint) Recovered() (primitive.Timestamp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovered, c.hasRecovered
}

// Advance records a fully-processed position and schedules its persistence.
func (c *Checkpoint) Advance(pos primitive.Timestamp) {
	c.mu.Lock()
	if !c.dirty || primitive.CompareTimestamp(pos, c.next) > 0 {
		c.next = pos
		c.dirty = true
	}
	c.pending++

	if c.pending >= c.maxPending {
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.mu.Unlock()
		c.flushDetached()
		return
	}

	if c.timer == nil {
		c.timer = time.AfterFunc(c.delay, c.flushDetached)
	}
	c.mu.Unlock()
}

func (c *Checkpoint) flushDetached() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		slog.Error("checkpoint flush failed, tailing continues", "error", err)
	}
}

// Flush persists the pending position now. A failed write re-marks the
// position dirty so a later Advance or Flush retries it; the checkpoint lags
// but never blocks tailing.
func (c *Checkpoint) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if !c.dirty || primitive.CompareTimestamp(c.next, c.persisted) <= 0 {
		c.dirty = false
		c.pending = 0
		c.mu.Unlock()
		return nil
	}
	pos := c.next
	c.dirty = false
	c.pending = 0
	c.mu.Unlock()

	if err := c.store.Save(ctx, pos); err != nil {
		c.stats.CheckpointErrors.Add(1)
		c.mu.Lock()
		if !c.dirty || primitive.CompareTimestamp(pos, c.next) > 0 {
			c.next = pos
			c.dirty = true
		}
		c.mu.Unlock()
		return fmt.Errorf("persisting checkpoint %d.%d: %w", pos.T, pos.I, err)
	}

	c.mu.Lock()
	if primitive.CompareTimestamp(pos, c.persisted) > 0 {
		c.persisted = pos
	}
	c.mu.Unlock()
	c.stats.CheckpointFlushes.Add(1)
	return nil
}
