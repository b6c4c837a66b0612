package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stats holds the per-stage counters exposed on the operational surface.
// Counters are atomic; the last-position pair sits behind a mutex because the
// two words must be read together.
type Stats struct {
	EntriesProcessed  atomic.Int64
	EntriesDropped    atomic.Int64
	LookupWrites      atomic.Int64
	RelationWrites    atomic.Int64
	ReverseWrites     atomic.Int64
	HistoryWrites     atomic.Int64
	AlertsDispatched  atomic.Int64
	StageErrors       atomic.Int64
	CheckpointFlushes atomic.Int64
	CheckpointErrors  atomic.Int64

	mu              sync.Mutex
	lastPosition    primitive.Timestamp
	lastProcessedAt time.Time
}

func NewStats() *Stats {
	return &Stats{}
}

// RecordPosition notes the log position of the entry that just finished.
func (s *Stats) RecordPosition(pos primitive.Timestamp) {
	s.mu.Lock()
	s.lastPosition = pos
	s.lastProcessedAt = time.Now()
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters, shaped for JSON.
type Snapshot struct {
	EntriesProcessed  int64      `json:"entries_processed"`
	EntriesDropped    int64      `json:"entries_dropped"`
	LookupWrites      int64      `json:"lookup_writes"`
	RelationWrites    int64      `json:"relation_writes"`
	ReverseWrites     int64      `json:"reverse_writes"`
	HistoryWrites     int64      `json:"history_writes"`
	AlertsDispatched  int64      `json:"alerts_dispatched"`
	StageErrors       int64      `json:"stage_errors"`
	CheckpointFlushes int64      `json:"checkpoint_flushes"`
	CheckpointErrors  int64      `json:"checkpoint_errors"`
	LastPositionT     uint32     `json:"last_position_t"`
	LastPositionI     uint32     `json:"last_position_i"`
	LastProcessedAt   *time.Time `json:"last_processed_at,omitempty"`
}

func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		EntriesProcessed:  s.EntriesProcessed.Load(),
		EntriesDropped:    s.EntriesDropped.Load(),
		LookupWrites:      s.LookupWrites.Load(),
		RelationWrites:    s.RelationWrites.Load(),
		ReverseWrites:     s.ReverseWrites.Load(),
		HistoryWrites:     s.HistoryWrites.Load(),
		AlertsDispatched:  s.AlertsDispatched.Load(),
		StageErrors:       s.StageErrors.Load(),
		CheckpointFlushes: s.CheckpointFlushes.Load(),
		CheckpointErrors:  s.CheckpointErrors.Load(),
	}

	s.mu.Lock()
	snap.LastPositionT = s.lastPosition.T
	snap.LastPositionI = s.lastPosition.I
	if !s.lastProcessedAt.IsZero() {
		at := s.lastProcessedAt
		snap.LastProcessedAt = &at
	}
	s.mu.Unlock()

	return snap
}
