package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ripple.app/sync/common/logger"
	"ripple.app/sync/internal/metadata"
)

// RawLogEntry is one replication-log entry as delivered by the tailer, before
// normalization.
type RawLogEntry struct {
	Operation     string
	Collection    string
	ID            any
	FullDocument  bson.M
	UpdatedFields bson.M
	RemovedFields []string
	Position      primitive.Timestamp
}

// Processor consumes log entries one at a time, in log order.
type Processor interface {
	Process(ctx context.Context, entry RawLogEntry)
}

// Tailer follows the database's replication log through a change stream
// scoped to the collections the reference graph manages, trash shadows
// included. Entries are delivered strictly sequentially; the stream suspends
// between entries and resumes on new log activity.
type Tailer struct {
	db         *mongo.Database
	loader     *metadata.Loader
	checkpoint *Checkpoint
	processor  Processor
}

func NewTailer(db *mongo.Database, loader *metadata.Loader, checkpoint *Checkpoint, processor Processor) *Tailer {
	return &Tailer{db: db, loader: loader, checkpoint: checkpoint, processor: processor}
}

// Run tails the log until the context is cancelled, reopening the stream with
// backoff on cursor failure. The stream resumes at the last delivered
// position (inclusive), so the boundary entry is redelivered once after a
// reconnect; every downstream stage is idempotent under that.
func (t *Tailer) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "ripple.engine.tailer"})

	pos, found, err := t.checkpoint.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading checkpoint: %w", err)
	}
	if !found {
		// Cold start: pin the checkpoint to "now" before consuming anything,
		// so a restart never walks historical log traffic.
		pos = primitive.Timestamp{T: uint32(time.Now().Unix())}
		t.checkpoint.Advance(pos)
		if err := t.checkpoint.Flush(ctx); err != nil {
			return fmt.Errorf("persisting cold-start checkpoint: %w", err)
		}
		slog.InfoContext(ctx, "no checkpoint found, starting at log tail", "position", pos.T)
	} else {
		slog.InfoContext(ctx, "resuming from checkpoint", "position", pos.T)
	}

	backoff := time.Second
	for {
		err := t.consume(ctx, &pos)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			slog.ErrorContext(ctx, "change stream failed, reopening", "error", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		if ctx.Err() != nil {
			break
		}
		backoff = min(backoff*2, 30*time.Second)
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := t.checkpoint.Flush(flushCtx); err != nil {
		slog.ErrorContext(flushCtx, "final checkpoint flush failed", "error", err)
	}
	slog.InfoContext(ctx, "tailer stopped", "position", pos.T)
	return nil
}

// consume opens one change stream from pos and delivers entries until the
// cursor dies or the context is cancelled. The watched-collection filter is
// fixed at open; a metadata reload that adds collections takes effect on the
// next reconnect.
func (t *Tailer) consume(ctx context.Context, pos *primitive.Timestamp) error {
	graph := t.loader.Graph()
	watched := graph.WatchedCollections()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"operationType": bson.M{"$in": []string{"insert", "update"}},
			"ns.coll":       bson.M{"$in": watched},
		}}},
	}
	opts := options.ChangeStream().SetStartAtOperationTime(pos)

	stream, err := t.db.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("opening change stream: %w", err)
	}
	defer stream.Close(context.WithoutCancel(ctx))

	slog.InfoContext(ctx, "tailing replication log", "collections", len(watched), "position", pos.T)

	for stream.Next(ctx) {
		var event rawEvent
		if err := stream.Decode(&event); err != nil {
			slog.ErrorContext(ctx, "undecodable log entry skipped", "error", err)
			continue
		}
		entry := event.toEntry()
		t.processor.Process(ctx, entry)
		*pos = entry.Position
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("reading change stream: %w", err)
	}
	return nil
}

// rawEvent is the wire shape of a change stream document.
type rawEvent struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	Ns            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey       bson.M `bson:"documentKey"`
	FullDocument      bson.M `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.M   `bson:"updatedFields"`
		RemovedFields []string `bson:"removedFields"`
	} `bson:"updateDescription"`
}

func (e *rawEvent) toEntry() RawLogEntry {
	return RawLogEntry{
		Operation:     e.OperationType,
		Collection:    e.Ns.Coll,
		ID:            e.DocumentKey["_id"],
		FullDocument:  e.FullDocument,
		UpdatedFields: e.UpdateDescription.UpdatedFields,
		RemovedFields: e.UpdateDescription.RemovedFields,
		Position:      e.ClusterTime,
	}
}
