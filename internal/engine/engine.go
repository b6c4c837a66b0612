package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"ripple.app/sync/common/logger"
	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/model"
	"ripple.app/sync/internal/store"
)

// Options tune the per-entry pipeline.
type Options struct {
	// StageTimeout bounds each stage's database work; expiry is stage
	// failure, not a pipeline halt.
	StageTimeout time.Duration
	// FanOut bounds concurrent writes inside one stage.
	FanOut int
	// AlertsOnReplay re-dispatches alerts for entries at or below the
	// recovered checkpoint position.
	AlertsOnReplay bool
}

// Engine drives one log entry through the propagation stages: lookup
// copy-down and relation aggregation concurrently, then reverse-link sync,
// history, checkpoint advance, and finally best-effort alerts off the
// critical path. Stages are fault-isolated: each reports and swallows its own
// errors so one failing stage never stalls the tailer.
type Engine struct {
	data       store.DataStore
	loader     *metadata.Loader
	checkpoint *Checkpoint
	alerts     *AlertDispatcher
	stats      *Stats

	stageTimeout   time.Duration
	fanOutLimit    int
	alertsOnReplay bool
}

func New(data store.DataStore, loader *metadata.Loader, checkpoint *Checkpoint, alerts *AlertDispatcher, stats *Stats, opts Options) *Engine {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Second
	}
	if opts.FanOut <= 0 {
		opts.FanOut = 4
	}
	return &Engine{
		data:           data,
		loader:         loader,
		checkpoint:     checkpoint,
		alerts:         alerts,
		stats:          stats,
		stageTimeout:   opts.StageTimeout,
		fanOutLimit:    opts.FanOut,
		alertsOnReplay: opts.AlertsOnReplay,
	}
}

// Process runs the full pipeline for one log entry. The graph is pinned at
// entry start, so a metadata reload mid-entry never mixes two graph versions.
func (e *Engine) Process(ctx context.Context, entry RawLogEntry) {
	graph := e.loader.Graph()

	change, ok := Normalize(entry, graph)
	if !ok {
		e.stats.EntriesDropped.Add(1)
		slog.DebugContext(ctx, "dropping entry for unmanaged collection", "collection", entry.Collection)
		e.checkpoint.Advance(entry.Position)
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Document: logger.Ptr(change.Document),
		RecordID: logger.Ptr(fmt.Sprint(change.ID)),
		Action:   logger.Ptr(string(change.Action)),
		ChangeID: logger.Ptr(change.ChangeID()),
		EntryTag: logger.Ptr(change.TraceID),
	})
	sc := logger.StartSpan(ctx, "engine.process_entry", trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.runStage(ctx, "lookups", func(ctx context.Context) error {
			return e.updateLookupReferences(ctx, graph, change)
		})
	}()
	go func() {
		defer wg.Done()
		e.runStage(ctx, "relations", func(ctx context.Context) error {
			return e.updateRelationReferences(ctx, graph, change)
		})
	}()
	wg.Wait()

	if change.Action != model.ActionDelete {
		e.runStage(ctx, "reverse_lookups", func(ctx context.Context) error {
			return e.syncReverseLookups(ctx, graph, change)
		})
	}

	e.runStage(ctx, "history", func(ctx context.Context) error {
		return e.saveHistory(ctx, graph, change)
	})

	e.checkpoint.Advance(change.Position)
	e.stats.EntriesProcessed.Add(1)
	e.stats.RecordPosition(change.Position)

	if e.shouldAlert(change) {
		alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.stageTimeout)
		go func() {
			defer cancel()
			e.alerts.Dispatch(alertCtx, graph, change)
		}()
	}
}

// runStage executes one fault-isolated propagation stage with its own span,
// deadline, and timing log.
func (e *Engine) runStage(ctx context.Context, name string, fn func(context.Context) error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "ripple.engine." + name})
	sc := logger.StartSpan(ctx, "engine."+name)
	defer sc.End()

	ctx, cancel := context.WithTimeout(sc.Context(), e.stageTimeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		sc.RecordError(err)
		e.stats.StageErrors.Add(1)
		slog.ErrorContext(ctx, "propagation stage failed", "stage", name, "error", err, "elapsed", time.Since(start))
		return
	}
	slog.DebugContext(ctx, "propagation stage finished", "stage", name, "elapsed", time.Since(start))
}

// shouldAlert suppresses notifications for replayed entries unless the
// deployment opted into duplicates.
func (e *Engine) shouldAlert(change *model.ChangeRecord) bool {
	if e.alerts == nil {
		return false
	}
	if e.alertsOnReplay {
		return true
	}
	boundary, ok := e.checkpoint.Recovered()
	if !ok {
		return true
	}
	return primitive.CompareTimestamp(change.Position, boundary) > 0
}

// fanOut runs the stage's per-target tasks with bounded concurrency and
// joins their errors. One failing target never stops its siblings.
func (e *Engine) fanOut(ctx context.Context, tasks []func(context.Context) error) error {
	if len(tasks) == 0 {
		return nil
	}

	sem := make(chan struct{}, e.fanOutLimit)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := task(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// recordSnapshot is the record state the propagation stages copy from. Create
// entries and trash inserts carry the full document, so only updates need a
// fresh read.
func (e *Engine) recordSnapshot(ctx context.Context, graph *metadata.Graph, change *model.ChangeRecord) (bson.M, error) {
	if change.Action != model.ActionUpdate {
		return change.Data, nil
	}
	doc, ok := graph.Document(change.Document)
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.data.FindOne(ctx, doc.CollectionName(), bson.M{"_id": change.ID}, nil)
}
