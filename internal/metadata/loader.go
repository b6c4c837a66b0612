package metadata

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"ripple.app/sync/common/logger"
	"ripple.app/sync/internal/store"
)

// Loader owns the current reference graph. Reloads triggered by metadata
// change notifications are debounced and build a fresh Graph which is
// installed with a pointer swap, so in-flight changes keep reading the graph
// they started with.
type Loader struct {
	metas    store.MetaStore
	debounce time.Duration

	graph atomic.Pointer[Graph]

	mu    sync.Mutex
	timer *time.Timer
}

// NewLoader creates a loader; call Load before starting the tailer.
func NewLoader(metas store.MetaStore, debounce time.Duration) *Loader {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Loader{metas: metas, debounce: debounce}
}

// Load reads the metadata snapshot, compiles it, and installs the new graph.
// Compilation errors are configuration errors: reported once, the offending
// definitions skipped, the rest of the graph installed.
func (l *Loader) Load(ctx context.Context) error {
	documents, err := l.metas.ListDocuments(ctx)
	if err != nil {
		return err
	}

	graph, errs := BuildGraph(documents)
	for _, buildErr := range errs {
		slog.ErrorContext(ctx, "skipping malformed metadata definition", "error", buildErr)
	}

	l.graph.Store(graph)
	slog.InfoContext(ctx, "reference graph installed",
		"documents", len(documents),
		"collections", len(graph.byCollection),
		"skipped_definitions", len(errs))
	return nil
}

// Graph returns the currently installed graph.
func (l *Loader) Graph() *Graph {
	return l.graph.Load()
}

// Watch subscribes to metadata change notifications and schedules debounced
// reloads. Blocks until the context is cancelled.
func (l *Loader) Watch(ctx context.Context, client *redis.Client, channel string) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "ripple.metadata.loader"})

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	slog.InfoContext(ctx, "watching metadata change channel", "channel", channel)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			slog.DebugContext(ctx, "metadata change notification", "payload", msg.Payload)
			l.scheduleReload(ctx)
		}
	}
}

func (l *Loader) scheduleReload(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.debounce, func() {
		reloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := l.Load(reloadCtx); err != nil {
			slog.ErrorContext(reloadCtx, "metadata reload failed, keeping previous graph", "error", err)
		}
	})
}
