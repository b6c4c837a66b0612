package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"

	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/model"
)

// saveHistory appends the audit entry for this change. The id derives from
// the log position, so replaying the same entry after a crash upserts the
// same row instead of duplicating it; $setOnInsert keeps the first successful
// write immutable.
func (e *Engine) saveHistory(ctx context.Context, graph *metadata.Graph, change *model.ChangeRecord) error {
	doc, ok := graph.Document(change.Document)
	if !ok || !doc.SaveHistory {
		return nil
	}

	if _, merge := change.Data["_merge"]; merge {
		return nil
	}
	if change.UpdatedAt == nil || len(change.UpdatedBy) == 0 {
		slog.DebugContext(ctx, "history skipped, change carries no author stamp")
		return nil
	}

	data := change.WithoutBookkeeping()
	for key := range data {
		if field := doc.Fields[model.FirstPart(key)]; field != nil && field.IgnoreHistory {
			delete(data, key)
		}
	}
	if len(data) == 0 {
		return nil
	}

	entry := bson.M{
		"dataId":    change.ID,
		"type":      string(change.Action),
		"createdAt": change.UpdatedAt,
		"createdBy": change.UpdatedBy,
		"data":      data,
	}
	if err := e.data.Upsert(ctx, doc.HistoryCollectionName(),
		bson.M{"_id": change.ChangeID()},
		bson.M{"$setOnInsert": entry}); err != nil {
		return fmt.Errorf("recording history %d: %w", change.ChangeID(), err)
	}
	e.stats.HistoryWrites.Add(1)
	return nil
}
