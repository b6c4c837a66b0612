package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"

	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/model"
)

// syncReverseLookups maintains the back-reference side of reverse lookups
// declared by the changed document's own lookup fields: the previous holder
// loses the back-reference, the new target gains a fresh snapshot of the
// changed record. Deletes never reach this stage; a removed record keeps its
// stale back-references until the next write touches them.
func (e *Engine) syncReverseLookups(ctx context.Context, graph *metadata.Graph, change *model.ChangeRecord) error {
	doc, ok := graph.Document(change.Document)
	if !ok {
		return nil
	}

	var tasks []func(context.Context) error
	for fieldName, field := range doc.Fields {
		if !field.Type.IsLookup() || field.ReverseLookup == "" {
			continue
		}
		if change.Action == model.ActionUpdate {
			if _, touched := change.Data[fieldName]; !touched {
				continue
			}
		}
		targetDoc, ok := graph.Document(field.Document)
		if !ok {
			continue
		}
		reverseField := targetDoc.Fields[field.ReverseLookup]
		if reverseField == nil {
			slog.WarnContext(ctx, "reverse lookup names unknown field",
				"field", fieldName, "reverse", field.ReverseLookup, "target", targetDoc.Name)
			continue
		}
		tasks = append(tasks, e.reverseTask(graph, targetDoc, fieldName, field, reverseField, change))
	}
	return e.fanOut(ctx, tasks)
}

func (e *Engine) reverseTask(graph *metadata.Graph, targetDoc *model.Document, fieldName string, field *model.Field, reverseField *model.Field, change *model.ChangeRecord) func(context.Context) error {
	return func(ctx context.Context) error {
		newTargets := lookupIDs(change.Data[fieldName])

		// Detach whoever held the back-reference and is not a current target.
		stale := bson.M{field.ReverseLookup + "._id": change.ID}
		if len(newTargets) > 0 {
			stale["_id"] = bson.M{"$nin": newTargets}
		}
		detach := bson.M{"$unset": bson.M{field.ReverseLookup: 1}}
		if reverseField.IsList {
			detach = bson.M{"$pull": bson.M{field.ReverseLookup: bson.M{"_id": change.ID}}}
		}
		modified, err := e.data.UpdateMany(ctx, targetDoc.CollectionName(), stale, detach)
		if err != nil {
			return fmt.Errorf("detaching reverse %s.%s: %w", targetDoc.Name, field.ReverseLookup, err)
		}
		e.stats.ReverseWrites.Add(modified)

		if len(newTargets) == 0 {
			return nil
		}

		snapshot, err := e.reverseSnapshot(ctx, graph, reverseField, change)
		if err != nil {
			return fmt.Errorf("building reverse snapshot for %s: %w", fieldName, err)
		}

		attach := bson.M{"_id": bson.M{"$in": newTargets}}
		if reverseField.IsList {
			// Pull any previous entry for this record before pushing the
			// fresh snapshot, keeping one entry per referrer.
			if _, err := e.data.UpdateMany(ctx, targetDoc.CollectionName(), attach,
				bson.M{"$pull": bson.M{field.ReverseLookup: bson.M{"_id": change.ID}}}); err != nil {
				return fmt.Errorf("clearing reverse %s.%s entries: %w", targetDoc.Name, field.ReverseLookup, err)
			}
			modified, err = e.data.UpdateMany(ctx, targetDoc.CollectionName(), attach,
				bson.M{"$push": bson.M{field.ReverseLookup: snapshot}})
		} else {
			modified, err = e.data.UpdateMany(ctx, targetDoc.CollectionName(), attach,
				bson.M{"$set": bson.M{field.ReverseLookup: snapshot}})
		}
		if err != nil {
			return fmt.Errorf("attaching reverse %s.%s: %w", targetDoc.Name, field.ReverseLookup, err)
		}
		e.stats.ReverseWrites.Add(modified)
		return nil
	}
}

// reverseSnapshot builds the back-reference value written onto the target:
// the changed record's id plus the reverse field's own description fields.
func (e *Engine) reverseSnapshot(ctx context.Context, graph *metadata.Graph, reverseField *model.Field, change *model.ChangeRecord) (bson.M, error) {
	record, err := e.recordSnapshot(ctx, graph, change)
	if err != nil {
		return nil, err
	}
	snapshot := bson.M{"_id": change.ID}
	for _, path := range reverseField.DescriptionFields {
		key := model.FirstPart(path)
		if value, ok := record[key]; ok && value != nil {
			snapshot[key] = value
		}
	}
	return snapshot, nil
}
