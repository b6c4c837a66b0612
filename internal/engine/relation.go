package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/multierr"

	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/model"
	"ripple.app/sync/internal/store"
)

// updateRelationReferences recomputes materialized aggregates on the owners
// the changed record points at. On update only the relations whose lookup,
// filter terms, or aggregator fields intersect the changed keys are selected;
// create and delete recompute all of them. Recomputation is a full
// aggregation over the source collection, never a delta, which is what makes
// replays idempotent.
func (e *Engine) updateRelationReferences(ctx context.Context, graph *metadata.Graph, change *model.ChangeRecord) error {
	owners := graph.RelationsFrom(change.Document)
	if len(owners) == 0 {
		return nil
	}

	sourceDoc, ok := graph.Document(change.Document)
	if !ok {
		return nil
	}

	var changed []string
	if change.Action == model.ActionUpdate {
		for _, key := range change.ChangedKeys() {
			changed = append(changed, model.FirstPart(key))
		}
	}

	var (
		tasks []func(context.Context) error
		errs  error
	)
	for _, relations := range owners {
		for _, relation := range relations {
			if change.Action == model.ActionUpdate && !relation.AffectedBy(changed) {
				continue
			}
			targets, err := e.relationTargets(ctx, sourceDoc, relation, change)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("resolving %s targets: %w", relation.Owner, err))
				continue
			}
			for _, targetID := range targets {
				tasks = append(tasks, func(ctx context.Context) error {
					return e.recomputeRelation(ctx, graph, relation, targetID)
				})
			}
		}
	}
	return multierr.Append(errs, e.fanOut(ctx, tasks))
}

// relationTargets collects the owner ids whose aggregates this change can
// move: the record's current lookup value, plus — when the lookup itself just
// changed — the previous value read from the record's last history entry, so
// the aggregate also leaves the owner that lost the association.
func (e *Engine) relationTargets(ctx context.Context, sourceDoc *model.Document, relation *metadata.CompiledRelation, change *model.ChangeRecord) ([]any, error) {
	seen := map[string]bool{}
	var targets []any
	add := func(value any) {
		for _, id := range lookupIDs(value) {
			key := fmt.Sprint(id)
			if !seen[key] {
				seen[key] = true
				targets = append(targets, id)
			}
		}
	}

	current, lookupChanged := change.Data[relation.Lookup]
	if !lookupChanged && change.Action == model.ActionUpdate {
		record, err := e.data.FindOne(ctx, sourceDoc.CollectionName(),
			bson.M{"_id": change.ID},
			&store.FindOptions{Projection: bson.M{relation.Lookup: 1}})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if err == nil {
			current = record[relation.Lookup]
		}
	}
	add(current)

	if change.Action == model.ActionUpdate && lookupChanged {
		previous, err := e.previousLookupValue(ctx, sourceDoc, relation.Lookup, change.ID)
		if err != nil {
			slog.WarnContext(ctx, "previous lookup value unavailable, old owner not recomputed",
				"lookup", relation.Lookup, "error", err)
		} else {
			add(previous)
		}
	}

	return targets, nil
}

// previousLookupValue reads the lookup's value before this change from the
// record's newest history entry mentioning it. This stage runs before the
// current entry's history is written, so the newest entry is the previous
// state.
func (e *Engine) previousLookupValue(ctx context.Context, sourceDoc *model.Document, lookup string, id any) (any, error) {
	entry, err := e.data.FindOne(ctx, sourceDoc.HistoryCollectionName(),
		bson.M{"dataId": id, "data." + lookup: bson.M{"$exists": true}},
		&store.FindOptions{Sort: bson.D{{Key: "_id", Value: -1}}})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	data := toDoc(entry["data"])
	if data == nil {
		return nil, nil
	}
	return data[lookup], nil
}

// recomputeRelation re-runs every aggregator of one relation for one owner
// and writes the results as a single merged update. An aggregator with no
// result unsets its destination field instead of writing a zero.
func (e *Engine) recomputeRelation(ctx context.Context, graph *metadata.Graph, relation *metadata.CompiledRelation, targetID any) error {
	ownerDoc, ok := graph.Document(relation.Owner)
	if !ok {
		return nil
	}
	sourceDoc, ok := graph.Document(relation.Source)
	if !ok {
		return nil
	}

	match := bson.M{relation.Lookup + "._id": targetID}
	for key, value := range relation.Filter {
		match[key] = value
	}

	set := bson.M{}
	unset := bson.M{}
	for _, aggregator := range relation.Aggregators {
		rows, err := e.data.Aggregate(ctx, sourceDoc.CollectionName(), aggregator.Pipeline(match))
		if err != nil {
			return fmt.Errorf("aggregating %s.%s: %w", relation.Owner, aggregator.OutputField(), err)
		}
		if value, ok := aggregator.Extract(rows); ok {
			set[aggregator.OutputField()] = value
		} else {
			unset[aggregator.OutputField()] = 1
		}
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(update) == 0 {
		return nil
	}

	modified, err := e.data.UpdateOne(ctx, ownerDoc.CollectionName(), bson.M{"_id": targetID}, update)
	if err != nil {
		return fmt.Errorf("writing aggregates to %s %v: %w", relation.Owner, targetID, err)
	}
	e.stats.RelationWrites.Add(modified)
	return nil
}

// lookupIDs extracts the referenced ids from a lookup value, which may be a
// single reference, a list of references, or absent.
func lookupIDs(value any) []any {
	if value == nil {
		return nil
	}
	if doc := toDoc(value); doc != nil {
		if id, ok := doc["_id"]; ok && id != nil {
			return []any{id}
		}
		return nil
	}
	var ids []any
	for _, item := range toList(value) {
		if doc := toDoc(item); doc != nil {
			if id, ok := doc["_id"]; ok && id != nil {
				ids = append(ids, id)
			}
		}
	}
	return ids
}
