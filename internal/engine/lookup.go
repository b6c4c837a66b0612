package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"

	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/model"
	"ripple.app/sync/internal/store"
)

// updateLookupReferences propagates a fresh snapshot of the changed record to
// every document embedding it through a lookup field. On update, only the
// lookup fields whose description or inherited fields intersect the changed
// keys are touched; create and delete refresh everything.
func (e *Engine) updateLookupReferences(ctx context.Context, graph *metadata.Graph, change *model.ChangeRecord) error {
	referrers := graph.From(change.Document)
	if len(referrers) == 0 {
		return nil
	}

	record, err := e.recordSnapshot(ctx, graph, change)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "changed record no longer exists, skipping lookup propagation")
			return nil
		}
		return fmt.Errorf("reading changed record: %w", err)
	}

	changed := map[string]bool{}
	if change.Action == model.ActionUpdate {
		for _, key := range change.ChangedKeys() {
			changed[model.FirstPart(key)] = true
		}
	}

	var tasks []func(context.Context) error
	for referrerName, fields := range referrers {
		referrer, ok := graph.Document(referrerName)
		if !ok {
			continue
		}
		for fieldName, field := range fields {
			if change.Action == model.ActionUpdate && !fieldTouches(field, changed) {
				continue
			}
			tasks = append(tasks, e.lookupTask(referrer, fieldName, field, change, record))
		}
	}
	return e.fanOut(ctx, tasks)
}

func fieldTouches(field *model.Field, changed map[string]bool) bool {
	for _, path := range field.DescriptionFields {
		if changed[model.FirstPart(path)] {
			return true
		}
	}
	for _, inherited := range field.InheritedFields {
		if changed[model.FirstPart(inherited.FieldName)] {
			return true
		}
	}
	return false
}

// lookupTask updates every document of one referrer type that points at the
// changed record through one lookup field: the embedded snapshot is
// refreshed, always-inherited fields are recopied, and fill-only inherited
// fields land only where no value exists yet.
func (e *Engine) lookupTask(referrer *model.Document, fieldName string, field *model.Field, change *model.ChangeRecord, record bson.M) func(context.Context) error {
	return func(ctx context.Context) error {
		prefix := fieldName
		if field.IsList {
			prefix = fieldName + ".$"
		}

		set := bson.M{}
		unset := bson.M{}
		for _, path := range field.DescriptionFields {
			key := model.FirstPart(path)
			if value, ok := record[key]; ok && value != nil {
				set[prefix+"."+key] = value
			} else {
				unset[prefix+"."+key] = 1
			}
		}

		var fillOnly []model.InheritedField
		for _, inherited := range field.InheritedFields {
			if !inherited.Inherit.Recopies() {
				fillOnly = append(fillOnly, inherited)
				continue
			}
			value := record[inherited.FieldName]
			if inherited.Inherit == model.InheritHierarchyAlways {
				value = appendHierarchy(toList(value), change.ID)
			}
			if value != nil {
				set[inherited.FieldName] = value
			} else {
				unset[inherited.FieldName] = 1
			}
		}

		filter := bson.M{fieldName + "._id": change.ID}
		update := bson.M{}
		if len(set) > 0 {
			update["$set"] = set
		}
		if len(unset) > 0 {
			update["$unset"] = unset
		}
		if len(update) > 0 {
			modified, err := e.data.UpdateMany(ctx, referrer.CollectionName(), filter, update)
			if err != nil {
				return fmt.Errorf("propagating %s.%s snapshot: %w", referrer.Name, fieldName, err)
			}
			e.stats.LookupWrites.Add(modified)
		}

		for _, inherited := range fillOnly {
			value := record[inherited.FieldName]
			if value == nil {
				continue
			}
			onceFilter := bson.M{
				fieldName + "._id":   change.ID,
				inherited.FieldName: bson.M{"$exists": false},
			}
			modified, err := e.data.UpdateMany(ctx, referrer.CollectionName(), onceFilter, bson.M{"$set": bson.M{inherited.FieldName: value}})
			if err != nil {
				return fmt.Errorf("filling inherited %s.%s: %w", referrer.Name, inherited.FieldName, err)
			}
			e.stats.LookupWrites.Add(modified)
		}
		return nil
	}
}

// appendHierarchy extends the changed record's own ancestor chain with the
// record itself, forming the chain its descendants inherit.
func appendHierarchy(chain []any, id any) []any {
	out := make([]any, 0, len(chain)+1)
	out = append(out, chain...)
	return append(out, bson.M{"_id": id})
}
