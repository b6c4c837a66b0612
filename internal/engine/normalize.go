package engine

import (
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/model"
)

// Normalize turns one raw log entry into a ChangeRecord: inserts become
// creates, inserts into a trash shadow become deletes, and update deltas are
// flattened so $set entries appear as assignments and $unset entries as
// explicit nils. Returns false for entries on collections the graph does not
// manage; the log carries traffic this engine has no interest in.
func Normalize(entry RawLogEntry, graph *metadata.Graph) (*model.ChangeRecord, bool) {
	doc, trash, ok := graph.ByCollection(entry.Collection)
	if !ok {
		return nil, false
	}

	change := &model.ChangeRecord{
		Document: doc.Name,
		ID:       entry.ID,
		Position: entry.Position,
		TraceID:  uuid.NewString(),
		Data:     bson.M{},
	}

	switch {
	case entry.Operation == "insert" && trash:
		change.Action = model.ActionDelete
		copyWithoutID(change.Data, entry.FullDocument)
		change.UpdatedBy = toDoc(entry.FullDocument["_deletedBy"])
		change.UpdatedAt = toTimePtr(entry.FullDocument["_deletedAt"])

	case entry.Operation == "insert":
		change.Action = model.ActionCreate
		copyWithoutID(change.Data, entry.FullDocument)
		change.UpdatedBy = toDoc(firstNonNil(entry.FullDocument["_updatedBy"], entry.FullDocument["_createdBy"]))
		change.UpdatedAt = toTimePtr(firstNonNil(entry.FullDocument["_updatedAt"], entry.FullDocument["_createdAt"]))

	case entry.Operation == "update":
		change.Action = model.ActionUpdate
		for k, v := range entry.UpdatedFields {
			change.Data[k] = v
		}
		for _, k := range entry.RemovedFields {
			change.Data[k] = nil
		}
		change.UpdatedBy = toDoc(change.Data["_updatedBy"])
		change.UpdatedAt = toTimePtr(change.Data["_updatedAt"])

	default:
		return nil, false
	}

	return change, true
}

func copyWithoutID(dst, src bson.M) {
	for k, v := range src {
		if k == "_id" {
			continue
		}
		dst[k] = v
	}
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func toDoc(value any) bson.M {
	switch v := value.(type) {
	case bson.M:
		return v
	case map[string]any:
		return bson.M(v)
	case bson.D:
		return v.Map()
	default:
		return nil
	}
}

func toList(value any) []any {
	switch v := value.(type) {
	case []any:
		return v
	case bson.A:
		return []any(v)
	default:
		return nil
	}
}

func toTimePtr(value any) *time.Time {
	switch v := value.(type) {
	case time.Time:
		return &v
	case primitive.DateTime:
		t := v.Time()
		return &t
	default:
		return nil
	}
}
