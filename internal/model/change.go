package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Action classifies a normalized log entry.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ChangeRecord is the normalized view of one replication-log entry. It lives
// for the duration of one pipeline pass and is never persisted as-is.
//
// Data is the flattened mutation: $set entries appear as top-level
// assignments, $unset entries as explicit nils, so downstream stages see one
// uniform shape regardless of how the write was expressed.
type ChangeRecord struct {
	Document  string
	ID        any
	Action    Action
	Data      bson.M
	UpdatedBy bson.M
	UpdatedAt *time.Time
	Position  primitive.Timestamp
	TraceID   string
}

// ChangedKeys returns the top-level field names touched by this change.
func (c *ChangeRecord) ChangedKeys() []string {
	keys := make([]string, 0, len(c.Data))
	for k := range c.Data {
		keys = append(keys, k)
	}
	return keys
}

// ChangeID derives the deterministic id used for the history row of this
// entry. Two replays of the same log position collapse onto the same id.
func (c *ChangeRecord) ChangeID() int64 {
	return int64(c.Position.T)*100000 + int64(c.Position.I)
}

// internal bookkeeping fields stripped from the data map before comparison
// and history, but surfaced as first-class ChangeRecord fields.
var bookkeepingKeys = []string{"_updatedAt", "_createdAt", "_deletedAt", "_updatedBy", "_createdBy", "_deletedBy"}

// WithoutBookkeeping returns a copy of the data map with internal
// bookkeeping fields removed.
func (c *ChangeRecord) WithoutBookkeeping() bson.M {
	out := make(bson.M, len(c.Data))
	for k, v := range c.Data {
		if IsBookkeepingKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// IsBookkeepingKey reports whether the key is an internal audit field.
func IsBookkeepingKey(key string) bool {
	for _, k := range bookkeepingKeys {
		if k == key {
			return true
		}
	}
	return false
}
