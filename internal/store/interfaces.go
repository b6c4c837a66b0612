package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"ripple.app/sync/internal/model"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// FindOptions narrows a read to a projection and an ordering. Nil fields are
// ignored.
type FindOptions struct {
	Projection bson.M
	Sort       bson.D
}

// DataStore is the engine's write/read surface against the document
// database. Collections are addressed by name so one store serves every
// managed document type, its trash and history shadows, and the mail queue.
type DataStore interface {
	FindOne(ctx context.Context, collection string, filter bson.M, opts *FindOptions) (bson.M, error)
	Find(ctx context.Context, collection string, filter bson.M, opts *FindOptions) ([]bson.M, error)
	UpdateOne(ctx context.Context, collection string, filter, update bson.M) (int64, error)
	UpdateMany(ctx context.Context, collection string, filter, update bson.M) (int64, error)
	Upsert(ctx context.Context, collection string, filter, update bson.M) error
	InsertOne(ctx context.Context, collection string, doc any) error
	Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error)
}

// CheckpointStore persists the last fully-processed log position.
type CheckpointStore interface {
	Load(ctx context.Context) (primitive.Timestamp, bool, error)
	Save(ctx context.Context, ts primitive.Timestamp) error
}

// MetaStore supplies the read-only document metadata snapshot.
type MetaStore interface {
	ListDocuments(ctx context.Context) ([]*model.Document, error)
}
