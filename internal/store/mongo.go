package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ripple.app/sync/internal/model"
)

type mongoDataStore struct {
	db *mongo.Database
}

// NewDataStore returns a DataStore backed by the given database.
func NewDataStore(db *mongo.Database) DataStore {
	return &mongoDataStore{db: db}
}

func (s *mongoDataStore) FindOne(ctx context.Context, collection string, filter bson.M, opts *FindOptions) (bson.M, error) {
	mongoOpts := options.FindOne()
	if opts != nil {
		if opts.Projection != nil {
			mongoOpts.SetProjection(opts.Projection)
		}
		if opts.Sort != nil {
			mongoOpts.SetSort(opts.Sort)
		}
	}

	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, filter, mongoOpts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finding document in %s: %w", collection, err)
	}
	return doc, nil
}

func (s *mongoDataStore) Find(ctx context.Context, collection string, filter bson.M, opts *FindOptions) ([]bson.M, error) {
	mongoOpts := options.Find()
	if opts != nil {
		if opts.Projection != nil {
			mongoOpts.SetProjection(opts.Projection)
		}
		if opts.Sort != nil {
			mongoOpts.SetSort(opts.Sort)
		}
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, mongoOpts)
	if err != nil {
		return nil, fmt.Errorf("finding documents in %s: %w", collection, err)
	}

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading cursor of %s: %w", collection, err)
	}
	return docs, nil
}

func (s *mongoDataStore) UpdateOne(ctx context.Context, collection string, filter, update bson.M) (int64, error) {
	result, err := s.db.Collection(collection).UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("updating document in %s: %w", collection, err)
	}
	return result.ModifiedCount, nil
}

func (s *mongoDataStore) UpdateMany(ctx context.Context, collection string, filter, update bson.M) (int64, error) {
	result, err := s.db.Collection(collection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("updating documents in %s: %w", collection, err)
	}
	return result.ModifiedCount, nil
}

func (s *mongoDataStore) Upsert(ctx context.Context, collection string, filter, update bson.M) error {
	_, err := s.db.Collection(collection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting document in %s: %w", collection, err)
	}
	return nil
}

func (s *mongoDataStore) InsertOne(ctx context.Context, collection string, doc any) error {
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("inserting document into %s: %w", collection, err)
	}
	return nil
}

func (s *mongoDataStore) Aggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregating over %s: %w", collection, err)
	}

	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("reading aggregation cursor of %s: %w", collection, err)
	}
	return rows, nil
}

const (
	checkpointCollection = "SyncState"
	checkpointID         = "LastProcessedOplog"
)

type mongoCheckpointStore struct {
	db *mongo.Database
}

// NewCheckpointStore returns the durable single-record checkpoint store.
func NewCheckpointStore(db *mongo.Database) CheckpointStore {
	return &mongoCheckpointStore{db: db}
}

func (s *mongoCheckpointStore) Load(ctx context.Context) (primitive.Timestamp, bool, error) {
	var doc struct {
		TS primitive.Timestamp `bson:"ts"`
	}
	err := s.db.Collection(checkpointCollection).FindOne(ctx, bson.M{"_id": checkpointID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return primitive.Timestamp{}, false, nil
		}
		return primitive.Timestamp{}, false, fmt.Errorf("loading checkpoint: %w", err)
	}
	return doc.TS, true, nil
}

// Save advances the stored position. $max keeps the record monotone even if
// a late flush carries a smaller position.
func (s *mongoCheckpointStore) Save(ctx context.Context, ts primitive.Timestamp) error {
	_, err := s.db.Collection(checkpointCollection).UpdateOne(ctx,
		bson.M{"_id": checkpointID},
		bson.M{"$max": bson.M{"ts": ts}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

const metaCollection = "MetaObjects"

type mongoMetaStore struct {
	db *mongo.Database
}

// NewMetaStore reads document metadata from the metadata collection.
func NewMetaStore(db *mongo.Database) MetaStore {
	return &mongoMetaStore{db: db}
}

func (s *mongoMetaStore) ListDocuments(ctx context.Context) ([]*model.Document, error) {
	cursor, err := s.db.Collection(metaCollection).Find(ctx, bson.M{"type": "document"})
	if err != nil {
		return nil, fmt.Errorf("listing document metadata: %w", err)
	}

	var docs []*model.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding document metadata: %w", err)
	}
	return docs, nil
}
