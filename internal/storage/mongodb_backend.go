package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	storagecommon "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage/common"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "kv_store"

type mongoEntry struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoDBBackend keeps one document per key, using _id as the key.
type MongoDBBackend struct {
	uri        string
	dbName     string
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoDBBackend creates a MongoDB storage backend
func NewMongoDBBackend(uri, dbName string) *MongoDBBackend {
	if dbName == "" {
		dbName = "poolproxy"
	}
	return &MongoDBBackend{uri: uri, dbName: dbName}
}

func (m *MongoDBBackend) Initialize(ctx context.Context) error {
	ctx, cancel := storagecommon.Bound(ctx, storagecommon.OpConnect)
	defer cancel()

	clientOptions := options.Client().ApplyURI(m.uri)
	clientOptions.SetMaxPoolSize(10)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m.client = client
	m.collection = client.Database(m.dbName).Collection(mongoCollection)
	if _, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoDBBackend) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := storagecommon.Bound(context.Background(), storagecommon.OpWrite)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoDBBackend) Health(ctx context.Context) error {
	ctx, cancel := storagecommon.Bound(ctx, storagecommon.OpProbe)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *MongoDBBackend) Get(ctx context.Context, key string) (Entry, error) {
	var doc mongoEntry
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, &ErrNotFound{Key: key}
	}
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: doc.Key, Value: doc.Value, Version: doc.Version}, nil
}

func upsertModel(key string, value []byte) *mongo.UpdateOneModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": key}).
		SetUpdate(upsertDoc(value)).
		SetUpsert(true)
}

func upsertDoc(value []byte) bson.M {
	return bson.M{
		"$set": bson.M{"value": value, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": int64(1)},
	}
}

func (m *MongoDBBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := m.collection.UpdateOne(ctx, bson.M{"_id": key}, upsertDoc(value), options.Update().SetUpsert(true))
	return err
}

func (m *MongoDBBackend) Delete(ctx context.Context, key string) error {
	_, err := m.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (m *MongoDBBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	filter := bson.M{"_id": primitive.Regex{Pattern: storagecommon.PrefixRegex(prefix)}}
	cur, err := m.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]Entry, 0)
	for cur.Next(ctx) {
		var doc mongoEntry
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: doc.Key, Value: doc.Value, Version: doc.Version})
	}
	return out, cur.Err()
}

func (m *MongoDBBackend) CheckAndSet(ctx context.Context, key string, expectedVersion int64, value []byte) (int64, error) {
	now := time.Now().UTC()
	if expectedVersion == 0 {
		_, err := m.collection.InsertOne(ctx, mongoEntry{Key: key, Value: value, Version: 1, UpdatedAt: now})
		if mongo.IsDuplicateKeyError(err) {
			return 0, ErrVersionConflict
		}
		if err != nil {
			return 0, err
		}
		return 1, nil
	}

	res, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": key, "version": expectedVersion},
		bson.M{"$set": bson.M{"value": value, "version": expectedVersion + 1, "updated_at": now}})
	if err != nil {
		return 0, err
	}
	if res.MatchedCount == 0 {
		return 0, ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

func (m *MongoDBBackend) ApplyBatch(ctx context.Context, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(mutations))
	for _, mut := range mutations {
		if mut.Delete {
			models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": mut.Key}))
			continue
		}
		models = append(models, upsertModel(mut.Key, mut.Value))
	}
	_, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}
