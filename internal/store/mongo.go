package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/i474232898/weather-etl-pipeline/internal/weather"
)

// MongoConfig locates the staging collection.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// rawDocument is the shape of a weather_raw document.
type rawDocument struct {
	ID        string    `bson:"_id"`
	RawJSON   bson.Raw  `bson:"raw_json"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoRawStore stages provider responses in a MongoDB collection.
type MongoRawStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoRawStore wraps an existing client and collection.
func NewMongoRawStore(client *mongo.Client, collection *mongo.Collection) *MongoRawStore {
	return &MongoRawStore{client: client, collection: collection}
}

// OpenMongoRawStore connects to MongoDB and verifies the connection.
func OpenMongoRawStore(ctx context.Context, cfg MongoConfig) (*MongoRawStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("MONGO_URI is not configured")
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	return NewMongoRawStore(client, coll), nil
}

// MongoOpener returns an opener that connects once per task run.
func MongoOpener(cfg MongoConfig) weather.RawStoreOpener {
	return func(ctx context.Context) (weather.RawStore, error) {
		return OpenMongoRawStore(ctx, cfg)
	}
}

// UpsertMany issues one ordered bulk write of upserts keyed by _id.
func (s *MongoRawStore) UpsertMany(ctx context.Context, docs []weather.RawObservation) (weather.UpsertResult, error) {
	models, err := upsertModels(docs)
	if err != nil {
		return weather.UpsertResult{}, err
	}
	if len(models) == 0 {
		return weather.UpsertResult{}, nil
	}

	res, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return weather.UpsertResult{}, fmt.Errorf("mongo bulk write failed: %w", err)
	}
	return weather.UpsertResult{
		Upserted: res.UpsertedCount,
		Modified: res.ModifiedCount,
	}, nil
}

func upsertModels(docs []weather.RawObservation) ([]mongo.WriteModel, error) {
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		var body bson.D
		if err := bson.UnmarshalExtJSON(doc.RawJSON, false, &body); err != nil {
			return nil, fmt.Errorf("convert %s to bson: %w", doc.ID, err)
		}

		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: doc.ID}}).
			SetUpdate(bson.D{{Key: "$set", Value: bson.D{
				{Key: "raw_json", Value: body},
				{Key: "updatedAt", Value: doc.UpdatedAt},
			}}}).
			SetUpsert(true))
	}
	return models, nil
}

// Scan streams documents with a cursor, ordered by _id.
func (s *MongoRawStore) Scan(ctx context.Context, since time.Time, fn func(weather.RawObservation) error) error {
	filter := bson.D{}
	if !since.IsZero() {
		filter = bson.D{{Key: "updatedAt", Value: bson.D{{Key: "$gt", Value: since}}}}
	}

	cur, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("mongo find failed: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var d rawDocument
		if err := cur.Decode(&d); err != nil {
			return fmt.Errorf("decode staged document: %w", err)
		}
		doc, err := d.toObservation()
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (d rawDocument) toObservation() (weather.RawObservation, error) {
	body, err := bson.MarshalExtJSON(d.RawJSON, false, false)
	if err != nil {
		return weather.RawObservation{}, fmt.Errorf("convert %s to json: %w", d.ID, err)
	}
	return weather.RawObservation{
		ID:        d.ID,
		RawJSON:   body,
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}

// Close disconnects the client.
func (s *MongoRawStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		log.Printf("mongo disconnect failed: %v", err)
		return err
	}
	return nil
}
