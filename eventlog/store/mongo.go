package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stallwart/switchboard/config"
	"github.com/stallwart/switchboard/errors"
	"github.com/stallwart/switchboard/event"
	"github.com/stallwart/switchboard/eventlog"
)

// MongoStore implements eventlog.Store on MongoDB. One collection holds
// every conversation's events; appends are idempotent on the event id.
type MongoStore struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
}

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns default MongoDB configuration.
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "switchboard",
		Collection: "events",
	}
}

// mongoRecord is the stored document shape.
type mongoRecord struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Type           string    `bson:"type"`
	Payload        []byte    `bson:"payload"`
	StoredAt       time.Time `bson:"stored_at"`
}

// NewMongoStore connects to MongoDB and prepares the events collection.
func NewMongoStore(cfg *MongoConfig) (*MongoStore, error) {
	if cfg == nil {
		cfg = DefaultMongoConfig()
	}
	if err := config.ValidateMongoDBConfig(cfg.URI, cfg.Database, cfg.Collection); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	store := &MongoStore{
		client:     client,
		db:         db,
		collection: db.Collection(cfg.Collection),
	}

	if err := store.createIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return store, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "stored_at", Value: 1}},
	}
	_, err := s.collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

// AppendEvent upserts the event document keyed by its id, so a retried
// append never duplicates.
func (s *MongoStore) AppendEvent(ctx context.Context, conversationID string, e *event.Event) error {
	if e == nil {
		return fmt.Errorf("event cannot be nil: %w", errors.ErrInvalidInput)
	}
	if conversationID == "" {
		return fmt.Errorf("conversation id is required: %w", errors.ErrInvalidInput)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	doc := mongoRecord{
		ID:             e.ID,
		ConversationID: conversationID,
		Type:           string(e.Type),
		Payload:        payload,
		StoredAt:       time.Now().UTC(),
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"_id": e.ID}
	if _, err := s.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to append event to MongoDB: %w", err)
	}
	return nil
}

// Events returns the conversation's records in append order.
func (s *MongoStore) Events(ctx context.Context, conversationID string) ([]*eventlog.Record, error) {
	filter := bson.M{"conversation_id": conversationID}
	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "stored_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}

	records := make([]*eventlog.Record, len(docs))
	for i, doc := range docs {
		var e event.Event
		if err := json.Unmarshal(doc.Payload, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		records[i] = &eventlog.Record{
			ConversationID: doc.ConversationID,
			Event:          &e,
			StoredAt:       doc.StoredAt,
		}
	}
	return records, nil
}

// Count returns how many events the conversation has.
func (s *MongoStore) Count(ctx context.Context, conversationID string) (int, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return int(count), nil
}

// Clear removes all events of the conversation.
func (s *MongoStore) Clear(ctx context.Context, conversationID string) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{"conversation_id": conversationID}); err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks if the MongoDB connection is alive.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}
