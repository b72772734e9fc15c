package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection("order_history")}
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}},
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Apply is one conditional upsert: the filter excludes documents that already
// hold the event, so a redelivered event either matches nothing or collides
// with the unique order_id index.
func (m *MongoRepository) Apply(ctx context.Context, event domain.OrderEvent) (bool, error) {
	orderID := event.OrderID.String()
	filter := bson.M{
		"order_id":        orderID,
		"events.event_id": bson.M{"$ne": event.EventID.String()},
	}

	set := bson.M{
		"order_number":   event.OrderNumber,
		"user_id":        event.UserID,
		"status":         string(event.Status),
		"payment_status": string(event.PaymentStatus),
		"total_amount":   event.TotalAmount.StringFixed(2),
		"updated_at":     event.OccurredAt,
	}
	if len(event.Items) > 0 {
		set["items"] = itemsOf(event)
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": event.OccurredAt},
		"$push":        bson.M{"events": entryOf(event)},
	}

	res, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to apply order event: %w", err)
	}
	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

func (m *MongoRepository) Get(ctx context.Context, orderID string) (*OrderHistory, error) {
	var doc OrderHistory
	err := m.collection.FindOne(ctx, bson.M{"order_id": orderID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	return &doc, nil
}
