package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	processedEventsCollection = "processed_chat_events"
	processedEventTTL         = 24 * time.Hour
)

var _ usecase.ProcessedEvents = (*ProcessedEventRepository)(nil)

// processedEvent is one chat event that already produced its notifications.
// Documents expire through a TTL index.
type processedEvent struct {
	ID          string               `bson:"_id"`
	Type        models.ChatEventType `bson:"type"`
	Category    models.Category      `bson:"category"`
	RequestID   models.ObjectID      `bson:"request_id"`
	ProcessedAt time.Time            `bson:"processed_at"`
	ExpiresAt   time.Time            `bson:"expires_at"`
}

type ProcessedEventRepository struct {
	coll *mongo.Collection
	ttl  time.Duration
}

func NewProcessedEventRepository(db *DB) *ProcessedEventRepository {
	return &ProcessedEventRepository{
		coll: db.Collection(processedEventsCollection),
		ttl:  processedEventTTL,
	}
}

func (r *ProcessedEventRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().
			SetExpireAfterSeconds(0).
			SetName("expires_at_ttl"),
	})
	if err != nil {
		return fmt.Errorf("create indexes on %s: %w", processedEventsCollection, err)
	}
	return nil
}

func (r *ProcessedEventRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": eventID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check processed event %s: %w", eventID, err)
	}
	return count > 0, nil
}

// MarkProcessed records the event. Marking the same event twice is not an
// error.
func (r *ProcessedEventRepository) MarkProcessed(ctx context.Context, event models.ChatEvent) error {
	if event.ID == "" {
		return nil
	}
	now := time.Now()
	doc := processedEvent{
		ID:          event.ID,
		Type:        event.Type,
		Category:    event.Category,
		RequestID:   event.RequestID,
		ProcessedAt: now,
		ExpiresAt:   now.Add(r.ttl),
	}
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": event.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mark event %s processed: %w", event.ID, err)
	}
	return nil
}
