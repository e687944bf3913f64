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

var (
	_ usecase.RecordStore   = (*RequestRecordRepository)(nil)
	_ usecase.RecordWatcher = (*RequestRecordRepository)(nil)
)

// RequestRecordRepository serves the three request collections, one base
// repository per category.
type RequestRecordRepository struct {
	repos map[models.Category]*baseRepo[models.RequestRecord]
}

func NewRequestRecordRepository(db *DB) *RequestRecordRepository {
	repos := make(map[models.Category]*baseRepo[models.RequestRecord], len(models.Categories))
	for _, c := range models.Categories {
		r := newBaseRepo[models.RequestRecord](db, c.CollectionName())
		repos[c] = &r
	}
	return &RequestRecordRepository{repos: repos}
}

func (r *RequestRecordRepository) repo(category models.Category) (*baseRepo[models.RequestRecord], error) {
	repo, ok := r.repos[category]
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", models.ErrValidation, category)
	}
	return repo, nil
}

func (r *RequestRecordRepository) Get(ctx context.Context, category models.Category, id models.ObjectID) (*models.RequestRecord, error) {
	repo, err := r.repo(category)
	if err != nil {
		return nil, err
	}
	record, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get %s request %s: %w", category, id, err)
	}
	return record, nil
}

// AppendMessage pushes msg onto the record's message list. Concurrent
// appends never overwrite each other.
func (r *RequestRecordRepository) AppendMessage(ctx context.Context, category models.Category, id models.ObjectID, msg models.Message) (*models.RequestRecord, error) {
	repo, err := r.repo(category)
	if err != nil {
		return nil, err
	}
	update := bson.M{
		"$push": bson.M{"messages": msg},
		"$set": bson.M{
			"has_unread_messages": true,
			"updated_at":          time.Now(),
		},
	}
	record, err := repo.UpdateByID(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("append message to %s request %s: %w", category, id, err)
	}
	return record, nil
}

// ReplaceMessages overwrites the whole message list. The last writer wins.
func (r *RequestRecordRepository) ReplaceMessages(ctx context.Context, category models.Category, id models.ObjectID, messages []models.Message, hasUnread *bool) (*models.RequestRecord, error) {
	repo, err := r.repo(category)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.Message{}
	}
	set := bson.M{
		"messages":   messages,
		"updated_at": time.Now(),
	}
	if hasUnread != nil {
		set["has_unread_messages"] = *hasUnread
	}
	record, err := repo.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("replace messages of %s request %s: %w", category, id, err)
	}
	return record, nil
}

// EnsureIndexes creates the lookup indexes used by feeds and message edits.
func (r *RequestRecordRepository) EnsureIndexes(ctx context.Context) error {
	for _, c := range models.Categories {
		repo := r.repos[c]
		_, err := repo.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "requester.user_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("requester_created_at"),
			},
			{
				Keys:    bson.D{{Key: "messages.id", Value: 1}},
				Options: options.Index().SetName("messages_id"),
			},
		})
		if err != nil {
			return fmt.Errorf("create indexes on %s: %w", c.CollectionName(), err)
		}
	}
	return nil
}
