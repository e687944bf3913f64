package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type changeStreamDoc struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID models.ObjectID `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument *models.RequestRecord `bson:"fullDocument"`
}

// Watch opens a change stream on the category's collection before reading
// the initial snapshot, so no change between the two is lost. Changes that
// race the snapshot may be delivered twice; every event carries the full
// document so repeats are harmless.
func (r *RequestRecordRepository) Watch(ctx context.Context, category models.Category, filter models.RecordFilter) (<-chan models.ChangeEvent, error) {
	repo, err := r.repo(category)
	if err != nil {
		return nil, err
	}
	if filter.RequestID != "" && !filter.RequestID.IsValid() {
		return nil, fmt.Errorf("watch %s: %w", category, models.ErrNotFound)
	}

	stream, err := repo.Watch(ctx, changeStreamPipeline(filter))
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w: %w", category, models.ErrSubscriptionFailed, err)
	}

	out := make(chan models.ChangeEvent, 16)
	go func() {
		defer close(out)
		defer stream.Close(context.WithoutCancel(ctx))

		send := func(ev models.ChangeEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := repo.Iterate(ctx, snapshotFilter(filter), func(rec models.RequestRecord) error {
			if !send(models.ChangeEvent{Type: models.ChangeAdded, Category: category, RequestID: rec.ID, Record: &rec}) {
				return ErrStop
			}
			return nil
		})
		if err != nil {
			log.Warnw(ctx, "read initial snapshot", "category", category, "error", err)
			return
		}
		if !send(models.ChangeEvent{Type: models.ChangeSynced, Category: category}) {
			return
		}

		for stream.Next(ctx) {
			var doc changeStreamDoc
			if err := stream.Decode(&doc); err != nil {
				log.Warnw(ctx, "decode change event", "category", category, "error", err)
				continue
			}
			ev, ok := toChangeEvent(category, doc)
			if !ok {
				continue
			}
			if !send(ev) {
				return
			}
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warnw(ctx, "change stream closed", "category", category, "error", err)
		}
	}()

	return out, nil
}

func toChangeEvent(category models.Category, doc changeStreamDoc) (models.ChangeEvent, bool) {
	ev := models.ChangeEvent{Category: category, RequestID: doc.DocumentKey.ID}
	switch doc.OperationType {
	case "insert":
		ev.Type = models.ChangeAdded
	case "update", "replace":
		ev.Type = models.ChangeModified
	case "delete":
		ev.Type = models.ChangeRemoved
		return ev, true
	default:
		return ev, false
	}
	// the document was deleted before the update lookup ran
	if doc.FullDocument == nil {
		return ev, false
	}
	ev.Record = doc.FullDocument
	return ev, true
}

func snapshotFilter(filter models.RecordFilter) bson.M {
	f := bson.M{}
	if filter.RequestID != "" {
		f["_id"] = filter.RequestID
	}
	if filter.RequesterUserID != "" {
		f["requester.user_id"] = filter.RequesterUserID
	}
	return f
}

// Deletes carry no document, so a requester-scoped stream lets every delete
// through and consumers drop the ids they do not track.
func changeStreamPipeline(filter models.RecordFilter) mongo.Pipeline {
	match := bson.D{
		{Key: "operationType", Value: bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}},
	}
	if filter.RequestID != "" {
		match = append(match, bson.E{Key: "documentKey._id", Value: filter.RequestID})
	}
	if filter.RequesterUserID != "" {
		match = append(match, bson.E{Key: "$or", Value: bson.A{
			bson.M{"operationType": "delete"},
			bson.M{"fullDocument.requester.user_id": filter.RequesterUserID},
		}})
	}
	return mongo.Pipeline{{{Key: "$match", Value: match}}}
}
