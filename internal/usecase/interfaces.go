package usecase

import (
	"context"
	"io"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
)

// RecordStore reads and mutates request records. AppendMessage must be an
// atomic array append; ReplaceMessages overwrites the whole message list.
type RecordStore interface {
	Get(ctx context.Context, category models.Category, id models.ObjectID) (*models.RequestRecord, error)
	AppendMessage(ctx context.Context, category models.Category, id models.ObjectID, msg models.Message) (*models.RequestRecord, error)
	ReplaceMessages(ctx context.Context, category models.Category, id models.ObjectID, messages []models.Message, hasUnread *bool) (*models.RequestRecord, error)
}

// RecordWatcher opens a live feed over one collection. The feed starts with
// the matching records as added events followed by a synced event, then
// carries changes in store order. The channel closes when ctx is done or the
// feed breaks.
type RecordWatcher interface {
	Watch(ctx context.Context, category models.Category, filter models.RecordFilter) (<-chan models.ChangeEvent, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (handle string, err error)
	PublicURL(handle string) string
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.ChatEvent) error
}

type SocketBroadcaster interface {
	NotifyUsers(ctx context.Context, userIDs []string, name string, data any) error
}

// ProcessedEvents remembers which chat events already produced
// notifications, so redelivered events are skipped.
type ProcessedEvents interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, event models.ChatEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.ChatEvent) error { return nil }
