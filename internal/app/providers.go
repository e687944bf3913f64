package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nguyentranbao-ct/request-chat/internal/config"
	"github.com/nguyentranbao-ct/request-chat/internal/repo/blobstore"
	"github.com/nguyentranbao-ct/request-chat/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/request-chat/internal/repo/socket"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
)

func newMongoDB(lc fx.Lifecycle, cfg *config.Config) (*mongodb.DB, error) {
	opts := options.Client().
		SetAppName("request-chat").
		SetDirect(cfg.Database.Direct).
		SetHosts(cfg.Database.Hosts)

	if cfg.Database.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Database.Username,
			Password:   cfg.Database.Password,
			AuthSource: cfg.Database.AuthDB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mongoClient, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("init mongo client: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return mongoClient.Ping(ctx, nil)
		},
		OnStop: func(ctx context.Context) error {
			return mongoClient.Disconnect(ctx)
		},
	})

	return &mongodb.DB{
		Client:   mongoClient,
		Database: mongoClient.Database(cfg.Database.Database),
	}, nil
}

// EnsureIndexes creates the collection indexes once the client is up.
func EnsureIndexes(lc fx.Lifecycle, records *mongodb.RequestRecordRepository, processed *mongodb.ProcessedEventRepository) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := records.EnsureIndexes(ctx); err != nil {
				return err
			}
			return processed.EnsureIndexes(ctx)
		},
	})
}

func newBlobStore(cfg *config.Config) (usecase.BlobStore, error) {
	if !cfg.Storage.Enabled {
		return blobstore.NoopBlobStore{}, nil
	}
	return blobstore.NewMinioStore(cfg.Storage)
}

func newSocketBroadcaster(cfg *config.Config) usecase.SocketBroadcaster {
	if !cfg.Socket.Enabled {
		return socket.NoopBroadcaster{}
	}
	return socket.NewBroadcaster(socket.NewClient(cfg.Socket))
}

// newMessageStore flushes pending chat events on stop, before the publisher
// it depends on is closed.
func newMessageStore(lc fx.Lifecycle, records usecase.RecordStore, publisher usecase.EventPublisher) (*usecase.MessageStore, error) {
	messages, err := usecase.NewMessageStore(records, publisher)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: messages.Flush,
	})
	return messages, nil
}

func newAttachmentUploader(cfg *config.Config, store usecase.BlobStore) *usecase.AttachmentUploader {
	return usecase.NewAttachmentUploader(store, cfg.Chat.MaxAttachmentSize)
}

func newNotificationUsecase(cfg *config.Config, broadcaster usecase.SocketBroadcaster, processed usecase.ProcessedEvents) *usecase.NotificationUsecase {
	return usecase.NewNotificationUsecase(broadcaster, processed, cfg.Socket.StaffAudience)
}

func newSessionDeps(
	records usecase.RecordStore,
	watcher usecase.RecordWatcher,
	messages *usecase.MessageStore,
	uploader *usecase.AttachmentUploader,
) usecase.SessionDeps {
	return usecase.SessionDeps{
		Records:  records,
		Watcher:  watcher,
		Messages: messages,
		Uploader: uploader,
	}
}
