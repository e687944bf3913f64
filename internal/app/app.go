package app

import (
	"github.com/nguyentranbao-ct/request-chat/internal/config"
	"github.com/nguyentranbao-ct/request-chat/internal/kafka"
	"github.com/nguyentranbao-ct/request-chat/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/request-chat/internal/server"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	"github.com/nguyentranbao-ct/request-chat/pkg/logger"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"
)

func Invoke(funcs ...any) *fx.App {
	conf := config.MustLoad()
	if err := logger.Configure(logger.Config{Level: conf.Log.Level, Format: conf.Log.Format}); err != nil {
		panic(err)
	}
	log := logger.MustNamed("app")
	log.Debugw("config loaded", "server", conf.Server, "kafka", conf.Kafka, "storage_enabled", conf.Storage.Enabled)
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{
				Logger: log.Unwrap().Desugar(),
			}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Provide(
			newMongoDB,
			newBlobStore,
			newSocketBroadcaster,
			newAttachmentUploader,
			newNotificationUsecase,
			newSessionDeps,

			fx.Annotate(
				mongodb.NewRequestRecordRepository,
				fx.As(new(usecase.RecordStore)),
				fx.As(new(usecase.RecordWatcher)),
				fx.As(fx.Self()),
			),
			fx.Annotate(
				mongodb.NewProcessedEventRepository,
				fx.As(new(usecase.ProcessedEvents)),
				fx.As(fx.Self()),
			),
			kafka.NewEventPublisher,

			newMessageStore,
			usecase.NewUnreadAggregator,

			server.NewController,
		),
		fx.Supply(conf),
		fx.Invoke(EnsureIndexes),
		fx.Invoke(funcs...),
	)
}
