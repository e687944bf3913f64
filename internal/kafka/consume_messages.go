package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/request-chat/internal/config"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
	"go.uber.org/fx"
	"google.golang.org/grpc/codes"
)

type ChatEventHandler interface {
	HandleChatEvent(ctx context.Context, event models.ChatEvent) error
}

var _ ChatEventHandler = (*usecase.NotificationUsecase)(nil)

// StartConsumeChatEvents pushes badge notifications for chat events. It is a
// no-op when Kafka is disabled.
func StartConsumeChatEvents(lc fx.Lifecycle, conf *config.Config, notifications *usecase.NotificationUsecase) error {
	var consumer Consumer = noopConsumer{}
	if conf.Kafka.Enabled {
		c, err := newGroupConsumer(consumerOptions{
			brokers:        conf.Kafka.Brokers,
			topics:         []string{conf.Kafka.Topic},
			groupID:        conf.Kafka.GroupID,
			maxWorkers:     conf.Kafka.Workers,
			maxRetries:     3,
			consumeTimeout: 30 * time.Second,
			handler:        chatEventHandler(notifications),
		})
		if err != nil {
			return err
		}
		consumer = c
	}

	lc.Append(fx.Hook{
		OnStart: consumer.Start,
		OnStop:  consumer.Stop,
	})
	return nil
}

func chatEventHandler(h ChatEventHandler) Handler {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var event models.ChatEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("%w: decode chat event: %w", models.ErrValidation, err)
		}
		ctx = log.With(ctx, "event_type", event.Type, "request_id", event.RequestID)

		err := h.HandleChatEvent(ctx, event)
		if err == nil {
			return nil
		}
		switch models.ErrorCode(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Unknown:
			return NewRetryError(err, time.Second)
		}
		return err
	}
}
