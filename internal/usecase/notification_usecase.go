package usecase

import (
	"context"
	"fmt"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
)

const (
	NotificationChatMessage   = "chat_message"
	NotificationUnreadChanged = "unread_changed"
)

// NotificationUsecase turns chat events into badge pushes. Message events go
// to the side that did not act; read events go back to the reader so their
// other open clients drop the badge.
type NotificationUsecase struct {
	socket        SocketBroadcaster
	processed     ProcessedEvents
	staffAudience string
}

func NewNotificationUsecase(socket SocketBroadcaster, processed ProcessedEvents, staffAudience string) *NotificationUsecase {
	return &NotificationUsecase{socket: socket, processed: processed, staffAudience: staffAudience}
}

type badgePayload struct {
	Type      models.ChatEventType `json:"type"`
	Category  models.Category      `json:"category"`
	RequestID models.ObjectID      `json:"request_id"`
	MessageID string               `json:"message_id,omitempty"`
	Preview   string               `json:"preview,omitempty"`
}

func (u *NotificationUsecase) recipients(event models.ChatEvent) []string {
	if event.Type == models.ChatEventMessagesRead {
		return []string{event.ActorUserID}
	}
	if event.ActorIsStaff {
		if event.RequesterUserID == "" {
			return nil
		}
		return []string{event.RequesterUserID}
	}
	if u.staffAudience == "" {
		return nil
	}
	return []string{u.staffAudience}
}

func (u *NotificationUsecase) HandleChatEvent(ctx context.Context, event models.ChatEvent) error {
	ctx = log.With(ctx, "event_id", event.ID, "type", event.Type, "request_id", event.RequestID)

	if u.processed != nil {
		done, err := u.processed.IsProcessed(ctx, event.ID)
		if err != nil {
			return err
		}
		if done {
			log.Debugw(ctx, "chat event already handled")
			return nil
		}
	}

	recipients := u.recipients(event)
	if len(recipients) == 0 {
		log.Debugw(ctx, "no recipients for chat event")
		return nil
	}

	payload := badgePayload{
		Type:      event.Type,
		Category:  event.Category,
		RequestID: event.RequestID,
		MessageID: event.MessageID,
	}
	// deleted text never leaves the store
	if event.Type != models.ChatEventMessageDeleted {
		payload.Preview = event.Preview
	}

	if event.Type == models.ChatEventMessageAppended {
		if err := u.socket.NotifyUsers(ctx, recipients, NotificationChatMessage, payload); err != nil {
			return fmt.Errorf("notify users: %w", err)
		}
	}
	if err := u.socket.NotifyUsers(ctx, recipients, NotificationUnreadChanged, payload); err != nil {
		return fmt.Errorf("notify users: %w", err)
	}

	if u.processed != nil {
		if err := u.processed.MarkProcessed(ctx, event); err != nil {
			log.Warnw(ctx, "failed to mark chat event processed", "error", err)
		}
	}
	log.Debugw(ctx, "chat event pushed", "recipients", recipients)
	return nil
}
