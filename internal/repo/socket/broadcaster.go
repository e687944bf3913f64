package socket

import (
	"context"

	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
)

var (
	_ usecase.SocketBroadcaster = (*Broadcaster)(nil)
	_ usecase.SocketBroadcaster = NoopBroadcaster{}
)

type Broadcaster struct {
	client *Client
}

func NewBroadcaster(client *Client) *Broadcaster {
	return &Broadcaster{client: client}
}

// NotifyUsers sends one event per recipient. Recipients may be user ids or
// audiences the gateway expands, such as a staff group.
func (b *Broadcaster) NotifyUsers(ctx context.Context, userIDs []string, name string, data any) error {
	events := make([]Event, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		events = append(events, Event{
			UserID:   id,
			Platform: "web",
			Name:     name,
			Data:     data,
		})
	}
	return b.client.SendEvents(ctx, events)
}

// NoopBroadcaster drops every event. It stands in when the gateway is disabled.
type NoopBroadcaster struct{}

func (NoopBroadcaster) NotifyUsers(ctx context.Context, userIDs []string, name string, _ any) error {
	log.Debugw(ctx, "socket disabled, dropping event", "name", name, "recipients", len(userIDs))
	return nil
}
