package models

import (
	"time"
)

type ChatEventType string

const (
	ChatEventMessageAppended ChatEventType = "message.appended"
	ChatEventMessageEdited   ChatEventType = "message.edited"
	ChatEventMessageDeleted  ChatEventType = "message.deleted"
	ChatEventMessagesRead    ChatEventType = "messages.read"
)

// ChatEvent is published after every successful message mutation.
type ChatEvent struct {
	ID              string        `json:"id"`
	Type            ChatEventType `json:"type" validate:"required"`
	Category        Category      `json:"category" validate:"required"`
	RequestID       ObjectID      `json:"request_id" validate:"required"`
	MessageID       string        `json:"message_id,omitempty"`
	ActorUserID     string        `json:"actor_user_id" validate:"required"`
	ActorIsStaff    bool          `json:"actor_is_staff"`
	RequesterUserID string        `json:"requester_user_id"`
	Preview         string        `json:"preview,omitempty"`
	At              time.Time     `json:"at"`
}
