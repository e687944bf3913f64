package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
	"github.com/nguyentranbao-ct/request-chat/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

const previewLength = 80

type AppendParams struct {
	Category      models.Category
	RequestID     models.ObjectID
	Text          string
	AuthorIsStaff bool
	AuthorName    string
	AuthorUserID  string
	Attachment    *models.Attachment
}

type EditParams struct {
	Category         models.Category
	RequestID        models.ObjectID
	MessageID        string
	NewText          string
	RequestingUserID string
}

type DeleteParams struct {
	Category         models.Category
	RequestID        models.ObjectID
	MessageID        string
	RequestingUserID string
}

type MarkReadParams struct {
	Category        models.Category
	RequestID       models.ObjectID
	ObserverUserID  string
	ObserverIsStaff bool
}

// MessageStore mutates the message list embedded in a request record.
//
// Append relies on the store's atomic array append. Edit, Delete and MarkRead
// read the record and write back the whole list; two of them racing on the
// same record resolve as last writer wins.
type MessageStore struct {
	records   RecordStore
	publisher EventPublisher
	metrics   *prometheus.HistogramVec
	now       func() time.Time
	newID     func() string

	// publishing tracks events handed to the publisher but not yet sent
	publishing sync.WaitGroup
}

func NewMessageStore(records RecordStore, publisher EventPublisher) (*MessageStore, error) {
	metrics, err := util.GetHistogramVec(
		"message_store_operation_duration_seconds",
		"Duration of message list mutations",
		"op", "code",
	)
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &MessageStore{
		records:   records,
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *MessageStore) Append(ctx context.Context, params AppendParams) (_ *models.Message, err error) {
	defer s.observe("append", time.Now(), &err)

	if strings.TrimSpace(params.Text) == "" && params.Attachment == nil {
		return nil, fmt.Errorf("%w: message needs text or an attachment", models.ErrValidation)
	}
	if params.AuthorUserID == "" {
		return nil, fmt.Errorf("%w: author is required", models.ErrValidation)
	}

	msg := models.Message{
		ID:            s.newID(),
		Text:          params.Text,
		AuthorIsStaff: params.AuthorIsStaff,
		AuthorUserID:  params.AuthorUserID,
		AuthorName:    params.AuthorName,
		CreatedAt:     s.now(),
		Delivered:     true,
		ReadBy:        []string{},
		Attachment:    params.Attachment,
	}

	record, err := s.records.AppendMessage(ctx, params.Category, params.RequestID, msg)
	if err != nil {
		return nil, err
	}

	log.Infow(ctx, "message appended",
		"category", params.Category,
		"request_id", params.RequestID,
		"message_id", msg.ID,
		"author_is_staff", msg.AuthorIsStaff,
		"has_attachment", msg.Attachment != nil,
	)
	s.publish(ctx, params.Category, record, models.ChatEvent{
		Type:         models.ChatEventMessageAppended,
		MessageID:    msg.ID,
		ActorUserID:  msg.AuthorUserID,
		ActorIsStaff: msg.AuthorIsStaff,
		Preview:      preview(msg),
	})
	return &msg, nil
}

func (s *MessageStore) Edit(ctx context.Context, params EditParams) (_ *models.Message, err error) {
	defer s.observe("edit", time.Now(), &err)

	record, err := s.records.Get(ctx, params.Category, params.RequestID)
	if err != nil {
		return nil, err
	}
	msg, err := authorMessage(record, params.MessageID, params.RequestingUserID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, fmt.Errorf("%w: message %s is deleted", models.ErrForbidden, params.MessageID)
	}
	if strings.TrimSpace(params.NewText) == "" && msg.Attachment == nil {
		return nil, fmt.Errorf("%w: message needs text or an attachment", models.ErrValidation)
	}

	if !msg.Edited {
		msg.OriginalText = msg.Text
	}
	now := s.now()
	msg.Text = params.NewText
	msg.Edited = true
	msg.EditedAt = &now
	edited := *msg

	updated, err := s.records.ReplaceMessages(ctx, params.Category, params.RequestID, record.Messages, nil)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, params.Category, updated, models.ChatEvent{
		Type:         models.ChatEventMessageEdited,
		MessageID:    edited.ID,
		ActorUserID:  params.RequestingUserID,
		ActorIsStaff: edited.AuthorIsStaff,
		Preview:      preview(edited),
	})
	return &edited, nil
}

// Delete tombstones the message. Deleting a tombstone succeeds without a write.
func (s *MessageStore) Delete(ctx context.Context, params DeleteParams) (err error) {
	defer s.observe("delete", time.Now(), &err)

	record, err := s.records.Get(ctx, params.Category, params.RequestID)
	if err != nil {
		return err
	}
	msg, err := authorMessage(record, params.MessageID, params.RequestingUserID)
	if err != nil {
		return err
	}
	if msg.Deleted {
		return nil
	}

	msg.Deleted = true
	msg.Text = models.DeletedMessageText
	msg.OriginalText = ""
	msg.Attachment = nil
	authorIsStaff := msg.AuthorIsStaff

	updated, err := s.records.ReplaceMessages(ctx, params.Category, params.RequestID, record.Messages, nil)
	if err != nil {
		return err
	}

	s.publish(ctx, params.Category, updated, models.ChatEvent{
		Type:         models.ChatEventMessageDeleted,
		MessageID:    params.MessageID,
		ActorUserID:  params.RequestingUserID,
		ActorIsStaff: authorIsStaff,
	})
	return nil
}

// MarkRead records the observer on every message from the other side that
// they have not seen and clears the record's unread flag. It returns the
// number of messages it marked.
func (s *MessageStore) MarkRead(ctx context.Context, params MarkReadParams) (_ int, err error) {
	defer s.observe("mark_read", time.Now(), &err)

	if params.ObserverUserID == "" {
		return 0, fmt.Errorf("%w: observer is required", models.ErrValidation)
	}
	record, err := s.records.Get(ctx, params.Category, params.RequestID)
	if err != nil {
		return 0, err
	}

	marked := 0
	for i := range record.Messages {
		msg := &record.Messages[i]
		if !msg.IsUnreadFor(params.ObserverUserID, params.ObserverIsStaff) {
			continue
		}
		msg.Read = true
		msg.ReadBy = append(msg.ReadBy, params.ObserverUserID)
		marked++
	}
	if marked == 0 && !record.HasUnreadMessages {
		return 0, nil
	}

	updated, err := s.records.ReplaceMessages(ctx, params.Category, params.RequestID, record.Messages, util.Ptr(false))
	if err != nil {
		return 0, err
	}

	if marked > 0 {
		s.publish(ctx, params.Category, updated, models.ChatEvent{
			Type:         models.ChatEventMessagesRead,
			ActorUserID:  params.ObserverUserID,
			ActorIsStaff: params.ObserverIsStaff,
		})
	}
	return marked, nil
}

func authorMessage(record *models.RequestRecord, messageID, requestingUserID string) (*models.Message, error) {
	idx, ok := record.FindMessage(messageID)
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, models.ErrNotFound)
	}
	msg := &record.Messages[idx]
	if msg.AuthorUserID != requestingUserID {
		return nil, fmt.Errorf("%w: message %s belongs to another author", models.ErrForbidden, messageID)
	}
	return msg, nil
}

// publish runs after the write is durable and never fails the caller.
func (s *MessageStore) publish(ctx context.Context, category models.Category, record *models.RequestRecord, event models.ChatEvent) {
	if record == nil {
		return
	}
	event.ID = s.newID()
	event.Category = category
	event.RequestID = record.ID
	event.RequesterUserID = record.Requester.UserID
	event.At = s.now()

	s.publishing.Go(func() {
		ctx, cancel := util.NewTimeoutContext(ctx, 10*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Warnw(ctx, "failed to publish chat event", "type", event.Type, "request_id", event.RequestID, "error", err)
		}
	})
}

// Flush waits until every event handed to the publisher has been sent or has
// failed. Events still pending when ctx ends are lost.
func (s *MessageStore) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.publishing.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush chat events: %w", ctx.Err())
	}
}

func (s *MessageStore) observe(op string, start time.Time, err *error) {
	s.metrics.
		WithLabelValues(op, models.ErrorCode(*err).String()).
		Observe(time.Since(start).Seconds())
}

func preview(msg models.Message) string {
	text := strings.TrimSpace(msg.Text)
	if text == "" && msg.Attachment != nil {
		return msg.Attachment.Name
	}
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "…"
}
