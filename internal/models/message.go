package models

import (
	"slices"
	"time"
)

// DeletedMessageText replaces the text of a tombstoned message.
const DeletedMessageText = "This message was deleted"

// MaxAttachmentSize is the largest blob accepted as an attachment.
const MaxAttachmentSize int64 = 10 << 20

type Attachment struct {
	Name     string `bson:"name" json:"name"`
	URL      string `bson:"url" json:"url"`
	Size     int64  `bson:"size" json:"size"`
	MimeType string `bson:"mime_type" json:"mime_type"`
}

type Message struct {
	ID            string      `bson:"id" json:"id"`
	Text          string      `bson:"text" json:"text"`
	AuthorIsStaff bool        `bson:"author_is_staff" json:"author_is_staff"`
	AuthorUserID  string      `bson:"author_user_id" json:"author_user_id"`
	AuthorName    string      `bson:"author_name" json:"author_name"`
	CreatedAt     time.Time   `bson:"created_at" json:"created_at"`
	Delivered     bool        `bson:"delivered" json:"delivered"`
	Read          bool        `bson:"read" json:"read"`
	ReadBy        []string    `bson:"read_by" json:"read_by"`
	Deleted       bool        `bson:"deleted" json:"deleted"`
	Edited        bool        `bson:"edited" json:"edited"`
	OriginalText  string      `bson:"original_text,omitempty" json:"original_text,omitempty"`
	EditedAt      *time.Time  `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	Attachment    *Attachment `bson:"attachment,omitempty" json:"attachment,omitempty"`
}

// IsUnreadFor reports whether the message was sent by the other side and the
// observer has not seen it yet.
func (m *Message) IsUnreadFor(observerUserID string, observerIsStaff bool) bool {
	return m.AuthorIsStaff != observerIsStaff && !slices.Contains(m.ReadBy, observerUserID)
}

func CountUnread(messages []Message, observerUserID string, observerIsStaff bool) int {
	n := 0
	for i := range messages {
		if messages[i].IsUnreadFor(observerUserID, observerIsStaff) {
			n++
		}
	}
	return n
}

func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		m.ReadBy = slices.Clone(m.ReadBy)
		if m.Attachment != nil {
			a := *m.Attachment
			m.Attachment = &a
		}
		if m.EditedAt != nil {
			t := *m.EditedAt
			m.EditedAt = &t
		}
		out[i] = m
	}
	return out
}
