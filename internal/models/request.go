package models

import (
	"fmt"
	"time"
)

// Category tags the collection a request record lives in.
type Category string

const (
	CategoryReservation Category = "reservation"
	CategoryPurchase    Category = "purchase"
	CategorySupport     Category = "support"
)

// Categories lists every tracked collection in a stable order.
var Categories = []Category{CategoryReservation, CategoryPurchase, CategorySupport}

func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrValidation, s)
	}
	return c, nil
}

func (c Category) IsValid() bool {
	switch c {
	case CategoryReservation, CategoryPurchase, CategorySupport:
		return true
	}
	return false
}

func (c Category) CollectionName() string {
	return string(c) + "_requests"
}

type Requester struct {
	UserID string `bson:"user_id" json:"user_id"`
	Name   string `bson:"name" json:"name"`
	Email  string `bson:"email,omitempty" json:"email,omitempty"`
}

// RequestRecord is a reservation, purchase or support request. Its Messages
// are the whole conversation, in append order.
type RequestRecord struct {
	ID                ObjectID  `bson:"_id,omitempty" json:"id"`
	Category          Category  `bson:"category" json:"category"`
	Requester         Requester `bson:"requester" json:"requester"`
	Status            string    `bson:"status" json:"status"`
	Title             string    `bson:"title,omitempty" json:"title,omitempty"`
	Messages          []Message `bson:"messages" json:"messages"`
	HasUnreadMessages bool      `bson:"has_unread_messages" json:"has_unread_messages"`
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}

func (r RequestRecord) GetObjectID() ObjectID {
	return r.ID
}

func (r *RequestRecord) FindMessage(id string) (int, bool) {
	for i := range r.Messages {
		if r.Messages[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// Clone copies the record deeply enough that mutating the copy's messages
// never touches the original.
func (r *RequestRecord) Clone() *RequestRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Messages = CloneMessages(r.Messages)
	return &out
}

// RecordFilter scopes a feed. Empty fields match everything.
type RecordFilter struct {
	RequestID       ObjectID
	RequesterUserID string
}

func (f RecordFilter) Match(r *RequestRecord) bool {
	if r == nil {
		return false
	}
	if f.RequestID != "" && r.ID != f.RequestID {
		return false
	}
	if f.RequesterUserID != "" && r.Requester.UserID != f.RequesterUserID {
		return false
	}
	return true
}
