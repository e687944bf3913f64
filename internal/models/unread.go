package models

import (
	"maps"
	"slices"
	"time"
)

type RequestSummary struct {
	ID            ObjectID  `json:"id"`
	Category      Category  `json:"category"`
	Title         string    `json:"title,omitempty"`
	Status        string    `json:"status"`
	RequesterName string    `json:"requester_name"`
	UnreadCount   int       `json:"unread_count"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	CreatedAt     time.Time `json:"created_at"`
}

func SummarizeRequest(r *RequestRecord, unread int) RequestSummary {
	s := RequestSummary{
		ID:            r.ID,
		Category:      r.Category,
		Title:         r.Title,
		Status:        r.Status,
		RequesterName: r.Requester.Name,
		UnreadCount:   unread,
		CreatedAt:     r.CreatedAt,
	}
	if n := len(r.Messages); n > 0 {
		s.LastMessageAt = r.Messages[n-1].CreatedAt
	}
	return s
}

// UnreadView is what the unread aggregator publishes after every change.
type UnreadView struct {
	PerRequest map[ObjectID]int `json:"per_request"`
	Total      int              `json:"total"`
	Requests   []RequestSummary `json:"requests"`
	// Ready is set once every feed that could be opened delivered its
	// initial snapshot.
	Ready    bool       `json:"ready"`
	Degraded []Category `json:"degraded,omitempty"`
}

func (v UnreadView) Clone() UnreadView {
	out := v
	out.PerRequest = maps.Clone(v.PerRequest)
	out.Requests = slices.Clone(v.Requests)
	out.Degraded = slices.Clone(v.Degraded)
	return out
}
