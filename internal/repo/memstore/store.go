// Package memstore is an in-process record store with live feeds. It follows
// the same contract as the Mongo repository and backs the usecase tests.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
)

var (
	_ usecase.RecordStore   = (*Store)(nil)
	_ usecase.RecordWatcher = (*Store)(nil)
)

type Store struct {
	mu       sync.Mutex
	records  map[models.Category]map[models.ObjectID]*models.RequestRecord
	order    map[models.Category][]models.ObjectID
	watchers map[*watcher]struct{}
	failures map[models.Category]error
	writes   int

	// AfterGet runs after every Get, outside the store lock. Tests use it to
	// interleave writes between a read and the write that follows it.
	AfterGet func(category models.Category, id models.ObjectID)
}

func New() *Store {
	return &Store{
		records:  make(map[models.Category]map[models.ObjectID]*models.RequestRecord),
		order:    make(map[models.Category][]models.ObjectID),
		watchers: make(map[*watcher]struct{}),
		failures: make(map[models.Category]error),
	}
}

// Put inserts or replaces a record and notifies feeds.
func (s *Store) Put(record models.RequestRecord) models.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = models.NewObjectID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if record.Messages == nil {
		record.Messages = []models.Message{}
	}
	byID := s.collection(record.Category)
	_, exists := byID[record.ID]
	byID[record.ID] = record.Clone()

	change := models.ChangeModified
	if !exists {
		change = models.ChangeAdded
		s.order[record.Category] = append(s.order[record.Category], record.ID)
	}
	s.notify(record.Category, change, record.ID, byID[record.ID])
	return record.ID
}

// Remove deletes a record and notifies feeds.
func (s *Store) Remove(category models.Category, id models.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.collection(category)
	if _, ok := byID[id]; !ok {
		return
	}
	delete(byID, id)
	ids := s.order[category]
	for i, v := range ids {
		if v == id {
			s.order[category] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	s.notify(category, models.ChangeRemoved, id, nil)
}

// FailWatch makes every later Watch on category fail with err.
func (s *Store) FailWatch(category models.Category, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[category] = err
}

// BreakWatch ends every open feed on category as if the stream had failed.
// Later Watch calls succeed.
func (s *Store) BreakWatch(category models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		if w.category == category {
			delete(s.watchers, w)
			close(w.broken)
		}
	}
}

// Writes counts successful AppendMessage and ReplaceMessages calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) Get(ctx context.Context, category models.Category, id models.ObjectID) (*models.RequestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	rec, ok := s.collection(category)[id]
	var out *models.RequestRecord
	if ok {
		out = rec.Clone()
	}
	hook := s.AfterGet
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("get %s request %s: %w", category, id, models.ErrNotFound)
	}
	if hook != nil {
		hook(category, id)
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, category models.Category, id models.ObjectID, msg models.Message) (*models.RequestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collection(category)[id]
	if !ok {
		return nil, fmt.Errorf("append message to %s request %s: %w", category, id, models.ErrNotFound)
	}
	rec.Messages = append(rec.Messages, models.CloneMessages([]models.Message{msg})...)
	rec.HasUnreadMessages = true
	rec.UpdatedAt = time.Now()
	s.writes++
	s.notify(category, models.ChangeModified, id, rec)
	return rec.Clone(), nil
}

func (s *Store) ReplaceMessages(ctx context.Context, category models.Category, id models.ObjectID, messages []models.Message, hasUnread *bool) (*models.RequestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collection(category)[id]
	if !ok {
		return nil, fmt.Errorf("replace messages of %s request %s: %w", category, id, models.ErrNotFound)
	}
	rec.Messages = models.CloneMessages(messages)
	if rec.Messages == nil {
		rec.Messages = []models.Message{}
	}
	if hasUnread != nil {
		rec.HasUnreadMessages = *hasUnread
	}
	rec.UpdatedAt = time.Now()
	s.writes++
	s.notify(category, models.ChangeModified, id, rec)
	return rec.Clone(), nil
}

func (s *Store) Watch(ctx context.Context, category models.Category, filter models.RecordFilter) (<-chan models.ChangeEvent, error) {
	s.mu.Lock()
	if err := s.failures[category]; err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("watch %s: %w: %w", category, models.ErrSubscriptionFailed, err)
	}

	w := newWatcher(category, filter)
	byID := s.collection(category)
	for _, id := range s.order[category] {
		if rec := byID[id]; filter.Match(rec) {
			w.push(models.ChangeEvent{Type: models.ChangeAdded, Category: category, RequestID: id, Record: rec.Clone()})
		}
	}
	w.push(models.ChangeEvent{Type: models.ChangeSynced, Category: category})
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	out := make(chan models.ChangeEvent)
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
	}()
	go w.pump(ctx, out)
	return out, nil
}

func (s *Store) collection(category models.Category) map[models.ObjectID]*models.RequestRecord {
	byID, ok := s.records[category]
	if !ok {
		byID = make(map[models.ObjectID]*models.RequestRecord)
		s.records[category] = byID
	}
	return byID
}

// notify must be called with s.mu held.
func (s *Store) notify(category models.Category, change models.ChangeType, id models.ObjectID, rec *models.RequestRecord) {
	for w := range s.watchers {
		if w.category != category {
			continue
		}
		switch change {
		case models.ChangeRemoved:
			if w.filter.RequestID != "" && w.filter.RequestID != id {
				continue
			}
			w.push(models.ChangeEvent{Type: change, Category: category, RequestID: id})
		default:
			if !w.filter.Match(rec) {
				continue
			}
			w.push(models.ChangeEvent{Type: change, Category: category, RequestID: id, Record: rec.Clone()})
		}
	}
}

// watcher buffers events without bound so that store writers never wait on
// a slow reader.
type watcher struct {
	category models.Category
	filter   models.RecordFilter

	mu     sync.Mutex
	queue  []models.ChangeEvent
	signal chan struct{}
	broken chan struct{}
}

func newWatcher(category models.Category, filter models.RecordFilter) *watcher {
	return &watcher{
		category: category,
		filter:   filter,
		signal:   make(chan struct{}, 1),
		broken:   make(chan struct{}),
	}
}

func (w *watcher) push(ev models.ChangeEvent) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) pump(ctx context.Context, out chan<- models.ChangeEvent) {
	defer close(out)
	for {
		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, ev := range batch {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			case <-w.broken:
				return
			}
		}

		select {
		case <-w.signal:
		case <-ctx.Done():
			return
		case <-w.broken:
			return
		}
	}
}
