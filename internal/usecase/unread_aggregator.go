package usecase

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
	"github.com/nguyentranbao-ct/request-chat/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// UnreadAggregator derives live unread badges for one observer from the
// record feeds of every category.
type UnreadAggregator struct {
	watcher    RecordWatcher
	categories []models.Category
	active     *prometheus.GaugeVec
}

func NewUnreadAggregator(watcher RecordWatcher) (*UnreadAggregator, error) {
	active, err := util.GetGaugeVec(
		"unread_aggregator_active_feeds",
		"Number of open unread subscriptions",
		"scope",
	)
	if err != nil {
		return nil, fmt.Errorf("get gauge vec: %w", err)
	}
	return &UnreadAggregator{
		watcher:    watcher,
		categories: slices.Clone(models.Categories),
		active:     active,
	}, nil
}

type sourceEvent struct {
	models.ChangeEvent
	// failed is set when the category feed could not be opened or broke.
	failed error
}

// Subscribe opens one feed per category and returns the merged view. Staff
// observers track every request; requesters track only their own. A feed
// that cannot be opened is reported in the view's Degraded list and the
// others carry on.
func (a *UnreadAggregator) Subscribe(ctx context.Context, observer models.Identity) *UnreadFeed {
	ctx, cancel := context.WithCancel(ctx)
	scope := "requester"
	filter := models.RecordFilter{RequesterUserID: observer.UserID}
	if observer.IsStaff() {
		scope = "staff"
		filter = models.RecordFilter{}
	}
	ctx = log.With(ctx, "observer", observer.UserID, "scope", scope)

	f := &UnreadFeed{
		cancel:  cancel,
		views:   make(chan models.UnreadView, 1),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		current: models.UnreadView{PerRequest: map[models.ObjectID]int{}, Requests: []models.RequestSummary{}},
	}

	events := make(chan sourceEvent)
	g, gctx := errgroup.WithContext(ctx)
	for _, category := range a.categories {
		g.Go(func() error {
			a.forward(gctx, category, filter, events)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(events)
	}()

	a.active.WithLabelValues(scope).Inc()
	go func() {
		defer a.active.WithLabelValues(scope).Dec()
		f.reduce(ctx, observer, a.categories, events)
	}()
	return f
}

func (a *UnreadAggregator) forward(ctx context.Context, category models.Category, filter models.RecordFilter, out chan<- sourceEvent) {
	send := func(ev sourceEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	feed, err := a.watcher.Watch(ctx, category, filter)
	if err != nil {
		log.Warnw(ctx, "unread feed unavailable", "category", category, "error", err)
		send(sourceEvent{ChangeEvent: models.ChangeEvent{Category: category}, failed: err})
		return
	}
	for ev := range feed {
		if !send(sourceEvent{ChangeEvent: ev}) {
			return
		}
	}
	if ctx.Err() == nil {
		log.Warnw(ctx, "unread feed ended", "category", category)
		send(sourceEvent{
			ChangeEvent: models.ChangeEvent{Category: category},
			failed:      fmt.Errorf("%w: %s feed ended", models.ErrSubscriptionFailed, category),
		})
	}
}

// UnreadFeed is a live unread view. Close releases its subscriptions.
type UnreadFeed struct {
	cancel context.CancelFunc
	views  chan models.UnreadView
	ready  chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	current models.UnreadView
}

// unreadKey scopes a record id to its collection; ids are only unique within
// one category.
type unreadKey struct {
	category models.Category
	id       models.ObjectID
}

type unreadEntry struct {
	record *models.RequestRecord
	count  int
}

// reduce is the only writer of the unread index.
func (f *UnreadFeed) reduce(ctx context.Context, observer models.Identity, categories []models.Category, events <-chan sourceEvent) {
	defer close(f.done)
	defer close(f.views)

	index := make(map[unreadKey]unreadEntry)
	pending := make(map[models.Category]bool, len(categories))
	for _, c := range categories {
		pending[c] = true
	}
	var degraded []models.Category
	isStaff := observer.IsStaff()

	for ev := range events {
		changed := true
		switch {
		case ev.failed != nil:
			delete(pending, ev.Category)
			if !slices.Contains(degraded, ev.Category) {
				degraded = append(degraded, ev.Category)
			}
			// counts from a dead feed would go stale; leave them out
			for key := range index {
				if key.category == ev.Category {
					delete(index, key)
				}
			}
		case ev.Type == models.ChangeAdded || ev.Type == models.ChangeModified:
			if ev.Record == nil {
				changed = false
				break
			}
			index[unreadKey{ev.Category, ev.RequestID}] = unreadEntry{
				record: ev.Record,
				count:  models.CountUnread(ev.Record.Messages, observer.UserID, isStaff),
			}
		case ev.Type == models.ChangeRemoved:
			key := unreadKey{ev.Category, ev.RequestID}
			if _, ok := index[key]; !ok {
				changed = false
				break
			}
			delete(index, key)
		case ev.Type == models.ChangeSynced:
			delete(pending, ev.Category)
		default:
			changed = false
		}
		if !changed {
			continue
		}
		f.publish(buildUnreadView(index, len(pending) == 0, degraded))
	}

	if ctx.Err() == nil {
		log.Warnw(ctx, "every unread feed ended")
	}
}

func buildUnreadView(index map[unreadKey]unreadEntry, ready bool, degraded []models.Category) models.UnreadView {
	view := models.UnreadView{
		PerRequest: make(map[models.ObjectID]int, len(index)),
		Requests:   make([]models.RequestSummary, 0, len(index)),
		Ready:      ready,
		Degraded:   slices.Clone(degraded),
	}
	for key, e := range index {
		view.PerRequest[key.id] += e.count
		view.Total += e.count
		view.Requests = append(view.Requests, models.SummarizeRequest(e.record, e.count))
	}
	slices.SortFunc(view.Requests, func(a, b models.RequestSummary) int {
		if c := b.LastMessageAt.Compare(a.LastMessageAt); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return view
}

func (f *UnreadFeed) publish(view models.UnreadView) {
	f.mu.Lock()
	f.current = view
	if view.Ready {
		select {
		case <-f.ready:
		default:
			close(f.ready)
		}
	}
	f.mu.Unlock()

	select {
	case <-f.views:
	default:
	}
	f.views <- view.Clone()
}

// Views delivers the latest view after every change; intermediate views may
// be skipped. The channel is closed once the feed stops.
func (f *UnreadFeed) Views() <-chan models.UnreadView {
	return f.views
}

func (f *UnreadFeed) Current() models.UnreadView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Clone()
}

// WaitReady blocks until every feed that could be opened has delivered its
// initial snapshot.
func (f *UnreadFeed) WaitReady(ctx context.Context) error {
	select {
	case <-f.ready:
		return nil
	case <-f.done:
		select {
		case <-f.ready:
			return nil
		default:
		}
		return fmt.Errorf("%w: unread feed stopped before it was ready", models.ErrSubscriptionFailed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *UnreadFeed) Done() <-chan struct{} {
	return f.done
}

func (f *UnreadFeed) Close() {
	f.cancel()
	<-f.done
}
