package usecase_test

import (
	"errors"
	"testing"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribe(t *testing.T, h *harness, observer models.Identity) *usecase.UnreadFeed {
	t.Helper()
	agg, err := usecase.NewUnreadAggregator(h.store)
	require.NoError(t, err)
	feed := agg.Subscribe(t.Context(), observer)
	t.Cleanup(feed.Close)
	require.NoError(t, feed.WaitReady(t.Context()))
	return feed
}

func TestAggregatorTotalAfterSnapshots(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	want := map[models.ObjectID]int{}
	counts := []int{0, 3, 1, 2, 0, 5}
	for i, n := range counts {
		category := models.Categories[i%len(models.Categories)]
		owner := requester
		if i%2 == 1 {
			owner = otherUser
		}
		id := h.newRequest(category, owner)
		for range n {
			h.append(t, category, id, owner, "ping")
		}
		// staff replies never count for staff
		h.append(t, category, id, staffAlice, "pong")
		want[id] = n
	}

	feed := subscribe(t, h, staffBob)
	view := feed.Current()

	assert.True(t, view.Ready)
	assert.Empty(t, view.Degraded)
	assert.Equal(t, want, view.PerRequest)
	assert.Equal(t, 11, view.Total)
	assert.Len(t, view.Requests, len(counts))
}

func TestAggregatorFollowsChanges(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := h.newRequest(models.CategoryReservation, requester)
	feed := subscribe(t, h, staffAlice)
	assert.Equal(t, 0, feed.Current().PerRequest[id])

	// a new requester message shows up for staff
	h.append(t, models.CategoryReservation, id, requester, "can I extend my booking?")
	assert.Eventually(t, func() bool {
		v := feed.Current()
		return v.PerRequest[id] == 1 && v.Total >= 1
	}, waitFor, tick)

	// opening the conversation marks it read and the badge clears
	s := usecase.NewStaffSession(h.deps(), staffAlice)
	openSession(t, s, models.CategoryReservation, id)
	assert.Eventually(t, func() bool {
		v := feed.Current()
		count, ok := v.PerRequest[id]
		return ok && count == 0 && v.Total == 0
	}, waitFor, tick)

	h.store.Remove(models.CategoryReservation, id)
	assert.Eventually(t, func() bool {
		_, ok := feed.Current().PerRequest[id]
		return !ok
	}, waitFor, tick)
}

func TestAggregatorIsPerObserver(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := h.newRequest(models.CategorySupport, requester)
	h.append(t, models.CategorySupport, id, requester, "projector broken")

	alice := subscribe(t, h, staffAlice)
	bob := subscribe(t, h, staffBob)

	_, err := h.messages.MarkRead(t.Context(), usecase.MarkReadParams{
		Category:        models.CategorySupport,
		RequestID:       id,
		ObserverUserID:  staffAlice.UserID,
		ObserverIsStaff: true,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return alice.Current().Total == 0 }, waitFor, tick)
	assert.Equal(t, 1, bob.Current().Total)
}

func TestAggregatorRequesterScope(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	mine := h.newRequest(models.CategoryPurchase, requester)
	theirs := h.newRequest(models.CategoryPurchase, otherUser)
	h.append(t, models.CategoryPurchase, mine, staffAlice, "approved")
	h.append(t, models.CategoryPurchase, mine, requester, "thanks")
	h.append(t, models.CategoryPurchase, theirs, staffAlice, "rejected")

	feed := subscribe(t, h, requester)
	view := feed.Current()
	assert.Equal(t, map[models.ObjectID]int{mine: 1}, view.PerRequest)
	assert.Equal(t, 1, view.Total)

	// deletes of records outside the scope are ignored
	h.store.Remove(models.CategoryPurchase, theirs)
	h.append(t, models.CategoryPurchase, mine, staffAlice, "ready for pickup")
	assert.Eventually(t, func() bool { return feed.Current().Total == 2 }, waitFor, tick)
	assert.Len(t, feed.Current().PerRequest, 1)
}

func TestAggregatorDegradesFailedFeed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ok := h.newRequest(models.CategoryReservation, requester)
	hidden := h.newRequest(models.CategorySupport, requester)
	h.append(t, models.CategoryReservation, ok, requester, "a")
	h.append(t, models.CategorySupport, hidden, requester, "b")
	h.store.FailWatch(models.CategorySupport, errors.New("permission denied"))

	feed := subscribe(t, h, staffAlice)
	view := feed.Current()

	assert.True(t, view.Ready)
	assert.Equal(t, []models.Category{models.CategorySupport}, view.Degraded)
	assert.Equal(t, 1, view.Total, "the failed collection is under-counted")
	assert.NotContains(t, view.PerRequest, hidden)

	h.append(t, models.CategoryReservation, ok, requester, "c")
	assert.Eventually(t, func() bool { return feed.Current().Total == 2 }, waitFor, tick)
}

func TestAggregatorViewsAndClose(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	id := h.newRequest(models.CategorySupport, requester)

	agg, err := usecase.NewUnreadAggregator(h.store)
	require.NoError(t, err)
	feed := agg.Subscribe(t.Context(), staffAlice)
	require.NoError(t, feed.WaitReady(t.Context()))

	h.append(t, models.CategorySupport, id, requester, "hello")
	for v := range feed.Views() {
		if v.Total == 1 {
			break
		}
	}

	feed.Close()
	_, open := <-feed.Views()
	for open {
		_, open = <-feed.Views()
	}
	select {
	case <-feed.Done():
	default:
		t.Fatal("feed not done after Close")
	}
}

func TestAggregatorSeparatesCategoriesWithSameID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	shared := models.NewObjectID()
	for _, category := range []models.Category{models.CategorySupport, models.CategoryPurchase} {
		h.store.Put(models.RequestRecord{
			ID:        shared,
			Category:  category,
			Requester: models.Requester{UserID: requester.UserID, Name: requester.Name},
			Status:    "pending",
		})
	}
	h.append(t, models.CategorySupport, shared, requester, "desk lamp broken")
	h.append(t, models.CategoryPurchase, shared, requester, "order a new one")
	h.append(t, models.CategoryPurchase, shared, requester, "two if possible")

	feed := subscribe(t, h, staffAlice)
	assert.Equal(t, 3, feed.Current().Total)
	assert.Len(t, feed.Current().Requests, 2)

	h.store.Remove(models.CategorySupport, shared)
	assert.Eventually(t, func() bool { return feed.Current().Total == 2 }, waitFor, tick)
	assert.Equal(t, 2, feed.Current().PerRequest[shared])
	require.Len(t, feed.Current().Requests, 1)
	assert.Equal(t, models.CategoryPurchase, feed.Current().Requests[0].Category)
}

func TestAggregatorDropsCountsOfBrokenFeed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	kept := h.newRequest(models.CategoryReservation, requester)
	lost := h.newRequest(models.CategorySupport, requester)
	h.append(t, models.CategoryReservation, kept, requester, "a")
	h.append(t, models.CategorySupport, lost, requester, "b")
	h.append(t, models.CategorySupport, lost, requester, "c")

	feed := subscribe(t, h, staffAlice)
	require.Equal(t, 3, feed.Current().Total)

	h.store.BreakWatch(models.CategorySupport)
	assert.Eventually(t, func() bool {
		v := feed.Current()
		return v.Total == 1 && len(v.Degraded) == 1
	}, waitFor, tick)

	view := feed.Current()
	assert.Equal(t, []models.Category{models.CategorySupport}, view.Degraded)
	assert.NotContains(t, view.PerRequest, lost)
	assert.Equal(t, 1, view.PerRequest[kept])
}
