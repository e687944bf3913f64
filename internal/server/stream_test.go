package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreadStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.newRequest(models.CategorySupport, requester)
	srv := httptest.NewServer(f.e)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/unread/stream?token="+token(t, staff), nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	lines := bufio.NewScanner(res.Body)
	next := func() models.UnreadView {
		t.Helper()
		for lines.Scan() {
			data, ok := strings.CutPrefix(lines.Text(), "data: ")
			if !ok {
				continue
			}
			var view models.UnreadView
			require.NoError(t, json.Unmarshal([]byte(data), &view))
			return view
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return models.UnreadView{}
	}

	view := next()
	for !view.Ready {
		view = next()
	}
	assert.Equal(t, 0, view.Total)

	f.do(t, &requester, http.MethodPost, requestPath(models.CategorySupport, id, "/messages"), map[string]string{"text": "printer jammed"})
	for view.Total == 0 {
		view = next()
	}
	assert.Equal(t, 1, view.Total)
	assert.Equal(t, 1, view.PerRequest[id])
}

type frame struct {
	Type    string               `json:"type"`
	Ref     string               `json:"ref"`
	View    *usecase.SessionView `json:"view"`
	Message *models.Message      `json:"message"`
	Marked  *int                 `json:"marked"`
	Code    string               `json:"code"`
}

func dial(t *testing.T, srv *httptest.Server, as models.Identity, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path + "?token=" + token(t, as)
	conn, res, err := websocket.DefaultDialer.DialContext(t.Context(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = res.Body.Close()
		_ = conn.Close()
	})
	return conn
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func readyView(f frame) bool {
	return f.Type == "view" && f.View != nil && f.View.State == usecase.SessionReady
}

func TestChatSocket(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	category := models.CategoryReservation
	id := f.newRequest(category, requester)
	f.do(t, &requester, http.MethodPost, requestPath(category, id, "/messages"), map[string]string{"text": "Can I take the camera?"})
	srv := httptest.NewServer(f.e)
	t.Cleanup(srv.Close)

	conn := dial(t, srv, staff, requestPath(category, id, "/chat"))

	// opening as staff marks the requester's message read
	first := readUntil(t, conn, func(f frame) bool {
		return readyView(f) && len(f.View.Messages) == 1 && f.View.Messages[0].Read
	})

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "send", "ref": "r1", "text": "Yes, until Friday"}))
	ack := readUntil(t, conn, func(f frame) bool { return f.Ref == "r1" })
	require.Equal(t, "ack", ack.Type)
	require.NotNil(t, ack.Message)
	assert.True(t, ack.Message.AuthorIsStaff)

	readUntil(t, conn, func(f frame) bool {
		return f.Type == "view" && len(f.View.Messages) == 2 && f.View.Messages[1].ID == ack.Message.ID
	})

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "edit", "ref": "r2", "message_id": first.View.Messages[0].ID, "text": "mine now"}))
	rejected := readUntil(t, conn, func(f frame) bool { return f.Ref == "r2" })
	assert.Equal(t, "error", rejected.Type)
	assert.Equal(t, "PermissionDenied", rejected.Code)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "shout", "ref": "r3"}))
	unknown := readUntil(t, conn, func(f frame) bool { return f.Ref == "r3" })
	assert.Equal(t, "InvalidArgument", unknown.Code)
}

func TestChatSocketForbidden(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.newRequest(models.CategoryPurchase, requester)
	srv := httptest.NewServer(f.e)
	t.Cleanup(srv.Close)

	conn := dial(t, srv, stranger, requestPath(models.CategoryPurchase, id, "/chat"))

	got := readUntil(t, conn, func(f frame) bool { return f.Type == "error" })
	assert.Equal(t, "PermissionDenied", got.Code)
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestChatSocketClosesWhenFeedBreaks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.newRequest(models.CategorySupport, requester)
	srv := httptest.NewServer(f.e)
	t.Cleanup(srv.Close)

	conn := dial(t, srv, requester, requestPath(models.CategorySupport, id, "/chat"))
	readUntil(t, conn, readyView)

	f.store.BreakWatch(models.CategorySupport)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
		break
	}
}
