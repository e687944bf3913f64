package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/request-chat/internal/config"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/repo/memstore"
	"github.com/nguyentranbao-ct/request-chat/internal/server"
	pkgmdw "github.com/nguyentranbao-ct/request-chat/internal/server/middleware"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var (
	staff     = models.Identity{UserID: "staff-alice", Name: "Alice", IsAdmin: true}
	requester = models.Identity{UserID: "student-1", Name: "Sam"}
	stranger  = models.Identity{UserID: "student-2", Name: "Kim"}
)

type blobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *blobs) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return key, nil
}

func (b *blobs) PublicURL(handle string) string {
	return "https://files.test/" + handle
}

type fixture struct {
	store *memstore.Store
	e     *echo.Echo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conf := &config.Config{
		Server: config.ServerConfig{CORSOrigins: `^https://app\.test$`, UnreadTimeout: 2 * time.Second},
		Auth:   config.AuthConfig{JWTSecret: testSecret},
		Chat:   config.ChatConfig{MaxAttachmentSize: 1024},
	}
	store := memstore.New()
	messages, err := usecase.NewMessageStore(store, usecase.NoopPublisher{})
	require.NoError(t, err)
	uploader := usecase.NewAttachmentUploader(&blobs{objects: map[string][]byte{}}, conf.Chat.MaxAttachmentSize)
	unread, err := usecase.NewUnreadAggregator(store)
	require.NoError(t, err)
	deps := usecase.SessionDeps{Records: store, Watcher: store, Messages: messages, Uploader: uploader}

	handler, err := server.NewController(conf, store, messages, uploader, unread, deps)
	require.NoError(t, err)
	e, err := server.NewEcho(conf, handler)
	require.NoError(t, err)
	return &fixture{store: store, e: e}
}

func (f *fixture) newRequest(category models.Category, owner models.Identity) models.ObjectID {
	return f.store.Put(models.RequestRecord{
		Category:  category,
		Requester: models.Requester{UserID: owner.UserID, Name: owner.Name},
		Status:    "pending",
	})
}

func token(t *testing.T, id models.Identity) string {
	t.Helper()
	tok, err := pkgmdw.IssueToken(pkgmdw.IdentityConfig{Secret: testSecret}, id, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, as *models.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if as != nil {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, *as))
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

type envelope[T any] struct {
	Success      bool   `json:"success"`
	Data         T      `json:"data"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requestPath(category models.Category, id models.ObjectID, suffix string) string {
	return fmt.Sprintf("/api/v1/requests/%s/%s%s", category, id, suffix)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(pkgmdw.XRequestID))
}

func TestRequiresToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.newRequest(models.CategorySupport, requester)

	rec := f.do(t, nil, http.MethodGet, requestPath(models.CategorySupport, id, ""), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthenticated", decode[any](t, rec).ErrorCode)
}

func TestRecordAccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.newRequest(models.CategoryPurchase, requester)

	tests := []struct {
		name     string
		as       models.Identity
		category string
		id       string
		want     int
	}{
		{name: "owner", as: requester, category: "purchase", id: string(id), want: http.StatusOK},
		{name: "staff", as: staff, category: "purchase", id: string(id), want: http.StatusOK},
		{name: "other requester", as: stranger, category: "purchase", id: string(id), want: http.StatusForbidden},
		{name: "unknown category", as: staff, category: "parking", id: string(id), want: http.StatusBadRequest},
		{name: "wrong collection", as: staff, category: "support", id: string(id), want: http.StatusNotFound},
		{name: "malformed id", as: staff, category: "purchase", id: "nope", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, &tt.as, http.MethodGet, fmt.Sprintf("/api/v1/requests/%s/%s", tt.category, tt.id), nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestMessageLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	category := models.CategoryReservation
	id := f.newRequest(category, requester)

	rec := f.do(t, &requester, http.MethodPost, requestPath(category, id, "/messages"), map[string]string{"text": "Is it free on Friday?"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[models.Message](t, rec).Data
	assert.False(t, msg.AuthorIsStaff)
	assert.Equal(t, requester.UserID, msg.AuthorUserID)

	rec = f.do(t, &staff, http.MethodPut, requestPath(category, id, "/messages/"+msg.ID), map[string]string{"text": "hijack"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, &requester, http.MethodPut, requestPath(category, id, "/messages/"+msg.ID), map[string]string{"text": "Is it free on Saturday?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decode[models.Message](t, rec).Data
	assert.True(t, edited.Edited)
	assert.Equal(t, "Is it free on Friday?", edited.OriginalText)

	rec = f.do(t, &staff, http.MethodPost, requestPath(category, id, "/read"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec).Data["marked"])

	for range 2 {
		rec = f.do(t, &requester, http.MethodDelete, requestPath(category, id, "/messages/"+msg.ID), nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec = f.do(t, &requester, http.MethodGet, requestPath(category, id, ""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	record := decode[models.RequestRecord](t, rec).Data
	require.Len(t, record.Messages, 1)
	assert.True(t, record.Messages[0].Deleted)
	assert.Equal(t, models.DeletedMessageText, record.Messages[0].Text)
}

func TestEmptyMessageRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.newRequest(models.CategorySupport, requester)

	rec := f.do(t, &requester, http.MethodPost, requestPath(models.CategorySupport, id, "/messages"), map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidArgument", decode[any](t, rec).ErrorCode)
}

func upload(t *testing.T, f *fixture, as models.Identity, path, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("text", "see attached"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, as))
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestUploadAttachment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	id := f.newRequest(models.CategorySupport, requester)
	path := requestPath(models.CategorySupport, id, "/attachments")

	t.Run("stored and appended", func(t *testing.T) {
		rec := upload(t, f, requester, path, "notes.txt", []byte("projector cable is missing"))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		msg := decode[models.Message](t, rec).Data
		require.NotNil(t, msg.Attachment)
		assert.Equal(t, "notes.txt", msg.Attachment.Name)
		assert.True(t, strings.HasPrefix(msg.Attachment.URL, "https://files.test/requests/"+string(id)+"/"))
		assert.Equal(t, "see attached", msg.Text)
	})

	t.Run("too large", func(t *testing.T) {
		rec := upload(t, f, requester, path, "big.bin", bytes.Repeat([]byte{1}, 2048))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "ResourceExhausted", decode[any](t, rec).ErrorCode)
	})

	t.Run("other requester", func(t *testing.T) {
		rec := upload(t, f, stranger, path, "notes.txt", []byte("hi"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestUnreadSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	first := f.newRequest(models.CategoryReservation, requester)
	second := f.newRequest(models.CategoryPurchase, stranger)
	for range 3 {
		f.do(t, &requester, http.MethodPost, requestPath(models.CategoryReservation, first, "/messages"), map[string]string{"text": "hello?"})
	}
	f.do(t, &stranger, http.MethodPost, requestPath(models.CategoryPurchase, second, "/messages"), map[string]string{"text": "any update"})
	f.do(t, &staff, http.MethodPost, requestPath(models.CategoryPurchase, second, "/messages"), map[string]string{"text": "shipped"})

	rec := f.do(t, &staff, http.MethodGet, "/api/v1/unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[models.UnreadView](t, rec).Data
	assert.True(t, view.Ready)
	assert.Equal(t, 4, view.Total)
	assert.Equal(t, 3, view.PerRequest[first])

	rec = f.do(t, &stranger, http.MethodGet, "/api/v1/unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[models.UnreadView](t, rec).Data
	assert.Equal(t, 1, view.Total)
	assert.NotContains(t, view.PerRequest, first)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/unread", nil)
	req.Header.Set(echo.HeaderOrigin, "https://app.test")
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.test", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowHeaders), echo.HeaderAuthorization)
}
