package usecase_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/repo/memstore"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	"github.com/stretchr/testify/require"
)

var (
	staffAlice = models.Identity{UserID: "staff-alice", Name: "Alice", IsAdmin: true}
	staffBob   = models.Identity{UserID: "staff-bob", Name: "Bob", IsAdmin: true}
	requester  = models.Identity{UserID: "student-1", Name: "Sam"}
	otherUser  = models.Identity{UserID: "student-2", Name: "Kim"}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChatEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.ChatEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []models.ChatEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ChatEvent(nil), p.events...)
}

type memBlobStore struct {
	mu      sync.Mutex
	puts    int
	objects map[string][]byte
	types   map[string]string
	failErr error
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *memBlobStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts++
	if b.failErr != nil {
		return "", b.failErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if _, exists := b.objects[key]; exists {
		return "", errors.New("object exists")
	}
	b.objects[key] = data
	b.types[key] = contentType
	return key, nil
}

func (b *memBlobStore) PublicURL(handle string) string {
	return "https://files.test/" + handle
}

func (b *memBlobStore) Puts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts
}

type harness struct {
	store     *memstore.Store
	messages  *usecase.MessageStore
	publisher *recordingPublisher
	blobs     *memBlobStore
	uploader  *usecase.AttachmentUploader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	publisher := &recordingPublisher{}
	messages, err := usecase.NewMessageStore(store, publisher)
	require.NoError(t, err)
	blobs := newMemBlobStore()
	return &harness{
		store:     store,
		messages:  messages,
		publisher: publisher,
		blobs:     blobs,
		uploader:  usecase.NewAttachmentUploader(blobs, models.MaxAttachmentSize),
	}
}

func (h *harness) deps() usecase.SessionDeps {
	return usecase.SessionDeps{
		Records:  h.store,
		Watcher:  h.store,
		Messages: h.messages,
		Uploader: h.uploader,
	}
}

func (h *harness) newRequest(category models.Category, owner models.Identity) models.ObjectID {
	return h.store.Put(models.RequestRecord{
		Category:  category,
		Requester: models.Requester{UserID: owner.UserID, Name: owner.Name},
		Status:    "pending",
		Title:     "Projector for room 101",
	})
}

func (h *harness) append(t *testing.T, category models.Category, id models.ObjectID, author models.Identity, text string) *models.Message {
	t.Helper()
	msg, err := h.messages.Append(t.Context(), usecase.AppendParams{
		Category:      category,
		RequestID:     id,
		Text:          text,
		AuthorIsStaff: author.IsStaff(),
		AuthorName:    author.Name,
		AuthorUserID:  author.UserID,
	})
	require.NoError(t, err)
	return msg
}

func (h *harness) record(t *testing.T, category models.Category, id models.ObjectID) *models.RequestRecord {
	t.Helper()
	rec, err := h.store.Get(t.Context(), category, id)
	require.NoError(t, err)
	return rec
}

func bytesOf(n int) *bytes.Reader {
	return bytes.NewReader(bytes.Repeat([]byte{'a'}, n))
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond
