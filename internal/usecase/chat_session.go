package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/nguyentranbao-ct/request-chat/internal/models"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
)

type SessionState string

const (
	SessionClosed  SessionState = "closed"
	SessionLoading SessionState = "loading"
	SessionReady   SessionState = "ready"
	SessionSending SessionState = "sending"
)

// Side is the half of the conversation a session speaks for.
type Side string

const (
	SideStaff     Side = "staff"
	SideRequester Side = "requester"
)

type SessionView struct {
	State     SessionState     `json:"state"`
	Category  models.Category  `json:"category,omitempty"`
	RequestID models.ObjectID  `json:"request_id,omitempty"`
	Messages  []models.Message `json:"messages"`
	IsLoading bool             `json:"is_loading"`
}

type SessionDeps struct {
	Records  RecordStore
	Watcher  RecordWatcher
	Messages *MessageStore
	Uploader *AttachmentUploader
}

// ChatSession follows one request record for one caller. The message list it
// exposes is always the last snapshot delivered by the record feed; commands
// never patch it locally.
type ChatSession struct {
	deps     SessionDeps
	identity models.Identity
	side     Side

	mu        sync.Mutex
	state     SessionState
	category  models.Category
	requestID models.ObjectID
	messages  []models.Message
	inFlight  int
	gen       int
	cancel    context.CancelFunc
	views     chan SessionView
	ready     chan struct{}
	done      chan struct{}
}

func NewStaffSession(deps SessionDeps, identity models.Identity) *ChatSession {
	return newChatSession(deps, identity, SideStaff)
}

func NewRequesterSession(deps SessionDeps, identity models.Identity) *ChatSession {
	return newChatSession(deps, identity, SideRequester)
}

// NewSessionFor picks the variant that matches the caller.
func NewSessionFor(deps SessionDeps, identity models.Identity) *ChatSession {
	if identity.IsStaff() {
		return NewStaffSession(deps, identity)
	}
	return NewRequesterSession(deps, identity)
}

func newChatSession(deps SessionDeps, identity models.Identity, side Side) *ChatSession {
	return &ChatSession{
		deps:     deps,
		identity: identity,
		side:     side,
		state:    SessionClosed,
		views:    make(chan SessionView, 1),
	}
}

func (s *ChatSession) Side() Side {
	return s.side
}

// Open loads the record, subscribes to its changes and marks the other
// side's messages as read. The session turns Ready when the first snapshot
// arrives; use WaitReady to block until then.
func (s *ChatSession) Open(ctx context.Context, category models.Category, requestID models.ObjectID) error {
	if !category.IsValid() {
		return fmt.Errorf("%w: unknown category %q", models.ErrValidation, category)
	}
	if s.side == SideStaff && !s.identity.IsStaff() {
		return fmt.Errorf("%w: staff session needs a staff identity", models.ErrForbidden)
	}

	s.mu.Lock()
	if s.state != SessionClosed {
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", models.ErrSessionNotReady, s.state)
	}
	s.gen++
	gen := s.gen
	s.state = SessionLoading
	s.category, s.requestID = category, requestID
	s.messages = nil
	if s.views == nil {
		s.views = make(chan SessionView, 1)
	}
	s.ready = make(chan struct{})
	s.done = make(chan struct{})
	s.emit()
	s.mu.Unlock()

	ctx = log.With(ctx, "category", category, "request_id", requestID, "side", s.side)

	record, err := LoadForCaller(ctx, s.deps.Records, s.identity, category, requestID)
	if err != nil {
		s.abort(gen)
		return err
	}
	// a requester session reads as the requester, so only the owner may open it
	if s.side == SideRequester && record.Requester.UserID != s.identity.UserID {
		s.abort(gen)
		return fmt.Errorf("%w: request %s belongs to another requester", models.ErrForbidden, requestID)
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	feed, err := s.deps.Watcher.Watch(watchCtx, category, models.RecordFilter{RequestID: requestID})
	if err != nil {
		cancel()
		s.abort(gen)
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		// closed while subscribing
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: session closed while opening", models.ErrSessionNotReady)
	}
	s.cancel = cancel
	s.mu.Unlock()

	go s.follow(watchCtx, gen, feed)

	marked, err := s.deps.Messages.MarkRead(ctx, MarkReadParams{
		Category:        category,
		RequestID:       requestID,
		ObserverUserID:  s.identity.UserID,
		ObserverIsStaff: s.side == SideStaff,
	})
	if err != nil {
		log.Warnw(ctx, "mark read on open failed", "error", err)
	} else {
		log.Debugw(ctx, "chat session opened", "marked_read", marked)
	}
	return nil
}

// WaitReady blocks until the first snapshot has been applied.
func (s *ChatSession) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	ready, done := s.ready, s.done
	s.mu.Unlock()
	if ready == nil {
		return fmt.Errorf("%w: session is not open", models.ErrSessionNotReady)
	}
	select {
	case <-ready:
		return nil
	case <-done:
		return fmt.Errorf("%w: session closed", models.ErrSessionNotReady)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChatSession) Send(ctx context.Context, text string, attachment *models.Attachment) (*models.Message, error) {
	target, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end(target.gen)

	return s.deps.Messages.Append(ctx, AppendParams{
		Category:      target.category,
		RequestID:     target.requestID,
		Text:          text,
		AuthorIsStaff: s.side == SideStaff,
		AuthorName:    s.identity.Name,
		AuthorUserID:  s.identity.UserID,
		Attachment:    attachment,
	})
}

// SendFile uploads the blob and appends a message that carries it. Nothing is
// appended when the upload fails.
func (s *ChatSession) SendFile(ctx context.Context, text string, blob Blob) (*models.Message, error) {
	target, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end(target.gen)

	attachment, err := s.deps.Uploader.Upload(ctx, target.requestID, blob)
	if err != nil {
		return nil, err
	}
	return s.deps.Messages.Append(ctx, AppendParams{
		Category:      target.category,
		RequestID:     target.requestID,
		Text:          text,
		AuthorIsStaff: s.side == SideStaff,
		AuthorName:    s.identity.Name,
		AuthorUserID:  s.identity.UserID,
		Attachment:    attachment,
	})
}

func (s *ChatSession) Edit(ctx context.Context, messageID, text string) (*models.Message, error) {
	target, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end(target.gen)

	return s.deps.Messages.Edit(ctx, EditParams{
		Category:         target.category,
		RequestID:        target.requestID,
		MessageID:        messageID,
		NewText:          text,
		RequestingUserID: s.identity.UserID,
	})
}

func (s *ChatSession) Delete(ctx context.Context, messageID string) error {
	target, err := s.begin()
	if err != nil {
		return err
	}
	defer s.end(target.gen)

	return s.deps.Messages.Delete(ctx, DeleteParams{
		Category:         target.category,
		RequestID:        target.requestID,
		MessageID:        messageID,
		RequestingUserID: s.identity.UserID,
	})
}

func (s *ChatSession) MarkRead(ctx context.Context) (int, error) {
	target, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer s.end(target.gen)

	return s.deps.Messages.MarkRead(ctx, MarkReadParams{
		Category:        target.category,
		RequestID:       target.requestID,
		ObserverUserID:  s.identity.UserID,
		ObserverIsStaff: s.side == SideStaff,
	})
}

// Close drops the subscription. Commands still running complete but their
// effects are no longer rendered. The Views channel is closed. A session
// whose record feed ends closes itself the same way.
func (s *ChatSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// closeLocked must be called with s.mu held.
func (s *ChatSession) closeLocked() {
	if s.state == SessionClosed {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.state = SessionClosed
	s.messages = nil
	s.inFlight = 0
	close(s.done)
	s.emit()
	close(s.views)
	s.views = nil
}

func (s *ChatSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// Views delivers the latest view after every change. A slow reader only sees
// the most recent one. The channel is closed by Close.
func (s *ChatSession) Views() <-chan SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views
}

func (s *ChatSession) follow(ctx context.Context, gen int, feed <-chan models.ChangeEvent) {
	for ev := range feed {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		switch ev.Type {
		case models.ChangeAdded, models.ChangeModified:
			if ev.Record == nil || ev.RequestID != s.requestID {
				s.mu.Unlock()
				continue
			}
			s.messages = models.CloneMessages(ev.Record.Messages)
		case models.ChangeRemoved:
			if ev.RequestID != s.requestID {
				s.mu.Unlock()
				continue
			}
			s.messages = []models.Message{}
		case models.ChangeSynced:
			// a record deleted between Get and Watch yields an empty snapshot
			if s.state != SessionLoading {
				s.mu.Unlock()
				continue
			}
			if s.messages == nil {
				s.messages = []models.Message{}
			}
		}
		if s.state == SessionLoading {
			s.state = SessionReady
			if s.inFlight > 0 {
				s.state = SessionSending
			}
			close(s.ready)
		}
		s.emit()
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || ctx.Err() != nil {
		return
	}
	// a broken feed leaves nothing to render; the caller has to open again
	log.Warnw(ctx, "chat session feed ended")
	s.closeLocked()
}

type sessionTarget struct {
	gen       int
	category  models.Category
	requestID models.ObjectID
}

func (s *ChatSession) begin() (sessionTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionReady && s.state != SessionSending {
		return sessionTarget{}, fmt.Errorf("%w: session is %s", models.ErrSessionNotReady, s.state)
	}
	s.inFlight++
	if s.state == SessionReady {
		s.state = SessionSending
		s.emit()
	}
	return sessionTarget{gen: s.gen, category: s.category, requestID: s.requestID}, nil
}

func (s *ChatSession) end(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}
	s.inFlight--
	if s.inFlight == 0 && s.state == SessionSending {
		s.state = SessionReady
		s.emit()
	}
}

func (s *ChatSession) abort(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return
	}
	s.state = SessionClosed
	s.messages = nil
	close(s.done)
	s.emit()
}

// emit must be called with s.mu held.
func (s *ChatSession) emit() {
	if s.views == nil {
		return
	}
	select {
	case <-s.views:
	default:
	}
	s.views <- s.view()
}

func (s *ChatSession) view() SessionView {
	messages := models.CloneMessages(s.messages)
	if messages == nil {
		messages = []models.Message{}
	}
	return SessionView{
		State:     s.state,
		Category:  s.category,
		RequestID: s.requestID,
		Messages:  messages,
		IsLoading: s.state == SessionLoading,
	}
}
