package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	pkgmdw "github.com/nguyentranbao-ct/request-chat/internal/server/middleware"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = socketPongWait * 9 / 10
	socketReadLimit  = 64 << 10
)

type socketCommandType string

const (
	socketSend   socketCommandType = "send"
	socketEdit   socketCommandType = "edit"
	socketDelete socketCommandType = "delete"
	socketRead   socketCommandType = "read"
)

// socketCommand is what a client sends over the chat socket.
type socketCommand struct {
	Type      socketCommandType `json:"type"`
	Ref       string            `json:"ref,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Text      string            `json:"text,omitempty"`
}

// socketFrame is what the server sends back: views, acks and errors.
type socketFrame struct {
	Type    string               `json:"type"`
	Ref     string               `json:"ref,omitempty"`
	View    *usecase.SessionView `json:"view,omitempty"`
	Message *models.Message      `json:"message,omitempty"`
	Marked  *int                 `json:"marked,omitempty"`
	Code    string               `json:"code,omitempty"`
	Error   string               `json:"error,omitempty"`
}

func errorFrame(ref string, err error) socketFrame {
	return socketFrame{Type: "error", Ref: ref, Code: models.ErrorCode(err).String(), Error: err.Error()}
}

// ChatSocket upgrades to a websocket bound to one chat session. Every view
// change is pushed as a "view" frame; commands get an "ack" or "error" frame.
func (h *controller) ChatSocket(c echo.Context) error {
	caller, err := pkgmdw.GetIdentity(c)
	if err != nil {
		return err
	}
	var req requestPath
	if err := bindValid(c, &req); err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already answered the client
		log.Warnw(c.Request().Context(), "websocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	// cancelled when either socket loop exits
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()

	session := usecase.NewSessionFor(h.sessions, caller)
	if err := session.Open(ctx, req.Category, req.ID); err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		_ = conn.WriteJSON(errorFrame("", err))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, models.ErrorCode(err).String()))
		return nil
	}
	defer session.Close()

	out := make(chan socketFrame, 16)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.writeSocket(ctx, conn, session.Views(), out)
	}()

	h.readSocket(ctx, conn, session, out)
	cancel()
	<-writerDone
	log.Debugw(ctx, "chat socket closed")
	return nil
}

func (h *controller) readSocket(ctx context.Context, conn *websocket.Conn, session *usecase.ChatSession, out chan<- socketFrame) {
	conn.SetReadLimit(socketReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	for {
		var cmd socketCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnw(ctx, "chat socket read failed", "error", err)
			}
			return
		}

		frame := h.runCommand(ctx, session, cmd)
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

func (h *controller) runCommand(ctx context.Context, session *usecase.ChatSession, cmd socketCommand) socketFrame {
	ack := socketFrame{Type: "ack", Ref: cmd.Ref}
	switch cmd.Type {
	case socketSend:
		msg, err := session.Send(ctx, cmd.Text, nil)
		if err != nil {
			return errorFrame(cmd.Ref, err)
		}
		ack.Message = msg
	case socketEdit:
		msg, err := session.Edit(ctx, cmd.MessageID, cmd.Text)
		if err != nil {
			return errorFrame(cmd.Ref, err)
		}
		ack.Message = msg
	case socketDelete:
		if err := session.Delete(ctx, cmd.MessageID); err != nil {
			return errorFrame(cmd.Ref, err)
		}
	case socketRead:
		marked, err := session.MarkRead(ctx)
		if err != nil {
			return errorFrame(cmd.Ref, err)
		}
		ack.Marked = &marked
	default:
		return errorFrame(cmd.Ref, fmt.Errorf("%w: unknown command %q", models.ErrValidation, cmd.Type))
	}
	return ack
}

// writeSocket is the only goroutine that writes to conn.
func (h *controller) writeSocket(ctx context.Context, conn *websocket.Conn, views <-chan usecase.SessionView, out <-chan socketFrame) {
	ping := time.NewTicker(socketPingPeriod)
	defer ping.Stop()

	write := func(frame socketFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			log.Debugw(ctx, "chat socket write failed", "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case view, ok := <-views:
			if !ok {
				// the session closed itself; tell the client to reconnect
				_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session ended"))
				_ = conn.Close()
				return
			}
			if !write(socketFrame{Type: "view", View: &view}) {
				_ = conn.Close()
				return
			}
		case frame := <-out:
			if !write(frame) {
				_ = conn.Close()
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
