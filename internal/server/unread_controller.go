package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	pkgmdw "github.com/nguyentranbao-ct/request-chat/internal/server/middleware"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
)

const sseHeartbeat = 15 * time.Second

// GetUnread answers with the caller's unread view once every feed has
// delivered its snapshot. A view that is still loading when the timeout
// passes is returned as is, with ready=false.
func (h *controller) GetUnread(c echo.Context) error {
	caller, err := pkgmdw.GetIdentity(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	feed := h.unread.Subscribe(ctx, caller)
	defer feed.Close()

	waitCtx, cancel := context.WithTimeout(ctx, h.unreadTimeout)
	defer cancel()
	if err := feed.WaitReady(waitCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		log.Warnw(ctx, "unread view not ready in time", "timeout", h.unreadTimeout)
	}

	view := feed.Current()
	log.With(ctx, "unread_total", view.Total, "degraded", view.Degraded)
	return pkgmdw.Respond(c, http.StatusOK, view)
}

// StreamUnread pushes every new unread view as a server-sent event until the
// client goes away.
func (h *controller) StreamUnread(c echo.Context) error {
	caller, err := pkgmdw.GetIdentity(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	feed := h.unread.Subscribe(ctx, caller)
	defer feed.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	views := feed.Views()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case view, ok := <-views:
			if !ok {
				return nil
			}
			if err := writeEvent(res, "unread", view); err != nil {
				log.Debugw(ctx, "unread stream write failed", "error", err)
				return nil
			}
		}
	}
}

func writeEvent(res *echo.Response, name string, view models.UnreadView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
