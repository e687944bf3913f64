package server

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/request-chat/internal/config"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	pkgmdw "github.com/nguyentranbao-ct/request-chat/internal/server/middleware"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
)

type Controller interface {
	Health(c echo.Context) error
	GetRequest(c echo.Context) error
	AppendMessage(c echo.Context) error
	EditMessage(c echo.Context) error
	DeleteMessage(c echo.Context) error
	MarkRead(c echo.Context) error
	UploadAttachment(c echo.Context) error
	GetUnread(c echo.Context) error
	StreamUnread(c echo.Context) error
	ChatSocket(c echo.Context) error
}

type controller struct {
	records       usecase.RecordStore
	messages      *usecase.MessageStore
	uploader      *usecase.AttachmentUploader
	unread        *usecase.UnreadAggregator
	sessions      usecase.SessionDeps
	unreadTimeout time.Duration
	upgrader      websocket.Upgrader
}

func NewController(
	conf *config.Config,
	records usecase.RecordStore,
	messages *usecase.MessageStore,
	uploader *usecase.AttachmentUploader,
	unread *usecase.UnreadAggregator,
	sessions usecase.SessionDeps,
) (Controller, error) {
	origins, err := regexp.Compile(conf.Server.CORSOrigins)
	if err != nil {
		return nil, fmt.Errorf("compile cors origins: %w", err)
	}
	return &controller{
		records:       records,
		messages:      messages,
		uploader:      uploader,
		unread:        unread,
		sessions:      sessions,
		unreadTimeout: conf.Server.UnreadTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get(echo.HeaderOrigin)
				return origin == "" || origins.MatchString(origin)
			},
		},
	}, nil
}

type requestPath struct {
	Category models.Category `param:"category" validate:"required,category"`
	ID       models.ObjectID `param:"id" validate:"required,object_id"`
}

type messagePath struct {
	Category  models.Category `param:"category" validate:"required,category"`
	ID        models.ObjectID `param:"id" validate:"required,object_id"`
	MessageID string          `param:"message_id" validate:"required,max=64"`
}

type appendMessageRequest struct {
	Category models.Category `param:"category" validate:"required,category"`
	ID       models.ObjectID `param:"id" validate:"required,object_id"`
	Text     string          `json:"text" validate:"max=4000"`
}

type editMessageRequest struct {
	Category  models.Category `param:"category" validate:"required,category"`
	ID        models.ObjectID `param:"id" validate:"required,object_id"`
	MessageID string          `param:"message_id" validate:"required,max=64"`
	Text      string          `json:"text" validate:"max=4000"`
}

type markReadResponse struct {
	Marked int `json:"marked"`
}

func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: %s", models.ErrValidation, bindMessage(err))
	}
	return c.Validate(req)
}

func bindMessage(err error) string {
	if he, ok := err.(*echo.HTTPError); ok {
		return fmt.Sprint(he.Message)
	}
	return err.Error()
}

func (h *controller) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "request-chat",
	})
}

func (h *controller) GetRequest(c echo.Context) error {
	caller, err := pkgmdw.GetIdentity(c)
	if err != nil {
		return err
	}
	var req requestPath
	if err := bindValid(c, &req); err != nil {
		return err
	}

	record, err := usecase.LoadForCaller(c.Request().Context(), h.records, caller, req.Category, req.ID)
	if err != nil {
		return err
	}
	return pkgmdw.Respond(c, http.StatusOK, record)
}

func (h *controller) AppendMessage(c echo.Context) error {
	caller, err := pkgmdw.GetIdentity(c)
	if err != nil {
		return err
	}
	var req appendMessageRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := usecase.LoadForCaller(ctx, h.records, caller, req.Category, req.ID); err != nil {
		return err
	}
	msg, err := h.messages.Append(ctx, usecase.AppendParams{
		Category:      req.Category,
		RequestID:     req.ID,
		Text:          req.Text,
		AuthorIsStaff: caller.IsStaff(),
		AuthorName:    caller.Name,
		AuthorUserID:  caller.UserID,
	})
	if err != nil {
		return err
	}
	return pkgmdw.Respond(c, http.StatusCreated, msg)
}

func (h *controller) EditMessage(c echo.Context) error {
	caller, err := pkgmdw.GetIdentity(c)
	if err != nil {
		return err
	}
	var req editMessageRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := usecase.LoadForCaller(ctx, h.records, caller, req.Category, req.ID); err != nil {
		return err
	}
	msg, err := h.messages.Edit(ctx, usecase.EditParams{
		Category:         req.Category,
		RequestID:        req.ID,
		MessageID:        req.MessageID,
		NewText:          req.Text,
		RequestingUserID: caller.UserID,
	})
	if err != nil {
		return err
	}
	return pkgmdw.Respond(c, http.StatusOK, msg)
}

func (h *controller) DeleteMessage(c echo.Context) error {
	caller, err := pkgmdw.GetIdentity(c)
	if err != nil {
		return err
	}
	var req messagePath
	if err := bindValid(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := usecase.LoadForCaller(ctx, h.records, caller, req.Category, req.ID); err != nil {
		return err
	}
	err = h.messages.Delete(ctx, usecase.DeleteParams{
		Category:         req.Category,
		RequestID:        req.ID,
		MessageID:        req.MessageID,
		RequestingUserID: caller.UserID,
	})
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *controller) MarkRead(c echo.Context) error {
	caller, err := pkgmdw.GetIdentity(c)
	if err != nil {
		return err
	}
	var req requestPath
	if err := bindValid(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := usecase.LoadForCaller(ctx, h.records, caller, req.Category, req.ID); err != nil {
		return err
	}
	marked, err := h.messages.MarkRead(ctx, usecase.MarkReadParams{
		Category:        req.Category,
		RequestID:       req.ID,
		ObserverUserID:  caller.UserID,
		ObserverIsStaff: caller.IsStaff(),
	})
	if err != nil {
		return err
	}
	log.With(ctx, "marked_read", marked)
	return pkgmdw.Respond(c, http.StatusOK, markReadResponse{Marked: marked})
}

// UploadAttachment takes a multipart form with a "file" part and an optional
// "text" caption and appends one message carrying the stored file.
func (h *controller) UploadAttachment(c echo.Context) error {
	caller, err := pkgmdw.GetIdentity(c)
	if err != nil {
		return err
	}
	var req requestPath
	if err := bindValid(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := usecase.LoadForCaller(ctx, h.records, caller, req.Category, req.ID); err != nil {
		return err
	}

	header, err := c.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: missing file part: %w", models.ErrValidation, err)
	}
	file, err := header.Open()
	if err != nil {
		return fmt.Errorf("%w: open file part: %w", models.ErrValidation, err)
	}
	defer file.Close()

	attachment, err := h.uploader.Upload(ctx, req.ID, usecase.Blob{
		Name:        header.Filename,
		ContentType: header.Header.Get(echo.HeaderContentType),
		Size:        header.Size,
		Reader:      file,
	})
	if err != nil {
		return err
	}

	msg, err := h.messages.Append(ctx, usecase.AppendParams{
		Category:      req.Category,
		RequestID:     req.ID,
		Text:          c.FormValue("text"),
		AuthorIsStaff: caller.IsStaff(),
		AuthorName:    caller.Name,
		AuthorUserID:  caller.UserID,
		Attachment:    attachment,
	})
	if err != nil {
		return err
	}
	return pkgmdw.Respond(c, http.StatusCreated, msg)
}
