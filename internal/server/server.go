package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nguyentranbao-ct/request-chat/internal/config"
	pkgmdw "github.com/nguyentranbao-ct/request-chat/internal/server/middleware"
	"github.com/nguyentranbao-ct/request-chat/pkg/logger"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
	"go.uber.org/fx"
)

// isLongLived matches the event stream and websocket routes.
func isLongLived(c echo.Context) bool {
	path := c.Path()
	return strings.HasSuffix(path, "/stream") || strings.HasSuffix(path, "/chat")
}

// NewEcho builds the HTTP API with the full middleware stack.
func NewEcho(conf *config.Config, handler Controller) (*echo.Echo, error) {
	origins, err := regexp.Compile(conf.Server.CORSOrigins)
	if err != nil {
		return nil, fmt.Errorf("compile cors origins: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = pkgmdw.NewValidator()
	e.HTTPErrorHandler = pkgmdw.ErrorHandler(logger.MustNamed("http"))

	metricsConfig := pkgmdw.DefaultMetricsConfig
	metricsConfig.LongLived = isLongLived

	logConfig := pkgmdw.LogRequestConfig{
		Logger: logger.MustNamed("http"),
		Enabled: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path != "/health" && path != "/metrics"
		},
		ResponseBody: func(c echo.Context) bool {
			return !isLongLived(c)
		},
	}

	e.Use(pkgmdw.MetricsWithConfig(metricsConfig))
	e.Use(pkgmdw.RequestID())
	e.Use(pkgmdw.LogRequest(logConfig))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Errorw(c.Request().Context(), "PANIC RECOVER", "error", err, "stack", string(stack))
			return nil
		},
	}))
	e.Use(pkgmdw.CORS(origins))

	e.GET("/health", handler.Health)

	identity := pkgmdw.Identity(pkgmdw.IdentityConfig{
		Secret:          conf.Auth.JWTSecret,
		Issuer:          conf.Auth.Issuer,
		AllowQueryToken: true,
	})

	if conf.Server.Pprof {
		pkgmdw.Pprof(e.Group("", identity, pkgmdw.RequireStaff()))
	}

	// multipart overhead on top of the largest accepted attachment
	uploadLimit := fmt.Sprintf("%dK", conf.Chat.MaxAttachmentSize>>10+1024)

	api := e.Group("/api/v1", identity)
	api.GET("/unread", handler.GetUnread)
	api.GET("/unread/stream", handler.StreamUnread)

	requests := api.Group("/requests/:category/:id")
	requests.GET("", handler.GetRequest)
	requests.POST("/messages", handler.AppendMessage)
	requests.PUT("/messages/:message_id", handler.EditMessage)
	requests.DELETE("/messages/:message_id", handler.DeleteMessage)
	requests.POST("/read", handler.MarkRead)
	requests.POST("/attachments", handler.UploadAttachment, middleware.BodyLimit(uploadLimit))
	requests.GET("/chat", handler.ChatSocket)

	return e, nil
}

func StartServer(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	conf *config.Config,
	handler Controller,
) error {
	e, err := NewEcho(conf, handler)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow(ctx, "starting HTTP server", "addr", conf.Server.Addr)
				if err := e.Start(conf.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
					log.Errorw(ctx, "HTTP server stopped", "error", err)
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
	return nil
}
