package socket

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/nguyentranbao-ct/request-chat/internal/config"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
	"github.com/nguyentranbao-ct/request-chat/pkg/util"
)

// Client talks to the socket gateway that fans events out to connected
// browsers.
type Client struct {
	baseURL string
	http    *resty.Client
}

type Event struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform,omitempty"`
	Name     string `json:"name"`
	Data     any    `json:"data"`
}

type SendEventsRequest struct {
	Events []Event `json:"events"`
}

type SendEventsResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func NewClient(conf config.SocketConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		http:    util.NewRestyClient(conf.Timeout, conf.Retries),
	}
}

func (c *Client) SendEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	var res SendEventsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(SendEventsRequest{Events: events}).
		SetResult(&res).
		SetError(&res).
		Post(c.baseURL + "/v1/events")
	if err != nil {
		return fmt.Errorf("send events: %w", err)
	}
	if resp.IsError() {
		if res.Error != "" {
			return fmt.Errorf("socket server error: %s", res.Error)
		}
		return fmt.Errorf("socket server returned status %d", resp.StatusCode())
	}
	if !res.Success {
		return fmt.Errorf("socket server returned success=false: %s", res.Error)
	}

	log.Debugw(ctx, "sent events to socket server", "event_count", len(events))
	return nil
}
