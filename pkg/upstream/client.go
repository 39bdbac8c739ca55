// Package upstream talks to the spreadsheet-backed reminder backend. Every
// call is a request against one script URL selected by an "action" query
// parameter; responses carry a "status" field that is "success" on success.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jwalitptl/alarm-service/internal/model"
	"github.com/jwalitptl/alarm-service/pkg/circuitbreaker"
	"github.com/jwalitptl/alarm-service/pkg/errors"
	"github.com/jwalitptl/alarm-service/pkg/logger"
)

const (
	ActionSyncAlarms     = "sync_alarms"
	ActionGetBroadcasts  = "get_broadcasts"
	ActionRegisterDevice = "register_device"
	ActionMarkDelivered  = "mark_delivered"

	statusSuccess = "success"
)

type Config struct {
	URL           string
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
}

// Response is the envelope every action answers with.
type Response struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Alarms  json.RawMessage `json:"alarms,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	url        string
	httpClient *resty.Client
	cb         *circuitbreaker.CircuitBreaker
	logger     *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryWaitTime <= 0 {
		cfg.RetryWaitTime = time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime).
		SetRetryMaxWaitTime(5*cfg.RetryWaitTime).
		SetHeader("Accept", "application/json")

	return &Client{
		url:        cfg.URL,
		httpClient: httpClient,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "upstream",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		logger: log,
	}
}

// FetchAlarms returns the backend's full alarm snapshot.
func (c *Client) FetchAlarms(ctx context.Context) ([]model.Alarm, error) {
	resp, err := c.call(ctx, ActionSyncAlarms, nil)
	if err != nil {
		return nil, err
	}

	var alarms []model.Alarm
	if len(resp.Alarms) > 0 {
		if err := json.Unmarshal(resp.Alarms, &alarms); err != nil {
			return nil, errors.Collaborator("upstream", fmt.Errorf("decode alarms: %w", err))
		}
	}
	return alarms, nil
}

// FetchBroadcasts returns the broadcasts currently published by the backend.
func (c *Client) FetchBroadcasts(ctx context.Context) ([]model.Broadcast, error) {
	resp, err := c.call(ctx, ActionGetBroadcasts, nil)
	if err != nil {
		return nil, err
	}

	var broadcasts []model.Broadcast
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &broadcasts); err != nil {
			return nil, errors.Collaborator("upstream", fmt.Errorf("decode broadcasts: %w", err))
		}
	}
	return broadcasts, nil
}

func (c *Client) RegisterDevice(ctx context.Context, d model.Device) error {
	_, err := c.call(ctx, ActionRegisterDevice, d)
	return err
}

// ReportDelivered records the delivery of a public alarm.
func (c *Client) ReportDelivered(ctx context.Context, r model.DeliveryReport) error {
	_, err := c.call(ctx, ActionMarkDelivered, r)
	return err
}

func (c *Client) call(ctx context.Context, action string, body interface{}) (*Response, error) {
	var out Response

	err := c.cb.Execute(func() error {
		req := c.httpClient.R().
			SetContext(ctx).
			SetQueryParam("action", action).
			SetResult(&out)

		var (
			resp *resty.Response
			err  error
		)
		if body != nil {
			resp, err = req.SetHeader("Content-Type", "application/json").SetBody(body).Post(c.url)
		} else {
			resp, err = req.Get(c.url)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
		if resp.IsError() {
			return fmt.Errorf("%s: unexpected status %d", action, resp.StatusCode())
		}
		if out.Status != statusSuccess {
			return fmt.Errorf("%s: backend status %q: %s", action, out.Status, out.Message)
		}
		return nil
	})
	if err != nil {
		c.logger.Error(err, "Upstream call failed", "action", action)
		return nil, errors.Collaborator("upstream", err)
	}

	c.logger.Debug("Upstream call succeeded", "action", action)
	return &out, nil
}
