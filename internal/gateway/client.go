// Package gateway is the HTTP client for the WhatsApp multi-device gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"wasender/internal/devices"
	"wasender/internal/message"
	logx "wasender/pkg/logx"
)

const (
	SendPath            = "/send/message"
	DefaultDevicesPath  = "/devices"
	DefaultDeviceHeader = "X-Device-Id"
	DefaultTimeout      = 30 * time.Second

	maxBody = 1 << 20
)

type Config struct {
	BaseURL      string
	Username     string
	Password     string
	DeviceHeader string
	DevicesPath  string
	Timeout      time.Duration
	// RatePerSec caps outgoing requests. 0 means unlimited.
	RatePerSec int
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("gateway: unexpected status %d", e.StatusCode)
}

// envelope is the gateway's response shape.
type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Results json.RawMessage `json:"results"`
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithLogger(l logx.Logger) Option { return func(c *Client) { c.log = l } }

type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gateway: base url %q must be http or https", cfg.BaseURL)
	}
	if cfg.DeviceHeader == "" {
		cfg.DeviceHeader = DefaultDeviceHeader
	}
	if cfg.DevicesPath == "" {
		cfg.DevicesPath = DefaultDevicesPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{cfg: cfg, base: base, log: logx.Nop()}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	return c, nil
}

// Send posts req. deviceID, when set, routes the call to that session via
// the device header. It returns the gateway's confirmation message.
func (c *Client) Send(ctx context.Context, req message.SendRequest, deviceID string) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("gateway: encode request: %w", err)
	}
	hdr := http.Header{}
	if id := strings.TrimSpace(deviceID); id != "" {
		hdr.Set(c.cfg.DeviceHeader, id)
	}
	env, err := c.do(ctx, http.MethodPost, SendPath, hdr, body)
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

// ListDevices fetches the device sessions. The list may come wrapped in the
// envelope's results or as a bare JSON array.
func (c *Client) ListDevices(ctx context.Context) ([]devices.Device, error) {
	env, err := c.do(ctx, http.MethodGet, c.cfg.DevicesPath, nil, nil)
	if err != nil {
		return nil, err
	}
	var list []devices.Device
	if len(env.Results) == 0 || string(env.Results) == "null" {
		return list, nil
	}
	if err := json.Unmarshal(env.Results, &list); err != nil {
		return nil, fmt.Errorf("gateway: decode devices: %w", err)
	}
	return list, nil
}

func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, body []byte) (envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return envelope{}, err
		}
	}

	u := c.base.JoinPath(path)
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return envelope{}, err
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Username != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return envelope{}, fmt.Errorf("gateway: read response: %w", err)
	}
	c.log.Debug("gateway call",
		logx.String("method", method),
		logx.String("path", path),
		logx.String("device", req.Header.Get(c.cfg.DeviceHeader)),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	env := decodeEnvelope(raw)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return envelope{}, &APIError{StatusCode: resp.StatusCode, Code: env.Code, Message: strings.TrimSpace(env.Message)}
	}
	return env, nil
}

// decodeEnvelope accepts the standard envelope or a bare array, which is
// treated as results.
func decodeEnvelope(raw []byte) envelope {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return envelope{Results: trimmed}
	}
	var env envelope
	_ = json.Unmarshal(trimmed, &env)
	return env
}

// ErrorMessage returns the text shown to an operator for a failed send: the
// gateway's message when it sent one, otherwise a generic line.
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	if err == nil {
		return ""
	}
	return "Failed to send message: " + err.Error()
}
