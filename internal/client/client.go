// Package client is a typed HTTP client for the rollcall API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/domain/types"
)

const defaultTimeout = 30 * time.Second

// Client calls a rollcall server on behalf of one bearer token.
type Client struct {
	baseURL string
	bearer  string
	http    *http.Client
	stream  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBearer authenticates every request with token.
func WithBearer(token string) Option {
	return func(c *Client) { c.bearer = token }
}

// WithTimeout bounds unary requests. Streams are bounded by their context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the transport used for every call.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
			c.stream = &http.Client{Transport: h.Transport}
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks that the server answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: "health check failed"}
	}
	return nil
}

// Events returns the caller's ranked event list, optionally filtered.
func (c *Client) Events(ctx context.Context, category string) ([]types.RankedEvent, error) {
	var out struct {
		Events []types.RankedEvent `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/events"+categoryQuery(category), nil, &out)
	return out.Events, err
}

// Nearby returns events inside the server's radius and that radius.
func (c *Client) Nearby(ctx context.Context, category string) ([]types.RankedEvent, float64, error) {
	var out struct {
		Events   []types.RankedEvent `json:"events"`
		RadiusKm float64             `json:"radius_km"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/events/nearby"+categoryQuery(category), nil, &out)
	return out.Events, out.RadiusKm, err
}

// Event looks up one catalog event.
func (c *Client) Event(ctx context.Context, eventID string) (model.EventRecord, error) {
	var ev model.EventRecord
	err := c.do(ctx, http.MethodGet, "/v1/events/"+url.PathEscape(eventID), nil, &ev)
	return ev, err
}

// Count returns the live registration count of an event.
func (c *Client) Count(ctx context.Context, eventID string) (int, error) {
	var out types.Count
	err := c.do(ctx, http.MethodGet, "/v1/events/"+url.PathEscape(eventID)+"/count", nil, &out)
	return out.Registered, err
}

// Register registers the caller for eventID.
func (c *Client) Register(ctx context.Context, eventID string) (model.Registration, error) {
	var reg model.Registration
	err := c.do(ctx, http.MethodPost, registrationPath(eventID), nil, &reg)
	return reg, err
}

// Cancel cancels the caller's registration for eventID.
func (c *Client) Cancel(ctx context.Context, eventID string) (model.Registration, error) {
	var reg model.Registration
	err := c.do(ctx, http.MethodDelete, registrationPath(eventID), nil, &reg)
	return reg, err
}

// Token fetches the caller's check-in token for eventID.
func (c *Client) Token(ctx context.Context, eventID string) (string, error) {
	var out types.Token
	err := c.do(ctx, http.MethodGet, "/v1/events/"+url.PathEscape(eventID)+"/token", nil, &out)
	return out.Token, err
}

// CheckIn redeems a scanned token.
func (c *Client) CheckIn(ctx context.Context, token string) (model.Registration, error) {
	var reg model.Registration
	err := c.do(ctx, http.MethodPost, "/v1/checkin", types.CheckInRequest{Token: token}, &reg)
	return reg, err
}

// SetLocation records the caller's position.
func (c *Client) SetLocation(ctx context.Context, lat, lon float64) (types.Location, error) {
	var out types.Location
	err := c.do(ctx, http.MethodPut, "/v1/me/location", types.LocationRequest{Lat: &lat, Lon: &lon}, &out)
	return out, err
}

// Mine returns the caller's registrations, newest first.
func (c *Client) Mine(ctx context.Context) ([]model.Registration, error) {
	var regs []model.Registration
	err := c.do(ctx, http.MethodGet, "/v1/me/registrations", nil, &regs)
	return regs, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	return req, nil
}

func registrationPath(eventID string) string {
	return "/v1/events/" + url.PathEscape(eventID) + "/registration"
}

func categoryQuery(category string) string {
	if category == "" {
		return ""
	}
	return "?" + url.Values{"category": {category}}.Encode()
}
