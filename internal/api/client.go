// Package api is the REST client for the Clipcast backend. It covers
// authentication, session discovery, and the session lifecycle calls
// that happen outside the live websocket.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrUnauthorized signals a missing or expired token. Callers should
// prompt for a fresh login.
var ErrUnauthorized = errors.New("authentication required")

// StatusError is a non-2xx backend response with its detail message.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("server returned %d", e.Code)
}

const requestTimeout = 15 * time.Second

// Client talks to the REST API. The token may be empty for calls that
// allow anonymous access.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// do runs one request and decodes the JSON response into out (which may
// be nil). Backend errors arrive as {"detail": "..."}.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Detail string `json:"detail"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &apiErr)
		return &StatusError{Code: resp.StatusCode, Detail: apiErr.Detail}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches the profile behind the current token.
func (c *Client) Me(ctx context.Context) (*UserProfile, error) {
	var out UserProfile
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartSession creates and activates a new live session with the caller
// as host.
func (c *Client) StartSession(ctx context.Context, req StartSessionRequest) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/live/start", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JoinSession registers the caller as a viewer and returns the room
// credentials.
func (c *Client) JoinSession(ctx context.Context, sessionID string) (*JoinResponse, error) {
	body := map[string]string{"session_id": sessionID}
	var out JoinResponse
	if err := c.do(ctx, http.MethodPost, "/live/join", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EndSession ends a session. Host only.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	path := "/live/end/" + url.PathEscape(sessionID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ListActiveSessions returns active sessions ordered by viewer count.
func (c *Client) ListActiveSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	path := "/live/active"
	if limit > 0 {
		path += "?limit=" + fmt.Sprint(limit)
	}
	var out []SessionSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSession fetches one session's details.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	path := "/live/session/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListParticipants returns the active members of a session.
func (c *Client) ListParticipants(ctx context.Context, sessionID string) ([]ParticipantInfo, error) {
	var out []ParticipantInfo
	path := "/live/participants/" + url.PathEscape(sessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListGuestRequests returns a session's pending guest requests. Host
// only.
func (c *Client) ListGuestRequests(ctx context.Context, sessionID string) ([]GuestRequestInfo, error) {
	var out []GuestRequestInfo
	path := "/live/guest-requests/" + url.PathEscape(sessionID) + "?status=pending"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
