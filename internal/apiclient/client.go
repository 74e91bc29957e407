// Package apiclient is a typed HTTP client for the pairing service,
// used by the bundled bot and by integration tooling.
package apiclient

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
	"sync"
	"time"
)

// Session is the identity minted by CreateSession.
type Session struct {
	UserID       string `json:"user_id"`
	Alias        string `json:"alias"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Match is one pairing result.
type Match struct {
	ID        string `json:"match_id"`
	PartnerID string `json:"partner_id"`
}

// Balance mirrors the server's rewards projection.
type Balance struct {
	UserID    string    `json:"user_id"`
	Points    int64     `json:"points"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile mirrors the server's directory entry.
type Profile struct {
	UserID     string `json:"user_id"`
	Alias      string `json:"alias"`
	AvatarSeed string `json:"avatar_seed"`
}

// APIError carries a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("apiclient: server returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// Client talks to one pairing server. It owns the token pair and
// refreshes it once, transparently, when the access token is rejected.
// Safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu      sync.Mutex
	session Session
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateSession mints a fresh anonymous identity and stores its tokens.
func (c *Client) CreateSession(ctx context.Context, alias string) (Session, error) {
	var s Session
	if _, err := c.do(ctx, http.MethodPost, "/v1/auth/session", map[string]string{"alias": alias}, &s, false); err != nil {
		return Session{}, err
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return s, nil
}

// Refresh rotates the token pair.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.session.RefreshToken
	c.mu.Unlock()
	if refresh == "" {
		return &APIError{Status: http.StatusUnauthorized, Message: "no session"}
	}
	var s Session
	if _, err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": refresh}, &s, false); err != nil {
		return err
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return nil
}

// RequestMatch runs one pairing attempt. ok is false while still queued.
func (c *Client) RequestMatch(ctx context.Context) (Match, bool, error) {
	var m Match
	status, err := c.authed(ctx, http.MethodPost, "/v1/match/request", nil, &m)
	if err != nil {
		return Match{}, false, err
	}
	if status == http.StatusNoContent {
		return Match{}, false, nil
	}
	return m, true, nil
}

// StopSearch leaves the queue.
func (c *Client) StopSearch(ctx context.Context) error {
	_, err := c.authed(ctx, http.MethodPost, "/v1/match/stop", nil, nil)
	return err
}

// EndMatch marks the match over for both sides.
func (c *Client) EndMatch(ctx context.Context, matchID string) error {
	_, err := c.authed(ctx, http.MethodPost, "/v1/matches/"+url.PathEscape(matchID)+"/end", nil, nil)
	return err
}

// ReportConnected records the established call and returns the new balance.
func (c *Client) ReportConnected(ctx context.Context, matchID string) (Balance, error) {
	var b Balance
	_, err := c.authed(ctx, http.MethodPost, "/v1/matches/"+url.PathEscape(matchID)+"/connected", nil, &b)
	return b, err
}

// Balance fetches the caller's reward balance.
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var b Balance
	_, err := c.authed(ctx, http.MethodGet, "/v1/rewards/balance", nil, &b)
	return b, err
}

// SubmitReport files an abuse report against the partner of matchID.
func (c *Client) SubmitReport(ctx context.Context, matchID, reportedID, reason, note string) error {
	in := map[string]string{
		"match_id":    matchID,
		"reported_id": reportedID,
		"reason":      reason,
		"note":        note,
	}
	_, err := c.authed(ctx, http.MethodPost, "/v1/reports", in, nil)
	return err
}

// Block prevents ever being paired with userID again.
func (c *Client) Block(ctx context.Context, userID string) error {
	_, err := c.authed(ctx, http.MethodPost, "/v1/blocks", map[string]string{"user_id": userID}, nil)
	return err
}

// Profile resolves display metadata for a participant.
func (c *Client) Profile(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	_, err := c.authed(ctx, http.MethodGet, "/v1/profiles/"+url.PathEscape(userID), nil, &p)
	return p, err
}

// UserID returns the authenticated participant id, empty before
// CreateSession.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.UserID
}

// AccessToken returns the current access token for out-of-band use, such
// as the signaling socket dial.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.AccessToken
}

// SocketURL returns the signaling endpoint for matchID on the ws scheme
// matching the client's base URL.
func (c *Client) SocketURL(matchID string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/matches/" + url.PathEscape(matchID)
}

// authed performs an authenticated request, refreshing the token pair
// once when the server rejects the access token.
func (c *Client) authed(ctx context.Context, method, path string, in, out any) (int, error) {
	status, err := c.do(ctx, method, path, in, out, true)
	if !IsStatus(err, http.StatusUnauthorized) {
		return status, err
	}
	if rerr := c.Refresh(ctx); rerr != nil {
		return status, err
	}
	return c.do(ctx, method, path, in, out, true)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, authed bool) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("apiclient: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("apiclient: build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.Lock()
		tok := c.session.AccessToken
		c.mu.Unlock()
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("apiclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("apiclient: decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func errorMessage(r io.Reader) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&e); err != nil || e.Error == "" {
		return "request failed"
	}
	return e.Error
}
