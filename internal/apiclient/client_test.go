package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestCreateSession_StoresTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/auth/session" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["alias"] != "Rey" {
			t.Errorf("expected alias Rey, got %q", in["alias"])
		}
		_ = json.NewEncoder(w).Encode(Session{UserID: "u1", Alias: "Rey", AccessToken: "acc-1", RefreshToken: "ref-1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	s, err := c.CreateSession(context.Background(), "Rey")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if s.UserID != "u1" || c.UserID() != "u1" || c.AccessToken() != "acc-1" {
		t.Fatalf("session not stored: %+v", s)
	}
}

func TestRequestMatch_QueuedThenPaired(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/session":
			_ = json.NewEncoder(w).Encode(Session{UserID: "u1", AccessToken: "acc-1", RefreshToken: "ref-1"})
		case "/v1/match/request":
			if got := r.Header.Get("Authorization"); got != "Bearer acc-1" {
				t.Errorf("expected bearer header, got %q", got)
			}
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"match_id": "m1", "partner_id": "u2"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.CreateSession(context.Background(), ""); err != nil {
		t.Fatalf("create session: %v", err)
	}

	if _, ok, err := c.RequestMatch(context.Background()); err != nil || ok {
		t.Fatalf("expected queued result, ok=%v err=%v", ok, err)
	}
	m, ok, err := c.RequestMatch(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected pairing, ok=%v err=%v", ok, err)
	}
	if m.ID != "m1" || m.PartnerID != "u2" {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestAuthed_RefreshesExpiredToken(t *testing.T) {
	var refreshes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/session":
			_ = json.NewEncoder(w).Encode(Session{UserID: "u1", AccessToken: "stale", RefreshToken: "ref-1"})
		case "/v1/auth/refresh":
			var in map[string]string
			_ = json.NewDecoder(r.Body).Decode(&in)
			if in["refresh_token"] != "ref-1" {
				t.Errorf("expected ref-1, got %q", in["refresh_token"])
			}
			atomic.AddInt32(&refreshes, 1)
			_ = json.NewEncoder(w).Encode(Session{UserID: "u1", AccessToken: "fresh", RefreshToken: "ref-2"})
		case "/v1/rewards/balance":
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid token"})
				return
			}
			_ = json.NewEncoder(w).Encode(Balance{UserID: "u1", Points: 30})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.CreateSession(context.Background(), ""); err != nil {
		t.Fatalf("create session: %v", err)
	}

	b, err := c.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance after refresh: %v", err)
	}
	if b.Points != 30 {
		t.Fatalf("expected 30 points, got %d", b.Points)
	}
	if got := atomic.LoadInt32(&refreshes); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
	if c.AccessToken() != "fresh" {
		t.Fatalf("expected rotated access token, got %q", c.AccessToken())
	}
}

func TestRequestErrors_SurfaceStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "slow down"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, _, err := c.RequestMatch(context.Background())
	if !IsStatus(err, http.StatusTooManyRequests) {
		t.Fatalf("expected 429 APIError, got %v", err)
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected the server message in %v", err)
	}
}

func TestSocketURL(t *testing.T) {
	if got := New("http://localhost:8080/").SocketURL("m 1"); got != "ws://localhost:8080/ws/matches/m%201" {
		t.Fatalf("unexpected socket url %q", got)
	}
	if got := New("https://call.example.com").SocketURL("m1"); got != "wss://call.example.com/ws/matches/m1" {
		t.Fatalf("unexpected socket url %q", got)
	}
}
