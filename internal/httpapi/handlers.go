package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"paircall/internal/auth"
	"paircall/internal/matchqueue"
	"paircall/internal/moderation"
	"paircall/internal/profiles"
	"paircall/internal/reports"
	"paircall/internal/rewards"
	"paircall/internal/signaling"
	"paircall/pkg/logger"
	"paircall/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Matches    *matchqueue.Service
	Rewards    *rewards.Service
	Reports    *reports.Service
	Moderation *moderation.Service
	Profiles   profiles.Directory
	Hub        *signaling.Hub
	Redis      *redis.Client

	// SocketCapTTL bounds how long a crashed client can hold its
	// signaling slot. Zero selects a default above the maximum call
	// duration.
	SocketCapTTL time.Duration

	Log *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Auth is bearer-token based, not cookie based; origin is not part
	// of the trust model.
	CheckOrigin: func(*http.Request) bool { return true },
}

// --- Auth ---

type sessionRequest struct {
	Alias string `json:"alias"`
}

// CreateSession mints an anonymous participant: a fresh id, a token
// pair, and a directory profile for display.
func (h Handlers) CreateSession(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req sessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	userID := uuid.NewString()
	alias := strings.TrimSpace(req.Alias)
	if alias == "" {
		alias = "guest-" + userID[:8]
	}

	pair, err := h.Auth.IssuePair(time.Now(), userID, alias)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	if h.Profiles != nil {
		p := profiles.Profile{
			UserID:     userID,
			Alias:      alias,
			AvatarSeed: uuid.NewString(),
			CreatedAt:  time.Now().UTC(),
		}
		if err := h.Profiles.Put(c.Request.Context(), p); err != nil {
			h.logger(c).Warn("profile store failed", slog.String("error", err.Error()))
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":       userID,
		"alias":         alias,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshSession rotates a token pair. Refresh tokens do not carry the
// alias, so it is re-read from the profile directory.
func (h Handlers) RefreshSession(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	alias := ""
	if h.Profiles != nil {
		if p, ok, err := h.Profiles.Lookup(c.Request.Context(), claims.UserID); err == nil && ok {
			alias = p.Alias
		}
	}
	pair, err := h.Auth.IssuePair(time.Now(), claims.UserID, alias)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":       claims.UserID,
		"alias":         alias,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// --- Matching ---

// RequestMatch runs one pairing attempt. 200 carries the pairing; 204
// means the caller is queued and should poll again after a backoff.
func (h Handlers) RequestMatch(c *gin.Context) {
	if h.Matches == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "matching not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	res, err := h.Matches.RequestMatch(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !res.Matched {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match_id":   res.Match.ID,
		"partner_id": res.Match.PartnerOf(userID),
	})
}

// StopSearch leaves the queue. Already gone counts as success.
func (h Handlers) StopSearch(c *gin.Context) {
	if h.Matches == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "matching not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	if err := h.Matches.StopSearch(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EndMatch ends the caller's match. Ending twice is success; ending a
// match you are not part of is not found.
func (h Handlers) EndMatch(c *gin.Context) {
	if h.Matches == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "matching not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	if err := h.Matches.EndMatch(c.Request.Context(), c.Param("match_id"), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Rewards ---

// ReportConnected records an established call for a match and returns
// the caller's balance. Retry-safe; the credit is keyed by match.
func (h Handlers) ReportConnected(c *gin.Context) {
	if h.Matches == nil || h.Rewards == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rewards not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	matchID := c.Param("match_id")
	m, ok, err := h.Matches.FindMatch(c.Request.Context(), matchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok || !m.HasParticipant(userID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "match not found"})
		return
	}
	_, bal, err := h.Rewards.CreditCallConnected(c.Request.Context(), userID, matchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h Handlers) GetBalance(c *gin.Context) {
	if h.Rewards == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rewards not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	bal, err := h.Rewards.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, bal)
}

// --- Safety ---

type reportRequest struct {
	MatchID    string `json:"match_id"`
	ReportedID string `json:"reported_id"`
	Reason     string `json:"reason"`
	Note       string `json:"note,omitempty"`
}

// SubmitReport files an abuse report. Both the reporter and the
// reported participant must belong to the named match.
func (h Handlers) SubmitReport(c *gin.Context) {
	if h.Matches == nil || h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	m, ok, err := h.Matches.FindMatch(c.Request.Context(), req.MatchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok || !m.HasParticipant(userID) || !m.HasParticipant(req.ReportedID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "match not found"})
		return
	}
	rep, err := h.Reports.Submit(c.Request.Context(), reports.Report{
		MatchID:    req.MatchID,
		ReporterID: userID,
		ReportedID: req.ReportedID,
		Reason:     req.Reason,
		Note:       req.Note,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rep)
}

type blockRequest struct {
	UserID string `json:"user_id"`
}

// CreateBlock stops the caller from ever being paired with the given
// participant again, in either direction.
func (h Handlers) CreateBlock(c *gin.Context) {
	if h.Moderation == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "moderation not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if err := h.Moderation.Block(c.Request.Context(), userID, req.UserID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Profiles ---

func (h Handlers) GetProfile(c *gin.Context) {
	if h.Profiles == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "profiles not configured"})
		return
	}
	p, ok, err := h.Profiles.Lookup(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Signaling ---

// SignalingSocket upgrades an authorized participant into the relay
// room for their match. Membership is checked against the active match
// and a per-user cap keeps one live socket per participant.
func (h Handlers) SignalingSocket(c *gin.Context) {
	if h.Matches == nil || h.Hub == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "signaling not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	matchID := c.Param("match_id")
	m, ok, err := h.Matches.ActiveMatch(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !ok || m.ID != matchID {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant of this match"})
		return
	}

	// The release closure outlives this request (the hub calls it when
	// the socket closes), so resolve the logger now instead of holding
	// on to the recycled gin context.
	log := h.logger(c)

	release := func() {}
	if h.Redis != nil {
		key := "signal:cap:" + userID
		acquired, err := utils.AcquireConcurrencyCap(c.Request.Context(), h.Redis, key, 1, h.capTTL())
		if err == nil && !acquired {
			// The slot is held by this user's own earlier socket; the
			// hub replaces connections, so preempt rather than refuse
			// the reconnect.
			_ = utils.ReleaseConcurrencyCap(c.Request.Context(), h.Redis, key)
			acquired, err = utils.AcquireConcurrencyCap(c.Request.Context(), h.Redis, key, 1, h.capTTL())
		}
		switch {
		case err != nil:
			// The hub still bounds sockets per (user, match); the cap
			// is a cross-match guard rail, not the only defense.
			log.Warn("socket cap unavailable", slog.String("error", err.Error()))
		case !acquired:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "another signaling socket is active"})
			return
		default:
			release = func() {
				if err := utils.ReleaseConcurrencyCap(context.Background(), h.Redis, key); err != nil {
					log.Warn("socket cap release failed", slog.String("error", err.Error()))
				}
			}
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		release()
		return
	}
	h.Hub.Subscribe(conn, matchID, userID, release)
}

// --- Shared plumbing ---

// fail maps service errors onto transport codes.
func (h Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, matchqueue.ErrInvalidArgument),
		errors.Is(err, moderation.ErrInvalidArgument),
		errors.Is(err, rewards.ErrInvalidArgument),
		errors.Is(err, reports.ErrInvalidReport):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, moderation.ErrBanned):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account suspended"})
	case errors.Is(err, matchqueue.ErrNotFound), errors.Is(err, rewards.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, matchqueue.ErrRateLimited):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "slow down"})
	default:
		h.logger(c).Error("request failed", slog.String("error", err.Error()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h Handlers) capTTL() time.Duration {
	if h.SocketCapTTL > 0 {
		return h.SocketCapTTL
	}
	return 3 * time.Hour
}

// logger prefers the request-scoped logger injected by
// logger.Middleware so request ids survive into handler output.
func (h Handlers) logger(c *gin.Context) *slog.Logger {
	if l, ok := logger.FromGin(c); ok {
		return l
	}
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}
