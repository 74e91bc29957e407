// Package call drives one peer-to-peer media session between the two
// participants of a match: the ring handshake, the offer/answer and
// ICE exchange over the signaling channel, the timers bounding every
// stage, and the supervision of the resulting transport.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"paircall/internal/config"
	"paircall/internal/signaling"
)

const eventQueueSize = 64

// Params configure a Session. MatchID, UserID, PeerID, Channel,
// NewTransport and Media are required.
type Params struct {
	MatchID string
	UserID  string
	PeerID  string

	Channel      Channel
	NewTransport TransportFactory
	Media        MediaSource
	Rewards      RewardNotifier
	Busy         BusyFunc
	Config       config.CallConfig
	Events       Events
	Log          *slog.Logger
}

// Session is the per-participant call state machine. All state is
// guarded by one mutex; anything that can suspend (media acquisition,
// timers, transport callbacks) re-enters through a method that checks
// the captured epoch first, so continuations from a previous life of
// the session cannot corrupt the current one.
type Session struct {
	mu sync.Mutex

	matchID string
	userID  string
	peerID  string

	channel      Channel
	newTransport TransportFactory
	media        MediaSource
	rewards      RewardNotifier
	busy         BusyFunc
	cfg          config.CallConfig
	events       Events
	log          *slog.Logger

	runCtx context.Context

	phase Phase
	mode  signaling.Mode

	// isOfferer is decided once per match: the lexicographically
	// smaller participant id owns the initial offer.
	isOfferer bool

	// epoch invalidates async continuations started before a teardown.
	epoch uint64

	peerReady            bool
	ringHeld             bool
	offerSent            bool
	remoteDescSet        bool
	iceRestartAttempted  bool
	hasCountedConnection bool

	transport      Transport
	transportState webrtc.PeerConnectionState
	localMedia     LocalMedia

	pendingOffer      *signaling.Offer
	pendingCandidates []json.RawMessage

	ringTimer    *time.Timer
	connectTimer *time.Timer
	maxTimer     *time.Timer
	graceTimer   *time.Timer

	ended        bool
	endReason    EndReason
	eventq       chan func()
	eventqClosed bool
	done         chan struct{}
}

func NewSession(p Params) (*Session, error) {
	switch {
	case p.MatchID == "" || p.UserID == "" || p.PeerID == "":
		return nil, errors.New("call: match and participant ids are required")
	case p.UserID == p.PeerID:
		return nil, errors.New("call: participant ids must differ")
	case p.Channel == nil:
		return nil, errors.New("call: a signaling channel is required")
	case p.NewTransport == nil:
		return nil, errors.New("call: a transport factory is required")
	case p.Media == nil:
		return nil, errors.New("call: a media source is required")
	}
	if p.Config.RingTimeout <= 0 || p.Config.ConnectTimeout <= 0 || p.Config.DisconnectGrace <= 0 {
		return nil, errors.New("call: ring, connect and grace timeouts must be positive")
	}
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		matchID:      p.MatchID,
		userID:       p.UserID,
		peerID:       p.PeerID,
		channel:      p.Channel,
		newTransport: p.NewTransport,
		media:        p.Media,
		rewards:      p.Rewards,
		busy:         p.Busy,
		cfg:          p.Config,
		events:       p.Events,
		log: log.With(
			slog.String("match_id", p.MatchID),
			slog.String("user_id", p.UserID),
		),
		runCtx:    context.Background(),
		phase:     PhaseIdle,
		isOfferer: p.UserID < p.PeerID,
		eventq:    make(chan func(), eventQueueSize),
		done:      make(chan struct{}),
	}, nil
}

// Start wires the session to its channel and begins consuming peer
// signals. It must be called exactly once; cancelling ctx acts as a
// local hangup.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	go s.dispatchEvents()
	go s.consumeSignals()
	go func() {
		select {
		case <-ctx.Done():
			s.HangUp()
		case <-s.done:
		}
	}()

	// Announce readiness so a peer holding a ring can release it.
	if err := s.channel.Send(signaling.Ready{}); err != nil {
		s.log.Warn("ready announcement failed", slog.String("error", err.Error()))
	}
}

// StartCall rings the peer. The session must be idle.
func (s *Session) StartCall(mode signaling.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.ended:
		return ErrEnded
	case s.phase != PhaseIdle:
		return ErrNotIdle
	}
	s.mode = normalizeMode(mode)
	s.setPhaseLocked(PhaseOutgoing)
	s.armRingTimerLocked()
	if s.peerReady {
		s.sendLocked(signaling.Ring{Mode: s.mode})
	} else {
		// A ring into an empty room evaporates; hold it until the
		// peer announces themselves.
		s.ringHeld = true
	}
	return nil
}

// Accept answers the incoming ring: local media acquisition starts and
// the caller is told to proceed with its offer.
func (s *Session) Accept() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.ended:
		return ErrEnded
	case s.phase != PhaseIncoming:
		return ErrNoIncoming
	}
	s.stopTimerLocked(&s.ringTimer)
	s.setPhaseLocked(PhaseConnecting)
	s.armConnectTimerLocked()
	s.sendLocked(signaling.Accept{Mode: s.mode})
	s.acquireMediaLocked()
	return nil
}

// Reject declines the incoming ring and ends the session.
func (s *Session) Reject() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.ended:
		return ErrEnded
	case s.phase != PhaseIncoming:
		return ErrNoIncoming
	}
	s.sendLocked(signaling.Reject{Reason: signaling.RejectDeclined})
	s.endLocked(EndReasonDeclined)
	return nil
}

// HangUp ends the session from this side. Safe to call in any phase,
// any number of times.
func (s *Session) HangUp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.phase != PhaseIdle {
		s.sendLocked(signaling.Hangup{})
	}
	s.endLocked(EndReasonLocalHangup)
}

// SetAudioEnabled toggles the microphone without touching signaling or
// call state.
func (s *Session) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localMedia != nil {
		s.localMedia.SetAudioEnabled(enabled)
	}
}

// SetVideoEnabled toggles the camera without touching signaling or
// call state.
func (s *Session) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localMedia != nil {
		s.localMedia.SetVideoEnabled(enabled)
	}
}

// Phase reports the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// EndReason reports why the session ended; empty until it has.
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Offerer reports whether this side owns the initial offer.
func (s *Session) Offerer() bool { return s.isOfferer }

// Done closes once teardown has finished and every event has been
// delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) dispatchEvents() {
	for fn := range s.eventq {
		fn()
	}
	close(s.done)
}

func (s *Session) consumeSignals() {
	for sig := range s.channel.Incoming() {
		s.handleSignal(sig)
	}
	s.channelLost()
}

// channelLost runs when the signaling connection closes underneath us.
// An established call keeps running, media flows peer to peer, but any
// phase still negotiating cannot proceed without signaling.
func (s *Session) channelLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.phase == PhaseInCall {
		s.log.Warn("signaling channel lost during call")
		return
	}
	s.endLocked(EndReasonChannelClosed)
}

func (s *Session) handleSignal(sig signaling.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	// The hub broadcasts to the whole room, so our own frames echo
	// back. Drop them here.
	if sig.Sender() == s.userID {
		return
	}

	switch m := sig.(type) {
	case signaling.Presence:
		for _, id := range m.Peers {
			if id == s.peerID {
				s.peerArrivedLocked()
			}
		}
		return
	case signaling.Join:
		if m.Sender() == s.peerID {
			s.peerArrivedLocked()
		}
		return
	case signaling.Leave:
		if m.Sender() == s.peerID {
			s.peerReady = false
		}
		return
	}

	if sig.Sender() != s.peerID {
		// Rooms hold exactly the two matched participants; anything
		// else is noise.
		return
	}
	s.peerArrivedLocked()

	switch m := sig.(type) {
	case signaling.Ready:
		// Arrival is all a ready conveys.
	case signaling.Ring:
		s.handleRingLocked(m)
	case signaling.Accept:
		s.handleAcceptLocked()
	case signaling.Reject:
		s.handleRejectLocked(m)
	case signaling.Offer:
		s.handleOfferLocked(m)
	case signaling.Answer:
		s.handleAnswerLocked(m)
	case signaling.ICE:
		s.handleCandidateLocked(m)
	case signaling.Hangup:
		s.endLocked(EndReasonHangup)
	}
}

// peerArrivedLocked notes that the peer is reachable on the channel.
// Any frame from them counts; presence, join and ready exist so the
// sides can rendezvous before the first ring.
func (s *Session) peerArrivedLocked() {
	s.peerReady = true
	if s.ringHeld && s.phase == PhaseOutgoing {
		s.ringHeld = false
		s.sendLocked(signaling.Ring{Mode: s.mode})
	}
	s.maybeSendOfferLocked()
}

func (s *Session) handleRingLocked(m signaling.Ring) {
	if s.phase != PhaseIdle || (s.busy != nil && s.busy()) {
		// Busy: refuse without disturbing whatever we are doing.
		s.sendLocked(signaling.Reject{Reason: signaling.RejectBusy})
		return
	}
	s.mode = normalizeMode(m.Mode)
	s.setPhaseLocked(PhaseIncoming)
	s.armRingTimerLocked()
}

func (s *Session) handleAcceptLocked() {
	if s.phase != PhaseOutgoing {
		return
	}
	s.stopTimerLocked(&s.ringTimer)
	s.setPhaseLocked(PhaseConnecting)
	s.armConnectTimerLocked()
	s.acquireMediaLocked()
}

func (s *Session) handleRejectLocked(m signaling.Reject) {
	if s.phase == PhaseIdle {
		return
	}
	s.endLocked(rejectEndReason(m.Reason))
}

func (s *Session) handleOfferLocked(m signaling.Offer) {
	if s.isOfferer {
		// The smaller id owns the initial offer; a crossed offer from
		// the peer would glare.
		return
	}
	switch s.phase {
	case PhaseIncoming:
		// The caller went straight to its offer; the handshake is
		// decided on their side. Park the offer until media is up.
		s.stopTimerLocked(&s.ringTimer)
		s.setPhaseLocked(PhaseConnecting)
		s.armConnectTimerLocked()
		s.pendingOffer = &m
		s.acquireMediaLocked()
	case PhaseConnecting, PhaseInCall:
		if s.localMedia == nil {
			s.pendingOffer = &m
			return
		}
		s.applyOfferLocked(m)
	}
}

func (s *Session) handleAnswerLocked(m signaling.Answer) {
	if !s.offerSent || s.transport == nil {
		return
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}
	if err := s.transport.SetRemoteDescription(desc); err != nil {
		s.failLocked("applying remote answer failed", err)
		return
	}
	s.remoteDescSet = true
	s.flushCandidatesLocked()
}

func (s *Session) handleCandidateLocked(m signaling.ICE) {
	if s.phase == PhaseIdle {
		return
	}
	if !s.remoteDescSet {
		// Trickled candidates may beat the description exchange; keep
		// them in arrival order until it lands.
		s.pendingCandidates = append(s.pendingCandidates, m.Candidate)
		return
	}
	s.applyCandidateLocked(m.Candidate)
}

// applyCandidateLocked applies one candidate. Failures are logged and
// skipped; a single bad network path must not kill the call.
func (s *Session) applyCandidateLocked(raw json.RawMessage) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		s.log.Warn("skipping malformed ice candidate", slog.String("error", err.Error()))
		return
	}
	if s.transport == nil {
		return
	}
	if err := s.transport.AddICECandidate(cand); err != nil {
		s.log.Warn("skipping inapplicable ice candidate", slog.String("error", err.Error()))
	}
}

func (s *Session) flushCandidatesLocked() {
	for _, raw := range s.pendingCandidates {
		s.applyCandidateLocked(raw)
	}
	s.pendingCandidates = nil
}

// maybeSendOfferLocked produces the single initial offer once every
// precondition holds: this side owns the offer, the handshake reached
// connecting, local media is up and the peer is reachable. Accept
// arrival, media completion and readiness re-detections all funnel
// here; offerSent keeps the result at exactly one offer however many
// times that happens.
func (s *Session) maybeSendOfferLocked() {
	if !s.isOfferer || s.offerSent || s.phase != PhaseConnecting {
		return
	}
	if s.localMedia == nil || !s.peerReady {
		return
	}
	if err := s.ensureTransportLocked(); err != nil {
		s.failLocked("transport setup failed", err)
		return
	}
	offer, err := s.transport.CreateOffer(false)
	if err != nil {
		s.failLocked("creating offer failed", err)
		return
	}
	s.offerSent = true
	s.sendLocked(signaling.Offer{Mode: s.mode, SDP: offer.SDP})
}

func (s *Session) applyOfferLocked(m signaling.Offer) {
	if err := s.ensureTransportLocked(); err != nil {
		s.failLocked("transport setup failed", err)
		return
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}
	if err := s.transport.SetRemoteDescription(desc); err != nil {
		s.failLocked("applying remote offer failed", err)
		return
	}
	s.remoteDescSet = true
	answer, err := s.transport.CreateAnswer()
	if err != nil {
		s.failLocked("creating answer failed", err)
		return
	}
	s.sendLocked(signaling.Answer{SDP: answer.SDP})
	s.flushCandidatesLocked()
}

// acquireMediaLocked starts (or, once acquired, finishes) local media
// setup. Acquisition runs off the lock; the captured epoch keeps a
// slow device grant from resurrecting a torn-down session.
func (s *Session) acquireMediaLocked() {
	if s.localMedia != nil {
		s.maybeSendOfferLocked()
		s.processPendingOfferLocked()
		return
	}
	epoch := s.epoch
	mode := s.mode
	ctx := s.runCtx
	go func() {
		media, err := s.media.Acquire(ctx, mode)
		s.mediaAcquired(epoch, media, err)
	}()
}

func (s *Session) mediaAcquired(epoch uint64, media LocalMedia, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.ended {
		// Teardown won the race; the device must not stay open.
		if media != nil {
			media.Close()
		}
		return
	}
	if err != nil {
		s.failLocked("local media acquisition failed", err)
		return
	}
	s.localMedia = media
	s.maybeSendOfferLocked()
	s.processPendingOfferLocked()
}

func (s *Session) processPendingOfferLocked() {
	if s.pendingOffer == nil || s.localMedia == nil {
		return
	}
	if s.phase != PhaseConnecting && s.phase != PhaseInCall {
		return
	}
	m := *s.pendingOffer
	s.pendingOffer = nil
	s.applyOfferLocked(m)
}

func (s *Session) ensureTransportLocked() error {
	if s.transport != nil {
		return nil
	}
	t, err := s.newTransport()
	if err != nil {
		return err
	}
	s.transport = t
	epoch := s.epoch
	t.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.localCandidate(epoch, c)
	})
	t.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.transportStateChanged(epoch, state)
	})
	t.OnTrack(func(track *webrtc.TrackRemote) {
		s.remoteTrack(epoch, track)
	})
	if s.localMedia != nil {
		for _, track := range s.localMedia.Tracks() {
			if err := t.AddTrack(track); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) localCandidate(epoch uint64, c webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.ended {
		return
	}
	raw, err := json.Marshal(c)
	if err != nil {
		s.log.Warn("encoding local ice candidate failed", slog.String("error", err.Error()))
		return
	}
	s.sendLocked(signaling.ICE{Candidate: raw})
}

func (s *Session) remoteTrack(epoch uint64, track *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.ended {
		return
	}
	if s.events.RemoteTrack != nil {
		cb := s.events.RemoteTrack
		s.emitLocked(func() { cb(track) })
	}
}

func (s *Session) armRingTimerLocked() {
	s.stopTimerLocked(&s.ringTimer)
	epoch := s.epoch
	s.ringTimer = time.AfterFunc(s.cfg.RingTimeout, func() { s.ringTimedOut(epoch) })
}

func (s *Session) ringTimedOut(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.ended {
		return
	}
	switch s.phase {
	case PhaseOutgoing:
		// Nobody picked up. Tell the peer the window closed so their
		// ring screen can clear.
		s.sendLocked(signaling.Reject{Reason: signaling.RejectTimeout})
		s.endLocked(EndReasonRingTimeout)
	case PhaseIncoming:
		s.endLocked(EndReasonRingTimeout)
	}
}

func (s *Session) armConnectTimerLocked() {
	s.stopTimerLocked(&s.connectTimer)
	epoch := s.epoch
	s.connectTimer = time.AfterFunc(s.cfg.ConnectTimeout, func() { s.connectTimedOut(epoch) })
}

func (s *Session) connectTimedOut(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.ended || s.phase != PhaseConnecting {
		return
	}
	s.endLocked(EndReasonConnectTimeout)
}

func (s *Session) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *Session) setPhaseLocked(p Phase) {
	if s.phase == p {
		return
	}
	s.phase = p
	if s.events.PhaseChanged != nil {
		cb := s.events.PhaseChanged
		s.emitLocked(func() { cb(p) })
	}
}

func (s *Session) sendLocked(sig signaling.Signal) {
	if err := s.channel.Send(sig); err != nil {
		s.log.Warn("signal send failed",
			slog.String("kind", string(sig.Kind())),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Session) failLocked(msg string, err error) {
	s.log.Error(msg, slog.String("error", err.Error()))
	s.endLocked(EndReasonFailed)
}

// emitLocked queues an event for the dispatch goroutine. Delivery is
// ordered but never blocks the session lock.
func (s *Session) emitLocked(fn func()) {
	if s.eventqClosed {
		return
	}
	select {
	case s.eventq <- fn:
	default:
		s.log.Warn("event consumer too slow, dropping event")
	}
}
