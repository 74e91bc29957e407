package call

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"paircall/internal/config"
	"paircall/internal/signaling"
)

type fakeChannel struct {
	mu       sync.Mutex
	sent     []signaling.Signal
	incoming chan signaling.Signal
	closed   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{incoming: make(chan signaling.Signal, 32)}
}

func (c *fakeChannel) Send(s signaling.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return signaling.ErrChannelClosed
	}
	c.sent = append(c.sent, s)
	return nil
}

func (c *fakeChannel) Incoming() <-chan signaling.Signal { return c.incoming }

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.incoming)
	}
}

func (c *fakeChannel) push(s signaling.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.incoming <- s
	}
}

func (c *fakeChannel) countKind(k signaling.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sent {
		if s.Kind() == k {
			n++
		}
	}
	return n
}

func (c *fakeChannel) lastReject() (signaling.Reject, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if r, ok := c.sent[i].(signaling.Reject); ok {
			return r, true
		}
	}
	return signaling.Reject{}, false
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu          sync.Mutex
	offers      int
	restarts    int
	answers     int
	remoteDescs []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	tracks      int
	closed      int

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(*webrtc.TrackRemote)
}

func (f *fakeTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	if iceRestart {
		f.restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDescs = append(f.remoteDescs, desc)
	return nil
}

func (f *fakeTransport) AddICECandidate(cand webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, cand)
	return nil
}

func (f *fakeTransport) AddTrack(webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks++
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) OnTrack(fn func(*webrtc.TrackRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) fireState(state webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (f *fakeTransport) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers
}

func (f *fakeTransport) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}

func (f *fakeTransport) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) candidateList() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(f.candidates))
	copy(out, f.candidates)
	return out
}

type fakeMedia struct {
	mu       sync.Mutex
	acquired int
	closed   int
	audioOn  bool
	videoOn  bool

	// block, when set, holds Acquire until the channel closes.
	block chan struct{}
}

func (f *fakeMedia) Acquire(ctx context.Context, mode signaling.Mode) (LocalMedia, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	f.audioOn = true
	f.videoOn = true
	return f, nil
}

func (f *fakeMedia) Tracks() []webrtc.TrackLocal { return nil }

func (f *fakeMedia) SetAudioEnabled(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioOn = on
}

func (f *fakeMedia) SetVideoEnabled(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoOn = on
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeMedia) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMedia) audio() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioOn
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) CallConnected(_ context.Context, matchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, matchID)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sessionHarness struct {
	session   *Session
	channel   *fakeChannel
	transport *fakeTransport
	media     *fakeMedia
	rewards   *fakeNotifier
	cancel    context.CancelFunc
}

func newHarness(t *testing.T, userID, peerID string, opts ...func(*Params)) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		channel:   newFakeChannel(),
		transport: &fakeTransport{},
		media:     &fakeMedia{},
		rewards:   &fakeNotifier{},
	}
	p := Params{
		MatchID:      "match-1",
		UserID:       userID,
		PeerID:       peerID,
		Channel:      h.channel,
		NewTransport: func() (Transport, error) { return h.transport, nil },
		Media:        h.media,
		Rewards:      h.rewards,
		Config: config.CallConfig{
			RingTimeout:     5 * time.Second,
			ConnectTimeout:  5 * time.Second,
			MaxDuration:     time.Hour,
			DisconnectGrace: 5 * time.Second,
		},
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&p)
	}
	s, err := NewSession(p)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.session = s
	h.cancel = cancel
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
	return h
}

// deliver parses a wire frame and feeds it to the session, the same
// path real peer traffic takes.
func (h *sessionHarness) deliver(t *testing.T, raw string) {
	t.Helper()
	s, err := signaling.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	h.channel.push(s)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// inCallSession walks an offerer-side harness through ring, accept,
// offer, answer and the connected event.
func inCallSession(t *testing.T, opts ...func(*Params)) *sessionHarness {
	t.Helper()
	h := newHarness(t, "alice", "bob", opts...)
	if err := h.session.StartCall(signaling.ModeVideo); err != nil {
		t.Fatalf("start call: %v", err)
	}
	h.deliver(t, `{"type":"ready","from":"bob"}`)
	h.deliver(t, `{"type":"accept","from":"bob","payload":{"mode":"video"}}`)
	waitFor(t, "initial offer", func() bool { return h.channel.countKind(signaling.KindOffer) == 1 })
	h.deliver(t, `{"type":"answer","from":"bob","payload":{"sdp":"v=0 answer"}}`)
	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	waitFor(t, "in_call", func() bool { return h.session.Phase() == PhaseInCall })
	return h
}

func TestNewSession_Validates(t *testing.T) {
	base := Params{
		MatchID:      "m",
		UserID:       "alice",
		PeerID:       "bob",
		Channel:      newFakeChannel(),
		NewTransport: func() (Transport, error) { return &fakeTransport{}, nil },
		Media:        &fakeMedia{},
		Config: config.CallConfig{
			RingTimeout:     time.Second,
			ConnectTimeout:  time.Second,
			DisconnectGrace: time.Second,
		},
	}
	if _, err := NewSession(base); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	missing := base
	missing.PeerID = ""
	if _, err := NewSession(missing); err == nil {
		t.Fatalf("expected error for missing peer id")
	}
	same := base
	same.PeerID = base.UserID
	if _, err := NewSession(same); err == nil {
		t.Fatalf("expected error for identical participant ids")
	}
	noMedia := base
	noMedia.Media = nil
	if _, err := NewSession(noMedia); err == nil {
		t.Fatalf("expected error for missing media source")
	}
	badTimers := base
	badTimers.Config.RingTimeout = 0
	if _, err := NewSession(badTimers); err == nil {
		t.Fatalf("expected error for zero ring timeout")
	}
}

func TestStartCall_HoldsRingUntilPeerArrives(t *testing.T) {
	h := newHarness(t, "alice", "bob")

	if err := h.session.StartCall(signaling.ModeVideo); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if got := h.session.Phase(); got != PhaseOutgoing {
		t.Fatalf("expected outgoing, got %s", got)
	}
	if n := h.channel.countKind(signaling.KindRing); n != 0 {
		t.Fatalf("ring sent into empty room: %d", n)
	}

	h.deliver(t, `{"type":"ready","from":"bob"}`)
	waitFor(t, "held ring release", func() bool { return h.channel.countKind(signaling.KindRing) == 1 })

	// Further readiness must not re-ring.
	h.deliver(t, `{"type":"ready","from":"bob"}`)
	h.deliver(t, `{"type":"presence","payload":{"peers":["bob"]}}`)
	time.Sleep(50 * time.Millisecond)
	if n := h.channel.countKind(signaling.KindRing); n != 1 {
		t.Fatalf("expected exactly one ring, got %d", n)
	}

	if err := h.session.StartCall(signaling.ModeVideo); err != ErrNotIdle {
		t.Fatalf("expected ErrNotIdle for second start, got %v", err)
	}
}

func TestSession_SingleOfferAcrossReadinessSignals(t *testing.T) {
	h := newHarness(t, "alice", "bob")

	if err := h.session.StartCall(signaling.ModeVideo); err != nil {
		t.Fatalf("start call: %v", err)
	}
	h.deliver(t, `{"type":"ready","from":"bob"}`)
	h.deliver(t, `{"type":"accept","from":"bob","payload":{"mode":"video"}}`)
	waitFor(t, "offer", func() bool { return h.channel.countKind(signaling.KindOffer) == 1 })

	// Every readiness path fires again; the offer count must not move.
	h.deliver(t, `{"type":"ready","from":"bob"}`)
	h.deliver(t, `{"type":"presence","payload":{"peers":["bob"]}}`)
	h.deliver(t, `{"type":"join","from":"bob"}`)
	h.deliver(t, `{"type":"ready","from":"bob"}`)
	time.Sleep(50 * time.Millisecond)
	if n := h.channel.countKind(signaling.KindOffer); n != 1 {
		t.Fatalf("expected exactly one offer, got %d", n)
	}
	if n := h.transport.offerCount(); n != 1 {
		t.Fatalf("expected one transport offer, got %d", n)
	}

	h.deliver(t, `{"type":"answer","from":"bob","payload":{"sdp":"v=0 answer"}}`)
	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	waitFor(t, "in_call", func() bool { return h.session.Phase() == PhaseInCall })
	waitFor(t, "reward", func() bool { return h.rewards.count() == 1 })

	// A duplicate connected event must not count twice.
	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	time.Sleep(50 * time.Millisecond)
	if n := h.rewards.count(); n != 1 {
		t.Fatalf("expected one reward notification, got %d", n)
	}
}

func TestSession_IncomingAcceptAnswersOffer(t *testing.T) {
	h := newHarness(t, "bob", "alice")

	h.deliver(t, `{"type":"ring","from":"alice","payload":{"mode":"audio"}}`)
	waitFor(t, "incoming", func() bool { return h.session.Phase() == PhaseIncoming })

	if err := h.session.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if n := h.channel.countKind(signaling.KindAccept); n != 1 {
		t.Fatalf("expected accept sent, got %d", n)
	}

	h.deliver(t, `{"type":"offer","from":"alice","payload":{"mode":"audio","sdp":"v=0 offer"}}`)
	waitFor(t, "answer", func() bool { return h.channel.countKind(signaling.KindAnswer) == 1 })
	if n := h.channel.countKind(signaling.KindOffer); n != 0 {
		t.Fatalf("answerer must not offer, sent %d", n)
	}

	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	waitFor(t, "in_call", func() bool { return h.session.Phase() == PhaseInCall })
	waitFor(t, "reward", func() bool { return h.rewards.count() == 1 })
}

func TestSession_OfferBeforeAcceptProceeds(t *testing.T) {
	h := newHarness(t, "bob", "alice")

	h.deliver(t, `{"type":"ring","from":"alice","payload":{"mode":"video"}}`)
	waitFor(t, "incoming", func() bool { return h.session.Phase() == PhaseIncoming })

	h.deliver(t, `{"type":"offer","from":"alice","payload":{"mode":"video","sdp":"v=0 offer"}}`)
	waitFor(t, "connecting", func() bool { return h.session.Phase() == PhaseConnecting })
	waitFor(t, "answer", func() bool { return h.channel.countKind(signaling.KindAnswer) == 1 })

	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	waitFor(t, "in_call", func() bool { return h.session.Phase() == PhaseInCall })
}

func TestSession_BusyRingRejected(t *testing.T) {
	// Mid-call: a second ring answers busy without disturbing state.
	h := newHarness(t, "alice", "bob")
	if err := h.session.StartCall(signaling.ModeVideo); err != nil {
		t.Fatalf("start call: %v", err)
	}
	h.deliver(t, `{"type":"ring","from":"bob","payload":{"mode":"video"}}`)
	waitFor(t, "busy reject", func() bool { return h.channel.countKind(signaling.KindReject) == 1 })
	r, ok := h.channel.lastReject()
	if !ok || r.Reason != signaling.RejectBusy {
		t.Fatalf("expected busy reject, got %+v", r)
	}
	if got := h.session.Phase(); got != PhaseOutgoing {
		t.Fatalf("busy reject must not change phase, got %s", got)
	}

	// Idle but externally busy, e.g. still searching with rejection
	// turned on.
	busy := newHarness(t, "carol", "dave", func(p *Params) {
		p.Busy = func() bool { return true }
	})
	busy.deliver(t, `{"type":"ring","from":"dave","payload":{"mode":"video"}}`)
	waitFor(t, "busy reject", func() bool { return busy.channel.countKind(signaling.KindReject) == 1 })
	if got := busy.session.Phase(); got != PhaseIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestSession_RingTimeout(t *testing.T) {
	h := newHarness(t, "alice", "bob", func(p *Params) {
		p.Config.RingTimeout = 80 * time.Millisecond
	})
	if err := h.session.StartCall(signaling.ModeAudio); err != nil {
		t.Fatalf("start call: %v", err)
	}

	waitFor(t, "timeout teardown", func() bool { return h.session.Phase() == PhaseIdle })
	if got := h.session.EndReason(); got != EndReasonRingTimeout {
		t.Fatalf("expected ring_timeout, got %s", got)
	}
	r, ok := h.channel.lastReject()
	if !ok || r.Reason != signaling.RejectTimeout {
		t.Fatalf("expected timeout reject, got %+v", r)
	}
	if !h.channel.isClosed() {
		t.Fatalf("expected channel closed on teardown")
	}
}

func TestSession_ConnectTimeout(t *testing.T) {
	h := newHarness(t, "alice", "bob", func(p *Params) {
		p.Config.ConnectTimeout = 80 * time.Millisecond
	})
	if err := h.session.StartCall(signaling.ModeVideo); err != nil {
		t.Fatalf("start call: %v", err)
	}
	h.deliver(t, `{"type":"ready","from":"bob"}`)
	h.deliver(t, `{"type":"accept","from":"bob","payload":{"mode":"video"}}`)
	waitFor(t, "offer", func() bool { return h.channel.countKind(signaling.KindOffer) == 1 })

	// No connected event arrives.
	waitFor(t, "connect timeout", func() bool { return h.session.Phase() == PhaseIdle })
	if got := h.session.EndReason(); got != EndReasonConnectTimeout {
		t.Fatalf("expected connect_timeout, got %s", got)
	}
}

func TestSession_CandidateBufferingSkipsMalformed(t *testing.T) {
	h := newHarness(t, "bob", "alice")

	h.deliver(t, `{"type":"ring","from":"alice","payload":{"mode":"video"}}`)
	waitFor(t, "incoming", func() bool { return h.session.Phase() == PhaseIncoming })
	if err := h.session.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Candidates trickle in before the offer; the middle one is junk.
	h.deliver(t, `{"type":"ice","from":"alice","payload":{"candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 9 typ host"}}}`)
	h.deliver(t, `{"type":"ice","from":"alice","payload":{"candidate":42}}`)
	h.deliver(t, `{"type":"ice","from":"alice","payload":{"candidate":{"candidate":"candidate:3 1 udp 1 10.0.0.3 9 typ host"}}}`)
	time.Sleep(50 * time.Millisecond)
	if n := len(h.transport.candidateList()); n != 0 {
		t.Fatalf("candidates applied before remote description: %d", n)
	}

	h.deliver(t, `{"type":"offer","from":"alice","payload":{"mode":"video","sdp":"v=0 offer"}}`)
	waitFor(t, "buffer flush", func() bool { return len(h.transport.candidateList()) == 2 })

	got := h.transport.candidateList()
	if got[0].Candidate != "candidate:1 1 udp 1 10.0.0.1 9 typ host" {
		t.Fatalf("first candidate out of order: %q", got[0].Candidate)
	}
	if got[1].Candidate != "candidate:3 1 udp 1 10.0.0.3 9 typ host" {
		t.Fatalf("second candidate out of order: %q", got[1].Candidate)
	}
	if got := h.session.Phase(); got == PhaseIdle {
		t.Fatalf("malformed candidate must not end the session")
	}
}

func TestSession_ICERestartOnlyOnce(t *testing.T) {
	h := inCallSession(t)

	h.transport.fireState(webrtc.PeerConnectionStateFailed)
	waitFor(t, "restart offer", func() bool { return h.transport.restartCount() == 1 })
	if got := h.session.Phase(); got != PhaseConnecting {
		t.Fatalf("expected connecting during restart, got %s", got)
	}
	if n := h.channel.countKind(signaling.KindOffer); n != 2 {
		t.Fatalf("expected restart offer on the wire, got %d offers", n)
	}

	// A second failure is unrecoverable.
	h.transport.fireState(webrtc.PeerConnectionStateFailed)
	waitFor(t, "terminated", func() bool { return h.session.Phase() == PhaseIdle })
	if got := h.session.EndReason(); got != EndReasonFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if n := h.transport.restartCount(); n != 1 {
		t.Fatalf("expected exactly one restart, got %d", n)
	}
}

func TestSession_NonOffererNeverRestarts(t *testing.T) {
	h := newHarness(t, "bob", "alice")
	h.deliver(t, `{"type":"ring","from":"alice","payload":{"mode":"video"}}`)
	waitFor(t, "incoming", func() bool { return h.session.Phase() == PhaseIncoming })
	if err := h.session.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	h.deliver(t, `{"type":"offer","from":"alice","payload":{"mode":"video","sdp":"v=0 offer"}}`)
	waitFor(t, "answer", func() bool { return h.channel.countKind(signaling.KindAnswer) == 1 })
	h.transport.fireState(webrtc.PeerConnectionStateConnected)
	waitFor(t, "in_call", func() bool { return h.session.Phase() == PhaseInCall })

	h.transport.fireState(webrtc.PeerConnectionStateFailed)
	waitFor(t, "terminated", func() bool { return h.session.Phase() == PhaseIdle })
	if n := h.transport.restartCount(); n != 0 {
		t.Fatalf("answerer attempted a restart")
	}
	if got := h.session.EndReason(); got != EndReasonFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestSession_DisconnectGrace(t *testing.T) {
	recovered := inCallSession(t, func(p *Params) {
		p.Config.DisconnectGrace = 60 * time.Millisecond
	})
	recovered.transport.fireState(webrtc.PeerConnectionStateDisconnected)
	recovered.transport.fireState(webrtc.PeerConnectionStateConnected)
	time.Sleep(120 * time.Millisecond)
	if got := recovered.session.Phase(); got != PhaseInCall {
		t.Fatalf("expected recovery to keep the call, got %s", got)
	}

	lost := inCallSession(t, func(p *Params) {
		p.Config.DisconnectGrace = 60 * time.Millisecond
	})
	lost.transport.fireState(webrtc.PeerConnectionStateDisconnected)
	waitFor(t, "grace expiry", func() bool { return lost.session.Phase() == PhaseIdle })
	if got := lost.session.EndReason(); got != EndReasonLost {
		t.Fatalf("expected lost, got %s", got)
	}
}

func TestSession_TeardownIdempotent(t *testing.T) {
	h := inCallSession(t)
	waitFor(t, "reward", func() bool { return h.rewards.count() == 1 })

	// Remote hangup, local hangup and a context cancel all race the
	// same teardown.
	h.deliver(t, `{"type":"hangup","from":"bob"}`)
	waitFor(t, "ended", func() bool { return h.session.Phase() == PhaseIdle })
	h.session.HangUp()
	h.session.HangUp()
	h.cancel()
	<-h.session.Done()

	if got := h.session.EndReason(); got != EndReasonHangup {
		t.Fatalf("first teardown reason must win, got %s", got)
	}
	if n := h.media.closedCount(); n != 1 {
		t.Fatalf("media released %d times", n)
	}
	if n := h.transport.closedCount(); n != 1 {
		t.Fatalf("transport closed %d times", n)
	}
	if n := h.rewards.count(); n != 1 {
		t.Fatalf("reward notified %d times", n)
	}
}

func TestSession_MaxDurationEndsCall(t *testing.T) {
	h := inCallSession(t, func(p *Params) {
		p.Config.MaxDuration = 80 * time.Millisecond
	})
	waitFor(t, "max duration teardown", func() bool { return h.session.Phase() == PhaseIdle })
	if got := h.session.EndReason(); got != EndReasonMaxDuration {
		t.Fatalf("expected max_duration, got %s", got)
	}
	if n := h.channel.countKind(signaling.KindHangup); n != 1 {
		t.Fatalf("expected hangup on the wire, got %d", n)
	}
}

func TestSession_DeclineAndRemoteReject(t *testing.T) {
	// Callee declines.
	callee := newHarness(t, "bob", "alice")
	callee.deliver(t, `{"type":"ring","from":"alice","payload":{"mode":"video"}}`)
	waitFor(t, "incoming", func() bool { return callee.session.Phase() == PhaseIncoming })
	if err := callee.session.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	r, ok := callee.channel.lastReject()
	if !ok || r.Reason != signaling.RejectDeclined {
		t.Fatalf("expected declined reject, got %+v", r)
	}
	if got := callee.session.EndReason(); got != EndReasonDeclined {
		t.Fatalf("expected declined, got %s", got)
	}

	// Caller learns of the decline.
	caller := newHarness(t, "alice", "bob")
	if err := caller.session.StartCall(signaling.ModeVideo); err != nil {
		t.Fatalf("start call: %v", err)
	}
	caller.deliver(t, `{"type":"reject","from":"bob","payload":{"reason":"declined"}}`)
	waitFor(t, "ended", func() bool { return caller.session.Phase() == PhaseIdle })
	if got := caller.session.EndReason(); got != EndReasonDeclined {
		t.Fatalf("expected declined, got %s", got)
	}
}

func TestSession_ContextCancelHangsUp(t *testing.T) {
	h := inCallSession(t)
	h.cancel()
	<-h.session.Done()
	if got := h.session.EndReason(); got != EndReasonLocalHangup {
		t.Fatalf("expected local_hangup, got %s", got)
	}
	if n := h.channel.countKind(signaling.KindHangup); n != 1 {
		t.Fatalf("expected hangup sent, got %d", n)
	}
}

func TestSession_MuteTogglesTracksOnly(t *testing.T) {
	h := inCallSession(t)
	h.session.SetAudioEnabled(false)
	if h.media.audio() {
		t.Fatalf("expected audio disabled")
	}
	if got := h.session.Phase(); got != PhaseInCall {
		t.Fatalf("mute must not change phase, got %s", got)
	}
	h.session.SetAudioEnabled(true)
	if !h.media.audio() {
		t.Fatalf("expected audio re-enabled")
	}
}

func TestSession_StaleMediaClosedAfterTeardown(t *testing.T) {
	blocked := &fakeMedia{block: make(chan struct{})}
	h := newHarness(t, "alice", "bob", func(p *Params) {
		p.Media = blocked
	})
	if err := h.session.StartCall(signaling.ModeVideo); err != nil {
		t.Fatalf("start call: %v", err)
	}
	h.deliver(t, `{"type":"ready","from":"bob"}`)
	h.deliver(t, `{"type":"accept","from":"bob","payload":{"mode":"video"}}`)
	waitFor(t, "connecting", func() bool { return h.session.Phase() == PhaseConnecting })

	// Teardown wins while acquisition is stuck on the device prompt.
	h.session.HangUp()
	close(blocked.block)

	waitFor(t, "stale media released", func() bool { return blocked.closedCount() == 1 })
	if n := h.channel.countKind(signaling.KindOffer); n != 0 {
		t.Fatalf("stale continuation sent an offer")
	}
}
