package call

import (
	"context"

	"github.com/pion/webrtc/v4"

	"paircall/internal/signaling"
)

// Transport is the peer-connection surface a session drives. The
// production implementation wraps a pion PeerConnection; tests swap in
// a scripted fake.
type Transport interface {
	// CreateOffer produces a local description and installs it. With
	// iceRestart set the offer carries fresh ICE credentials so the
	// peers can renegotiate their network path.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// CreateAnswer produces the local description answering the most
	// recent remote offer and installs it.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error

	// Callbacks may fire from transport-owned goroutines at any point
	// up to Close.
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnTrack(fn func(*webrtc.TrackRemote))

	Close() error
}

// TransportFactory builds a fresh Transport. A session calls it at most
// once, lazily, when the handshake first needs a peer connection.
type TransportFactory func() (Transport, error)

// Channel is the slice of the signaling channel a session needs.
// *signaling.Channel satisfies it.
type Channel interface {
	Send(signaling.Signal) error
	// Incoming delivers every room frame, own echoes included; it
	// closes when the connection is gone.
	Incoming() <-chan signaling.Signal
	Close()
}

// MediaSource opens the local capture tracks for a mode. Acquire may
// block on device or permission prompts, so sessions call it off the
// lock and honor ctx.
type MediaSource interface {
	Acquire(ctx context.Context, mode signaling.Mode) (LocalMedia, error)
}

// LocalMedia is an acquired set of local tracks. Close releases the
// underlying devices and is safe to call more than once.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Close() error
}

// RewardNotifier is told the first time a session's transport reaches
// connected. It is never called twice for one session.
type RewardNotifier interface {
	CallConnected(ctx context.Context, matchID string) error
}

// BusyFunc reports whether the participant is occupied outside this
// session, e.g. still searching with rejection while searching turned
// on. A busy participant answers rings with a busy reject and keeps
// their own state untouched.
type BusyFunc func() bool

// Events are the callbacks a session surfaces to its embedder. All of
// them run on a single dispatch goroutine, in order, never under the
// session lock, so handlers may call back into the session. Ended is
// always the last event delivered.
type Events struct {
	PhaseChanged func(Phase)
	Ended        func(EndReason)
	RemoteTrack  func(*webrtc.TrackRemote)
}
