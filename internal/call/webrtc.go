package call

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// PeerTransport adapts a pion PeerConnection to the Transport a
// session drives. Candidates trickle: descriptions are returned as
// soon as they are installed and each gathered candidate flows through
// the OnICECandidate callback.
type PeerTransport struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onCandidate func(webrtc.ICECandidateInit)

	closeOnce sync.Once
	closeErr  error
}

var _ Transport = (*PeerTransport)(nil)

// NewPeerTransport builds a transport factory for the given STUN
// servers.
func NewPeerTransport(stunURLs []string) TransportFactory {
	return func() (Transport, error) {
		cfg := webrtc.Configuration{}
		if len(stunURLs) > 0 {
			cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
		}
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		t := &PeerTransport{pc: pc}
		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				// End-of-gathering marker.
				return
			}
			t.mu.Lock()
			fn := t.onCandidate
			t.mu.Unlock()
			if fn != nil {
				fn(c.ToJSON())
			}
		})
		return t, nil
	}
}

func (t *PeerTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := t.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

func (t *PeerTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

func (t *PeerTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *PeerTransport) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(cand)
}

// AddTrack attaches a local track and drains its RTCP stream so the
// interceptors behind the sender keep running.
func (t *PeerTransport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *PeerTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = fn
}

func (t *PeerTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(fn)
}

func (t *PeerTransport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (t *PeerTransport) Close() error {
	t.closeOnce.Do(func() { t.closeErr = t.pc.Close() })
	return t.closeErr
}
