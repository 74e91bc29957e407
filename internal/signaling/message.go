// Package signaling relays call-control messages between the two
// participants of a match over WebSocket rooms.
package signaling

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a signal on the wire. The set is closed: decoding any
// other kind is an error, never a silent no-op.
type Kind string

const (
	KindRing     Kind = "ring"
	KindAccept   Kind = "accept"
	KindReject   Kind = "reject"
	KindOffer    Kind = "offer"
	KindAnswer   Kind = "answer"
	KindICE      Kind = "ice"
	KindHangup   Kind = "hangup"
	KindReady    Kind = "ready"
	KindPresence Kind = "presence"
	KindJoin     Kind = "join"
	KindLeave    Kind = "leave"
)

// Valid reports whether k belongs to the closed signal set.
func (k Kind) Valid() bool {
	switch k {
	case KindRing, KindAccept, KindReject, KindOffer, KindAnswer,
		KindICE, KindHangup, KindReady, KindPresence, KindJoin, KindLeave:
		return true
	}
	return false
}

// Mode selects the media for a call.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

func (m Mode) Valid() bool { return m == ModeAudio || m == ModeVideo }

// Reject reasons the bundled client distinguishes.
const (
	RejectBusy     = "busy"
	RejectDeclined = "declined"
	RejectTimeout  = "timeout"
)

// Envelope is the JSON frame exchanged over the WebSocket.
//
// From names the participant the signal is about. The hub overwrites it
// with the authenticated sender on every relayed frame, so a client can
// never impersonate its peer; server-authored signals (presence, join,
// leave) carry the subject's id, or empty for the presence snapshot.
// Because the hub broadcasts to the whole room, receivers discard frames
// whose From equals their own id.
type Envelope struct {
	Kind    Kind            `json:"type"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Signal is the decoded form of an envelope. Implementations are exactly
// the variants in this file; the embedded base seals the interface.
type Signal interface {
	Kind() Kind
	Sender() string
	sealed()
}

type base struct {
	From string `json:"-"`
}

func (b base) Sender() string { return b.From }
func (base) sealed()          {}

// Ring asks the peer to start a call.
type Ring struct {
	base
	Mode Mode `json:"mode,omitempty"`
}

// Accept answers a ring; the offer follows from the ringing side.
type Accept struct {
	base
	Mode Mode `json:"mode,omitempty"`
}

// Reject declines a ring.
type Reject struct {
	base
	Reason string `json:"reason,omitempty"`
}

// Offer carries a session description, initial or ICE-restart.
type Offer struct {
	base
	Mode Mode   `json:"mode,omitempty"`
	SDP  string `json:"sdp"`
}

// Answer carries the responding session description.
type Answer struct {
	base
	SDP string `json:"sdp"`
}

// ICE carries one trickled candidate as its JSON-encoded init form. The
// payload is opaque to the relay; the receiving side decodes it and skips
// candidates it cannot apply.
type ICE struct {
	base
	Candidate json.RawMessage `json:"candidate"`
}

// Hangup ends the call from either side.
type Hangup struct {
	base
}

// Ready announces the sender is subscribed and listening.
type Ready struct {
	base
}

// Presence is the server-authored snapshot sent to a fresh subscriber.
// Peers lists the other members already in the room, so a non-empty list
// means the peer is reachable right now.
type Presence struct {
	base
	Peers []string `json:"peers"`
}

// Join is the server-authored notice that From subscribed.
type Join struct {
	base
}

// Leave is the server-authored notice that From is gone.
type Leave struct {
	base
}

func (Ring) Kind() Kind     { return KindRing }
func (Accept) Kind() Kind   { return KindAccept }
func (Reject) Kind() Kind   { return KindReject }
func (Offer) Kind() Kind    { return KindOffer }
func (Answer) Kind() Kind   { return KindAnswer }
func (ICE) Kind() Kind      { return KindICE }
func (Hangup) Kind() Kind   { return KindHangup }
func (Ready) Kind() Kind    { return KindReady }
func (Presence) Kind() Kind { return KindPresence }
func (Join) Kind() Kind     { return KindJoin }
func (Leave) Kind() Kind    { return KindLeave }

// Encode serializes a signal to its wire frame.
func Encode(s Signal) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("signaling: encode %s: %w", s.Kind(), err)
	}
	return json.Marshal(Envelope{Kind: s.Kind(), From: s.Sender(), Payload: payload})
}

// Decode parses a wire frame into its concrete variant.
func Decode(data []byte) (Signal, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("signaling: malformed frame: %w", err)
	}
	return env.Signal()
}

// Signal materializes the envelope's payload as its concrete variant.
func (e Envelope) Signal() (Signal, error) {
	switch e.Kind {
	case KindRing:
		var v Ring
		if err := e.payloadInto(&v); err != nil {
			return nil, err
		}
		v.From = e.From
		return v, nil
	case KindAccept:
		var v Accept
		if err := e.payloadInto(&v); err != nil {
			return nil, err
		}
		v.From = e.From
		return v, nil
	case KindReject:
		var v Reject
		if err := e.payloadInto(&v); err != nil {
			return nil, err
		}
		v.From = e.From
		return v, nil
	case KindOffer:
		var v Offer
		if err := e.payloadInto(&v); err != nil {
			return nil, err
		}
		v.From = e.From
		return v, nil
	case KindAnswer:
		var v Answer
		if err := e.payloadInto(&v); err != nil {
			return nil, err
		}
		v.From = e.From
		return v, nil
	case KindICE:
		var v ICE
		if err := e.payloadInto(&v); err != nil {
			return nil, err
		}
		v.From = e.From
		return v, nil
	case KindHangup:
		return Hangup{base{From: e.From}}, nil
	case KindReady:
		return Ready{base{From: e.From}}, nil
	case KindPresence:
		var v Presence
		if err := e.payloadInto(&v); err != nil {
			return nil, err
		}
		v.From = e.From
		return v, nil
	case KindJoin:
		return Join{base{From: e.From}}, nil
	case KindLeave:
		return Leave{base{From: e.From}}, nil
	default:
		return nil, fmt.Errorf("signaling: unknown signal kind %q", e.Kind)
	}
}

func (e Envelope) payloadInto(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("signaling: bad %s payload: %w", e.Kind, err)
	}
	return nil
}
