package call

import (
	"errors"

	"paircall/internal/signaling"
)

// Phase is the local lifecycle state of a session. Exactly one session
// exists per participant at a time; idle is both the initial and the
// terminal phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseOutgoing   Phase = "outgoing"
	PhaseIncoming   Phase = "incoming"
	PhaseConnecting Phase = "connecting"
	PhaseInCall     Phase = "in_call"
)

// EndReason records why a session reached idle for good.
type EndReason string

const (
	EndReasonNone           EndReason = ""
	EndReasonDeclined       EndReason = "declined"
	EndReasonBusy           EndReason = "busy"
	EndReasonRingTimeout    EndReason = "ring_timeout"
	EndReasonConnectTimeout EndReason = "connect_timeout"
	EndReasonHangup         EndReason = "hangup"
	EndReasonLocalHangup    EndReason = "local_hangup"
	EndReasonLost           EndReason = "lost"
	EndReasonFailed         EndReason = "failed"
	EndReasonMaxDuration    EndReason = "max_duration"
	EndReasonChannelClosed  EndReason = "channel_closed"
)

var (
	ErrNotIdle    = errors.New("call: session is not idle")
	ErrNoIncoming = errors.New("call: no incoming call to answer")
	ErrEnded      = errors.New("call: session already ended")
)

func rejectEndReason(reason string) EndReason {
	switch reason {
	case signaling.RejectBusy:
		return EndReasonBusy
	case signaling.RejectTimeout:
		return EndReasonRingTimeout
	default:
		return EndReasonDeclined
	}
}

func normalizeMode(m signaling.Mode) signaling.Mode {
	if m.Valid() {
		return m
	}
	return signaling.ModeVideo
}
