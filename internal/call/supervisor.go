package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"paircall/internal/signaling"
)

// transportStateChanged maps raw transport connection states onto the
// session lifecycle. Connected promotes connecting to in_call and
// fires the one-time reward notification; disconnected opens a short
// grace window; failed takes the one-shot ICE-restart path; closed
// tears down.
func (s *Session) transportStateChanged(epoch uint64, state webrtc.PeerConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.ended {
		return
	}
	s.transportState = state
	s.log.Debug("transport state changed", slog.String("state", state.String()))

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.transportConnectedLocked()
	case webrtc.PeerConnectionStateDisconnected:
		s.armGraceTimerLocked()
	case webrtc.PeerConnectionStateFailed:
		s.recoverOrEndLocked()
	case webrtc.PeerConnectionStateClosed:
		s.endLocked(EndReasonLost)
	}
}

func (s *Session) transportConnectedLocked() {
	s.stopTimerLocked(&s.connectTimer)
	s.stopTimerLocked(&s.graceTimer)
	if s.phase == PhaseConnecting {
		s.setPhaseLocked(PhaseInCall)
	}
	if s.maxTimer == nil && s.cfg.MaxDuration > 0 {
		epoch := s.epoch
		s.maxTimer = time.AfterFunc(s.cfg.MaxDuration, func() { s.maxDurationReached(epoch) })
	}
	if !s.hasCountedConnection {
		// Set before notifying and never cleared, so a reconnect or a
		// duplicate connected event cannot count twice.
		s.hasCountedConnection = true
		if s.rewards != nil {
			go s.notifyConnected()
		}
	}
}

func (s *Session) notifyConnected() {
	// The reward is owed the moment the call connects, even if it ends
	// right after, so this does not ride on the session context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.rewards.CallConnected(ctx, s.matchID); err != nil {
		s.log.Warn("connected notification failed", slog.String("error", err.Error()))
	}
}

func (s *Session) maxDurationReached(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.ended {
		return
	}
	s.sendLocked(signaling.Hangup{})
	s.endLocked(EndReasonMaxDuration)
}

// armGraceTimerLocked opens the reconnect window after a disconnect.
// A transient blip resolves when connected fires and stops the timer.
func (s *Session) armGraceTimerLocked() {
	if s.graceTimer != nil {
		return
	}
	epoch := s.epoch
	s.graceTimer = time.AfterFunc(s.cfg.DisconnectGrace, func() { s.graceExpired(epoch) })
}

func (s *Session) graceExpired(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.ended {
		return
	}
	s.graceTimer = nil
	if s.transportState != webrtc.PeerConnectionStateDisconnected {
		// The transport moved on while the timer was in flight;
		// whatever it moved to has its own handling.
		return
	}
	s.endLocked(EndReasonLost)
}

// recoverOrEndLocked is the failure recovery path: the offerer may
// attempt one ICE restart per session, anything further is
// unrecoverable.
func (s *Session) recoverOrEndLocked() {
	if !s.isOfferer || s.iceRestartAttempted || s.transport == nil {
		s.endLocked(EndReasonFailed)
		return
	}
	s.iceRestartAttempted = true
	offer, err := s.transport.CreateOffer(true)
	if err != nil {
		s.failLocked("creating restart offer failed", err)
		return
	}
	s.stopTimerLocked(&s.graceTimer)
	if s.phase == PhaseInCall {
		s.setPhaseLocked(PhaseConnecting)
	}
	s.armConnectTimerLocked()
	s.sendLocked(signaling.Offer{Mode: s.mode, SDP: offer.SDP})
}

// endLocked is the single teardown routine. Local hangup, remote
// hangup or reject, every timer expiry, transport failure and context
// cancellation all funnel here. The ended flag makes it idempotent and
// the epoch bump strands any continuation still in flight.
func (s *Session) endLocked(reason EndReason) {
	if s.ended {
		return
	}
	s.ended = true
	s.endReason = reason
	s.epoch++

	s.stopTimerLocked(&s.ringTimer)
	s.stopTimerLocked(&s.connectTimer)
	s.stopTimerLocked(&s.maxTimer)
	s.stopTimerLocked(&s.graceTimer)

	if s.localMedia != nil {
		if err := s.localMedia.Close(); err != nil {
			s.log.Warn("releasing local media failed", slog.String("error", err.Error()))
		}
		s.localMedia = nil
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			s.log.Warn("closing transport failed", slog.String("error", err.Error()))
		}
		s.transport = nil
	}
	s.pendingOffer = nil
	s.pendingCandidates = nil
	s.offerSent = false
	s.remoteDescSet = false
	s.ringHeld = false
	s.peerReady = false

	s.channel.Close()

	s.setPhaseLocked(PhaseIdle)
	s.log.Info("session ended", slog.String("reason", string(reason)))
	if s.events.Ended != nil {
		cb := s.events.Ended
		s.emitLocked(func() { cb(reason) })
	}
	s.eventqClosed = true
	close(s.eventq)
}
