package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"paircall/internal/apiclient"
	"paircall/internal/call"
	"paircall/internal/config"
	"paircall/internal/signaling"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

var (
	flagAlias       string
	flagMode        string
	flagLoop        bool
	flagPollBackoff time.Duration
	flagHintAfter   int
	flagStun        []string
	flagRejectBusy  bool
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Queue for a partner and run calls until stopped",
	Long: `Queue for a partner, then ring, negotiate and stream synthetic media
over WebRTC.

Examples:
  paircall call
  paircall call --mode audio --alias scout
  paircall call --loop --server https://pair.example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagDebug {
			enableDebug()
		}
		mode := signaling.Mode(flagMode)
		if !mode.Valid() {
			return fmt.Errorf("invalid --mode %q (want audio or video)", flagMode)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runBot(ctx, mode)
	},
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().StringVarP(&flagAlias, "alias", "a", "", "Display alias (default: server-generated)")
	callCmd.Flags().StringVarP(&flagMode, "mode", "m", "video", "Call mode: audio or video")
	callCmd.Flags().BoolVar(&flagLoop, "loop", false, "Re-queue after every call instead of exiting")
	callCmd.Flags().DurationVar(&flagPollBackoff, "poll-backoff", 4*time.Second, "Wait between empty pairing attempts")
	callCmd.Flags().IntVar(&flagHintAfter, "hint-after", 3, "Empty attempts before noting nobody is available")
	callCmd.Flags().StringSliceVar(&flagStun, "stun", nil, "STUN URLs (default: public Google servers)")
	callCmd.Flags().BoolVar(&flagRejectBusy, "reject-while-searching", false, "Answer busy to rings that arrive while still queued")
}

func runBot(ctx context.Context, mode signaling.Mode) error {
	api := apiclient.New(flagServer)

	sess, err := api.CreateSession(ctx, flagAlias)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	logInfo("session ready: alias %s, id %s", sess.Alias, shortID(sess.UserID))

	var searching atomic.Bool

	for {
		m, err := waitForMatch(ctx, api, &searching)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logInfo("goodbye")
				return nil
			}
			return err
		}
		logInfo("matched with %s (match %s)", shortID(m.PartnerID), shortID(m.ID))

		if err := runCall(ctx, api, m, mode, &searching); err != nil {
			if ctx.Err() != nil {
				logInfo("goodbye")
				return nil
			}
			logWarn("call failed: %v", err)
		}

		if !flagLoop || ctx.Err() != nil {
			return nil
		}
	}
}

// waitForMatch polls until paired. The "no one available" hint fires
// after a few empty attempts, but polling continues until cancelled.
func waitForMatch(ctx context.Context, api *apiclient.Client, searching *atomic.Bool) (apiclient.Match, error) {
	searching.Store(true)
	defer searching.Store(false)

	logInfo("searching for a partner...")
	for attempt := 1; ; attempt++ {
		m, ok, err := api.RequestMatch(ctx)
		switch {
		case err == nil && ok:
			return m, nil
		case err == nil:
			// still queued
		case apiclient.IsStatus(err, http.StatusTooManyRequests):
			logWarn("rate limited, backing off")
		default:
			return apiclient.Match{}, err
		}

		if attempt == flagHintAfter {
			logInfo("no one available yet, still searching")
		}
		select {
		case <-ctx.Done():
			return apiclient.Match{}, ctx.Err()
		case <-time.After(flagPollBackoff):
		}
	}
}

// runCall drives one full call on a fresh signaling channel and tears
// the match down afterwards so the next search starts clean.
func runCall(parent context.Context, api *apiclient.Client, m apiclient.Match, mode signaling.Mode, searching *atomic.Bool) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	ch, err := signaling.Dial(ctx, api.SocketURL(m.ID), api.AccessToken())
	if err != nil {
		return fmt.Errorf("dial signaling: %w", err)
	}
	defer ch.Close()

	cfg := config.DefaultCallConfig()
	if len(flagStun) > 0 {
		cfg.STUNURLs = flagStun
	}

	var sess *call.Session
	events := call.Events{
		PhaseChanged: func(p call.Phase) {
			logPhase(p)
			if p == call.PhaseIncoming {
				logInfo("answering automatically")
				if err := sess.Accept(); err != nil {
					logDebug("accept skipped: %v", err)
				}
			}
		},
		RemoteTrack: func(track *webrtc.TrackRemote) {
			logInfo("receiving %s from peer", track.Kind())
		},
	}

	sess, err = call.NewSession(call.Params{
		MatchID:      m.ID,
		UserID:       api.UserID(),
		PeerID:       m.PartnerID,
		Channel:      ch,
		NewTransport: call.NewPeerTransport(cfg.STUNURLs),
		Media:        call.SyntheticSource{},
		Rewards:      connectedReporter{api: api},
		Busy: func() bool {
			return flagRejectBusy && searching.Load()
		},
		Config: cfg,
		Events: events,
	})
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	sess.Start(ctx)

	if sess.Offerer() {
		logInfo("placing %s call to %s", mode, shortID(m.PartnerID))
		if err := sess.StartCall(mode); err != nil {
			return fmt.Errorf("start call: %w", err)
		}
	} else {
		logInfo("waiting for %s to call", shortID(m.PartnerID))
	}

	<-sess.Done()
	logInfo("call over: %s", reasonText(sess.EndReason()))

	// Clear the pairing so the next search gets a fresh partner. Runs on
	// its own context so Ctrl+C still leaves the match ended.
	endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer endCancel()
	if err := api.EndMatch(endCtx, m.ID); err != nil {
		logWarn("end match: %v", err)
	}
	return nil
}

// connectedReporter posts the one-time connected credit and shows the
// running balance.
type connectedReporter struct {
	api *apiclient.Client
}

func (r connectedReporter) CallConnected(ctx context.Context, matchID string) error {
	bal, err := r.api.ReportConnected(ctx, matchID)
	if err != nil {
		return err
	}
	logInfo("connected credit posted, balance %d points", bal.Points)
	return nil
}

func logPhase(p call.Phase) {
	switch p {
	case call.PhaseOutgoing:
		logInfo("ringing...")
	case call.PhaseIncoming:
		logInfo("incoming call")
	case call.PhaseConnecting:
		logInfo("connecting...")
	case call.PhaseInCall:
		logInfo("in call")
	}
}

func reasonText(r call.EndReason) string {
	switch r {
	case call.EndReasonLocalHangup:
		return "hung up"
	case call.EndReasonHangup:
		return "partner hung up"
	case call.EndReasonDeclined:
		return "partner declined"
	case call.EndReasonBusy:
		return "partner is busy"
	case call.EndReasonRingTimeout:
		return "no answer"
	case call.EndReasonConnectTimeout:
		return "could not connect"
	case call.EndReasonLost:
		return "connection lost"
	case call.EndReasonFailed:
		return "transport failed"
	case call.EndReasonMaxDuration:
		return "time limit reached"
	case call.EndReasonChannelClosed:
		return "signaling lost"
	default:
		return string(r)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
