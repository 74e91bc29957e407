package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"paircall/internal/signaling"
)

var (
	// opusSilence is a canonical silent Opus frame.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
	// vp8Keepalive is not a decodable picture, just enough payload to
	// keep RTP flowing.
	vp8Keepalive = make([]byte, 64)
)

// SyntheticSource fabricates local media for headless clients: silence
// on the audio track and a keepalive pattern on the video track. The
// bundled bot uses it to hold real calls without capture devices.
type SyntheticSource struct{}

var _ MediaSource = SyntheticSource{}

func (SyntheticSource) Acquire(ctx context.Context, mode signaling.Mode) (LocalMedia, error) {
	id := uuid.NewString()
	m := &syntheticMedia{stop: make(chan struct{})}
	m.audioOn.Store(true)
	m.videoOn.Store(true)

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "synthetic-"+id,
	)
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}
	m.tracks = append(m.tracks, audio)
	m.wg.Add(1)
	go m.pump(audio, 20*time.Millisecond, opusSilence, &m.audioOn)

	if mode == signaling.ModeVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "synthetic-"+id,
		)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("video track: %w", err)
		}
		m.tracks = append(m.tracks, video)
		m.wg.Add(1)
		go m.pump(video, 33*time.Millisecond, vp8Keepalive, &m.videoOn)
	}
	return m, nil
}

type syntheticMedia struct {
	tracks  []webrtc.TrackLocal
	audioOn atomic.Bool
	videoOn atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (m *syntheticMedia) Tracks() []webrtc.TrackLocal { return m.tracks }

func (m *syntheticMedia) SetAudioEnabled(enabled bool) { m.audioOn.Store(enabled) }

func (m *syntheticMedia) SetVideoEnabled(enabled bool) { m.videoOn.Store(enabled) }

func (m *syntheticMedia) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}

// pump writes one sample per tick until Close. A disabled track keeps
// ticking but writes nothing, mirroring a muted device.
func (m *syntheticMedia) pump(track *webrtc.TrackLocalStaticSample, interval time.Duration, payload []byte, on *atomic.Bool) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if !on.Load() {
				continue
			}
			if err := track.WriteSample(media.Sample{Data: payload, Duration: interval}); err != nil {
				return
			}
		}
	}
}
