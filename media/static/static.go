// Package static provides synthetic local media for headless peers: a
// silent Opus track and a VP8 track of empty frames.
package static

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/media"
)

// Source is the name the provider is registered under.
const Source = "static"

const (
	audioInterval = 20 * time.Millisecond
	audioClock    = 48000
	videoClock    = 90000
)

var (
	// opusSilence is one 20ms Opus frame of silence.
	opusSilence = []byte{0xf8, 0xff, 0xfe}

	// vp8Frame carries a payload descriptor with the start bit set.
	vp8Frame = []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a}
)

func init() {
	media.Register(Source, func(config media.Config) (media.Provider, error) {
		return New(config), nil
	})
}

// Provider hands out synthetic streams.
type Provider struct {
	config media.Config
}

// New creates a Provider.
func New(config media.Config) *Provider {
	return &Provider{config: config.WithDefaults()}
}

// Acquire creates the tracks the call type needs and starts writing packets.
func (p *Provider) Acquire(ctx context.Context, callType database.CallType) (*media.LocalStream, error) {
	if err := callType.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := "duocall-" + shortuuid.New()
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audioClock, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	audioTrack := start(audio, audioInterval, audioClock/50, opusSilence)

	var videoTrack *media.Track
	if callType.HasVideo() {
		video, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: videoClock},
			"video", streamID,
		)
		if err != nil {
			_ = audioTrack.Stop()
			return nil, fmt.Errorf("create video track: %w", err)
		}
		fps := p.config.FrameRate
		videoTrack = start(video, time.Duration(float64(time.Second)/fps), uint32(videoClock/fps), vp8Frame)
	}

	log.Debug().Str("stream_id", streamID).Str("call_type", string(callType)).Msg("static media acquired")
	return media.NewLocalStream(callType, audioTrack, videoTrack), nil
}

// Release stops the writers of the stream.
func (p *Provider) Release(stream *media.LocalStream) error {
	if stream == nil {
		return nil
	}
	return stream.Stop()
}

// start writes one packet per interval while the track is enabled. A
// disabled track keeps advancing its timestamp so the receiver sees a gap.
func start(local *webrtc.TrackLocalStaticRTP, interval time.Duration, step uint32, payload []byte) *media.Track {
	done := make(chan struct{})
	var wg sync.WaitGroup
	track := media.NewTrack(local, func() error {
		close(done)
		wg.Wait()
		return nil
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var seq uint16
		var ts uint32
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			ts += step
			if !track.Enabled() {
				continue
			}
			seq++
			err := local.WriteRTP(&rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         true,
					SequenceNumber: seq,
					Timestamp:      ts,
				},
				Payload: payload,
			})
			if err != nil && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Str("track", local.ID()).Msg("failed to write static packet")
			}
		}
	}()
	return track
}
