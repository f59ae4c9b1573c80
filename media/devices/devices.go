//go:build devices

package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"duocall/database"
	"duocall/media"
)

func init() {
	media.Register(Source, func(config media.Config) (media.Provider, error) {
		return New(config)
	})
}

// Provider captures local devices.
type Provider struct {
	config   media.Config
	selector *mediadevices.CodecSelector
}

// New creates a Provider with VP8 and Opus encoders.
func New(config media.Config) (*Provider, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Provider{
		config: config.WithDefaults(),
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Acquire captures the devices the call type needs. When the preferred
// video constraints cannot be met it retries with any camera format.
func (p *Provider) Acquire(ctx context.Context, callType database.CallType) (*media.LocalStream, error) {
	if err := callType.Validate(); err != nil {
		return nil, err
	}
	if len(mediadevices.EnumerateDevices()) == 0 {
		return nil, media.CaptureError(media.ErrNoDevice)
	}

	attempts := []func(*mediadevices.MediaTrackConstraints){nil}
	if callType.HasVideo() {
		attempts = []func(*mediadevices.MediaTrackConstraints){
			func(c *mediadevices.MediaTrackConstraints) {
				c.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatI444, frame.FormatRGBA}
				c.Width = prop.IntRanged{Max: p.config.Width}
				c.Height = prop.IntRanged{Max: p.config.Height}
				c.FrameRate = prop.FloatRanged{Max: float32(p.config.FrameRate)}
			},
			func(*mediadevices.MediaTrackConstraints) {},
		}
	}

	var lastErr error
	for i, video := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		constraints := mediadevices.MediaStreamConstraints{
			Codec: p.selector,
			Audio: func(*mediadevices.MediaTrackConstraints) {},
			Video: video,
		}
		captured, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Msg("failed to capture media")
			lastErr = err
			continue
		}

		stream, err := p.wrap(callType, captured)
		if err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Msg("failed to encode captured media")
			lastErr = err
			continue
		}
		return stream, nil
	}
	return nil, media.CaptureError(lastErr)
}

// Release stops the capture.
func (p *Provider) Release(stream *media.LocalStream) error {
	if stream == nil {
		return nil
	}
	return stream.Stop()
}

func (p *Provider) wrap(callType database.CallType, captured mediadevices.MediaStream) (*media.LocalStream, error) {
	var audio, video *media.Track
	closeAll := func() {
		for _, t := range captured.GetTracks() {
			_ = t.Close()
		}
	}

	for _, t := range captured.GetTracks() {
		var (
			track *media.Track
			err   error
		)
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			track, err = encode(t, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2})
			audio = track
		case webrtc.RTPCodecTypeVideo:
			track, err = encode(t, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000})
			video = track
		}
		if err != nil {
			if audio != nil {
				_ = audio.Stop()
			}
			closeAll()
			return nil, err
		}
	}
	if audio == nil {
		closeAll()
		return nil, media.ErrNoDevice
	}
	return media.NewLocalStream(callType, audio, video), nil
}

// encode pumps the encoded frames of a captured track into a sample track.
// Frames of a disabled track are dropped.
func encode(captured mediadevices.Track, capability webrtc.RTPCodecCapability) (*media.Track, error) {
	reader, err := captured.NewEncodedReader(capability.MimeType)
	if err != nil {
		return nil, fmt.Errorf("encoded reader %s: %w", capability.MimeType, err)
	}

	local, err := webrtc.NewTrackLocalStaticSample(capability, captured.Kind().String(), captured.StreamID())
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	done := make(chan struct{})
	track := media.NewTrack(local, func() error {
		err := reader.Close()
		<-done
		return errors.Join(err, captured.Close())
	})

	go func() {
		defer close(done)
		for {
			buf, release, err := reader.Read()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug().Err(err).Str("track", captured.ID()).Msg("capture stopped")
				}
				return
			}
			if track.Enabled() {
				duration := time.Duration(buf.Samples) * time.Second / time.Duration(capability.ClockRate)
				if err := local.WriteSample(pionmedia.Sample{Data: buf.Data, Duration: duration}); err != nil {
					log.Debug().Err(err).Str("track", captured.ID()).Msg("failed to write sample")
				}
			}
			release()
		}
	}()
	return track, nil
}
