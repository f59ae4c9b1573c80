package media_test

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duocall/database"
	"duocall/media"
)

func newTrack(t *testing.T, kind webrtc.RTPCodecType, stop func() error) *media.Track {
	t.Helper()
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	id := "audio"
	if kind == webrtc.RTPCodecTypeVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		id = "video"
	}
	local, err := webrtc.NewTrackLocalStaticRTP(capability, id, "test")
	require.NoError(t, err)
	return media.NewTrack(local, stop)
}

func TestToggle(t *testing.T) {
	t.Run("given video stream when toggled then state flips", func(t *testing.T) {
		s := media.NewLocalStream(database.Video,
			newTrack(t, webrtc.RTPCodecTypeAudio, nil),
			newTrack(t, webrtc.RTPCodecTypeVideo, nil),
		)

		assert.False(t, s.ToggleAudio())
		assert.False(t, s.Audio().Enabled())
		assert.True(t, s.ToggleAudio())

		assert.False(t, s.ToggleVideo())
		assert.True(t, s.Audio().Enabled())
	})

	t.Run("given voice stream when video toggled then false", func(t *testing.T) {
		s := media.NewLocalStream(database.Voice, newTrack(t, webrtc.RTPCodecTypeAudio, nil), nil)
		assert.False(t, s.ToggleVideo())
		assert.False(t, s.ToggleVideo())
		assert.Len(t, s.Tracks(), 1)
	})

	t.Run("given no stream when toggled then false", func(t *testing.T) {
		var s *media.LocalStream
		assert.False(t, s.ToggleAudio())
		assert.False(t, s.ToggleVideo())
		assert.Empty(t, s.Tracks())
	})
}

func TestStop(t *testing.T) {
	stops := 0
	failure := errors.New("device stuck")
	s := media.NewLocalStream(database.Video,
		newTrack(t, webrtc.RTPCodecTypeAudio, func() error { stops++; return nil }),
		newTrack(t, webrtc.RTPCodecTypeVideo, func() error { stops++; return failure }),
	)

	assert.ErrorIs(t, s.Stop(), failure)
	assert.ErrorIs(t, s.Stop(), failure)
	assert.Equal(t, 2, stops)
	assert.False(t, s.Audio().Enabled())
}

func TestNew(t *testing.T) {
	media.Register("test-source", func(config media.Config) (media.Provider, error) {
		assert.Equal(t, media.DefaultWidth, config.Width)
		return nil, nil
	})

	_, err := media.New(media.Config{Source: "test-source"})
	assert.NoError(t, err)
	assert.Contains(t, media.Sources(), "test-source")

	_, err = media.New(media.Config{Source: "missing"})
	assert.ErrorIs(t, err, media.ErrUnknownSource)

	_, err = media.New(media.Config{Source: "test-source", Width: -1})
	assert.ErrorIs(t, err, media.ErrInvalidConfig)

	assert.Panics(t, func() {
		media.Register("test-source", nil)
	})
}

func TestToggleAfterStop(t *testing.T) {
	s := media.NewLocalStream(database.Voice, newTrack(t, webrtc.RTPCodecTypeAudio, nil), nil)
	require.NoError(t, s.Stop())
	assert.False(t, s.ToggleAudio())
	assert.False(t, s.Audio().Enabled())
}
