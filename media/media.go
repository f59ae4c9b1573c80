package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"duocall/database"
)

// Track is one local track. Disabling it keeps the track negotiated but
// stops its samples, so toggling needs no renegotiation.
type Track struct {
	local   webrtc.TrackLocal
	enabled atomic.Bool
	stopped atomic.Bool

	stopOnce sync.Once
	stop     func() error
	stopErr  error
}

// NewTrack creates an enabled Track. stop releases the source of the track.
func NewTrack(local webrtc.TrackLocal, stop func() error) *Track {
	t := &Track{local: local, stop: stop}
	t.enabled.Store(true)
	return t
}

// Local returns the track handed to the peer link.
func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

// Kind returns the kind of the track.
func (t *Track) Kind() webrtc.RTPCodecType {
	return t.local.Kind()
}

// Enabled returns whether samples are sent.
func (t *Track) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled enables or disables the track. A stopped track stays disabled.
func (t *Track) SetEnabled(enabled bool) {
	if t.stopped.Load() {
		return
	}
	t.enabled.Store(enabled)
}

// Stopped returns whether Stop was called.
func (t *Track) Stopped() bool {
	return t.stopped.Load()
}

// Stop releases the source. It is safe to call more than once.
func (t *Track) Stop() error {
	t.stopOnce.Do(func() {
		t.stopped.Store(true)
		t.enabled.Store(false)
		if t.stop != nil {
			t.stopErr = t.stop()
		}
	})
	return t.stopErr
}

// LocalStream is the local media of one call.
type LocalStream struct {
	callType database.CallType
	audio    *Track
	video    *Track
}

// NewLocalStream creates a LocalStream. audio or video may be nil.
func NewLocalStream(callType database.CallType, audio, video *Track) *LocalStream {
	return &LocalStream{callType: callType, audio: audio, video: video}
}

// CallType returns the call type the stream was acquired for.
func (s *LocalStream) CallType() database.CallType {
	return s.callType
}

// Audio returns the audio track or nil.
func (s *LocalStream) Audio() *Track {
	if s == nil {
		return nil
	}
	return s.audio
}

// Video returns the video track or nil.
func (s *LocalStream) Video() *Track {
	if s == nil {
		return nil
	}
	return s.video
}

// Tracks returns the present tracks, audio first.
func (s *LocalStream) Tracks() []*Track {
	var tracks []*Track
	if a := s.Audio(); a != nil {
		tracks = append(tracks, a)
	}
	if v := s.Video(); v != nil {
		tracks = append(tracks, v)
	}
	return tracks
}

// ToggleAudio flips the audio track and returns its new state. Without an
// audio track it returns false.
func (s *LocalStream) ToggleAudio() bool {
	return toggle(s.Audio())
}

// ToggleVideo flips the video track and returns its new state. Without a
// video track it returns false.
func (s *LocalStream) ToggleVideo() bool {
	return toggle(s.Video())
}

func toggle(t *Track) bool {
	if t == nil || t.Stopped() {
		return false
	}
	enabled := !t.Enabled()
	t.SetEnabled(enabled)
	return enabled
}

// Stop stops every track.
func (s *LocalStream) Stop() error {
	var errs []error
	for _, t := range s.Tracks() {
		if err := t.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
