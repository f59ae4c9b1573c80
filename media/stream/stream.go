// Package stream consumes the inbound tracks of the partner.
package stream

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Track is an inbound track to read packets from.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Remote reads an inbound track until it ends so its buffers never fill.
// Each packet is handed to the sink if one is set.
type Remote struct {
	track   Track
	sink    func(*rtp.Packet)
	packets atomic.Uint64
	bytes   atomic.Uint64
	done    chan struct{}
}

// New creates a Remote. sink may be nil.
func New(track Track, sink func(*rtp.Packet)) *Remote {
	return &Remote{
		track: track,
		sink:  sink,
		done:  make(chan struct{}),
	}
}

// Run reads until the track ends. It blocks.
func (r *Remote) Run() {
	defer close(r.done)
	for {
		p, _, err := r.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.Debug().Err(err).Str("track", r.track.ID()).Msg("remote track read stopped")
			}
			return
		}
		r.packets.Add(1)
		r.bytes.Add(uint64(len(p.Payload)))
		if r.sink != nil {
			r.sink(p)
		}
	}
}

// Done is closed when Run returns.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Track returns the inbound track.
func (r *Remote) Track() Track {
	return r.track
}

// Packets returns the number of packets read.
func (r *Remote) Packets() uint64 {
	return r.packets.Load()
}

// Bytes returns the payload bytes read.
func (r *Remote) Bytes() uint64 {
	return r.bytes.Load()
}
