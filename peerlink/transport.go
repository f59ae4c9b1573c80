package peerlink

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RemoteTrack is an inbound media track of the partner.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	SSRC() webrtc.SSRC
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Transport is the part of a peer connection a Link drives.
type Transport interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error
	AddRecvOnly(kind webrtc.RTPCodecType) error
	SignalingState() webrtc.SignalingState

	OnLocalCandidate(f func(candidate webrtc.ICECandidateInit))
	OnStateChange(f func(state webrtc.PeerConnectionState))
	OnRemoteTrack(f func(track RemoteTrack))

	Close() error
}

// Factory creates transports.
type Factory interface {
	NewTransport() (Transport, error)
}

// API creates pion peer connections with a shared media engine and setting engine.
type API struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewAPI creates an API with the default codecs and interceptors.
func NewAPI(config Config) (*API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	if config.DisconnectedTimeout > 0 && config.FailedTimeout > 0 && config.KeepAliveInterval > 0 {
		se.SetICETimeouts(config.DisconnectedTimeout, config.FailedTimeout, config.KeepAliveInterval)
	}
	if err := config.SetPortRange(&se); err != nil {
		return nil, err
	}
	if config.Net != nil {
		se.SetNet(config.Net)
	}

	return &API{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{ICEServers: config.iceServers()},
	}, nil
}

// NewTransport creates a new peer connection.
func (a *API) NewTransport() (Transport, error) {
	pc, err := a.api.NewPeerConnection(a.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &pionTransport{pc: pc}, nil
}

// pionTransport adapts a pion peer connection to Transport.
type pionTransport struct {
	pc *webrtc.PeerConnection
}

func (t *pionTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
}

func (t *pionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *pionTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(desc)
}

func (t *pionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *pionTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *pionTransport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}

	// RTCP must be read for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *pionTransport) AddRecvOnly(kind webrtc.RTPCodecType) error {
	_, err := t.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (t *pionTransport) SignalingState() webrtc.SignalingState {
	return t.pc.SignalingState()
}

func (t *pionTransport) OnLocalCandidate(f func(candidate webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		f(c.ToJSON())
	})
}

func (t *pionTransport) OnStateChange(f func(state webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(f)
}

func (t *pionTransport) OnRemoteTrack(f func(track RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
			if err := t.pc.WriteRTCP(pli); err != nil {
				log.Warn().Err(err).Str("track_id", track.ID()).Msg("failed to request keyframe")
			}
		}
		f(track)
	})
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}
