package client

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// pionLink backs PeerLink with a real pion PeerConnection. Trickle ICE:
// candidates go out through OnICECandidate as they are found, nothing waits
// for gathering to complete.
type pionLink struct {
	pc *webrtc.PeerConnection
}

func DefaultRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// NewPeerLink creates a pion-backed link with a local audio track already
// attached; calls start audio-only and upgrade to video via renegotiation.
func NewPeerLink(cfg webrtc.Configuration) (PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "client.rtc").Str("ice_state", s.String()).Msg("ICE state")
	})

	l := &pionLink{pc: pc}
	if err := l.addTrack(webrtc.MimeTypeOpus, "audio"); err != nil {
		_ = pc.Close()
		return nil, err
	}
	return l, nil
}

func (l *pionLink) addTrack(mimeType, kind string) error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType}, kind, "ghostpair",
	)
	if err != nil {
		return err
	}
	_, err = l.pc.AddTrack(track)
	return err
}

func (l *pionLink) CreateOffer() (webrtc.SessionDescription, error) {
	return l.pc.CreateOffer(nil)
}

func (l *pionLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return l.pc.CreateAnswer(nil)
}

func (l *pionLink) SetLocalDescription(d webrtc.SessionDescription) error {
	return l.pc.SetLocalDescription(d)
}

func (l *pionLink) SetRemoteDescription(d webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(d)
}

func (l *pionLink) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(ci)
}

func (l *pionLink) AddVideoTrack() error {
	return l.addTrack(webrtc.MimeTypeVP8, "video")
}

func (l *pionLink) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

func (l *pionLink) OnConnected(fn func()) {
	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client.rtc").Str("peer_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateConnected {
			fn()
		}
	})
}

func (l *pionLink) Close() error {
	return l.pc.Close()
}
