package client

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/ghostpair/ghostpair/internal/protocol"
)

type CallState int

const (
	CallIdle CallState = iota
	CallRequesting
	CallRinging
	CallInCall
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallRequesting:
		return "requesting"
	case CallRinging:
		return "ringing"
	case CallInCall:
		return "in_call"
	case CallEnded:
		return "ended"
	}
	return "idle"
}

// PeerLink abstracts the local peer connection so negotiation sequencing can
// be tested without a media stack.
type PeerLink interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddVideoTrack() error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnected(func())
	Close() error
}

// Driver runs call negotiation for one session. It must only be driven from
// the session goroutine (via Session.Do), so it needs no locking, just
// correct sequencing. Each call attempt is one explicit sequence: request,
// accept, offer, answer, candidate drain; reject and hangup cancel it.
type Driver struct {
	newLink func() (PeerLink, error)
	send    func([]byte)

	state     CallState
	link      PeerLink
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	OnState     func(CallState)
	OnRing      func()
	OnPeerMuted func(bool)
	OnPeerSpoke func(bool)
}

// NewDriver wires a driver to a transmit function, typically
// session.SendRaw. newLink creates the local peer connection lazily, on the
// first frame of a call that needs one.
func NewDriver(newLink func() (PeerLink, error), send func([]byte)) *Driver {
	return &Driver{newLink: newLink, send: send}
}

func (d *Driver) State() CallState { return d.state }

// RequestCall asks the partner to start a call.
func (d *Driver) RequestCall() {
	if d.state != CallIdle {
		return
	}
	d.setState(CallRequesting)
	d.send(protocol.EncodeCallControl(protocol.KindCallRequest))
}

// AcceptCall answers an incoming ring. The caller emits the offer once it
// sees the accept; this side answers it.
func (d *Driver) AcceptCall() {
	if d.state != CallRinging {
		return
	}
	d.send(protocol.EncodeCallControl(protocol.KindCallAccept))
}

func (d *Driver) RejectCall() {
	if d.state != CallRinging {
		return
	}
	d.send(protocol.EncodeCallControl(protocol.KindCallReject))
	d.reset()
}

func (d *Driver) Hangup() {
	if d.state == CallIdle {
		return
	}
	d.send(protocol.EncodeCallControl(protocol.KindCallHangup))
	d.setState(CallEnded)
	d.reset()
}

// EnableVideo adds a video track to the call. Mid-call this renegotiates the
// existing link with a fresh offer rather than opening a new connection.
func (d *Driver) EnableVideo() error {
	if d.link == nil {
		return nil
	}
	if err := d.link.AddVideoTrack(); err != nil {
		return err
	}
	if d.state == CallInCall {
		return d.sendOffer()
	}
	return nil
}

// SetMuted and SetSpeaking relay advisory UI state; neither gates media.
func (d *Driver) SetMuted(muted bool)       { d.send(protocol.EncodeMuted(muted)) }
func (d *Driver) SetSpeaking(speaking bool) { d.send(protocol.EncodeSpeaking(speaking)) }

// HandleSignal consumes one relayed negotiation frame from the partner.
func (d *Driver) HandleSignal(msg protocol.Message) {
	var err error
	switch msg.Kind {
	case protocol.KindCallRequest:
		if d.state == CallIdle {
			d.setState(CallRinging)
			if d.OnRing != nil {
				d.OnRing()
			}
		}
	case protocol.KindCallAccept:
		if d.state == CallRequesting {
			err = d.startCall()
		}
	case protocol.KindCallReject:
		if d.state == CallRequesting {
			d.reset()
		}
	case protocol.KindCallHangup:
		if d.state != CallIdle {
			d.setState(CallEnded)
			d.reset()
		}
	case protocol.KindOffer:
		err = d.handleOffer(msg.SDP)
	case protocol.KindAnswer:
		err = d.handleAnswer(msg.SDP)
	case protocol.KindICE:
		err = d.handleCandidate(msg.Candidate)
	case protocol.KindMuted:
		if d.OnPeerMuted != nil {
			d.OnPeerMuted(msg.Muted)
		}
	case protocol.KindSpeaking:
		if d.OnPeerSpoke != nil {
			d.OnPeerSpoke(msg.Speaking)
		}
	}
	if err != nil {
		log.Error().Err(err).Str("module", "client.call").Str("kind", msg.Kind.String()).Msg("negotiation failed")
		d.Hangup()
	}
}

// startCall is the caller path: the partner accepted, emit the offer.
func (d *Driver) startCall() error {
	if err := d.ensureLink(); err != nil {
		return err
	}
	return d.sendOffer()
}

func (d *Driver) sendOffer() error {
	offer, err := d.link.CreateOffer()
	if err != nil {
		return err
	}
	if err := d.link.SetLocalDescription(offer); err != nil {
		return err
	}
	d.send(protocol.EncodeOffer(offer.SDP))
	return nil
}

// handleOffer covers both the initial offer on the callee side and later
// renegotiation offers on either side.
func (d *Driver) handleOffer(sdp string) error {
	if err := d.ensureLink(); err != nil {
		return err
	}
	if err := d.link.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return err
	}
	d.remoteApplied()
	answer, err := d.link.CreateAnswer()
	if err != nil {
		return err
	}
	if err := d.link.SetLocalDescription(answer); err != nil {
		return err
	}
	d.send(protocol.EncodeAnswer(answer.SDP))
	d.setState(CallInCall)
	return nil
}

func (d *Driver) handleAnswer(sdp string) error {
	if d.link == nil {
		return nil // stray answer, no call in progress
	}
	if err := d.link.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return err
	}
	d.remoteApplied()
	d.setState(CallInCall)
	return nil
}

// handleCandidate queues candidates that outran the remote description and
// applies them in arrival order once it lands.
func (d *Driver) handleCandidate(c *protocol.ICECandidate) error {
	if c == nil {
		return nil
	}
	init := webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
	if !d.remoteSet {
		d.pending = append(d.pending, init)
		return nil
	}
	return d.link.AddICECandidate(init)
}

// remoteApplied flushes the pending candidate queue in arrival order, then
// clears it.
func (d *Driver) remoteApplied() {
	d.remoteSet = true
	for _, c := range d.pending {
		if err := d.link.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "client.call").Msg("queued candidate rejected")
		}
	}
	d.pending = nil
}

func (d *Driver) ensureLink() error {
	if d.link != nil {
		return nil
	}
	link, err := d.newLink()
	if err != nil {
		return err
	}
	link.OnICECandidate(func(c webrtc.ICECandidateInit) {
		d.send(protocol.EncodeICE(protocol.ICECandidate{
			Candidate:     c.Candidate,
			SDPMid:        c.SDPMid,
			SDPMLineIndex: c.SDPMLineIndex,
		}))
	})
	link.OnConnected(func() {
		log.Info().Str("module", "client.call").Msg("media link connected")
	})
	d.link = link
	return nil
}

// reset is the single teardown path for a call attempt.
func (d *Driver) reset() {
	if d.link != nil {
		if err := d.link.Close(); err != nil {
			log.Warn().Err(err).Str("module", "client.call").Msg("link close")
		}
		d.link = nil
	}
	d.remoteSet = false
	d.pending = nil
	d.setState(CallIdle)
}

func (d *Driver) setState(s CallState) {
	if s == d.state {
		return
	}
	d.state = s
	if d.OnState != nil {
		d.OnState(s)
	}
}
