// Package protocol defines the wire contract between paired clients and the
// relay: a handful of literal string sentinels plus small JSON payloads.
// Every inbound frame is decoded exactly once, at the boundary, into a
// tagged Message; the raw bytes are kept so the router can forward verbatim.
package protocol

import (
	"encoding/json"

	"github.com/ghostpair/ghostpair/internal/domain"
)

type Kind int

const (
	// KindChat is plain text or a {text, reply?} object. Anything that does
	// not decode as a recognized frame lands here.
	KindChat Kind = iota
	KindTyping
	KindEndChat
	KindPaired
	KindPartnerEnded
	KindInit
	KindOffer
	KindAnswer
	KindICE
	KindCallRequest
	KindCallAccept
	KindCallReject
	KindCallHangup
	KindMuted
	KindSpeaking
)

var kindNames = map[Kind]string{
	KindChat:         "chat",
	KindTyping:       "typing",
	KindEndChat:      "end_chat",
	KindPaired:       "paired",
	KindPartnerEnded: "partner_ended",
	KindInit:         "init",
	KindOffer:        "offer",
	KindAnswer:       "answer",
	KindICE:          "ice",
	KindCallRequest:  "call_request",
	KindCallAccept:   "call_accept",
	KindCallReject:   "call_reject",
	KindCallHangup:   "call_hangup",
	KindMuted:        "muted",
	KindSpeaking:     "speaking",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Sentinel frames exchanged as bare strings.
const (
	SentinelTyping       = "__typing__"
	SentinelEndChat      = "__end_chat__"
	SentinelPaired       = "__paired__"
	SentinelPartnerEnded = "__partner_ended__"
)

// Human-readable notices sent alongside the sentinels.
const (
	NoticeWaiting             = "⏳ Waiting for a partner..."
	NoticePaired              = "✅ You are paired with a random user!"
	NoticeNotPaired           = "⛔ You are not paired yet!"
	NoticePartnerDisconnected = "⚠️ Your partner disconnected."
)

// ICECandidate mirrors webrtc.ICECandidateInit so the wire package does not
// depend on pion. Pointer fields distinguish absent from zero, as pion does.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Message is the single tagged variant every frame decodes to. Only the
// fields for the decoded Kind are populated; Raw always holds the original
// bytes.
type Message struct {
	Kind Kind
	Raw  []byte

	// KindChat
	Text  string
	Reply string

	// KindInit
	IP        string
	UserAgent string
	Geo       *domain.Geo

	// KindOffer, KindAnswer
	SDP string

	// KindICE
	Candidate *ICECandidate

	// KindMuted, KindSpeaking
	Muted    bool
	Speaking bool
}

// IsCallSignal reports whether the frame belongs to call negotiation. The
// relay treats these as an opaque pass-through to the partner.
func (m Message) IsCallSignal() bool {
	switch m.Kind {
	case KindOffer, KindAnswer, KindICE,
		KindCallRequest, KindCallAccept, KindCallReject, KindCallHangup,
		KindMuted, KindSpeaking:
		return true
	}
	return false
}

// envelope is the superset of all structured frame shapes.
type envelope struct {
	Event     string        `json:"event"`
	Type      string        `json:"type"`
	Text      *string       `json:"text"`
	Reply     string        `json:"reply"`
	IP        string        `json:"ip"`
	UserAgent string        `json:"userAgent"`
	Geo       *domain.Geo   `json:"geo"`
	SDP       string        `json:"sdp"`
	Candidate *ICECandidate `json:"candidate"`
	Muted     bool          `json:"muted"`
	Speaking  bool          `json:"speaking"`
}

// Decode classifies a frame. It never fails: input that is not a sentinel
// and does not parse as a recognized structured frame is opaque chat text.
func Decode(data []byte) Message {
	opaque := Message{Kind: KindChat, Raw: data, Text: string(data)}

	switch string(data) {
	case SentinelTyping:
		return Message{Kind: KindTyping, Raw: data}
	case SentinelEndChat:
		return Message{Kind: KindEndChat, Raw: data}
	case SentinelPaired:
		return Message{Kind: KindPaired, Raw: data}
	case SentinelPartnerEnded:
		return Message{Kind: KindPartnerEnded, Raw: data}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return opaque
	}

	if env.Event == "init" {
		return Message{Kind: KindInit, Raw: data, IP: env.IP, UserAgent: env.UserAgent, Geo: env.Geo}
	}

	switch env.Type {
	case "offer":
		return Message{Kind: KindOffer, Raw: data, SDP: env.SDP}
	case "answer":
		return Message{Kind: KindAnswer, Raw: data, SDP: env.SDP}
	case "ice":
		return Message{Kind: KindICE, Raw: data, Candidate: env.Candidate}
	case "call_request":
		return Message{Kind: KindCallRequest, Raw: data}
	case "call_accept":
		return Message{Kind: KindCallAccept, Raw: data}
	case "call_reject":
		return Message{Kind: KindCallReject, Raw: data}
	case "call_hangup":
		return Message{Kind: KindCallHangup, Raw: data}
	case "muted":
		return Message{Kind: KindMuted, Raw: data, Muted: env.Muted}
	case "speaking":
		return Message{Kind: KindSpeaking, Raw: data, Speaking: env.Speaking}
	}

	if env.Text != nil {
		return Message{Kind: KindChat, Raw: data, Text: *env.Text, Reply: env.Reply}
	}
	return opaque
}
