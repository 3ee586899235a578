package protocol

import (
	"encoding/json"

	"github.com/ghostpair/ghostpair/internal/domain"
)

// Encoders for client-built frames. Marshalling plain structs of strings and
// numbers cannot fail, so they return bytes directly.

func EncodeChat(text, reply string) []byte {
	payload := struct {
		Text  string `json:"text"`
		Reply string `json:"reply,omitempty"`
	}{Text: text, Reply: reply}
	b, _ := json.Marshal(payload)
	return b
}

func EncodeInit(ip, userAgent string, geo *domain.Geo) []byte {
	payload := struct {
		Event     string      `json:"event"`
		IP        string      `json:"ip,omitempty"`
		UserAgent string      `json:"userAgent,omitempty"`
		Geo       *domain.Geo `json:"geo,omitempty"`
	}{Event: "init", IP: ip, UserAgent: userAgent, Geo: geo}
	b, _ := json.Marshal(payload)
	return b
}

func EncodeOffer(sdp string) []byte  { return encodeSDP("offer", sdp) }
func EncodeAnswer(sdp string) []byte { return encodeSDP("answer", sdp) }

func encodeSDP(typ, sdp string) []byte {
	payload := struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}{Type: typ, SDP: sdp}
	b, _ := json.Marshal(payload)
	return b
}

func EncodeICE(c ICECandidate) []byte {
	payload := struct {
		Type      string       `json:"type"`
		Candidate ICECandidate `json:"candidate"`
	}{Type: "ice", Candidate: c}
	b, _ := json.Marshal(payload)
	return b
}

// EncodeCallControl builds the payload-free call lifecycle frames
// (call_request, call_accept, call_reject, call_hangup).
func EncodeCallControl(k Kind) []byte {
	payload := struct {
		Type string `json:"type"`
	}{Type: k.String()}
	b, _ := json.Marshal(payload)
	return b
}

func EncodeMuted(muted bool) []byte {
	payload := struct {
		Type  string `json:"type"`
		Muted bool   `json:"muted"`
	}{Type: "muted", Muted: muted}
	b, _ := json.Marshal(payload)
	return b
}

func EncodeSpeaking(speaking bool) []byte {
	payload := struct {
		Type     string `json:"type"`
		Speaking bool   `json:"speaking"`
	}{Type: "speaking", Speaking: speaking}
	b, _ := json.Marshal(payload)
	return b
}
