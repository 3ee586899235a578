package app

import (
	"github.com/rs/zerolog/log"

	"github.com/ghostpair/ghostpair/internal/core"
	"github.com/ghostpair/ghostpair/internal/domain"
	"github.com/ghostpair/ghostpair/internal/protocol"
)

// route classifies one inbound frame and forwards it per the pairing state.
// Runs on the broker goroutine only, so per-sender arrival order carries
// straight through to the partner's send queue.
func (b *Broker) route(id domain.ConnID, data core.Frame) {
	msg := protocol.Decode(data)

	// Init frames update connection metadata and are never forwarded. A
	// malformed init decodes as chat and falls through like any other frame.
	if msg.Kind == protocol.KindInit {
		b.Registry.UpdateMeta(id, msg.IP, msg.UserAgent, msg.Geo)
		return
	}

	partner, ok := b.pairs[id]
	if !ok {
		b.send(id, core.Frame(protocol.NoticeNotPaired))
		return
	}

	switch {
	case msg.Kind == protocol.KindTyping:
		// Forwarded verbatim, never stored.
		b.send(partner, data)
	case msg.Kind == protocol.KindEndChat:
		b.endSession(id, partner)
	case msg.IsCallSignal():
		b.relaySignal(id, partner, msg)
	default:
		b.send(partner, data)
	}
}

// relaySignal is the call-negotiation path: a pure pass-through. The server
// never inspects SDP or candidate payloads; both peers infer call state from
// the frames themselves.
func (b *Broker) relaySignal(from, to domain.ConnID, msg protocol.Message) {
	log.Debug().Str("module", "app.router").
		Str("from", string(from)).
		Str("kind", msg.Kind.String()).
		Msg("relaying call signal")
	b.send(to, msg.Raw)
}
