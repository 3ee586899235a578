package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ghostpair/ghostpair/internal/core"
	"github.com/ghostpair/ghostpair/internal/domain"
	"github.com/ghostpair/ghostpair/internal/protocol"
)

type eventKind int

const (
	evConnected eventKind = iota
	evDisconnected
	evFrame
)

type event struct {
	kind eventKind
	id   domain.ConnID
	data core.Frame
}

// Broker pairs strangers and routes frames between partners. The waiting
// slot holds at most one connection; a connection is never waiting and
// paired at the same time.
//
// All state mutations happen on the single goroutine draining the event
// channel, so the maps need no locks. Adapters only enqueue; each event runs
// to completion before the next one starts, which makes pair teardown atomic
// with respect to everything else.
type Broker struct {
	Registry *Registry
	Policy   Policy

	heartbeat time.Duration
	events    chan event

	waiting domain.ConnID // zero value means the slot is empty
	pairs   map[domain.ConnID]domain.ConnID
}

func NewBroker(reg *Registry, policy Policy, heartbeat time.Duration) *Broker {
	return &Broker{
		Registry:  reg,
		Policy:    policy,
		heartbeat: heartbeat,
		events:    make(chan event, 256),
		pairs:     make(map[domain.ConnID]domain.ConnID),
	}
}

// Connected enqueues a transport-open event. The connection must already be
// registered so pairing notices have somewhere to go.
func (b *Broker) Connected(id domain.ConnID) {
	b.events <- event{kind: evConnected, id: id}
}

func (b *Broker) Disconnected(id domain.ConnID) {
	b.events <- event{kind: evDisconnected, id: id}
}

func (b *Broker) HandleFrame(id domain.ConnID, data core.Frame) {
	b.events <- event{kind: evFrame, id: id, data: data}
}

func (b *Broker) Run(ctx context.Context) {
	tick := time.NewTicker(b.heartbeat)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.broker").Msg("broker stopped")
			return
		case <-tick.C:
			log.Info().Str("module", "app.broker").
				Int("connections", b.Registry.Count()).
				Int("pairs", len(b.pairs)/2).
				Msg("heartbeat")
		case ev := <-b.events:
			switch ev.kind {
			case evConnected:
				b.onConnected(ev.id)
			case evDisconnected:
				b.onDisconnected(ev.id)
			case evFrame:
				b.route(ev.id, ev.data)
			}
		}
	}
}

func (b *Broker) onConnected(id domain.ConnID) {
	if b.waiting == "" {
		b.waiting = id
		b.send(id, core.Frame(protocol.NoticeWaiting))
		log.Info().Str("module", "app.broker").Str("id", string(id)).Msg("waiting for partner")
		return
	}

	w := b.waiting
	b.waiting = ""
	b.pairs[id] = w
	b.pairs[w] = id

	// Both sides hear about the pair before any chat frame gets routed.
	b.send(id, core.Frame(protocol.NoticePaired))
	b.send(id, core.Frame(protocol.SentinelPaired))
	b.send(w, core.Frame(protocol.NoticePaired))
	b.send(w, core.Frame(protocol.SentinelPaired))
	log.Info().Str("module", "app.broker").Str("id", string(id)).Str("partner", string(w)).Msg("paired")
}

func (b *Broker) onDisconnected(id domain.ConnID) {
	if b.waiting == id {
		b.waiting = ""
	}
	if partner, ok := b.pairs[id]; ok {
		delete(b.pairs, id)
		delete(b.pairs, partner)
		b.send(partner, core.Frame(protocol.NoticePartnerDisconnected))
		b.send(partner, core.Frame(protocol.SentinelPartnerEnded))
		log.Info().Str("module", "app.broker").Str("id", string(id)).Str("partner", string(partner)).Msg("pair released on disconnect")
	}
	b.Registry.Unregister(id)
}

// endSession handles an explicit end-chat from a paired connection. Neither
// side re-enters the waiting slot; a new pairing takes a fresh connection.
func (b *Broker) endSession(id, partner domain.ConnID) {
	delete(b.pairs, id)
	delete(b.pairs, partner)
	b.send(partner, core.Frame(protocol.SentinelPartnerEnded))
	log.Info().Str("module", "app.broker").Str("id", string(id)).Str("partner", string(partner)).Msg("session ended")
}

// send delivers a frame onto a connection's ordered queue. Backpressure is
// delegated to the policy; kicking closes the transport, and the read pump
// exit feeds the disconnect back through the event channel.
func (b *Broker) send(id domain.ConnID, data core.Frame) {
	conn, ok := b.Registry.Get(id)
	if !ok {
		return
	}
	if err := conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.broker").Str("id", string(id)).Msg("send failed")
		if b.Policy != nil && b.Policy.OnBackpressure(id) == KickConnection {
			conn.Close()
		}
	}
}
