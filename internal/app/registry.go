package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ghostpair/ghostpair/internal/core"
	"github.com/ghostpair/ghostpair/internal/domain"
)

type connEntry struct {
	Conn core.SignalConnection
	Meta domain.ConnMeta
}

// Registry tracks live connection handles by id. It is the sole owner of
// transport handles; the broker only references connections by id.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*connEntry)}
}

// Register records a live connection. Registering twice replaces the handle;
// it never fails for an open handle.
func (r *Registry) Register(id domain.ConnID, conn core.SignalConnection, remoteAddr, userAgent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{
		Conn: conn,
		Meta: domain.ConnMeta{
			RemoteAddr:  remoteAddr,
			UserAgent:   userAgent,
			ConnectedAt: time.Now(),
		},
	}
	log.Info().Str("module", "app.registry").Str("id", string(id)).Str("addr", remoteAddr).Msg("registered connection")
}

func (r *Registry) Unregister(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("id", string(id)).Msg("unregistered connection")
}

func (r *Registry) Get(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// UpdateMeta merges fields from a client init frame. Empty fields keep
// whatever the handshake recorded.
func (r *Registry) UpdateMeta(id domain.ConnID, ip, userAgent string, geo *domain.Geo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return
	}
	if ip != "" {
		e.Meta.RemoteAddr = ip
	}
	if userAgent != "" {
		e.Meta.UserAgent = userAgent
	}
	ev := log.Info().Str("module", "app.registry").Str("id", string(id)).Str("addr", e.Meta.RemoteAddr).Str("user_agent", e.Meta.UserAgent)
	if geo != nil {
		e.Meta.Geo = geo
		ev = ev.Str("map_url", geo.MapURL())
	}
	ev.Msg("connection initialized")
}

func (r *Registry) Meta(id domain.ConnID) (domain.ConnMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Meta, true
	}
	return domain.ConnMeta{}, false
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
