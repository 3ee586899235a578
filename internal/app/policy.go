package app

import "github.com/ghostpair/ghostpair/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConnection
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackpressure(id domain.ConnID) BackpressureAction
}

// SimplePolicy kicks slow readers. ICE candidates are order-sensitive, so a
// consumer that silently loses frames is worse off than one that reconnects.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(domain.ConnID) BackpressureAction {
	return KickConnection
}
