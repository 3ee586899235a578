package core

// Frame is a raw websocket text payload. The relay forwards frames between
// partners verbatim; only the router ever peeks inside.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
