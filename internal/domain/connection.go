// Package domain contains entities without logic, just meta-data.
package domain

import (
	"fmt"
	"time"
)

// ConnID identifies one live transport handle. A client that reconnects
// gets a fresh id; nothing survives the socket.
type ConnID string

// Geo is a client-reported location. The server never looks anything up
// itself; it only stores what the init frame carried.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (g Geo) MapURL() string {
	return fmt.Sprintf("https://www.google.com/maps?q=%v,%v", g.Lat, g.Lon)
}

// ConnMeta is per-connection metadata gathered from the transport handshake
// and the client's one-shot init frame.
type ConnMeta struct {
	RemoteAddr  string
	UserAgent   string
	Geo         *Geo
	ConnectedAt time.Time
}
