// Package chat implements the two agents that hold persistent IRC
// connections: the interactive Client, which represents the local user
// in a single channel, and the passive Monitor, which joins every
// channel on the server and persists all traffic. Both share the wire
// codec and the connection scaffolding in this package.
package chat

import (
	"time"

	"github.com/astrohq/astrochat-go/internal/wire"
)

// Event is one observed protocol occurrence: a message or a presence
// change. IDs are strictly increasing within their scope (per Client
// instance, or globally for persisted events) and never reused.
type Event struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel,omitempty"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Kind      wire.Kind `json:"kind"`
	Timestamp float64   `json:"timestamp"` // unix seconds at observation
	Self      bool      `json:"self"`
}

// ChannelInfo is one entry of the monitor's channel directory,
// rebuilt on every discovery scan.
type ChannelInfo struct {
	Name  string `json:"name"`
	Users int    `json:"users"`
	Topic string `json:"topic"`
}

// Status is a non-blocking connection snapshot.
type Status struct {
	Connected bool   `json:"connected"`
	Nick      string `json:"nick"`
	Channel   string `json:"channel"`
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
