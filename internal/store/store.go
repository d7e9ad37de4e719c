// Package store persists observed chat events: an append-only log per
// channel plus the durable set of channels the monitor covers. The
// Redis backend is the production store; the in-memory one backs tests
// and serves as a graceful fallback when Redis is unreachable.
package store

import (
	"context"

	"github.com/astrohq/astrochat-go/internal/chat"
)

const (
	// DefaultPageSize is the history page size when the caller does
	// not specify one.
	DefaultPageSize = 100
	// MaxPageSize caps a single history read.
	MaxPageSize = 200
)

// Store is the durable log boundary. Append assigns the event a
// globally increasing ID. History pages backwards from beforeID
// (exclusive; 0 means newest) and returns events oldest-first.
// UnreadCounts counts message-kind events newer than the given unix
// timestamp per channel.
type Store interface {
	Append(ctx context.Context, ev chat.Event) error
	History(ctx context.Context, channel string, beforeID int64, limit int) ([]chat.Event, error)
	UnreadCounts(ctx context.Context, since map[string]float64) (map[string]int, error)
	AddMonitored(ctx context.Context, channel string) error
	Monitored(ctx context.Context) ([]string, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
