// Package bridge implements the Matrix worker's inbox: a bounded Go
// channel standing in for the original asyncio bridge (spec §9 flags
// the coroutine-style bridge as a redesign target). Messages that
// arrive while the inbox is full are dropped with a logged warning
// rather than blocking the Matrix transport goroutine, since a stalled
// consumer should never back-pressure the whole worker.
package bridge

import (
	"github.com/rs/zerolog/log"
)

// Message is one inbound event from the Matrix transport, destined for
// the ingest pipeline.
type Message struct {
	RoomID    string
	Sender    string
	Body      string
	Timestamp float64
}

// Inbox is a bounded, drop-oldest-on-overflow-free channel wrapper:
// a full inbox simply rejects the newest message rather than evicting
// an older one, so message order is preserved for whatever does drain it.
type Inbox struct {
	ch chan Message
}

// NewInbox constructs an Inbox with the given capacity.
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = 256
	}
	return &Inbox{ch: make(chan Message, capacity)}
}

// Offer attempts to enqueue msg without blocking. Returns false if the
// inbox is full.
func (ib *Inbox) Offer(msg Message) bool {
	select {
	case ib.ch <- msg:
		return true
	default:
		log.Warn().Str("room_id", msg.RoomID).Msg("bridge_inbox_full_dropped_message")
		return false
	}
}

// Messages exposes the receive-only channel for a consumer loop.
func (ib *Inbox) Messages() <-chan Message { return ib.ch }

// Len reports the inbox's current backlog, for status surfaces.
func (ib *Inbox) Len() int { return len(ib.ch) }

// Cap reports the inbox's fixed capacity.
func (ib *Inbox) Cap() int { return cap(ib.ch) }
