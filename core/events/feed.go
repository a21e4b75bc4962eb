package events

import (
	"context"
	"sync"

	"sessionvault/core/types"
)

const defaultFeedBacklog = 1024

// Notification is a sequenced event published by the feed.
type Notification struct {
	Sequence uint64       `json:"sequence"`
	TxHash   string       `json:"txHash,omitempty"`
	Event    *types.Event `json:"event"`
}

func (n Notification) clone() Notification {
	n.Event = n.Event.Clone()
	return n
}

// Feed fans committed events out to subscribers and keeps a bounded history so
// late subscribers can resume from a cursor. Slow subscribers drop live
// notifications rather than blocking the ledger.
type Feed struct {
	mu      sync.Mutex
	seq     uint64
	limit   int
	history []Notification
	subs    map[uint64]chan Notification
	nextID  uint64
}

// NewFeed returns a feed retaining up to backlog notifications.
func NewFeed(backlog int) *Feed {
	if backlog <= 0 {
		backlog = defaultFeedBacklog
	}
	return &Feed{limit: backlog, subs: make(map[uint64]chan Notification)}
}

// Emit implements Emitter.
func (f *Feed) Emit(evt Event) {
	if evt == nil {
		return
	}
	f.Publish("", evt.Event())
}

// Publish records the event under the next sequence number and broadcasts it.
func (f *Feed) Publish(txHash string, evt *types.Event) {
	if f == nil || evt == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	n := Notification{Sequence: f.seq, TxHash: txHash, Event: evt.Clone()}
	f.history = append(f.history, n)
	if len(f.history) > f.limit {
		excess := len(f.history) - f.limit
		trimmed := make([]Notification, f.limit)
		copy(trimmed, f.history[excess:])
		f.history = trimmed
	}
	for _, ch := range f.subs {
		select {
		case ch <- n.clone():
		default:
		}
	}
}

// Subscribe registers a subscriber for notifications after cursor. It returns
// the live channel, a cancel function and the retained backlog.
func (f *Feed) Subscribe(ctx context.Context, cursor uint64) (<-chan Notification, func(), []Notification) {
	updates := make(chan Notification, 32)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = updates
	backlog := make([]Notification, 0, len(f.history))
	for _, entry := range f.history {
		if entry.Sequence > cursor {
			backlog = append(backlog, entry.clone())
		}
	}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
			f.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Sequence returns the last assigned sequence number.
func (f *Feed) Sequence() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}
