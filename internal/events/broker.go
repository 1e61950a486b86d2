// Package events streams capture and replay notifications to API clients
// over SSE and WebSocket.
package events

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBufSize = 256

const (
	TypeCapture = "capture"
	TypeReplay  = "replay"
)

// Event is a single notification sent to stream clients.
type Event struct {
	Type    string          `json:"type"`
	TabID   string          `json:"tab_id"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

// Broker fans out events to all subscribed stream clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a new client. The channel is buffered; slow
// consumers have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped for slow clients.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Filter selects events for one client. Zero values accept everything.
type Filter struct {
	Types map[string]bool
	TabID string
}

// ParseFilter reads ?types=capture,replay&tab_id=... from a query.
func ParseFilter(q url.Values) Filter {
	f := Filter{TabID: strings.TrimSpace(q.Get("tab_id"))}
	if raw := q.Get("types"); raw != "" {
		f.Types = make(map[string]bool)
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Types[t] = true
			}
		}
	}
	return f
}

func (f Filter) Match(evt Event) bool {
	if f.Types != nil && !f.Types[evt.Type] {
		return false
	}
	return f.TabID == "" || f.TabID == evt.TabID
}
