// Package reqlog stores script-originated request records for one page
// session and answers correlation lookups against them.
package reqlog

import (
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/request_inspector/internal/types"
	"github.com/google/uuid"
)

// Correlator finds the captured record that best matches a host-observed URL.
type Correlator interface {
	FindCorrelated(targetURL string) (types.RequestRecord, bool)
}

// Log is an append-only record store. With a positive capacity it behaves as a
// ring: once full, each append evicts the oldest record.
type Log struct {
	mu sync.RWMutex

	records  []types.RequestRecord
	capacity int
	head     int // next overwrite position once the ring is full

	totalAdded int64
}

var _ Correlator = (*Log)(nil)

// New creates a log. capacity <= 0 means unbounded.
func New(capacity int) *Log {
	l := &Log{capacity: capacity}
	if capacity > 0 {
		l.records = make([]types.RequestRecord, 0, capacity)
	}
	return l
}

// Append stores a record, assigning an ID and capture time when missing.
// The record is fully built before it becomes visible to readers.
func (l *Log) Append(rec types.RequestRecord) types.RequestRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CapturedAt.IsZero() {
		rec.CapturedAt = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.capacity <= 0 || len(l.records) < l.capacity {
		l.records = append(l.records, rec)
	} else {
		l.records[l.head] = rec
	}
	if l.capacity > 0 {
		l.head = (l.head + 1) % l.capacity
	}
	l.totalAdded++
	return rec
}

// FindCorrelated scans from the newest record to the oldest and returns the
// first one whose URL equals targetURL or is contained in it.
//
// Requests sharing a URL prefix (pagination, polling) can match the wrong
// record; there is no request identifier to disambiguate them.
func (l *Log) FindCorrelated(targetURL string) (types.RequestRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.records)
	for i := 0; i < n; i++ {
		rec := l.records[l.indexFromNewestLocked(i)]
		if targetURL == rec.URL || strings.Contains(targetURL, rec.URL) {
			return rec, true
		}
	}
	return types.RequestRecord{}, false
}

// Get returns the record with the given ID if it is still retained.
func (l *Log) Get(id string) (types.RequestRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return types.RequestRecord{}, false
}

// Snapshot returns the retained records, oldest first.
func (l *Log) Snapshot() []types.RequestRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.records)
	out := make([]types.RequestRecord, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = l.records[l.indexFromNewestLocked(i)]
	}
	return out
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Evicted returns how many records were dropped to honour the capacity.
func (l *Log) Evicted() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalAdded - int64(len(l.records))
}

// indexFromNewestLocked maps an age (0 = newest) to a slice index.
// Must be called with mu held.
func (l *Log) indexFromNewestLocked(age int) int {
	n := len(l.records)
	if l.capacity <= 0 || n < l.capacity {
		return n - 1 - age
	}
	return (l.head - 1 - age + 2*n) % n
}
