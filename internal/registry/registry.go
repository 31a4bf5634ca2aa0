// Package registry holds the in-memory table of outstanding questions.
//
// It is the single source of truth for "is this id still answerable". Every
// entry carries a single-use completion slot; the gateway blocks on it while
// the interactive surface, the expiry sweep, or shutdown races to fulfill it.
// Nothing here is persisted: a process restart invalidates all outstanding
// ids by design.
package registry

import (
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"parley/internal/wire"
)

var (
	// ErrNotFound means the id is unknown: never registered, expired, or
	// already pruned.
	ErrNotFound = errors.New("request not found")
	// ErrAlreadyCompleted means the id was fulfilled before this call; the
	// loser of the race gets an error, never a silent overwrite.
	ErrAlreadyCompleted = errors.New("request already completed")
	// ErrRegistryFull means the outstanding-request cap was hit.
	ErrRegistryFull = errors.New("too many pending requests")
)

const (
	// DefaultCapacity bounds concurrently outstanding requests.
	DefaultCapacity = 100

	shardCount = 16

	// tombstoneTTL is how long a completed id is remembered so that a late
	// second submission reports "already completed" instead of "not found".
	tombstoneTTL = 10 * time.Minute
)

// Outcome is the terminal result delivered through a completion slot.
// Exactly one of Answer (fulfilled) or Reason (cancelled) is set.
type Outcome struct {
	Answer *wire.Answer
	Reason string
}

// Waiter receives exactly one Outcome for a registered request.
type Waiter <-chan Outcome

type entry struct {
	id        string
	payload   wire.Payload
	createdAt time.Time
	deadline  time.Time // zero means no deadline
	done      chan Outcome
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
	// completed maps fulfilled ids to their completion time, pruned by the
	// sweep after tombstoneTTL.
	completed map[string]time.Time
}

// Registry is safe for concurrent use from the network handlers, the
// submission path, and the expiry sweep. Mutations on one id never block
// unrelated ids: entries are spread over shards keyed by id hash.
type Registry struct {
	shards   [shardCount]shard
	capacity int
	count    atomic.Int64
}

// New creates a registry with DefaultCapacity.
func New() *Registry {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a registry bounded to n outstanding requests.
func NewWithCapacity(n int) *Registry {
	r := &Registry{capacity: n}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]*entry)
		r.shards[i].completed = make(map[string]time.Time)
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

// Register inserts a new entry and returns its id and waiter. The id is
// generated here, never caller-supplied, so collisions and forgery are off
// the table. The insert is complete before Register returns: an answer
// arriving immediately after cannot observe a half-inserted entry.
func (r *Registry) Register(payload wire.Payload, deadline time.Time) (string, Waiter, error) {
	if r.count.Add(1) > int64(r.capacity) {
		r.count.Add(-1)
		return "", nil, ErrRegistryFull
	}

	e := &entry{
		id:        uuid.NewString(),
		payload:   payload,
		createdAt: time.Now(),
		deadline:  deadline,
		done:      make(chan Outcome, 1),
	}

	s := r.shardFor(e.id)
	s.mu.Lock()
	s.entries[e.id] = e
	s.mu.Unlock()

	return e.id, e.done, nil
}

// Complete fulfills the entry with an answer and removes it. The second
// completer gets ErrAlreadyCompleted (recent ids) or ErrNotFound, never a
// second success.
func (r *Registry) Complete(id string, ans wire.Answer) error {
	s := r.shardFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		if _, done := s.completed[id]; done {
			s.mu.Unlock()
			return ErrAlreadyCompleted
		}
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.entries, id)
	s.completed[id] = time.Now()
	s.mu.Unlock()
	r.count.Add(-1)

	e.done <- Outcome{Answer: &ans}
	return nil
}

// Cancel marks the entry as terminally unanswered and removes it.
func (r *Registry) Cancel(id, reason string) error {
	s := r.shardFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.entries, id)
	s.completed[id] = time.Now()
	s.mu.Unlock()
	r.count.Add(-1)

	e.done <- Outcome{Reason: reason}
	return nil
}

// ExpireOlderThan cancels every entry whose deadline has passed and prunes
// stale tombstones. Repeated sweeps are idempotent: an entry expires at most
// once because Cancel removes it. Returns the number of entries expired.
func (r *Registry) ExpireOlderThan(now time.Time) int {
	var expired []string
	tombstoneCutoff := now.Add(-tombstoneTTL)

	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			if !e.deadline.IsZero() && now.After(e.deadline) {
				expired = append(expired, id)
			}
		}
		for id, at := range s.completed {
			if at.Before(tombstoneCutoff) {
				delete(s.completed, id)
			}
		}
		s.mu.Unlock()
	}

	n := 0
	for _, id := range expired {
		if err := r.Cancel(id, wire.ReasonExpired); err == nil {
			n++
		}
	}
	return n
}

// CancelAll cancels every outstanding entry, used on process shutdown so
// every suspended caller gets a structured cancellation rather than a
// severed connection. Returns the number of entries cancelled.
func (r *Registry) CancelAll(reason string) int {
	var ids []string
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id := range s.entries {
			ids = append(ids, id)
		}
		s.mu.Unlock()
	}

	n := 0
	for _, id := range ids {
		if err := r.Cancel(id, reason); err == nil {
			n++
		}
	}
	return n
}

// Len returns the number of outstanding entries.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Snapshot returns the outstanding questions, oldest first. The interactive
// surface uses it to rebuild its queue after (re)attaching.
func (r *Registry) Snapshot() []wire.Notification {
	type aged struct {
		n  wire.Notification
		at time.Time
	}
	var all []aged
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			all = append(all, aged{
				n:  wire.Notification{ID: e.id, Payload: e.payload},
				at: e.createdAt,
			})
		}
		s.mu.Unlock()
	}

	// Insertion sort: snapshots are small (capacity-bounded).
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].at.Before(all[j-1].at); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}

	out := make([]wire.Notification, len(all))
	for i, a := range all {
		out[i] = a.n
	}
	return out
}
