// Package coordinator implements the relay's coordination core.
// See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/chapterrelay/internal/protocol"
)

var (
	// ErrDuplicateWork is returned when a work key is already queued or in flight.
	ErrDuplicateWork = errors.New("work already queued or in flight")

	// ErrNotInFlight is returned when a completion or failure names a work key
	// that is not the in-flight item.
	ErrNotInFlight = errors.New("work is not in flight")

	// ErrWrongAssignee is returned when a completion or failure arrives from a
	// connection other than the one the item was dispatched to.
	ErrWrongAssignee = errors.New("work was dispatched to another connection")

	// ErrMissingWorkKey is returned when a request carries no work key.
	ErrMissingWorkKey = errors.New("work key is required")
)

// WorkItem is one chapter translation request.
//
// The Key is the chapter's source URL. It is stable across clients and is
// the only thing used for deduplication; Title is for logs and notices.
// Task is the original start_translation envelope, handed to the worker
// unchanged.
type WorkItem struct {
	EnqueuedAt time.Time         // When the item was first admitted
	Task       protocol.Envelope // Envelope forwarded to the worker
	Key        string            // Deduplication key (source URL)
	Title      string            // Human readable label
	BookKey    string            // Book the chapter belongs to
	Attempts   int               // Number of times the item was dispatched
}

// WorkQueue is the FIFO backlog plus the single in-flight slot.
//
// State transitions per item:
//
//	queued ──Start──▶ in-flight ──Complete──▶ (discarded)
//	   ▲                  │
//	   └──Fail/Release────┘  (reinserted at the front)
//
// Invariants:
//   - a key appears at most once across the backlog and the in-flight slot
//   - at most one item is in flight
//   - the in-flight item remembers the connection it was dispatched to
//
// Concurrency Model:
// Not safe for concurrent use; owned by the coordinator's event loop.
type WorkQueue struct {
	inFlight *WorkItem
	assignee ConnectionID
	pending  []*WorkItem
}

// NewWorkQueue creates an empty queue.
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{}
}

// Has reports whether key is queued or in flight.
func (q *WorkQueue) Has(key string) bool {
	if q.inFlight != nil && q.inFlight.Key == key {
		return true
	}
	return slices.ContainsFunc(q.pending, func(item *WorkItem) bool { return item.Key == key })
}

// Enqueue appends item to the back of the backlog.
//
// Returns:
//   - ErrMissingWorkKey if item.Key is empty
//   - ErrDuplicateWork if the key is already queued or in flight; the queue
//     is left unchanged
func (q *WorkQueue) Enqueue(item *WorkItem) error {
	if item.Key == "" {
		return ErrMissingWorkKey
	}
	if q.Has(item.Key) {
		return ErrDuplicateWork
	}
	q.pending = append(q.pending, item)
	return nil
}

// Ready reports whether an item can be started: nothing is in flight and the
// backlog is not empty.
func (q *WorkQueue) Ready() bool {
	return q.inFlight == nil && len(q.pending) > 0
}

// Start moves the front of the backlog into the in-flight slot, bound to
// assignee. It returns false when the queue is not Ready.
func (q *WorkQueue) Start(assignee ConnectionID) (*WorkItem, bool) {
	if !q.Ready() {
		return nil, false
	}
	item := q.pending[0]
	q.pending = slices.Delete(q.pending, 0, 1)
	item.Attempts++
	q.inFlight = item
	q.assignee = assignee
	return item, true
}

// Complete clears the in-flight slot when key matches it and the report
// comes from the connection the item was dispatched to.
func (q *WorkQueue) Complete(key string, from ConnectionID) (*WorkItem, error) {
	item, err := q.checkInFlight(key, from)
	if err != nil {
		return nil, err
	}
	q.clearInFlight()
	return item, nil
}

// Fail moves the in-flight item back to the front of the backlog so it is
// retried before anything enqueued after it. Validation matches Complete.
func (q *WorkQueue) Fail(key string, from ConnectionID) (*WorkItem, error) {
	item, err := q.checkInFlight(key, from)
	if err != nil {
		return nil, err
	}
	q.clearInFlight()
	q.pending = slices.Insert(q.pending, 0, item)
	return item, nil
}

// Release requeues the in-flight item at the front if it was dispatched to
// assignee. It is used when the worker connection goes away mid-task.
func (q *WorkQueue) Release(assignee ConnectionID) (*WorkItem, bool) {
	if q.inFlight == nil || q.assignee != assignee {
		return nil, false
	}
	item := q.inFlight
	q.clearInFlight()
	q.pending = slices.Insert(q.pending, 0, item)
	return item, true
}

func (q *WorkQueue) checkInFlight(key string, from ConnectionID) (*WorkItem, error) {
	if q.inFlight == nil || q.inFlight.Key != key {
		return nil, ErrNotInFlight
	}
	if q.assignee != from {
		return nil, ErrWrongAssignee
	}
	return q.inFlight, nil
}

func (q *WorkQueue) clearInFlight() {
	q.inFlight = nil
	q.assignee = ""
}

// Untracked returns the keys the queue has no record of, in input order and
// without repeats. The control app uses the result to reset chapters it
// still believes are pending.
func (q *WorkQueue) Untracked(keys []string) []string {
	var out []string
	for _, key := range keys {
		if q.Has(key) || slices.Contains(out, key) {
			continue
		}
		out = append(out, key)
	}
	return out
}

// InFlight returns the in-flight item and the connection it was sent to.
func (q *WorkQueue) InFlight() (*WorkItem, ConnectionID, bool) {
	if q.inFlight == nil {
		return nil, "", false
	}
	return q.inFlight, q.assignee, true
}

// Len returns the number of queued items, excluding the in-flight one.
func (q *WorkQueue) Len() int {
	return len(q.pending)
}

// Pending returns the backlog front to back. The slice is a copy.
func (q *WorkQueue) Pending() []*WorkItem {
	return slices.Clone(q.pending)
}
