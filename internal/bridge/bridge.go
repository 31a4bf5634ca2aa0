// Package bridge connects the request registry to whatever interactive
// surface is attached. Incoming questions fan out to subscribers as
// notifications; answers and dismissals flow back through SubmitAnswer and
// Dismiss into the registry's completion slots.
package bridge

import (
	"sync"
	"time"

	"parley/internal/registry"
	"parley/internal/wire"
)

// subscriberBuffer sizes each subscription channel. It matches the registry
// capacity so a surface that keeps up can never miss a notification.
const subscriberBuffer = registry.DefaultCapacity

// Subscription is one attached surface's notification feed.
type Subscription struct {
	id int
	ch chan wire.Notification
}

// C returns the notification channel. It is closed on Unsubscribe.
func (s *Subscription) C() <-chan wire.Notification { return s.ch }

// Bridge is safe for concurrent use. Notify never blocks on a slow
// subscriber: a full channel drops the notification, and the surface is
// expected to reconcile from Pending on attach.
type Bridge struct {
	reg *registry.Registry

	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
}

func New(reg *registry.Registry) *Bridge {
	return &Bridge{
		reg:  reg,
		subs: make(map[int]*Subscription),
	}
}

// Subscribe attaches a surface and returns its feed.
func (b *Bridge) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id: b.nextID,
		ch: make(chan wire.Notification, subscriberBuffer),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe detaches the surface and closes its feed.
func (b *Bridge) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Notify pushes a newly registered question to every attached surface.
func (b *Bridge) Notify(id string, payload wire.Payload) {
	n := wire.Notification{ID: id, Payload: payload}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- n:
		default:
		}
	}
}

// Pending returns the outstanding questions, oldest first. A surface calls
// it on attach so questions registered before the subscription are not lost.
func (b *Bridge) Pending() []wire.Notification {
	return b.reg.Snapshot()
}

// SubmitAnswer fulfills the question. The submission timestamp is stamped
// here if the surface left it zero. Returns registry.ErrNotFound or
// registry.ErrAlreadyCompleted when the id is no longer answerable.
func (b *Bridge) SubmitAnswer(id string, ans wire.Answer) error {
	if ans.SubmittedAt.IsZero() {
		ans.SubmittedAt = time.Now().UTC()
	}
	if ans.Choices == nil {
		ans.Choices = []string{}
	}
	return b.reg.Complete(id, ans)
}

// Dismiss cancels the question on behalf of the human.
func (b *Bridge) Dismiss(id string) error {
	return b.reg.Cancel(id, wire.ReasonDismissed)
}
