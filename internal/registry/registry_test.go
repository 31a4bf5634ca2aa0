package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"parley/internal/wire"
)

func TestCompleteDeliversAnswerOnce(t *testing.T) {
	r := New()
	id, waiter, err := r.Register(wire.Payload{Text: "proceed?"}, time.Time{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := r.Complete(id, wire.Answer{Text: "yes"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	select {
	case out := <-waiter:
		if out.Answer == nil || out.Answer.Text != "yes" {
			t.Fatalf("outcome = %+v, want answer text %q", out, "yes")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never fulfilled")
	}

	if err := r.Complete(id, wire.Answer{Text: "again"}); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("second Complete() error = %v, want ErrAlreadyCompleted", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after completion, want 0", r.Len())
	}
}

func TestCompleteUnknownIDReturnsNotFound(t *testing.T) {
	r := New()
	if err := r.Complete("nonexistent", wire.Answer{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Complete() error = %v, want ErrNotFound", err)
	}
	if err := r.Cancel("nonexistent", wire.ReasonDismissed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel() error = %v, want ErrNotFound", err)
	}
}

func TestCancelDeliversReason(t *testing.T) {
	r := New()
	id, waiter, err := r.Register(wire.Payload{Text: "q"}, time.Time{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := r.Cancel(id, wire.ReasonDismissed); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	out := <-waiter
	if out.Answer != nil || out.Reason != wire.ReasonDismissed {
		t.Fatalf("outcome = %+v, want cancelled %q", out, wire.ReasonDismissed)
	}

	// A completion racing in after the cancel loses explicitly.
	if err := r.Complete(id, wire.Answer{Text: "late"}); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("Complete() after cancel error = %v, want ErrAlreadyCompleted", err)
	}
}

func TestExpireOlderThanCancelsOnlyPastDeadline(t *testing.T) {
	r := New()
	now := time.Now()

	expiredID, expiredWaiter, _ := r.Register(wire.Payload{Text: "old"}, now.Add(-time.Millisecond))
	_, freshWaiter, _ := r.Register(wire.Payload{Text: "fresh"}, now.Add(time.Hour))
	_, foreverWaiter, _ := r.Register(wire.Payload{Text: "forever"}, time.Time{})

	if n := r.ExpireOlderThan(now); n != 1 {
		t.Fatalf("ExpireOlderThan() = %d, want 1", n)
	}

	out := <-expiredWaiter
	if out.Reason != wire.ReasonExpired {
		t.Fatalf("reason = %q, want %q", out.Reason, wire.ReasonExpired)
	}

	// Sweeps are idempotent: the expired entry is gone, the others untouched.
	if n := r.ExpireOlderThan(now); n != 0 {
		t.Fatalf("second ExpireOlderThan() = %d, want 0", n)
	}
	select {
	case <-freshWaiter:
		t.Fatal("fresh entry was expired")
	case <-foreverWaiter:
		t.Fatal("no-deadline entry was expired")
	default:
	}

	if err := r.Complete(expiredID, wire.Answer{Text: "too late"}); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("Complete() after expiry error = %v, want ErrAlreadyCompleted", err)
	}
}

func TestCancelAllFulfillsEveryWaiter(t *testing.T) {
	r := New()
	var waiters []Waiter
	for i := 0; i < 5; i++ {
		_, w, err := r.Register(wire.Payload{Text: "q"}, time.Time{})
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		waiters = append(waiters, w)
	}

	if n := r.CancelAll(wire.ReasonShutdown); n != 5 {
		t.Fatalf("CancelAll() = %d, want 5", n)
	}
	for i, w := range waiters {
		select {
		case out := <-w:
			if out.Reason != wire.ReasonShutdown {
				t.Fatalf("waiter %d reason = %q, want %q", i, out.Reason, wire.ReasonShutdown)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never fulfilled", i)
		}
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after CancelAll, want 0", r.Len())
	}
}

func TestRegisterRejectsBeyondCapacity(t *testing.T) {
	r := NewWithCapacity(2)
	id1, _, _ := r.Register(wire.Payload{Text: "a"}, time.Time{})
	if _, _, err := r.Register(wire.Payload{Text: "b"}, time.Time{}); err != nil {
		t.Fatalf("Register() within capacity error = %v", err)
	}
	if _, _, err := r.Register(wire.Payload{Text: "c"}, time.Time{}); !errors.Is(err, ErrRegistryFull) {
		t.Fatalf("Register() over capacity error = %v, want ErrRegistryFull", err)
	}

	// Completing one frees a slot.
	if err := r.Complete(id1, wire.Answer{}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, _, err := r.Register(wire.Payload{Text: "d"}, time.Time{}); err != nil {
		t.Fatalf("Register() after free error = %v", err)
	}
}

func TestConcurrentAnswersCorrelate(t *testing.T) {
	r := New()
	const n = 50

	type result struct {
		want string
		out  Outcome
	}
	results := make(chan result, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("answer-%d", i)
			id, waiter, err := r.Register(wire.Payload{Text: fmt.Sprintf("q-%d", i)}, time.Time{})
			if err != nil {
				t.Errorf("Register() error = %v", err)
				return
			}
			go func() {
				if err := r.Complete(id, wire.Answer{Text: want}); err != nil {
					t.Errorf("Complete(%s) error = %v", id, err)
				}
			}()
			results <- result{want: want, out: <-waiter}
		}(i)
	}
	wg.Wait()
	close(results)

	got := 0
	for res := range results {
		if res.out.Answer == nil || res.out.Answer.Text != res.want {
			t.Fatalf("cross-talk: got %+v, want answer %q", res.out, res.want)
		}
		got++
	}
	if got != n {
		t.Fatalf("correlated %d answers, want %d", got, n)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d after all completions, want 0", r.Len())
	}
}

func TestConcurrentCompleteAndCancelSingleWinner(t *testing.T) {
	r := New()
	for i := 0; i < 20; i++ {
		id, waiter, err := r.Register(wire.Payload{Text: "race"}, time.Time{})
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		errs := make(chan error, 2)
		go func() { errs <- r.Complete(id, wire.Answer{Text: "won"}) }()
		go func() { errs <- r.Cancel(id, wire.ReasonDismissed) }()

		first, second := <-errs, <-errs
		if (first == nil) == (second == nil) {
			t.Fatalf("want exactly one winner, got errs %v / %v", first, second)
		}

		// Exactly one outcome is delivered either way.
		select {
		case <-waiter:
		case <-time.After(time.Second):
			t.Fatal("no outcome delivered")
		}
		select {
		case out, ok := <-waiter:
			if ok {
				t.Fatalf("second outcome delivered: %+v", out)
			}
		default:
		}
	}
}

func TestSnapshotOrdersByCreation(t *testing.T) {
	r := New()
	var ids []string
	for i := 0; i < 3; i++ {
		id, _, err := r.Register(wire.Payload{Text: fmt.Sprintf("q-%d", i)}, time.Time{})
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() len = %d, want 3", len(snap))
	}
	for i, n := range snap {
		if n.ID != ids[i] {
			t.Fatalf("Snapshot()[%d].ID = %s, want %s", i, n.ID, ids[i])
		}
	}
}
