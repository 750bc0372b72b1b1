package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/tether/pkg/protocol"
)

func TestRegistry_ReplaceTerminatesOldActor(t *testing.T) {
	gate := NewGate(2)
	r := newTestRegistry(quietSessionConfig(), nil)

	p1, _ := gate.TryAdmit()
	oldConn := newMockConn()
	r.Spawn(1, oldConn, nil, p1)
	old, _ := r.Get(1)

	p2, _ := gate.TryAdmit()
	newConn := newMockConn()
	r.Spawn(1, newConn, nil, p2)

	waitDone(t, old)
	if reason := old.CloseReason(); reason != protocol.NormalClose() {
		t.Fatalf("old reason=%+v, want Normal", reason)
	}

	cur, ok := r.Get(1)
	if !ok {
		t.Fatal("replacement was removed from the registry")
	}
	if cur.a.conn != Conn(newConn) {
		t.Fatal("registry entry does not hold the replacement")
	}
	if r.Count() != 1 {
		t.Fatalf("registry count=%d, want 1", r.Count())
	}
	if gate.InUse() != 1 {
		t.Fatalf("permits in use=%d, want 1", gate.InUse())
	}

	cur.Abort()
	waitDone(t, cur)
}

func TestRegistry_ReplaceAbortsBusyActor(t *testing.T) {
	bh := newBlockingHandler()
	r := newTestRegistry(quietSessionConfig(), bh)

	sender := r.Spawn(1, newMockConn(), nil, nil)
	old, _ := r.Get(1)

	ctx := context.Background()
	if err := sender.Send(ctx, protocol.GenerateUsername{}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	<-bh.entered
	// The handler is parked, so this one fills the queue.
	if err := sender.Send(ctx, protocol.GenerateUsername{}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	r.Spawn(1, newMockConn(), nil, nil)
	waitDone(t, old)

	if reason := old.CloseReason(); reason != protocol.ErrorClose(ErrAborted) {
		t.Fatalf("old reason=%+v, want Error(aborted)", reason)
	}
	if r.Count() != 1 {
		t.Fatalf("registry count=%d, want 1", r.Count())
	}

	cur, _ := r.Get(1)
	cur.Abort()
	waitDone(t, cur)
}

func TestRegistry_ReplacementGracePeriodAbortsSlowActor(t *testing.T) {
	bh := newBlockingHandler()
	cfg := quietSessionConfig()
	cfg.TerminationGracePeriod = 20 * time.Millisecond
	r := newTestRegistry(cfg, bh)

	sender := r.Spawn(1, newMockConn(), nil, nil)
	old, _ := r.Get(1)
	if err := sender.Send(context.Background(), protocol.GenerateUsername{}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	<-bh.entered

	// Terminate fits in the queue but the handler never returns on its own.
	start := time.Now()
	r.Spawn(1, newMockConn(), nil, nil)
	waitDone(t, old)

	if elapsed := time.Since(start); elapsed < cfg.TerminationGracePeriod {
		t.Fatalf("old actor ended after %s, before the grace period", elapsed)
	}
	if reason := old.CloseReason(); reason != protocol.ErrorClose(ErrAborted) {
		t.Fatalf("old reason=%+v, want Error(aborted)", reason)
	}

	cur, _ := r.Get(1)
	cur.Abort()
	waitDone(t, cur)
}

func TestRegistry_OldActorDoesNotRemoveReplacement(t *testing.T) {
	r := newTestRegistry(quietSessionConfig(), nil)
	r.Spawn(1, newMockConn(), nil, nil)
	old, _ := r.Get(1)
	r.Spawn(1, newMockConn(), nil, nil)
	waitDone(t, old)

	// Operations on the stale handle must not touch the new entry.
	if err := old.Terminate(context.Background()); !errors.Is(err, ErrTerminated) {
		t.Fatalf("Terminate() error=%v, want ErrTerminated", err)
	}
	if _, ok := r.Get(1); !ok {
		t.Fatal("replacement entry was removed")
	}

	cur, _ := r.Get(1)
	cur.Abort()
	waitDone(t, cur)
}

func TestRegistry_PermitsNeverExceedCapacityUnderReplacement(t *testing.T) {
	const max = 4
	gate := NewGate(max)
	r := newTestRegistry(quietSessionConfig(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			permit, err := gate.TryAdmit()
			if err != nil {
				return
			}
			if n := gate.InUse(); n > max {
				t.Errorf("permits in use=%d, want <= %d", n, max)
			}
			r.Spawn(ClientID(i%3), newMockConn(), nil, permit)
		}(i)
	}
	wg.Wait()

	if n := gate.InUse(); n > max {
		t.Fatalf("permits in use=%d, want <= %d", n, max)
	}
	waitFor(t, "one actor per id", func() bool { return gate.InUse() <= 3 })

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if gate.InUse() != 0 {
		t.Fatalf("permits in use after shutdown=%d, want 0", gate.InUse())
	}
}

func TestRegistry_RemoveAndRange(t *testing.T) {
	r := newTestRegistry(quietSessionConfig(), nil)
	for id := ClientID(1); id <= 3; id++ {
		r.Spawn(id, newMockConn(), nil, nil)
	}
	if r.Count() != 3 {
		t.Fatalf("count=%d, want 3", r.Count())
	}

	seen := 0
	r.Range(func(h *ActorHandle) bool {
		seen++
		return true
	})
	if seen != 3 {
		t.Fatalf("Range visited %d actors, want 3", seen)
	}

	r.Remove(2)
	if _, ok := r.Get(2); ok {
		t.Fatal("Get(2) found removed actor")
	}
	r.Remove(2) // no-op

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if r.Count() != 0 {
		t.Fatalf("count after shutdown=%d, want 0", r.Count())
	}
}

func TestRegistry_ShutdownAbortsOnDeadline(t *testing.T) {
	bh := newBlockingHandler()
	r := newTestRegistry(quietSessionConfig(), bh)
	sender := r.Spawn(1, newMockConn(), nil, nil)
	h, _ := r.Get(1)

	if err := sender.Send(context.Background(), protocol.GenerateUsername{}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	<-bh.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error=%v, want DeadlineExceeded", err)
	}
	waitDone(t, h)
}
