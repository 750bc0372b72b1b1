package server

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Registry maps client ids to running actors. At most one entry exists per
// id; spawning an actor for an id that is already live evicts the older one.
type Registry struct {
	mu     sync.RWMutex
	actors map[ClientID]*actor

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	handler Handler
	config  *SessionConfig
	logger  *slog.Logger
	metrics *Metrics
}

// NewRegistry creates an empty registry. Actors it spawns run handler with
// the given session config.
func NewRegistry(config *SessionConfig, handler Handler, logger *slog.Logger, metrics *Metrics) *Registry {
	if config == nil {
		config = DefaultSessionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		actors:  make(map[ClientID]*actor),
		ctx:     ctx,
		cancel:  cancel,
		handler: handler,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Spawn starts an actor for id on conn and registers it. The actor owns
// permit until it terminates. The returned sender is for the inbound
// forwarder of conn.
//
// If an actor for id is already registered it is replaced. The old actor
// gets a Terminate event if its queue has room and is aborted otherwise;
// a terminated actor that has not finished after the termination grace
// period is aborted as well.
func (r *Registry) Spawn(id ClientID, conn Conn, account *AccountID, permit *Permit) *ActorSender {
	a := newActor(id, conn, account, permit, r)
	ctx, cancel := context.WithCancel(r.ctx)
	a.cancel = cancel

	r.mu.Lock()
	old := r.actors[id]
	r.actors[id] = a
	r.mu.Unlock()

	r.metrics.sessionOpened()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		a.run(ctx)
	}()

	a.logger.Debug("actor spawned", "replaced", old != nil)
	if old != nil {
		r.evict(old)
	}
	return &ActorSender{a: a}
}

// evict stops an actor that has just been replaced in the map.
func (r *Registry) evict(old *actor) {
	terminated := (&ActorHandle{a: old}).tryTerminate()
	// The registry no longer holds old.
	old.release()

	if !terminated {
		old.logger.Debug("replaced actor busy, aborting")
		r.metrics.eviction(evictionAbort)
		old.abort()
		return
	}

	r.metrics.eviction(evictionTerminate)
	grace := r.config.TerminationGracePeriod
	timer := time.AfterFunc(grace, func() {
		if !old.isDone() {
			old.logger.Debug("replaced actor exceeded grace period", "grace", grace)
			old.abort()
		}
	})
	go func() {
		<-old.done
		timer.Stop()
	}()
}

// Get returns the handle of the actor registered for id.
func (r *Registry) Get(id ClientID) (*ActorHandle, bool) {
	r.mu.RLock()
	a, ok := r.actors[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &ActorHandle{a: a}, true
}

// Remove drops the entry for id, whatever actor it holds. The actor is not
// stopped; once its forwarder also finishes, its event loop ends.
func (r *Registry) Remove(id ClientID) {
	r.mu.Lock()
	a, ok := r.actors[id]
	if ok {
		delete(r.actors, id)
	}
	r.mu.Unlock()
	if ok {
		a.release()
	}
}

// removeActor drops the entry for a's id only while it still holds a, so
// a terminating actor never removes its replacement.
func (r *Registry) removeActor(a *actor) {
	r.mu.Lock()
	cur, ok := r.actors[a.id()]
	match := ok && cur == a
	if match {
		delete(r.actors, a.id())
	}
	r.mu.Unlock()
	if match {
		a.release()
	}
}

// Count returns the number of registered actors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}

// Range calls fn for each registered actor until fn returns false.
func (r *Registry) Range(fn func(*ActorHandle) bool) {
	r.mu.RLock()
	handles := make([]*ActorHandle, 0, len(r.actors))
	for _, a := range r.actors {
		handles = append(handles, &ActorHandle{a: a})
	}
	r.mu.RUnlock()

	for _, h := range handles {
		if !fn(h) {
			return
		}
	}
}

// Shutdown terminates every actor and waits for all of them to finish.
// Actors still running when ctx expires are aborted.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	actors := make([]*actor, 0, len(r.actors))
	for id, a := range r.actors {
		actors = append(actors, a)
		delete(r.actors, id)
	}
	r.mu.Unlock()

	r.logger.Info("terminating sessions", "count", len(actors))
	for _, a := range actors {
		if !(&ActorHandle{a: a}).tryTerminate() {
			a.abort()
		}
		a.release()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.logger.Warn("shutdown timed out, aborting remaining sessions")
		for _, a := range actors {
			a.abort()
		}
		r.cancel()
		<-done
		return ctx.Err()
	}
}
