package server

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of simultaneously live actors. It never queues
// callers: TryAdmit succeeds or fails immediately.
type Gate struct {
	sem    *semaphore.Weighted
	max    int64
	inUse  atomic.Int64
	closed atomic.Bool
}

// NewGate creates a gate with max permits.
func NewGate(max int) *Gate {
	if max < 0 {
		max = 0
	}
	return &Gate{
		sem: semaphore.NewWeighted(int64(max)),
		max: int64(max),
	}
}

// TryAdmit acquires one permit without blocking.
// It returns ErrRateLimited when the pool is exhausted and
// ErrConnectionSemaphoreClosed when the gate has been closed.
func (g *Gate) TryAdmit() (*Permit, error) {
	if g.closed.Load() {
		return nil, ErrConnectionSemaphoreClosed
	}
	if !g.sem.TryAcquire(1) {
		return nil, ErrRateLimited
	}
	g.inUse.Add(1)
	return &Permit{gate: g}, nil
}

// Close makes every further TryAdmit fail. Permits already handed out stay
// valid and can still be released.
func (g *Gate) Close() {
	g.closed.Store(true)
}

// InUse returns the number of permits currently held.
func (g *Gate) InUse() int {
	return int(g.inUse.Load())
}

// Capacity returns the configured pool size.
func (g *Gate) Capacity() int {
	return int(g.max)
}

// Permit is one unit of admitted capacity. It must be held for the whole
// lifetime of one actor.
type Permit struct {
	gate *Gate
	once sync.Once
}

// Release returns the permit to its gate. Only the first call has an effect.
func (p *Permit) Release() {
	if p == nil || p.gate == nil {
		return
	}
	p.once.Do(func() {
		p.gate.inUse.Add(-1)
		p.gate.sem.Release(1)
	})
}
