package session

import (
	"sync"

	"github.com/dbdrift/topologycore/description"
)

// Pool tracks server sessions available for reuse, and the logical session
// timeout minutes gossipped by the topology.
type Pool struct {
	mu          sync.Mutex
	available   []ID
	checkedOut  map[ID]struct{}
	timeoutMins uint32
	done        chan struct{}
}

// NewPool creates a new session pool and, if updates is non-nil, starts a
// goroutine that keeps the pool's idea of the logical session timeout in
// sync with topology description changes.
func NewPool(updates <-chan description.Topology) *Pool {
	p := &Pool{
		checkedOut: make(map[ID]struct{}),
		done:       make(chan struct{}),
	}
	if updates != nil {
		go p.watch(updates)
	}
	return p
}

func (p *Pool) watch(updates <-chan description.Topology) {
	for {
		select {
		case td, ok := <-updates:
			if !ok {
				return
			}
			p.mu.Lock()
			p.timeoutMins = td.SessionTimeoutMinutes
			p.mu.Unlock()
		case <-p.done:
			return
		}
	}
}

// checkOut returns the most recently checked-in session id if one is
// available, otherwise mints a fresh one. Available ids are not checked for
// expiry.
func (p *Pool) checkOut() ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.available); n > 0 {
		id := p.available[n-1]
		p.available = p.available[:n-1]
		p.checkedOut[id] = struct{}{}
		return id
	}

	id := newID()
	p.checkedOut[id] = struct{}{}
	return id
}

// checkIn returns a session id to the available pool.
func (p *Pool) checkIn(id ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.checkedOut, id)
	p.available = append(p.available, id)
}

// IDSlice returns every outstanding and available session id, used by
// Client.endSessions to batch an "endSessions" admin command.
func (p *Pool) IDSlice() []ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]ID, 0, len(p.available)+len(p.checkedOut))
	ids = append(ids, p.available...)
	for id := range p.checkedOut {
		ids = append(ids, id)
	}
	return ids
}

// CheckedOut returns the number of sessions currently checked out.
func (p *Pool) CheckedOut() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.checkedOut)
}

// TimeoutMinutes returns the gossipped logical session timeout.
func (p *Pool) TimeoutMinutes() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeoutMins
}

// Close stops the pool's background watcher.
func (p *Pool) Close() {
	close(p.done)
}
