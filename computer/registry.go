package computer

import (
	"sync"

	"github.com/mseyne/craftos2/term"
)

// TimerID identifies an OS-level timer owned by a computer.
type TimerID uint32

// Registry owns the process-wide instance bookkeeping: the live-instance
// list, the freed-instance and freed-timer sets, and displays orphaned by a
// fatal-error screen. All operations are synchronized; no raw shared state
// crosses threads without it.
//
// The freed sets are correctness requirements, not optimizations: timer
// callbacks and async collaborators may fire after an instance is torn down,
// and the allocator may hand the same address to a new instance.
type Registry struct {
	mu          sync.Mutex
	live        []*Computer
	freed       map[*Computer]struct{}
	freedTimers map[TimerID]struct{}
	orphans     map[term.Display]struct{}
	nextTimer   TimerID
}

func NewRegistry() *Registry {
	return &Registry{
		freed:       make(map[*Computer]struct{}),
		freedTimers: make(map[TimerID]struct{}),
		orphans:     make(map[term.Display]struct{}),
	}
}

// Register adds c to the live-instance list.
func (r *Registry) Register(c *Computer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = append(r.live, c)
}

// Unregister removes c from the live-instance list.
func (r *Registry) Unregister(c *Computer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.live {
		if v == c {
			r.live = append(r.live[:i], r.live[i+1:]...)
			return
		}
	}
}

// Live returns a snapshot of the live-instance list.
func (r *Registry) Live() []*Computer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Computer, len(r.live))
	copy(out, r.live)
	return out
}

// Lookup finds a live computer by id.
func (r *Registry) Lookup(id int) (*Computer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.live {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// MarkFreed records that c's backing memory is being released.
func (r *Registry) MarkFreed(c *Computer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freed[c] = struct{}{}
}

// ClearFreed removes c from the freed set. Called at thread start in case
// the allocator reused the address of a previously-freed instance.
func (r *Registry) ClearFreed(c *Computer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.freed, c)
}

// IsFreed reports whether c has been torn down. Callbacks holding a stale
// reference must check this before acting; membership means ignore.
func (r *Registry) IsFreed(c *Computer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.freed[c]
	return ok
}

// AllocTimerID issues a process-unique timer id.
func (r *Registry) AllocTimerID() TimerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTimer++
	return r.nextTimer
}

// FreeTimer marks a timer id invalid. Its callback must check IsTimerFreed
// before acting.
func (r *Registry) FreeTimer(id TimerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freedTimers[id] = struct{}{}
}

func (r *Registry) IsTimerFreed(id TimerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.freedTimers[id]
	return ok
}

// OrphanDisplay transfers ownership of a display that must outlive its
// computer because it is showing a fatal-error screen.
func (r *Registry) OrphanDisplay(d term.Display) {
	if d == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphans[d] = struct{}{}
}

// AdoptOrphans removes and returns every orphaned display, for final
// release at process shutdown.
func (r *Registry) AdoptOrphans() []term.Display {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]term.Display, 0, len(r.orphans))
	for d := range r.orphans {
		out = append(out, d)
	}
	r.orphans = make(map[term.Display]struct{})
	return out
}
