package computer

import (
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/term"
)

// Event is one guest-visible event: an opaque name plus a payload marshalled
// into Lua values at delivery time, on the computer's own thread.
type Event struct {
	Name   string
	Params []any
}

// eventQueue is the per-instance inbound event queue. Producers on any
// thread append without blocking; only the instance's own thread waits.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
}

func (q *eventQueue) init() {
	q.cond = sync.NewCond(&q.mu)
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.cond.Broadcast()
}

// pop removes the front entry, blocking until one exists or until stop
// returns true. FIFO; no reordering or coalescing.
func (q *eventQueue) pop(stop func() bool) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			return ev, true
		}
		if q.closed || (stop != nil && stop()) {
			return Event{}, false
		}
		q.cond.Wait()
	}
}

// tryPop removes the front entry without blocking.
func (q *eventQueue) tryPop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// wake kicks any waiter so it can re-check its stop condition.
func (q *eventQueue) wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cond != nil {
		q.cond.Broadcast()
	}
}

// clear drops all pending events; called at each boot.
func (q *eventQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// close permanently stops delivery. Once teardown begins no further event
// may touch the VM.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// TryNextEvent pops the next pending guest event without blocking. Used by
// collaborators that inspect the queue outside the resume loop.
func (c *Computer) TryNextEvent() (Event, bool) {
	return c.events.tryPop()
}

// nextResumeArgs blocks the computer's thread until an event compatible with
// hint is available, pops it and marshals it into guest-callable arguments.
// An empty hint matches anything; otherwise only events with the hinted name
// (or "terminate", which always matches) are delivered, and skipped events
// are discarded. Returns nil when the queue closed or the running flag left
// the Running state.
func (c *Computer) nextResumeArgs(hint string) []lua.LValue {
	stop := func() bool { return c.State() != Running }
	for {
		ev, ok := c.events.pop(stop)
		if !ok {
			return nil
		}
		if hint != "" && ev.Name != hint && ev.Name != "terminate" {
			continue
		}
		return c.marshalEvent(ev)
	}
}

// marshalEvent converts an event into resumption arguments. Values are
// allocated against the parameter coroutine's state.
func (c *Computer) marshalEvent(ev Event) []lua.LValue {
	args := make([]lua.LValue, 0, len(ev.Params)+1)
	args = append(args, lua.LString(ev.Name))
	for _, p := range ev.Params {
		args = append(args, toLValue(c.params, p))
	}
	return args
}

func toLValue(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int32:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint16:
		return lua.LNumber(v)
	case uint32:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	case TimerID:
		return lua.LNumber(v)
	case []any:
		t := L.NewTable()
		for i, e := range v {
			t.RawSetInt(i+1, toLValue(L, e))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, e := range v {
			t.RawSetString(k, toLValue(L, e))
		}
		return t
	case lua.LValue:
		return v
	default:
		return lua.LNil
	}
}

// inputQueue is the structurally separate low-level input queue, drained
// only by the rendering collaborator and never by the guest event path.
type inputQueue struct {
	mu    sync.Mutex
	items []term.InputEvent
}

func (q *inputQueue) push(ev term.InputEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, ev)
}

func (q *inputQueue) pop() (term.InputEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return term.InputEvent{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}
