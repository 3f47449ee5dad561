package computer

import (
	"io"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/mseyne/craftos2/errors"
)

// The yieldable-load trampoline.
//
// The interpreter's compile primitive (parse + compile) runs to completion
// on the calling thread and cannot be suspended if the guest-supplied reader
// function wants to yield back to the scheduler mid-parse. The trampoline
// runs the actual parse on a second, dedicated thread; whenever the reader
// yields, control is handed back to the calling thread's coroutine through
// a strict ping-pong rendezvous, the calling coroutine yields the staged
// values itself, and the resumption values travel back to the parser.
// The compile primitive is untouched.
//
// At most one of the two threads ever runs guest VM code for a given
// context. The parser thread is parked until the caller blocks inside a
// rendezvous native and only runs between a native's send and its own next
// suspension, so the two threads never execute against the same VM state
// concurrently; value slices are moved across the boundary exactly once
// per handoff, never shared.

// Load context states.
const (
	loadRunning int32 = iota
	loadSuspended
	loadCompleted
	loadCancelled
)

// handoff carries ownership of staged values across the thread boundary.
type handoff struct {
	state  int32
	values []lua.LValue
}

type loadContext struct {
	name   string
	caller *lua.LState    // calling coroutine; parked while the parser runs
	reader *lua.LFunction // guest reader, invoked fresh per chunk
	coro   *lua.LState    // reader coroutine for the chunk in flight

	state atomic.Int32

	// started flips when the first poll launches the parser thread. Only
	// the calling thread touches it.
	started bool

	toCaller chan handoff
	toParser chan handoff

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}

	// Completion results, written by the parser thread before it signals
	// loadCompleted and read by the calling thread after.
	proto   *lua.FunctionProto
	loadErr error

	// Reader-side failure recorded by the chunk reader; takes precedence
	// over whatever the parse primitive made of the truncated input.
	readErr error
}

func newLoadContext(name string, caller *lua.LState, reader *lua.LFunction) *loadContext {
	return &loadContext{
		name:     name,
		caller:   caller,
		reader:   reader,
		toCaller: make(chan handoff),
		toParser: make(chan handoff),
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (ctx *loadContext) cancelled() bool {
	select {
	case <-ctx.cancel:
		return true
	default:
		return false
	}
}

// cancelAndJoin aborts the parser thread and waits for it to exit. A
// dangling parser thread must never outlive its context. A context that
// was never polled has no parser thread to join.
func (ctx *loadContext) cancelAndJoin() {
	ctx.state.Store(loadCancelled)
	ctx.cancelOnce.Do(func() { close(ctx.cancel) })
	if ctx.started {
		<-ctx.done
	}
}

// run is the parser thread body.
func (ctx *loadContext) run() {
	defer close(ctx.done)

	chunk, err := parse.Parse(&chunkReader{ctx: ctx}, ctx.name)
	if ctx.cancelled() {
		return
	}
	if ctx.readErr != nil {
		err = ctx.readErr
	}
	if err == nil {
		var proto *lua.FunctionProto
		if proto, err = lua.Compile(chunk, ctx.name); err == nil {
			ctx.proto = proto
		}
	}
	ctx.loadErr = err

	ctx.state.Store(loadCompleted)
	select {
	case ctx.toCaller <- handoff{state: loadCompleted}:
	case <-ctx.cancel:
	}
}

// suspend hands the reader's yielded values to the calling thread and
// blocks until it feeds the resumption values back.
func (ctx *loadContext) suspend(values []lua.LValue) ([]lua.LValue, error) {
	ctx.state.Store(loadSuspended)
	select {
	case ctx.toCaller <- handoff{state: loadSuspended, values: values}:
	case <-ctx.cancel:
		return nil, errors.Cancelled(errors.PhaseLoad, ctx.name)
	}
	select {
	case h := <-ctx.toParser:
		ctx.state.Store(loadRunning)
		return h.values, nil
	case <-ctx.cancel:
		return nil, errors.Cancelled(errors.PhaseLoad, ctx.name)
	}
}

// nextChunk invokes the guest reader once, bridging any yields it makes,
// and returns the chunk it produced. io.EOF ends the input normally.
func (ctx *loadContext) nextChunk() (string, error) {
	co, _ := ctx.caller.NewThread()
	ctx.coro = co
	var args []lua.LValue
	for {
		st, rerr, values := ctx.caller.Resume(co, ctx.reader, args...)
		switch st {
		case lua.ResumeOK:
			if len(values) == 0 || values[0] == lua.LNil {
				return "", io.EOF
			}
			if s, ok := values[0].(lua.LString); ok {
				return string(s), nil
			}
			return "", errors.InvalidInput(errors.PhaseLoad, "reader function must return a string")
		case lua.ResumeYield:
			resumed, err := ctx.suspend(values)
			if err != nil {
				return "", err
			}
			args = resumed
		default:
			return "", rerr
		}
	}
}

// chunkReader adapts the chunk-by-chunk reader protocol to the io.Reader
// the compile primitive wants.
type chunkReader struct {
	ctx *loadContext
	buf []byte
	eof bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.eof {
		return 0, io.EOF
	}
	for len(r.buf) == 0 {
		chunk, err := r.ctx.nextChunk()
		if err == io.EOF {
			r.eof = true
			return 0, io.EOF
		}
		if err != nil {
			r.ctx.readErr = err
			return 0, err
		}
		r.buf = []byte(chunk)
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (c *Computer) trackLoad(ctx *loadContext) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	c.loads[ctx] = struct{}{}
}

func (c *Computer) untrackLoad(ctx *loadContext) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	delete(c.loads, ctx)
}

// cancelLoads terminates every live load context. Called during VM
// teardown, before the state is closed.
func (c *Computer) cancelLoads() {
	c.loadMu.Lock()
	ctxs := c.loads
	c.loads = make(map[*loadContext]struct{})
	c.loadMu.Unlock()
	for ctx := range ctxs {
		ctx.cancelAndJoin()
	}
}

// beginLoad validates the arguments and allocates the context. The parser
// thread stays parked until the caller blocks inside the first poll, so
// the shim code after begin never overlaps with parser-side VM access.
// Returns the context as the shim's continuation token.
func (c *Computer) beginLoad(L *lua.LState) int {
	c.NoteEntry("load")
	reader := L.CheckFunction(1)
	name := L.OptString(2, "=(load)")

	ctx := newLoadContext(name, L, reader)
	c.trackLoad(ctx)

	ud := L.NewUserData()
	ud.Value = ctx
	L.Push(ud)
	return 1
}

// pollLoad launches the parser thread on first entry, then blocks the
// calling thread on the rendezvous until the parser stages a suspension
// or the final result. Returns the state, the staged value count, then
// the values.
func (c *Computer) pollLoad(L *lua.LState) int {
	ctx := checkLoadContext(L)
	if !ctx.started {
		ctx.started = true
		go ctx.run()
	}
	return c.awaitHandoff(L, ctx)
}

// feedLoad moves the guest's resumption values to the parser thread and
// blocks for the next handoff in the same native call. The parser only
// ever runs while the caller is parked in here or in pollLoad.
func (c *Computer) feedLoad(L *lua.LState) int {
	ctx := checkLoadContext(L)

	n := L.GetTop() - 1
	values := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		values[i] = L.Get(i + 2)
	}
	L.SetTop(1)

	select {
	case ctx.toParser <- handoff{state: loadRunning, values: values}:
	case <-ctx.cancel:
		L.Push(lua.LNumber(loadCancelled))
		L.Push(lua.LNumber(0))
		return 2
	}
	return c.awaitHandoff(L, ctx)
}

func (c *Computer) awaitHandoff(L *lua.LState, ctx *loadContext) int {
	select {
	case h := <-ctx.toCaller:
		if h.state == loadCompleted {
			c.untrackLoad(ctx)
			return pushCompleted(L, ctx)
		}
		L.Push(lua.LNumber(loadSuspended))
		L.Push(lua.LNumber(len(h.values)))
		for _, v := range h.values {
			L.Push(v)
		}
		return 2 + len(h.values)

	case <-ctx.cancel:
		L.Push(lua.LNumber(loadCancelled))
		L.Push(lua.LNumber(0))
		return 2
	}
}

func pushCompleted(L *lua.LState, ctx *loadContext) int {
	L.Push(lua.LNumber(loadCompleted))
	if ctx.proto != nil {
		L.Push(lua.LNumber(1))
		L.Push(L.NewFunctionFromProto(ctx.proto))
		return 3
	}
	L.Push(lua.LNumber(2))
	L.Push(lua.LNil)
	msg := "load failed"
	if ctx.loadErr != nil {
		msg = ctx.loadErr.Error()
	}
	L.Push(lua.LString(msg))
	return 4
}

func checkLoadContext(L *lua.LState) *loadContext {
	ud := L.CheckUserData(1)
	ctx, ok := ud.Value.(*loadContext)
	if !ok {
		L.ArgError(1, "load context expected")
	}
	return ctx
}

// loadShimSource is the guest-side continuation of the trampoline. Every
// pass around the loop re-enters the protocol with the same context token:
// a suspended context makes the calling coroutine itself yield the staged
// values, a completed context returns the compiled function (or nil plus
// the error message), a cancelled context aborts. Each of poll and feed
// returns the next staged tuple, so the coroutine holds no VM control
// while the parser is running.
const loadShimSource = `
local begin, poll, feed = ...
local rawload = load
return function(chunk, chunkname)
	if type(chunk) ~= "function" then
		return rawload(chunk, chunkname)
	end
	local ctx = begin(chunk, chunkname)
	local r = {poll(ctx)}
	while true do
		local status, n = r[1], r[2]
		if status == 2 then
			return unpack(r, 3, 2 + n)
		elseif status == 3 then
			return nil, "load cancelled"
		end
		r = {feed(ctx, coroutine.yield(unpack(r, 3, 2 + n)))}
	end
end
`

// installYieldableLoad replaces the global load with the trampoline-backed
// version. Installed only when the active configuration demands it.
func installYieldableLoad(c *Computer, L *lua.LState) error {
	shim, err := L.LoadString(loadShimSource)
	if err != nil {
		return errors.Internal(errors.PhaseBoot, "compile load shim", err)
	}
	L.Push(shim)
	L.Push(L.NewFunction(c.beginLoad))
	L.Push(L.NewFunction(c.pollLoad))
	L.Push(L.NewFunction(c.feedLoad))
	if err := L.PCall(3, 1, nil); err != nil {
		return errors.Internal(errors.PhaseBoot, "install load shim", err)
	}
	L.SetGlobal("load", L.Get(-1))
	L.Pop(1)
	return nil
}
