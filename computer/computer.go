package computer

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/mseyne/craftos2/config"
	"github.com/mseyne/craftos2/term"
)

// Running states for a computer. Restarting tears the current VM
// incarnation down and boots a fresh one; Stopped exits the run loop.
const (
	Stopped int32 = iota
	Running
	Restarting
)

// Mounter is the virtual filesystem collaborator. Mount reports success;
// individual mount failures during construction are either fatal (system
// image) or warnings (custom mounts).
type Mounter interface {
	Mount(c *Computer, hostPath, guestName string, readOnly bool) bool
	UnmountAll(c *Computer)
}

// Library is a guest-visible capability module, loaded against each fresh
// VM incarnation at boot.
type Library interface {
	Name() string
	Load(c *Computer, L *lua.LState) error
}

// LibraryDeinit is implemented by libraries that hold per-incarnation
// resources. Deinit runs at every VM teardown, before the state is closed.
type LibraryDeinit interface {
	Deinit(c *Computer)
}

// Peripheral is the lifecycle contract for attached peripherals.
type Peripheral interface {
	TypeName() string
	Reinitialize(L *lua.LState) error
	Destroy()
}

// ComputerRef is implemented by peripherals that point back at another
// computer. Teardown of the target detaches them from their owner.
type ComputerRef interface {
	Target() *Computer
}

// Caller is implemented by peripherals exposing guest-callable methods.
// Arguments start at stack index 3 (after side and method); Call pushes
// its results and returns their count.
type Caller interface {
	Call(L *lua.LState, method string) (int, error)
}

// UserDataFinalizer runs at teardown for externally-attached user data.
type UserDataFinalizer func(c *Computer, key string, value any)

// Computer is one sandboxed guest session: its own VM, event queue, display
// and resources, driven by a dedicated thread.
type Computer struct {
	id         int
	isDebugger bool

	mgr  *Manager
	log  *zap.Logger
	conf config.Computer

	// Seeded by the computer's thread before the first incarnation.
	rng *rand.Rand

	running atomic.Int32

	// VM incarnation state, owned by the computer's thread.
	L      *lua.LState
	coro   *lua.LState
	params *lua.LState

	events eventQueue
	inputs inputQueue

	display term.Display
	dataDir string
	dirLock *flock.Flock

	// Timers owned for the instance's lifetime.
	timerMu   sync.Mutex
	timers    map[TimerID]*time.Timer
	watchdog  *time.Timer
	debounce  *time.Timer
	timedOut  atomic.Bool
	lastEntry atomic.Value // string; last known native entry point

	// Debug state.
	debugMu           sync.Mutex
	breakpoints       map[int]Breakpoint
	nextBreakpoint    int
	hasBreakpoints    bool
	hookMask          int
	forceCheckTimeout bool

	// Peripherals and the computers referencing this one.
	periphMu    sync.Mutex
	peripherals map[string]Peripheral
	refMu       sync.Mutex
	referencers map[*Computer]struct{}

	// Open network sockets, force-closed at teardown.
	sockMu  sync.Mutex
	sockets map[string]*websocket.Conn

	// Externally-attached user data and its finalizers.
	userMu     sync.Mutex
	userdata   map[string]any
	finalizers map[string]UserDataFinalizer

	// Live yieldable-load contexts, cancelled at VM teardown.
	loadMu sync.Mutex
	loads  map[*loadContext]struct{}
}

func (c *Computer) ID() int          { return c.id }
func (c *Computer) IsDebugger() bool { return c.isDebugger }

// Manager returns the lifecycle manager that owns this computer.
func (c *Computer) Manager() *Manager { return c.mgr }

// Config returns the configuration snapshot loaded at construction. The
// snapshot is persisted at destruction.
func (c *Computer) Config() *config.Computer { return &c.conf }

// Display returns the attached display handle, nil in headless mode.
func (c *Computer) Display() term.Display { return c.display }

// DataDir returns the computer's private data directory.
func (c *Computer) DataDir() string { return c.dataDir }

// Rand returns the computer's private random source. Valid once the
// computer's thread has started; not safe for use from other threads.
func (c *Computer) Rand() *rand.Rand { return c.rng }

func (c *Computer) State() int32 { return c.running.Load() }

func (c *Computer) setState(s int32) {
	c.running.Store(s)
	// A state change must wake a resume loop blocked on the event queue.
	c.events.wake()
}

// Shutdown requests a cooperative halt, observed after the current resume.
func (c *Computer) Shutdown() { c.setState(Stopped) }

// Reboot requests a fresh VM incarnation without destroying the instance.
func (c *Computer) Reboot() { c.setState(Restarting) }

// QueueEvent appends a guest-visible event. Safe to call from any thread;
// never blocks the producer. Events queued after teardown begins are
// silently dropped.
func (c *Computer) QueueEvent(name string, params ...any) {
	c.events.push(Event{Name: name, Params: params})
}

// PushInput appends a raw input event for the rendering collaborator. This
// queue is separate from the guest event queue and is never consumed by the
// guest-visible event path.
func (c *Computer) PushInput(ev term.InputEvent) { c.inputs.push(ev) }

// PollInput pops the next raw input event, if any.
func (c *Computer) PollInput() (term.InputEvent, bool) { return c.inputs.pop() }

// DebounceInput delivers ev after d, replacing any pending debounced event.
// Used for high-cadence raw events like pointer movement.
func (c *Computer) DebounceInput(ev term.InputEvent, d time.Duration) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(d, func() {
		if c.mgr.registry.IsFreed(c) {
			return
		}
		c.inputs.push(ev)
	})
}

// NoteEntry records the native entry point currently executing, reported
// with host-level failures.
func (c *Computer) NoteEntry(name string) { c.lastEntry.Store(name) }

func (c *Computer) lastEntryPoint() string {
	if v := c.lastEntry.Load(); v != nil {
		return v.(string)
	}
	return "(none)"
}

// Attach adds a peripheral on the given side, replacing any previous one,
// and reinitializes it against the current VM if one is live.
func (c *Computer) Attach(side string, p Peripheral) {
	c.periphMu.Lock()
	if old, ok := c.peripherals[side]; ok {
		old.Destroy()
	}
	c.peripherals[side] = p
	c.periphMu.Unlock()
}

// Detach removes and destroys the peripheral on side.
func (c *Computer) Detach(side string) bool {
	c.periphMu.Lock()
	defer c.periphMu.Unlock()
	p, ok := c.peripherals[side]
	if !ok {
		return false
	}
	p.Destroy()
	delete(c.peripherals, side)
	return true
}

// Peripheral returns the peripheral attached on side.
func (c *Computer) Peripheral(side string) (Peripheral, bool) {
	c.periphMu.Lock()
	defer c.periphMu.Unlock()
	p, ok := c.peripherals[side]
	return p, ok
}

// PeripheralSides lists occupied sides.
func (c *Computer) PeripheralSides() []string {
	c.periphMu.Lock()
	defer c.periphMu.Unlock()
	sides := make([]string, 0, len(c.peripherals))
	for s := range c.peripherals {
		sides = append(sides, s)
	}
	return sides
}

// AddReferencer records that other holds a peripheral pointing at this
// computer. Not ownership; used only to detach on teardown.
func (c *Computer) AddReferencer(other *Computer) {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	c.referencers[other] = struct{}{}
}

func (c *Computer) RemoveReferencer(other *Computer) {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	delete(c.referencers, other)
}

// detachRefsTo removes every peripheral on c that points back at target,
// under c's own peripheral lock only. The global registry lock is never
// nested inside it.
func (c *Computer) detachRefsTo(target *Computer) {
	c.periphMu.Lock()
	defer c.periphMu.Unlock()
	for side, p := range c.peripherals {
		if ref, ok := p.(ComputerRef); ok && ref.Target() == target {
			p.Destroy()
			delete(c.peripherals, side)
		}
	}
}

// AddSocket records an open websocket owned by this computer and returns
// its handle id.
func (c *Computer) AddSocket(conn *websocket.Conn) string {
	c.sockMu.Lock()
	defer c.sockMu.Unlock()
	id := uuid.NewString()
	c.sockets[id] = conn
	return id
}

// CloseSocket closes and forgets one socket.
func (c *Computer) CloseSocket(id string) bool {
	c.sockMu.Lock()
	conn, ok := c.sockets[id]
	delete(c.sockets, id)
	c.sockMu.Unlock()
	if ok {
		_ = conn.Close()
	}
	return ok
}

// closeSockets force-closes every open socket.
func (c *Computer) closeSockets() {
	c.sockMu.Lock()
	conns := c.sockets
	c.sockets = make(map[string]*websocket.Conn)
	c.sockMu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// SetUserData attaches external user data with an optional finalizer that
// runs at teardown.
func (c *Computer) SetUserData(key string, value any, fin UserDataFinalizer) {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	c.userdata[key] = value
	if fin != nil {
		c.finalizers[key] = fin
	}
}

// UserData returns the user data stored under key.
func (c *Computer) UserData(key string) (any, bool) {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	v, ok := c.userdata[key]
	return v, ok
}
