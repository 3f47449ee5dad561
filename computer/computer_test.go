package computer

import (
	"fmt"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/config"
	"github.com/mseyne/craftos2/term"
)

// fakeDisplay satisfies term.Display for teardown tests.
type fakeDisplay struct {
	onClose    func()
	fatal      bool
	lastFatal  string
	lastDialog string
}

func (d *fakeDisplay) Title() string                                  { return "fake" }
func (d *fakeDisplay) Size() (int, int)                               { return term.DefaultWidth, term.DefaultHeight }
func (d *fakeDisplay) Reset(w, h int)                                 {}
func (d *fakeDisplay) Blit(x, y int, text string)                     {}
func (d *fakeDisplay) SetCursor(x, y int)                             {}
func (d *fakeDisplay) SetGrayscale(on bool)                           {}
func (d *fakeDisplay) ShowFatalError(msg string)                      { d.fatal = true; d.lastFatal = msg }
func (d *fakeDisplay) ShowMessage(kind term.MessageKind, t, b string) { d.lastDialog = t + ": " + b }
func (d *fakeDisplay) ErrorMode() bool                                { return d.fatal }

func (d *fakeDisplay) Close() error {
	if d.onClose != nil {
		d.onClose()
	}
	return nil
}

func inputWithKey(key string) term.InputEvent { return term.InputEvent{Key: key} }

func testManager(t *testing.T, libs ...Library) *Manager {
	t.Helper()
	conf := config.Default()
	conf.DataRoot = t.TempDir()
	conf.Renderer = config.RendererHeadless
	return NewManager(conf, WithLibraries(libs...))
}

func testComputer(t *testing.T, m *Manager, id int) *Computer {
	t.Helper()
	c, err := m.Create(id, false)
	if err != nil {
		t.Fatalf("Create(%d): %v", id, err)
	}
	return c
}

// funcLib adapts a closure into a Library for tests.
type funcLib struct {
	name string
	load func(c *Computer, L *lua.LState) error
}

func (l *funcLib) Name() string                          { return l.name }
func (l *funcLib) Load(c *Computer, L *lua.LState) error { return l.load(c, L) }

func TestEventDeliveryFIFO(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)
	c.setState(Running)

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			c.QueueEvent("tick", i)
		}
	}()

	for i := 0; i < n; i++ {
		args := c.nextResumeArgs("")
		if args == nil {
			t.Fatalf("event %d: queue stopped early", i)
		}
		if got := args[0]; got != lua.LString("tick") {
			t.Fatalf("event %d: name = %v", i, got)
		}
		if got := args[1]; got != lua.LNumber(i) {
			t.Fatalf("event %d: payload = %v, want %d", i, got, i)
		}
	}
}

func TestEventHintDiscardsNonMatching(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)
	c.setState(Running)

	c.QueueEvent("mouse")
	c.QueueEvent("key")
	c.QueueEvent("timer")

	args := c.nextResumeArgs("timer")
	if args == nil || args[0] != lua.LString("timer") {
		t.Fatalf("hinted pop = %v, want timer", args)
	}

	// The skipped events are gone, not reordered behind the match.
	c.QueueEvent("key")
	args = c.nextResumeArgs("")
	if args == nil || args[0] != lua.LString("key") {
		t.Fatalf("after discard = %v, want key", args)
	}
}

func TestEventHintAlwaysDeliversTerminate(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)
	c.setState(Running)

	c.QueueEvent("terminate")
	args := c.nextResumeArgs("timer")
	if args == nil || args[0] != lua.LString("terminate") {
		t.Fatalf("got %v, want terminate through a timer hint", args)
	}
}

func TestNextResumeArgsWakesOnStateChange(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)
	c.setState(Running)

	done := make(chan []lua.LValue, 1)
	go func() { done <- c.nextResumeArgs("") }()

	time.Sleep(20 * time.Millisecond)
	c.Shutdown()

	select {
	case args := <-done:
		if args != nil {
			t.Fatalf("got %v, want nil after shutdown", args)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nextResumeArgs did not observe the shutdown")
	}
}

func TestRegistryFreedSets(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 3)

	r := m.Registry()
	r.Register(c)
	if _, ok := r.Lookup(3); !ok {
		t.Fatal("registered computer not found")
	}

	r.Unregister(c)
	r.MarkFreed(c)
	if _, ok := r.Lookup(3); ok {
		t.Fatal("unregistered computer still visible")
	}
	if !r.IsFreed(c) {
		t.Fatal("freed computer not in freed set")
	}

	// A restarted computer at the same address must clear its entry.
	r.ClearFreed(c)
	if r.IsFreed(c) {
		t.Fatal("freed entry survived ClearFreed")
	}
}

func TestTimerIDsInvalidatedOnTeardown(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)
	c.setState(Running)

	id := c.StartTimer(time.Hour)
	if m.Registry().IsTimerFreed(id) {
		t.Fatal("fresh timer id already freed")
	}

	c.invalidateTimers()
	if !m.Registry().IsTimerFreed(id) {
		t.Fatal("timer id not freed by teardown")
	}

	// Calling again must not double-free or panic.
	c.invalidateTimers()
}

func TestFiredTimerQueuesEvent(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)
	c.setState(Running)

	id := c.StartTimer(5 * time.Millisecond)
	args := c.nextResumeArgs("timer")
	if args == nil || args[0] != lua.LString("timer") || args[1] != lua.LNumber(id) {
		t.Fatalf("timer event = %v, want timer %d", args, id)
	}
}

func TestCancelledTimerNeverFires(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)
	c.setState(Running)

	id := c.StartTimer(10 * time.Millisecond)
	if !c.CancelTimer(id) {
		t.Fatal("CancelTimer reported no timer")
	}
	time.Sleep(30 * time.Millisecond)

	c.QueueEvent("sentinel")
	args := c.nextResumeArgs("")
	if args == nil || args[0] != lua.LString("sentinel") {
		t.Fatalf("got %v, want sentinel with no timer event before it", args)
	}
}

func TestBreakpointIDsNeverReused(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)

	first := c.SetBreakpoint("startup.lua", 10)
	second := c.SetBreakpoint("startup.lua", 20)
	if second <= first {
		t.Fatalf("ids not increasing: %d then %d", first, second)
	}

	c.UnsetBreakpoint(second)
	third := c.SetBreakpoint("startup.lua", 30)
	if third <= second {
		t.Fatalf("id %d reused after removal of %d", third, second)
	}
}

func TestBreakpointHookInstallRemove(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)

	if c.HasBreakpoints() {
		t.Fatal("fresh computer has breakpoints")
	}
	id := c.SetBreakpoint("bios.lua", 1)
	if !c.HasBreakpoints() || c.HookMask() == 0 {
		t.Fatal("first breakpoint did not install the hook")
	}
	if !c.UnsetBreakpoint(id) {
		t.Fatal("UnsetBreakpoint reported no breakpoint")
	}
	if c.HasBreakpoints() || c.HookMask() != 0 {
		t.Fatal("last removal did not clear the hook")
	}
}

// refPeripheral points back at another computer, like a cross-instance
// networking device.
type refPeripheral struct {
	target    *Computer
	destroyed bool
}

func (p *refPeripheral) TypeName() string                 { return "computer" }
func (p *refPeripheral) Reinitialize(L *lua.LState) error { return nil }
func (p *refPeripheral) Destroy()                         { p.destroyed = true }
func (p *refPeripheral) Target() *Computer                { return p.target }

func TestReferencerDetachOnTeardown(t *testing.T) {
	m := testManager(t)
	a := testComputer(t, m, 1)
	b := testComputer(t, m, 2)

	p := &refPeripheral{target: a}
	b.Attach("back", p)
	a.AddReferencer(b)

	if err := m.destroy(a); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	if _, ok := b.Peripheral("back"); ok {
		t.Fatal("referencing peripheral still attached after target teardown")
	}
	if !p.destroyed {
		t.Fatal("referencing peripheral not destroyed")
	}
}

func TestDestroyIdempotentDisplayRelease(t *testing.T) {
	m := testManager(t)
	closed := 0
	m.displayFn = func(conf *config.Global, title string) (term.Display, error) {
		return &fakeDisplay{onClose: func() { closed++ }}, nil
	}
	c := testComputer(t, m, 0)

	if err := m.destroy(c); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := m.destroy(c); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if closed != 1 {
		t.Fatalf("display closed %d times, want 1", closed)
	}
}

func TestUserDataFinalizersRunOnce(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)

	runs := 0
	c.SetUserData("session", "token", func(c *Computer, key string, value any) {
		runs++
		if key != "session" || value != "token" {
			t.Errorf("finalizer got (%q, %v)", key, value)
		}
	})

	if err := m.destroy(c); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := m.destroy(c); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if runs != 1 {
		t.Fatalf("finalizer ran %d times, want 1", runs)
	}
}

func TestCreateLocksDataDir(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 7)

	if _, err := m.Create(7, false); err == nil {
		t.Fatal("second Create on the same data dir succeeded")
	}

	if err := m.destroy(c); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	c2, err := m.Create(7, false)
	if err != nil {
		t.Fatalf("Create after release: %v", err)
	}
	_ = m.destroy(c2)
}

func TestDebounceReplacesPending(t *testing.T) {
	m := testManager(t)
	c := testComputer(t, m, 0)
	m.registry.Register(c)

	for i := 0; i < 5; i++ {
		c.DebounceInput(inputWithKey(fmt.Sprint(i)), 20*time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)

	ev, ok := c.PollInput()
	if !ok || ev.Key != "4" {
		t.Fatalf("debounced input = %v %v, want the last one", ev, ok)
	}
	if _, ok := c.PollInput(); ok {
		t.Fatal("more than one debounced input delivered")
	}
}
