package apis

import (
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/computer"
	"github.com/mseyne/craftos2/config"
)

func testComputer(t *testing.T, id int, debug bool) *computer.Computer {
	t.Helper()
	conf := config.Default()
	conf.DataRoot = t.TempDir()
	conf.Renderer = config.RendererHeadless
	c, err := computer.NewManager(conf).Create(id, debug)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func loadInto(t *testing.T, c *computer.Computer, lib computer.Library) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	if err := lib.Load(c, L); err != nil {
		t.Fatalf("%s.Load: %v", lib.Name(), err)
	}
	return L
}

func TestOSIdentityAndEvents(t *testing.T) {
	c := testComputer(t, 7, false)
	L := loadInto(t, c, &osLib{})

	if err := L.DoString(`
		assert(os.getComputerID() == 7)
		assert(os.getComputerLabel() == nil)
		os.setComputerLabel("mine")
		assert(os.getComputerLabel() == "mine")
		os.queueEvent("custom", "a", 2)
	`); err != nil {
		t.Fatalf("guest error: %v", err)
	}

	ev, ok := c.TryNextEvent()
	if !ok || ev.Name != "custom" || len(ev.Params) != 2 {
		t.Fatalf("queued event = %v %v", ev, ok)
	}
}

func TestOSTimers(t *testing.T) {
	c := testComputer(t, 0, false)
	L := loadInto(t, c, &osLib{})

	if err := L.DoString(`
		id = os.startTimer(3600)
		os.cancelTimer(id)
		ok, err = pcall(os.startTimer, -1)
	`); err != nil {
		t.Fatalf("guest error: %v", err)
	}
	if lua.LVAsBool(L.GetGlobal("ok")) {
		t.Error("negative timer duration accepted")
	}
}

func TestOSPowerControl(t *testing.T) {
	c := testComputer(t, 0, false)
	L := loadInto(t, c, &osLib{})

	if err := L.DoString(`os.reboot()`); err != nil {
		t.Fatalf("guest error: %v", err)
	}
	if c.State() != computer.Restarting {
		t.Errorf("state after os.reboot = %d", c.State())
	}
	if err := L.DoString(`os.shutdown()`); err != nil {
		t.Fatalf("guest error: %v", err)
	}
	if c.State() != computer.Stopped {
		t.Errorf("state after os.shutdown = %d", c.State())
	}
}

func TestTermHeadlessSurface(t *testing.T) {
	c := testComputer(t, 0, false)
	L := loadInto(t, c, &termLib{})

	if err := L.DoString(`
		local w, h = term.getSize()
		assert(w == 51 and h == 19, "unexpected size")
		term.setCursorPos(3, 2)
		term.write("hi")
		x, y = term.getCursorPos()
	`); err != nil {
		t.Fatalf("guest error: %v", err)
	}
	if L.GetGlobal("x") != lua.LNumber(5) || L.GetGlobal("y") != lua.LNumber(2) {
		t.Errorf("cursor = (%v, %v), want (5, 2)",
			L.GetGlobal("x"), L.GetGlobal("y"))
	}
}

// callPeripheral exposes one method to the peripheral library.
type callPeripheral struct{}

func (*callPeripheral) TypeName() string                 { return "echo" }
func (*callPeripheral) Reinitialize(L *lua.LState) error { return nil }
func (*callPeripheral) Destroy()                         {}

func (*callPeripheral) Call(L *lua.LState, method string) (int, error) {
	L.Push(lua.LString(method + ":" + L.CheckString(3)))
	return 1, nil
}

func TestPeripheralLibrary(t *testing.T) {
	c := testComputer(t, 0, false)
	c.Attach("left", &callPeripheral{})
	L := loadInto(t, c, &peripheralLib{})

	if err := L.DoString(`
		assert(peripheral.isPresent("left"))
		assert(not peripheral.isPresent("right"))
		assert(peripheral.getType("left") == "echo")
		result = peripheral.call("left", "ping", "x")
		ok = pcall(peripheral.call, "right", "ping")
	`); err != nil {
		t.Fatalf("guest error: %v", err)
	}
	if L.GetGlobal("result") != lua.LString("ping:x") {
		t.Errorf("call result = %v", L.GetGlobal("result"))
	}
	if lua.LVAsBool(L.GetGlobal("ok")) {
		t.Error("call on an empty side did not error")
	}
}

func TestRedstoneOutputsAndEvents(t *testing.T) {
	c := testComputer(t, 0, false)
	L := loadInto(t, c, &redstoneLib{})

	if err := L.DoString(`
		rs.setOutput("top", true)
		assert(rs.getOutput("top"))
		assert(rs.getAnalogOutput("top") == 15)
		rs.setOutput("top", true) -- no change, no event
		ok = pcall(rs.setOutput, "up", true)
	`); err != nil {
		t.Fatalf("guest error: %v", err)
	}
	if lua.LVAsBool(L.GetGlobal("ok")) {
		t.Error("invalid side accepted")
	}

	if ev, found := c.TryNextEvent(); !found || ev.Name != "redstone" {
		t.Fatalf("first change event = %v %v", ev, found)
	}
	if _, found := c.TryNextEvent(); found {
		t.Error("unchanged output queued a second event")
	}
}

func TestDebuggerLibraryGating(t *testing.T) {
	plain := testComputer(t, 0, false)
	L := loadInto(t, plain, &debuggerLib{})
	if L.GetGlobal("debugger") != lua.LNil {
		t.Fatal("debugger table present on a regular computer")
	}

	dbg := testComputer(t, 1, true)
	target := testComputer(t, 2, false)
	dbg.Manager().Registry().Register(target)

	// The debugger instance was built by a different manager; register
	// the target with the one the library will consult.
	L = loadInto(t, dbg, &debuggerLib{})
	if err := L.DoString(`
		id = debugger.setBreakpoint(2, "startup.lua", 12)
		assert(debugger.unsetBreakpoint(2, id))
	`); err != nil {
		t.Fatalf("guest error: %v", err)
	}
	if target.HasBreakpoints() {
		t.Error("breakpoint survived removal")
	}
}

func TestBaseSetRespectsConfig(t *testing.T) {
	conf := config.Default()
	conf.HTTPEnable = false
	conf.DebugEnable = false
	for _, lib := range Base(conf) {
		if lib.Name() == "http" || lib.Name() == "debugger" {
			t.Errorf("disabled library %s still in base set", lib.Name())
		}
	}

	conf.HTTPEnable = true
	conf.Vanilla = true
	for _, lib := range Base(conf) {
		if lib.Name() == "http" {
			t.Error("vanilla mode still loads http")
		}
	}
}
