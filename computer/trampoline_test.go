package computer

import (
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func testLoadComputer(t *testing.T) (*Computer, *lua.LState) {
	t.Helper()
	m := testManager(t)
	c := testComputer(t, m, 0)
	L := lua.NewState()
	t.Cleanup(L.Close)
	c.L = L
	if err := installYieldableLoad(c, L); err != nil {
		t.Fatalf("installYieldableLoad: %v", err)
	}
	return c, L
}

// driveMain resumes fn on a fresh coroutine until it completes, counting
// suspensions on the way, and returns the final values.
func driveMain(t *testing.T, L *lua.LState, fn *lua.LFunction) (int, []lua.LValue) {
	t.Helper()
	co, _ := L.NewThread()
	yields := 0
	var args []lua.LValue
	for {
		st, err, values := L.Resume(co, fn, args...)
		switch st {
		case lua.ResumeYield:
			yields++
			args = nil
		case lua.ResumeOK:
			return yields, values
		default:
			t.Fatalf("resume error after %d yields: %v", yields, err)
		}
	}
}

func mainFunc(t *testing.T, L *lua.LState, script string) *lua.LFunction {
	t.Helper()
	if err := L.DoString(script); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	fn, ok := L.GetGlobal("main").(*lua.LFunction)
	if !ok {
		t.Fatal("script did not define main")
	}
	return fn
}

func TestLoadRoundTripWithYieldingReader(t *testing.T) {
	_, L := testLoadComputer(t)

	fn := mainFunc(t, L, `
		local parts = {"return ", "1 + ", "2"}
		function main()
			local i = 0
			local f, err = load(function()
				i = i + 1
				if i > #parts then return nil end
				coroutine.yield()
				return parts[i]
			end, "=chunk")
			assert(f, err)
			return f()
		end
	`)

	yields, values := driveMain(t, L, fn)
	if yields != 3 {
		t.Errorf("suspended %d times, want 3 (once per chunk)", yields)
	}
	if len(values) != 1 || values[0] != lua.LNumber(3) {
		t.Errorf("result = %v, want 3", values)
	}
}

func TestLoadMatchesNonYieldingReader(t *testing.T) {
	_, L := testLoadComputer(t)

	fn := mainFunc(t, L, `
		function main()
			local sent = false
			local f, err = load(function()
				if sent then return nil end
				sent = true
				return "return 1 + 2"
			end, "=chunk")
			assert(f, err)
			return f()
		end
	`)

	yields, values := driveMain(t, L, fn)
	if yields != 0 {
		t.Errorf("suspended %d times, want 0", yields)
	}
	if len(values) != 1 || values[0] != lua.LNumber(3) {
		t.Errorf("result = %v, want 3", values)
	}
}

func TestLoadResumptionValuesReachReader(t *testing.T) {
	_, L := testLoadComputer(t)

	// The reader yields a request and builds the chunk from whatever the
	// host resumes it with.
	fn := mainFunc(t, L, `
		function main()
			local done = false
			local f, err = load(function()
				if done then return nil end
				done = true
				local v = coroutine.yield("need value")
				return "return " .. v
			end, "=chunk")
			assert(f, err)
			return f()
		end
	`)

	co, _ := L.NewThread()
	st, err, values := L.Resume(co, fn)
	if st != lua.ResumeYield {
		t.Fatalf("first resume: %v %v", st, err)
	}
	if len(values) != 1 || values[0] != lua.LString("need value") {
		t.Fatalf("yielded %v, want the reader's request", values)
	}

	st, err, values = L.Resume(co, fn, lua.LString("42"))
	if st != lua.ResumeOK {
		t.Fatalf("second resume: %v %v", st, err)
	}
	if len(values) != 1 || values[0] != lua.LNumber(42) {
		t.Fatalf("result = %v, want 42", values)
	}
}

func TestLoadSyntaxErrorReturnsNilMessage(t *testing.T) {
	_, L := testLoadComputer(t)

	fn := mainFunc(t, L, `
		function main()
			local sent = false
			local f, err = load(function()
				if sent then return nil end
				sent = true
				return "return return"
			end, "=bad")
			return f, err
		end
	`)

	_, values := driveMain(t, L, fn)
	if len(values) != 2 || values[0] != lua.LNil {
		t.Fatalf("results = %v, want nil plus message", values)
	}
	if _, ok := values[1].(lua.LString); !ok {
		t.Fatalf("error message = %v, want a string", values[1])
	}
}

func TestLoadReaderTypeError(t *testing.T) {
	_, L := testLoadComputer(t)

	fn := mainFunc(t, L, `
		function main()
			local f, err = load(function() return 123 end, "=bad")
			return f, err
		end
	`)

	_, values := driveMain(t, L, fn)
	if len(values) != 2 || values[0] != lua.LNil {
		t.Fatalf("results = %v, want nil plus message", values)
	}
}

func TestLoadParserParkedUntilFirstPoll(t *testing.T) {
	c, L := testLoadComputer(t)

	if err := L.DoString(`function reader() reader_ran = true; return nil end`); err != nil {
		t.Fatalf("DoString: %v", err)
	}
	L.Push(L.NewFunction(c.beginLoad))
	L.Push(L.GetGlobal("reader"))
	if err := L.PCall(1, 1, nil); err != nil {
		t.Fatalf("beginLoad: %v", err)
	}
	ud, ok := L.Get(-1).(*lua.LUserData)
	if !ok {
		t.Fatal("beginLoad did not return a context token")
	}
	L.Pop(1)

	// The caller has not entered the rendezvous yet, so no parser thread
	// may be touching its state.
	ctx := ud.Value.(*loadContext)
	if ctx.started {
		t.Error("parser thread launched before the first poll")
	}
	time.Sleep(50 * time.Millisecond)
	if lua.LVAsBool(L.GetGlobal("reader_ran")) {
		t.Error("reader invoked before the caller blocked in the handshake")
	}

	done := make(chan struct{})
	go func() {
		c.cancelLoads()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelLoads hung on a context that was never polled")
	}
}

func TestLoadCallerRunsBetweenSuspensions(t *testing.T) {
	_, L := testLoadComputer(t)

	// Whenever the load coroutine is parked at a yield the parser must be
	// parked too, leaving the calling state free for unrelated guest work.
	fn := mainFunc(t, L, `
		local parts = {"return ", "ticks"}
		function main()
			local i = 0
			local f, err = load(function()
				i = i + 1
				if i > #parts then return nil end
				coroutine.yield()
				return parts[i]
			end, "=chunk")
			assert(f, err)
			return f()
		end
	`)

	co, _ := L.NewThread()
	st, rerr, values := L.Resume(co, fn)
	for st == lua.ResumeYield {
		if err := L.DoString(`ticks = (ticks or 0) + 1`); err != nil {
			t.Fatalf("DoString between suspensions: %v", err)
		}
		st, rerr, values = L.Resume(co, fn)
	}
	if st != lua.ResumeOK {
		t.Fatalf("resume: %v %v", st, rerr)
	}
	if len(values) != 1 || values[0] != lua.LNumber(2) {
		t.Errorf("result = %v, want the 2 ticks counted while suspended", values)
	}
}

func TestCancelLoadsJoinsSuspendedParser(t *testing.T) {
	c, L := testLoadComputer(t)

	fn := mainFunc(t, L, `
		function main()
			local f, err = load(function()
				coroutine.yield()
				return nil
			end, "=chunk")
			return f, err
		end
	`)

	// Drive to the first suspension, then abandon the coroutine with the
	// parser thread parked mid-handshake.
	co, _ := L.NewThread()
	st, err, _ := L.Resume(co, fn)
	if st != lua.ResumeYield {
		t.Fatalf("first resume: %v %v", st, err)
	}

	done := make(chan struct{})
	go func() {
		c.cancelLoads()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelLoads did not join the parser thread")
	}

	c.loadMu.Lock()
	live := len(c.loads)
	c.loadMu.Unlock()
	if live != 0 {
		t.Fatalf("%d load contexts still tracked after cancel", live)
	}
}
