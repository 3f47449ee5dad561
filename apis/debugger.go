package apis

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/computer"
)

// debuggerLib exposes breakpoint control to diagnostic instances. On a
// regular computer it loads nothing.
type debuggerLib struct{}

func (*debuggerLib) Name() string { return "debugger" }

func (*debuggerLib) Load(c *computer.Computer, L *lua.LState) error {
	if !c.IsDebugger() {
		return nil
	}

	lookup := func(L *lua.LState) *computer.Computer {
		target, ok := c.Manager().Lookup(L.CheckInt(1))
		if !ok {
			L.RaiseError("no such computer %d", L.CheckInt(1))
		}
		return target
	}

	t := L.NewTable()
	L.SetField(t, "setBreakpoint", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("debugger.setBreakpoint")
		target := lookup(L)
		id := target.SetBreakpoint(L.CheckString(2), L.CheckInt(3))
		L.Push(lua.LNumber(id))
		return 1
	}))
	L.SetField(t, "unsetBreakpoint", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("debugger.unsetBreakpoint")
		target := lookup(L)
		L.Push(lua.LBool(target.UnsetBreakpoint(L.CheckInt(2))))
		return 1
	}))
	L.SetField(t, "listBreakpoints", L.NewFunction(func(L *lua.LState) int {
		target := lookup(L)
		out := L.NewTable()
		for id, bp := range target.Breakpoints() {
			entry := L.NewTable()
			entry.RawSetString("source", lua.LString(bp.Source))
			entry.RawSetString("line", lua.LNumber(bp.Line))
			out.RawSetInt(id, entry)
		}
		L.Push(out)
		return 1
	}))
	L.SetField(t, "status", L.NewFunction(func(L *lua.LState) int {
		target := lookup(L)
		L.Push(lua.LNumber(target.State()))
		return 1
	}))

	L.SetGlobal("debugger", t)
	return nil
}
