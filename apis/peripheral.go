package apis

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/computer"
)

// peripheralLib exposes the attached peripherals to the guest.
type peripheralLib struct{}

func (*peripheralLib) Name() string { return "peripheral" }

func (*peripheralLib) Load(c *computer.Computer, L *lua.LState) error {
	t := L.NewTable()

	L.SetField(t, "getNames", L.NewFunction(func(L *lua.LState) int {
		out := L.NewTable()
		for i, side := range c.PeripheralSides() {
			out.RawSetInt(i+1, lua.LString(side))
		}
		L.Push(out)
		return 1
	}))
	L.SetField(t, "isPresent", L.NewFunction(func(L *lua.LState) int {
		_, ok := c.Peripheral(L.CheckString(1))
		L.Push(lua.LBool(ok))
		return 1
	}))
	L.SetField(t, "getType", L.NewFunction(func(L *lua.LState) int {
		p, ok := c.Peripheral(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(p.TypeName()))
		return 1
	}))
	L.SetField(t, "call", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("peripheral.call")
		side := L.CheckString(1)
		method := L.CheckString(2)
		p, ok := c.Peripheral(side)
		if !ok {
			L.RaiseError("no peripheral attached on %s", side)
		}
		caller, ok := p.(computer.Caller)
		if !ok {
			L.RaiseError("peripheral %s has no methods", side)
		}
		n, err := caller.Call(L, method)
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		return n
	}))

	L.SetGlobal("peripheral", t)
	return nil
}
