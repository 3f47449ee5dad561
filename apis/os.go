package apis

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/computer"
)

// osLib replaces the interpreter's os table with the guest-facing one:
// identity, event queueing, timers, clock, and power control.
type osLib struct{}

func (*osLib) Name() string { return "os" }

func (*osLib) Load(c *computer.Computer, L *lua.LState) error {
	boot := time.Now()
	t := L.NewTable()

	L.SetField(t, "getComputerID", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(c.ID()))
		return 1
	}))
	L.SetField(t, "getComputerLabel", L.NewFunction(func(L *lua.LState) int {
		if label := c.Config().Label; label != "" {
			L.Push(lua.LString(label))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))
	L.SetField(t, "setComputerLabel", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("os.setComputerLabel")
		c.Config().Label = L.OptString(1, "")
		return 0
	}))

	L.SetField(t, "queueEvent", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("os.queueEvent")
		name := L.CheckString(1)
		params := make([]any, 0, L.GetTop()-1)
		for i := 2; i <= L.GetTop(); i++ {
			params = append(params, L.Get(i))
		}
		c.QueueEvent(name, params...)
		return 0
	}))

	L.SetField(t, "startTimer", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("os.startTimer")
		seconds := float64(L.CheckNumber(1))
		if seconds < 0 {
			L.ArgError(1, "timer duration must not be negative")
		}
		id := c.StartTimer(time.Duration(seconds * float64(time.Second)))
		L.Push(lua.LNumber(id))
		return 1
	}))
	L.SetField(t, "cancelTimer", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("os.cancelTimer")
		c.CancelTimer(computer.TimerID(L.CheckInt(1)))
		return 0
	}))

	L.SetField(t, "clock", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(boot).Seconds()))
		return 1
	}))
	L.SetField(t, "epoch", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().UnixMilli()))
		return 1
	}))

	L.SetField(t, "shutdown", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("os.shutdown")
		c.Shutdown()
		return 0
	}))
	L.SetField(t, "reboot", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("os.reboot")
		c.Reboot()
		return 0
	}))

	L.SetGlobal("os", t)
	return nil
}
