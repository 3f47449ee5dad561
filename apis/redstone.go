package apis

import (
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/computer"
)

var sides = []string{"top", "bottom", "left", "right", "front", "back"}

// redstoneLib models per-side digital and analog levels. There is no
// physical world behind it; outputs loop back as queryable state and
// changes queue a "redstone" event, which is enough for guest code
// written against the real device.
type redstoneLib struct{}

func (*redstoneLib) Name() string { return "redstone" }

func (*redstoneLib) Load(c *computer.Computer, L *lua.LState) error {
	var mu sync.Mutex
	output := make(map[string]int)

	checkSide := func(L *lua.LState, n int) string {
		side := L.CheckString(n)
		for _, s := range sides {
			if s == side {
				return side
			}
		}
		L.ArgError(n, "invalid side "+side)
		return ""
	}

	t := L.NewTable()
	L.SetField(t, "getSides", L.NewFunction(func(L *lua.LState) int {
		out := L.NewTable()
		for i, s := range sides {
			out.RawSetInt(i+1, lua.LString(s))
		}
		L.Push(out)
		return 1
	}))
	L.SetField(t, "setOutput", L.NewFunction(func(L *lua.LState) int {
		side := checkSide(L, 1)
		level := 0
		if L.CheckBool(2) {
			level = 15
		}
		mu.Lock()
		changed := output[side] != level
		output[side] = level
		mu.Unlock()
		if changed {
			c.QueueEvent("redstone")
		}
		return 0
	}))
	L.SetField(t, "getOutput", L.NewFunction(func(L *lua.LState) int {
		side := checkSide(L, 1)
		mu.Lock()
		level := output[side]
		mu.Unlock()
		L.Push(lua.LBool(level > 0))
		return 1
	}))
	L.SetField(t, "setAnalogOutput", L.NewFunction(func(L *lua.LState) int {
		side := checkSide(L, 1)
		level := L.CheckInt(2)
		if level < 0 || level > 15 {
			L.ArgError(2, "level must be between 0 and 15")
		}
		mu.Lock()
		changed := output[side] != level
		output[side] = level
		mu.Unlock()
		if changed {
			c.QueueEvent("redstone")
		}
		return 0
	}))
	L.SetField(t, "getAnalogOutput", L.NewFunction(func(L *lua.LState) int {
		side := checkSide(L, 1)
		mu.Lock()
		level := output[side]
		mu.Unlock()
		L.Push(lua.LNumber(level))
		return 1
	}))
	L.SetField(t, "getInput", L.NewFunction(func(L *lua.LState) int {
		checkSide(L, 1)
		L.Push(lua.LFalse)
		return 1
	}))
	L.SetField(t, "getAnalogInput", L.NewFunction(func(L *lua.LState) int {
		checkSide(L, 1)
		L.Push(lua.LNumber(0))
		return 1
	}))

	L.SetGlobal("redstone", t)
	L.SetGlobal("rs", t)
	return nil
}
