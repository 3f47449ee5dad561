package apis

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/computer"
	"github.com/mseyne/craftos2/term"
)

// termLib forwards guest terminal writes to the computer's display.
// Headless computers get the same surface against a discard sink so
// guest code never needs to special-case the missing display.
type termLib struct{}

func (*termLib) Name() string { return "term" }

func (*termLib) Load(c *computer.Computer, L *lua.LState) error {
	// Cursor state lives with the incarnation, 1-based as guests expect.
	curX, curY := 1, 1
	t := L.NewTable()

	size := func() (int, int) {
		if d := c.Display(); d != nil {
			return d.Size()
		}
		return term.DefaultWidth, term.DefaultHeight
	}

	L.SetField(t, "getSize", L.NewFunction(func(L *lua.LState) int {
		w, h := size()
		L.Push(lua.LNumber(w))
		L.Push(lua.LNumber(h))
		return 2
	}))
	L.SetField(t, "getCursorPos", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(curX))
		L.Push(lua.LNumber(curY))
		return 2
	}))
	L.SetField(t, "setCursorPos", L.NewFunction(func(L *lua.LState) int {
		curX, curY = L.CheckInt(1), L.CheckInt(2)
		if d := c.Display(); d != nil {
			d.SetCursor(curX-1, curY-1)
		}
		return 0
	}))
	L.SetField(t, "write", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("term.write")
		text := L.CheckString(1)
		if d := c.Display(); d != nil {
			d.Blit(curX-1, curY-1, text)
		}
		curX += len(text)
		return 0
	}))
	L.SetField(t, "clear", L.NewFunction(func(L *lua.LState) int {
		if d := c.Display(); d != nil {
			w, h := d.Size()
			d.Reset(w, h)
		}
		curX, curY = 1, 1
		return 0
	}))
	L.SetField(t, "isColor", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(c.Config().IsColor))
		return 1
	}))

	L.SetGlobal("term", t)
	return nil
}
