package apis

import (
	"sync"

	"github.com/gorilla/websocket"
	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/computer"
)

// httpLib gives guests outbound websockets. Every connection is recorded
// on its computer so teardown can force-close it; inbound frames arrive
// as "websocket_message" events on the ordinary queue.
type httpLib struct {
	mu    sync.Mutex
	conns map[*computer.Computer][]string
}

func newHTTPLib() *httpLib {
	return &httpLib{conns: make(map[*computer.Computer][]string)}
}

func (*httpLib) Name() string { return "http" }

func (h *httpLib) track(c *computer.Computer, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = append(h.conns[c], id)
}

// Deinit closes every websocket the incarnation opened.
func (h *httpLib) Deinit(c *computer.Computer) {
	h.mu.Lock()
	ids := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	for _, id := range ids {
		c.CloseSocket(id)
	}
}

func (h *httpLib) Load(c *computer.Computer, L *lua.LState) error {
	t := L.NewTable()

	L.SetField(t, "websocket", L.NewFunction(func(L *lua.LState) int {
		c.NoteEntry("http.websocket")
		url := L.CheckString(1)

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			L.Push(lua.LFalse)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		id := c.AddSocket(conn)
		h.track(c, id)

		// Reader pumps frames into the event queue until the socket
		// dies, whether from the far end or a teardown force-close.
		go func() {
			for {
				kind, data, err := conn.ReadMessage()
				if err != nil {
					c.QueueEvent("websocket_closed", url)
					return
				}
				c.QueueEvent("websocket_message", url, string(data),
					kind == websocket.BinaryMessage)
			}
		}()

		handle := L.NewTable()
		L.SetField(handle, "send", L.NewFunction(func(L *lua.LState) int {
			c.NoteEntry("websocket.send")
			data := L.CheckString(1)
			kind := websocket.TextMessage
			if lua.LVAsBool(L.Get(2)) {
				kind = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(kind, []byte(data)); err != nil {
				L.RaiseError("websocket send failed: %s", err.Error())
			}
			return 0
		}))
		L.SetField(handle, "close", L.NewFunction(func(L *lua.LState) int {
			c.CloseSocket(id)
			return 0
		}))

		L.Push(lua.LTrue)
		L.Push(handle)
		return 2
	}))

	L.SetGlobal("http", t)
	return nil
}
