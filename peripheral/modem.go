package peripheral

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/computer"
)

// Network connects modems across computers. A transmit on a channel
// queues a "modem_message" event on every other computer with a modem
// open on it; delivery rides the ordinary event queue, so producers
// never block and dead computers drop messages silently.
type Network struct {
	mu     sync.Mutex
	modems map[*Modem]struct{}
}

func NewNetwork() *Network {
	return &Network{modems: make(map[*Modem]struct{})}
}

func (n *Network) join(m *Modem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.modems[m] = struct{}{}
}

func (n *Network) leave(m *Modem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.modems, m)
}

func (n *Network) transmit(from *Modem, channel, reply uint16, payload any) {
	n.mu.Lock()
	targets := make([]*Modem, 0, len(n.modems))
	for m := range n.modems {
		if m != from && m.isOpen(channel) {
			targets = append(targets, m)
		}
	}
	n.mu.Unlock()
	for _, m := range targets {
		m.owner.QueueEvent("modem_message", m.side, channel, reply, payload)
	}
}

// Modem is the inter-computer messaging peripheral.
type Modem struct {
	owner *computer.Computer
	side  string
	net   *Network

	mu   sync.Mutex
	open map[uint16]struct{}
}

// AttachModem wires a modem onto owner's given side and joins it to net.
func AttachModem(owner *computer.Computer, side string, net *Network) *Modem {
	m := &Modem{
		owner: owner,
		side:  side,
		net:   net,
		open:  make(map[uint16]struct{}),
	}
	net.join(m)
	owner.Attach(side, m)
	return m
}

func (m *Modem) TypeName() string { return "modem" }

// Reinitialize closes every channel; a fresh incarnation starts with no
// subscriptions, matching a just-attached modem.
func (m *Modem) Reinitialize(L *lua.LState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = make(map[uint16]struct{})
	return nil
}

func (m *Modem) Destroy() {
	m.net.leave(m)
}

func (m *Modem) isOpen(channel uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.open[channel]
	return ok
}

// Open subscribes the modem to a channel.
func (m *Modem) Open(channel uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[channel] = struct{}{}
}

// CloseChannel unsubscribes the modem from a channel.
func (m *Modem) CloseChannel(channel uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, channel)
}

// Transmit broadcasts payload to every other modem open on channel.
func (m *Modem) Transmit(channel, reply uint16, payload any) {
	m.net.transmit(m, channel, reply, payload)
}

// Call implements computer.Caller.
func (m *Modem) Call(L *lua.LState, method string) (int, error) {
	switch method {
	case "open":
		m.Open(uint16(L.CheckInt(3)))
		return 0, nil
	case "close":
		m.CloseChannel(uint16(L.CheckInt(3)))
		return 0, nil
	case "closeAll":
		m.mu.Lock()
		m.open = make(map[uint16]struct{})
		m.mu.Unlock()
		return 0, nil
	case "isOpen":
		L.Push(lua.LBool(m.isOpen(uint16(L.CheckInt(3)))))
		return 1, nil
	case "transmit":
		channel := uint16(L.CheckInt(3))
		reply := uint16(L.CheckInt(4))
		payload := luaToGo(L.Get(5))
		m.Transmit(channel, reply, payload)
		return 0, nil
	default:
		return 0, fmt.Errorf("no such method %s", method)
	}
}

// luaToGo converts a guest value into a plain Go value so it can cross
// to another computer's VM through the event queue.
func luaToGo(v lua.LValue) any {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		out := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			out[lua.LVAsString(k)] = luaToGo(val)
		})
		return out
	default:
		return nil
	}
}
