// Package peripheral holds the built-in peripheral devices. Each one
// satisfies the lifecycle contract the engine consumes: a type name, a
// per-incarnation reinit hook and a destructor.
package peripheral

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/mseyne/craftos2/computer"
)

// Computer is a peripheral on one computer exposing another. The target
// records the owner as a referencer so its own teardown can detach us.
type Computer struct {
	owner  *computer.Computer
	target *computer.Computer
}

// AttachComputer wires target onto owner's given side.
func AttachComputer(owner *computer.Computer, side string, target *computer.Computer) *Computer {
	p := &Computer{owner: owner, target: target}
	target.AddReferencer(owner)
	owner.Attach(side, p)
	return p
}

func (p *Computer) TypeName() string { return "computer" }

func (p *Computer) Reinitialize(L *lua.LState) error { return nil }

func (p *Computer) Destroy() {
	p.target.RemoveReferencer(p.owner)
}

// Target implements computer.ComputerRef.
func (p *Computer) Target() *computer.Computer { return p.target }

// Call implements computer.Caller.
func (p *Computer) Call(L *lua.LState, method string) (int, error) {
	switch method {
	case "getID":
		L.Push(lua.LNumber(p.target.ID()))
		return 1, nil
	case "getLabel":
		if label := p.target.Config().Label; label != "" {
			L.Push(lua.LString(label))
			return 1, nil
		}
		L.Push(lua.LNil)
		return 1, nil
	case "isOn":
		L.Push(lua.LBool(p.target.State() == computer.Running))
		return 1, nil
	case "shutdown":
		p.target.Shutdown()
		return 0, nil
	case "reboot":
		p.target.Reboot()
		return 0, nil
	default:
		return 0, fmt.Errorf("no such method %s", method)
	}
}
