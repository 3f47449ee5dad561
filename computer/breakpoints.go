package computer

// Breakpoint is a source location the debug hook stops at.
type Breakpoint struct {
	Source string
	Line   int
}

// Hook mask bits, mirroring the interpreter-level event classes the debug
// hook subscribes to.
const (
	HookCall = 1 << iota
	HookReturn
	HookLine
	HookCount
	HookError
	HookResume
	HookYield
)

// hookMaskAll is the fixed mask installed while any breakpoint is set.
// Removal of the last breakpoint clears the hook entirely rather than
// narrowing the mask.
const hookMaskAll = HookCall | HookReturn | HookLine | HookCount | HookError | HookResume | HookYield

// SetBreakpoint registers a breakpoint and returns its id. Ids grow
// monotonically and are never reused within a session, even after removal.
// Setting the first breakpoint installs the instruction hook, which also
// forces the watchdog's timeout check to run eagerly.
func (c *Computer) SetBreakpoint(source string, line int) int {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()
	c.nextBreakpoint++
	id := c.nextBreakpoint
	c.breakpoints[id] = Breakpoint{Source: source, Line: line}
	if !c.hasBreakpoints {
		c.hasBreakpoints = true
		c.forceCheckTimeout = true
		c.hookMask = hookMaskAll
	}
	return id
}

// UnsetBreakpoint removes a breakpoint by id. Removing the last one
// uninstalls the instruction hook.
func (c *Computer) UnsetBreakpoint(id int) bool {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()
	if _, ok := c.breakpoints[id]; !ok {
		return false
	}
	delete(c.breakpoints, id)
	if len(c.breakpoints) == 0 {
		c.hasBreakpoints = false
		c.hookMask = 0
	}
	return true
}

// Breakpoints returns a snapshot of the breakpoint table.
func (c *Computer) Breakpoints() map[int]Breakpoint {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()
	out := make(map[int]Breakpoint, len(c.breakpoints))
	for id, bp := range c.breakpoints {
		out[id] = bp
	}
	return out
}

// HasBreakpoints reports whether the instruction hook is installed.
func (c *Computer) HasBreakpoints() bool {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()
	return c.hasBreakpoints
}

// HookMask returns the current debug hook mask.
func (c *Computer) HookMask() int {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()
	return c.hookMask
}

// SetHookMask overrides the hook mask; used by debugger collaborators.
func (c *Computer) SetHookMask(mask int) {
	c.debugMu.Lock()
	defer c.debugMu.Unlock()
	c.hookMask = mask
}
