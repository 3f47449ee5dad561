package computer

import (
	"time"
)

// StartTimer arms a one-shot timer that queues a "timer" event with the
// returned id. The callback checks the freed sets before acting: a timer
// whose id was invalidated, or whose computer was torn down, fires into
// the void.
func (c *Computer) StartTimer(d time.Duration) TimerID {
	id := c.mgr.registry.AllocTimerID()
	t := time.AfterFunc(d, func() {
		if c.mgr.registry.IsTimerFreed(id) || c.mgr.registry.IsFreed(c) {
			return
		}
		c.QueueEvent("timer", id)
		c.forgetTimer(id)
	})
	c.timerMu.Lock()
	c.timers[id] = t
	c.timerMu.Unlock()
	return id
}

// CancelTimer stops a pending timer and invalidates its id.
func (c *Computer) CancelTimer(id TimerID) bool {
	c.timerMu.Lock()
	t, ok := c.timers[id]
	delete(c.timers, id)
	c.timerMu.Unlock()
	if !ok {
		return false
	}
	t.Stop()
	c.mgr.registry.FreeTimer(id)
	return true
}

func (c *Computer) forgetTimer(id TimerID) {
	c.timerMu.Lock()
	delete(c.timers, id)
	c.timerMu.Unlock()
}

// invalidateTimers marks every timer currently owned by this computer as
// freed and stops it. Part of the teardown contract.
func (c *Computer) invalidateTimers() {
	c.timerMu.Lock()
	timers := c.timers
	c.timers = make(map[TimerID]*time.Timer)
	debounce, watchdog := c.debounce, c.watchdog
	c.debounce, c.watchdog = nil, nil
	c.timerMu.Unlock()

	for id, t := range timers {
		c.mgr.registry.FreeTimer(id)
		t.Stop()
	}
	if debounce != nil {
		debounce.Stop()
	}
	if watchdog != nil {
		watchdog.Stop()
	}
}

// armWatchdog starts the incarnation's timeout check. Expiry aborts the
// guest through the VM context rather than killing the thread, and is
// ignored once the instance is already shutting down. Breakpoint hooks
// force the check to run more eagerly.
func (c *Computer) armWatchdog(abort func()) {
	timeout := c.mgr.conf.WatchdogTimeout()
	c.debugMu.Lock()
	if c.forceCheckTimeout && timeout > time.Second {
		timeout = time.Second
	}
	c.debugMu.Unlock()

	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	c.watchdog = time.AfterFunc(timeout, func() {
		if c.mgr.registry.IsFreed(c) || c.State() != Running {
			return
		}
		c.timedOut.Store(true)
		abort()
	})
}

func (c *Computer) disarmWatchdog() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}
