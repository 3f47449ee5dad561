package computer

import (
	"context"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/mseyne/craftos2/config"
	"github.com/mseyne/craftos2/errors"
	"github.com/mseyne/craftos2/term"
)

// Host identification reported to guests through _HOST.
const (
	HostVersion  = "1.0.0"
	GuestVersion = "1.8"
)

// run is the incarnation loop: boot a fresh VM, drive it until it halts,
// then either reboot into another incarnation or exit for good. A non-nil
// return is a host-level failure; guest errors are reported and absorbed
// here. Runs on the computer's dedicated thread.
func (c *Computer) run() error {
	for {
		c.setState(Running)
		if err := c.runIncarnation(); err != nil {
			return err
		}
		if c.State() != Restarting {
			return nil
		}
		c.log.Info("rebooting")
	}
}

func (c *Computer) runIncarnation() error {
	fn, cancel, err := c.bootIncarnation()
	if err != nil {
		// Boot failure is fatal to the incarnation, never rebooted. The
		// standards configuration pins it on the error screen; otherwise
		// it is reported as a message dialog and the display is released
		// normally.
		if c.mgr.conf.StandardsMode {
			c.reportFatal(err.Error())
		} else {
			c.log.Error("computer failed to boot", zap.String("detail", err.Error()))
			if c.display != nil {
				c.display.ShowMessage(term.MessageError, "Boot failed", err.Error())
			}
		}
		c.setState(Stopped)
		c.teardownIncarnation(cancel)
		return nil
	}
	defer c.teardownIncarnation(cancel)

	abort := func() { cancel() }
	defer c.disarmWatchdog()

	var args []lua.LValue
	for c.State() == Running {
		// The watchdog covers guest execution only, never the idle wait
		// for the next event.
		c.armWatchdog(abort)
		st, rerr, values := c.L.Resume(c.coro, fn, args...)
		c.disarmWatchdog()
		switch st {
		case lua.ResumeYield:
			hint := ""
			if len(values) > 0 {
				if s, ok := values[0].(lua.LString); ok {
					hint = string(s)
				}
			}
			args = c.nextResumeArgs(hint)

		case lua.ResumeOK:
			if c.State() == Running {
				// The guest returned without requesting shutdown.
				if c.mgr.conf.StandardsMode {
					c.reportFatal("Error running computer")
				} else {
					c.log.Warn("boot script returned without shutting down")
				}
				c.setState(Stopped)
			}
			return nil

		default:
			msg := "unknown error"
			if rerr != nil {
				msg = rerr.Error()
			}
			if c.timedOut.Swap(false) {
				msg = "Too long without yielding"
			}
			if c.State() == Running {
				c.reportFatal(msg)
			}
			c.setState(Stopped)
			return nil
		}
	}
	return nil
}

// bootIncarnation builds a fresh guest VM: main and parameter coroutines,
// display reset, peripheral reinit, library loads, capability trimming,
// startup globals, and the compiled boot script. Configuration is re-read
// here so changes take effect across a reboot.
func (c *Computer) bootIncarnation() (*lua.LFunction, context.CancelFunc, error) {
	glob := c.mgr.conf

	L := lua.NewState()
	ctx, cancel := context.WithCancel(context.Background())
	L.SetContext(ctx)
	c.L = L
	c.coro, _ = L.NewThread()
	c.params, _ = L.NewThread()

	if c.display != nil {
		c.display.Reset(term.DefaultWidth, term.DefaultHeight)
		if !c.conf.IsColor {
			c.display.SetGrayscale(true)
		}
	}

	c.periphMu.Lock()
	for side, p := range c.peripherals {
		if err := p.Reinitialize(L); err != nil {
			c.log.Warn("peripheral reinit failed",
				zap.String("side", side), zap.Error(err))
		}
	}
	c.periphMu.Unlock()

	for _, lib := range c.mgr.libraries {
		if err := lib.Load(c, L); err != nil {
			cancel()
			return nil, nil, errors.Internal(errors.PhaseBoot, "load library "+lib.Name(), err)
		}
	}

	if glob.StandardsMode {
		if err := installYieldableLoad(c, L); err != nil {
			cancel()
			return nil, nil, err
		}
	}

	applyDenylist(L, glob)
	c.injectStartupGlobals(L)

	fn, err := c.loadBoot(L)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return fn, cancel, nil
}

// teardownIncarnation unwinds one VM: library deinit hooks, live load
// contexts, open sockets, then the state itself.
func (c *Computer) teardownIncarnation(cancel context.CancelFunc) {
	for _, lib := range c.mgr.libraries {
		if d, ok := lib.(LibraryDeinit); ok {
			d.Deinit(c)
		}
	}
	c.cancelLoads()
	c.closeSockets()
	if cancel != nil {
		cancel()
	}
	if c.L != nil {
		c.L.Close()
	}
	c.L, c.coro, c.params = nil, nil, nil
	c.events.clear()
}

// loadBoot compiles the boot script, either from the embedded standalone
// source or streamed from the system image on disk.
func (c *Computer) loadBoot(L *lua.LState) (*lua.LFunction, error) {
	glob := c.mgr.conf
	if glob.StandaloneBIOS != "" {
		fn, err := L.LoadString(glob.StandaloneBIOS)
		if err != nil {
			return nil, errors.BootFailed(c.id, err)
		}
		return fn, nil
	}

	path := filepath.Join(glob.ROMPath, "bios.lua")
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.BootFailed(c.id, err)
	}
	defer f.Close()
	fn, err := L.Load(f, "@bios.lua")
	if err != nil {
		return nil, errors.BootFailed(c.id, err)
	}
	return fn, nil
}

// Capabilities stripped from restricted configurations. Re-applied on
// every boot so mode changes survive a reboot.
var (
	vanillaDenylist = []string{
		"dofile", "loadfile", "module", "require", "package", "print",
		"config", "mounter", "periphemu",
	}
	nonDebugDenylist = []string{"collectgarbage", "debug", "newproxy"}
)

func applyDenylist(L *lua.LState, glob *config.Global) {
	if glob.Vanilla {
		for _, name := range vanillaDenylist {
			L.SetGlobal(name, lua.LNil)
		}
	}
	if !glob.DebugEnable {
		for _, name := range nonDebugDenylist {
			L.SetGlobal(name, lua.LNil)
		}
	}
	if glob.ServerMode {
		L.SetGlobal("mounter", lua.LNil)
	}
}

func (c *Computer) injectStartupGlobals(L *lua.LState) {
	glob := c.mgr.conf

	L.SetGlobal("_HOST", lua.LString(
		"ComputerCraft "+GuestVersion+" (CraftOS-Go "+HostVersion+")"))
	if glob.DefaultComputerSettings != "" {
		L.SetGlobal("_CC_DEFAULT_SETTINGS", lua.LString(glob.DefaultComputerSettings))
	}
	if glob.Renderer == config.RendererHeadless {
		L.SetGlobal("_HEADLESS", lua.LTrue)
	}

	// One-shot onboarding flags, consumed by the first boot after startup.
	switch glob.Onboarding {
	case config.OnboardingFirstRun:
		L.SetGlobal("_CCPC_FIRST_RUN", lua.LTrue)
	case config.OnboardingUpdated:
		L.SetGlobal("_CCPC_UPDATED_VERSION", lua.LString(HostVersion))
	}
	glob.Onboarding = config.OnboardingNone

	if script := glob.StartupScript; script != "" {
		src := ""
		if script[0] == 0x1b {
			src = script[1:]
		} else if data, err := os.ReadFile(script); err == nil {
			src = string(data)
		} else {
			c.log.Warn("startup script unreadable",
				zap.String("path", script), zap.Error(err))
		}
		if src != "" {
			L.SetGlobal("_CCPC_STARTUP_SCRIPT", lua.LString(src))
			if glob.StartupArgs != "" {
				L.SetGlobal("_CCPC_STARTUP_ARGS", lua.LString(glob.StartupArgs))
			}
		}
	}
}

// reportFatal routes a fatal incarnation error to the operator log and,
// when a display is attached, its error screen. A display left in error
// mode is orphaned at teardown rather than released.
func (c *Computer) reportFatal(msg string) {
	c.log.Error("computer halted with error", zap.String("detail", msg))
	if c.display != nil {
		c.display.ShowFatalError(msg)
	}
}
