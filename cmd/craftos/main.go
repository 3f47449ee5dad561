package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/mseyne/craftos2/apis"
	"github.com/mseyne/craftos2/computer"
	"github.com/mseyne/craftos2/config"
	"github.com/mseyne/craftos2/mount"
	"github.com/mseyne/craftos2/tasks"
	"github.com/mseyne/craftos2/term"
)

type mountFlags []config.MountSpec

func (m *mountFlags) String() string { return fmt.Sprint(*m) }

func (m *mountFlags) Set(v string) error {
	// guest=host or guest=ro:host / guest=rw:host
	guest, host, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("mount must be guest=host, got %q", v)
	}
	mode := -1
	if rest, found := strings.CutPrefix(host, "ro:"); found {
		host, mode = rest, 0
	} else if rest, found := strings.CutPrefix(host, "rw:"); found {
		host, mode = rest, 1
	}
	*m = append(*m, config.MountSpec{GuestName: guest, HostPath: host, Mode: mode})
	return nil
}

func main() {
	var mounts mountFlags
	var (
		id         = flag.Int("id", 0, "Computer id to start")
		renderer   = flag.String("renderer", "tui", "Renderer: tui, console, headless, remote")
		rom        = flag.String("rom", "", "Path to the system image directory")
		data       = flag.String("data", "", "Data root directory")
		script     = flag.String("script", "", "Startup script path (prefix with @ for inline source)")
		scriptArgs = flag.String("args", "", "Arguments passed to the startup script")
		debug      = flag.Bool("debug", false, "Also start the diagnostic instance")
		confPath   = flag.String("config", "", "Path to the TOML configuration file")
		verbose    = flag.Bool("v", false, "Verbose logging")
	)
	flag.Var(&mounts, "mount", "Custom mount guest=[ro:|rw:]host (repeatable)")
	flag.Parse()

	if err := run(*id, *renderer, *rom, *data, *script, *scriptArgs, *confPath, mounts, *debug, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(id int, renderer, rom, data, script, scriptArgs, confPath string, mounts []config.MountSpec, debug, verbose bool) error {
	conf, err := config.LoadGlobal(confPath)
	if err != nil {
		return err
	}
	if rom != "" {
		conf.ROMPath = rom
	}
	if data != "" {
		conf.DataRoot = data
	}
	if script != "" {
		if rest, found := strings.CutPrefix(script, "@"); found {
			conf.StartupScript = "\x1b" + rest
		} else {
			conf.StartupScript = script
		}
		conf.StartupArgs = scriptArgs
	}
	conf.CustomMounts = append(conf.CustomMounts, mounts...)
	if r, err := parseRenderer(renderer); err != nil {
		return err
	} else {
		conf.Renderer = r
	}

	log := zap.NewNop()
	if verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
		defer log.Sync()
	}

	runner := tasks.NewRunner()
	mgr := computer.NewManager(conf,
		computer.WithLogger(log),
		computer.WithMounter(mount.NewDirMounter(log)),
		computer.WithLibraries(apis.Base(conf)...),
		computer.WithTasks(runner),
	)

	c, err := mgr.Start(id)
	if err != nil {
		return err
	}
	if tui, ok := c.Display().(*term.TUI); ok {
		wireInput(c, tui)
	}
	if debug {
		if _, err := mgr.StartDebugger(id); err != nil {
			log.Warn("debugger failed to start", zap.Error(err))
		}
	}

	// The tasks loop is the designated thread for shared-UI work; it runs
	// until every computer has halted or the process is interrupted.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sig:
			for _, c := range mgr.Registry().Live() {
				c.QueueEvent("terminate")
				c.Shutdown()
			}
		case <-ctx.Done():
		}
	}()
	go func() {
		mgr.Wait()
		cancel()
	}()
	runner.Run(ctx)

	for _, d := range mgr.Registry().AdoptOrphans() {
		_ = d.Close()
	}
	return nil
}

// wireInput feeds raw renderer key events into the computer: the raw
// queue for the display collaborator, and the guest-visible event path.
func wireInput(c *computer.Computer, tui *term.TUI) {
	tui.SetInput(func(ev term.InputEvent) {
		c.PushInput(ev)
		if ev.Rune != 0 {
			c.QueueEvent("char", string(ev.Rune))
		}
		if ev.Key != "" {
			c.QueueEvent("key", ev.Key)
		}
	})
}

func parseRenderer(name string) (config.Renderer, error) {
	switch name {
	case "tui", "graphical":
		return config.RendererGraphical, nil
	case "console":
		return config.RendererConsole, nil
	case "headless":
		return config.RendererHeadless, nil
	case "remote":
		return config.RendererRemote, nil
	case "accelerated":
		return config.RendererAccelerated, nil
	default:
		if n, err := strconv.Atoi(name); err == nil {
			return config.Renderer(n), nil
		}
		return 0, fmt.Errorf("unknown renderer %q", name)
	}
}
