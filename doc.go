// Package craftos hosts many sandboxed "virtual computer" sessions inside a
// single process. Each computer runs guest Lua code against a restricted API
// surface on its own OS thread, cooperatively scheduled through yield/resume.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct responsibilities:
//
//	craftos2/            Root package with this overview
//	├── computer/        The execution engine: lifecycle, run loop, event
//	│                    delivery, and the yieldable-load trampoline
//	├── apis/            Guest-visible library modules (os, term, http, ...)
//	├── peripheral/      Peripheral implementations (computer, modem)
//	├── term/            Display capability interface and renderer variants
//	├── mount/           Virtual filesystem mounting
//	├── config/          Global host config and per-computer snapshots
//	├── tasks/           Designated-thread task submission
//	└── errors/          Structured error types for diagnostics
//
// # Quick Start
//
// Start a computer and run it until it halts:
//
//	mgr := computer.NewManager(cfg,
//		computer.WithMounter(mount.NewDirMounter(logger)),
//		computer.WithLibraries(apis.Base(cfg)...),
//	)
//
//	c, err := mgr.Start(0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr.Wait()
//
// # Scheduling Model
//
// One goroutine per computer, locked to an OS thread, runs that computer's
// boot/run/reboot cycle. Guest code inside a computer is single-threaded;
// the only blocking points are the event queue wait between resumes and the
// load trampoline's handshake. The trampoline temporarily runs the Lua
// parser on a second goroutine so a guest-supplied reader function can yield
// mid-parse even though the compile primitive itself cannot be suspended.
//
// # Thread Safety
//
// Manager and Registry are safe for concurrent use. A Computer's VM state is
// owned by its own thread; other threads interact with it only through
// QueueEvent, the peripheral lock, or the registry.
package craftos
