package computer

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mseyne/craftos2/config"
	"github.com/mseyne/craftos2/errors"
	"github.com/mseyne/craftos2/tasks"
	"github.com/mseyne/craftos2/term"
)

// DisplayFactory builds the display for a new computer. Overridable for
// tests and embedders.
type DisplayFactory func(conf *config.Global, title string) (term.Display, error)

// Manager creates, registers and destroys computers, and owns the
// dedicated thread each one runs on.
type Manager struct {
	conf      *config.Global
	log       *zap.Logger
	registry  *Registry
	mounter   Mounter
	libraries []Library
	tasks     *tasks.Runner
	displayFn DisplayFactory

	wg sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMounter sets the virtual filesystem collaborator.
func WithMounter(mnt Mounter) Option {
	return func(m *Manager) { m.mounter = mnt }
}

// WithLibraries sets the guest-visible capability modules loaded against
// every fresh VM incarnation, in order.
func WithLibraries(libs ...Library) Option {
	return func(m *Manager) { m.libraries = libs }
}

func WithDisplayFactory(fn DisplayFactory) Option {
	return func(m *Manager) { m.displayFn = fn }
}

// WithTasks sets the runner that serializes shared-UI work and deferred
// releases onto the designated thread.
func WithTasks(r *tasks.Runner) Option {
	return func(m *Manager) { m.tasks = r }
}

func NewManager(conf *config.Global, opts ...Option) *Manager {
	m := &Manager{
		conf:      conf,
		log:       zap.NewNop(),
		registry:  NewRegistry(),
		displayFn: term.New,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tasks == nil {
		m.tasks = tasks.NewRunner()
	}
	return m
}

func (m *Manager) Config() *config.Global { return m.conf }
func (m *Manager) Registry() *Registry    { return m.registry }
func (m *Manager) Tasks() *tasks.Runner   { return m.tasks }

// Lookup finds a live computer by id.
func (m *Manager) Lookup(id int) (*Computer, bool) { return m.registry.Lookup(id) }

// Create constructs a computer without starting it: configuration
// snapshot, display, system image mounts, custom mounts, data directory.
// On failure nothing is registered and no resources are leaked.
func (m *Manager) Create(id int, debug bool) (*Computer, error) {
	snap, err := config.LoadComputer(m.conf.DataRoot, id)
	if err != nil {
		m.log.Warn("computer config unreadable, using defaults",
			zap.Int("id", id), zap.Error(err))
		snap = config.DefaultComputer()
	}

	display, err := m.displayFn(m.conf, term.Title(snap.Label, id, debug))
	if err != nil {
		return nil, errors.Internal(errors.PhaseCreate, "create display", err)
	}

	c := &Computer{
		id:          id,
		isDebugger:  debug,
		mgr:         m,
		log:         m.log.With(zap.Int("computer", id)),
		conf:        snap,
		display:     display,
		timers:      make(map[TimerID]*time.Timer),
		breakpoints: make(map[int]Breakpoint),
		peripherals: make(map[string]Peripheral),
		referencers: make(map[*Computer]struct{}),
		sockets:     make(map[string]*websocket.Conn),
		userdata:    make(map[string]any),
		finalizers:  make(map[string]UserDataFinalizer),
		loads:       make(map[*loadContext]struct{}),
	}
	c.events.init()

	// System image first. Failure here is fatal to construction; the
	// display either reports it on screen and outlives us as an orphan,
	// or is released outright.
	if m.mounter != nil {
		romDir := filepath.Join(m.conf.ROMPath, "rom")
		if !m.mounter.Mount(c, romDir, "rom", m.conf.ROMReadOnly) {
			return nil, m.failCreate(c, errors.MountFailed(id, "rom", romDir))
		}
		if debug {
			debugDir := filepath.Join(m.conf.ROMPath, "debug")
			if !m.mounter.Mount(c, debugDir, "debug", true) {
				return nil, m.failCreate(c, errors.MountFailed(id, "debug", debugDir))
			}
		}
		for _, spec := range m.conf.CustomMounts {
			readOnly := m.conf.MountMode != config.MountModeRW
			switch spec.Mode {
			case -1:
				if m.conf.MountMode == config.MountModeNone {
					c.log.Warn("custom mounts disabled, skipping",
						zap.String("guest", spec.GuestName))
					continue
				}
			case 0:
				readOnly = true
			default:
				readOnly = false
			}
			if !m.mounter.Mount(c, spec.HostPath, spec.GuestName, readOnly) {
				c.log.Warn("custom mount failed",
					zap.String("guest", spec.GuestName),
					zap.String("host", spec.HostPath))
				if display != nil {
					m.tasks.Submit(func() {
						display.ShowMessage(term.MessageWarning, "Mount failed",
							"Could not mount "+spec.HostPath+" as "+spec.GuestName)
					})
				}
			}
		}
	}

	c.dataDir = m.conf.DataDir(id)
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return nil, m.failCreate(c, errors.Internal(errors.PhaseCreate, "create data dir", err))
	}
	c.dirLock = flock.New(filepath.Join(c.dataDir, ".lock"))
	locked, err := c.dirLock.TryLock()
	if err != nil || !locked {
		if err == nil {
			err = fmt.Errorf("data directory %s is in use", c.dataDir)
		}
		return nil, m.failCreate(c, errors.Internal(errors.PhaseCreate, "lock data dir", err))
	}

	return c, nil
}

// failCreate unwinds a half-built computer. A display already showing the
// failure on screen passes to the orphan set instead of being closed.
func (m *Manager) failCreate(c *Computer, cause *errors.Error) error {
	if m.mounter != nil {
		m.mounter.UnmountAll(c)
	}
	if c.display != nil {
		if m.conf.StandardsMode {
			c.display.ShowFatalError(cause.Error())
		}
		if c.display.ErrorMode() {
			m.registry.OrphanDisplay(c.display)
		} else {
			_ = c.display.Close()
		}
	}
	if c.dirLock != nil {
		_ = c.dirLock.Unlock()
	}
	m.log.Error("computer construction failed", zap.Error(cause))
	return cause
}

// Start creates computer id, registers it and spawns its dedicated
// thread. A failed construction is reported and never registered.
func (m *Manager) Start(id int) (*Computer, error) {
	return m.start(id, false)
}

// StartDebugger starts the diagnostic instance paired with computer id.
func (m *Manager) StartDebugger(id int) (*Computer, error) {
	return m.start(id, true)
}

func (m *Manager) start(id int, debug bool) (*Computer, error) {
	c, err := m.Create(id, debug)
	if err != nil {
		return nil, err
	}
	c.setState(Running)
	m.registry.Register(c)
	m.wg.Add(1)
	go m.threadBody(c)
	return c, nil
}

// Wait blocks until every started computer has halted and been destroyed.
func (m *Manager) Wait() { m.wg.Wait() }

// threadBody is the dedicated thread for one computer: seed its random
// source, clear any stale freed-set entry, run the incarnation loop, and
// guarantee full teardown no matter how the loop exits.
func (m *Manager) threadBody(c *Computer) {
	defer m.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.rng = rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(c.id)<<32))
	m.registry.ClearFreed(c)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Internal(errors.PhaseRun,
					fmt.Sprintf("panic: %v (last entry point %s)", r, c.lastEntryPoint()), nil)
			}
		}()
		return c.run()
	}()
	if err != nil {
		c.log.Error("computer thread failed",
			zap.Error(err), zap.String("entry", c.lastEntryPoint()))
		if c.display != nil {
			c.display.ShowFatalError(err.Error())
		}
		c.closeSockets()
		if c.L != nil {
			c.L.Close()
			c.L, c.coro, c.params = nil, nil, nil
		}
		c.setState(Stopped)
	}

	if derr := m.destroy(c); derr != nil {
		c.log.Warn("teardown reported errors", zap.Error(derr))
	}

	m.registry.Unregister(c)
	m.registry.MarkFreed(c)
	m.tasks.Submit(func() {
		c.log.Debug("computer released")
	})
}

// destroy executes the teardown contract, once, after the incarnation
// loop has returned. Errors are collected, never short-circuited; every
// step must run.
func (m *Manager) destroy(c *Computer) error {
	var errs error

	c.userMu.Lock()
	userdata, finalizers := c.userdata, c.finalizers
	c.userdata = make(map[string]any)
	c.finalizers = make(map[string]UserDataFinalizer)
	c.userMu.Unlock()
	for key, fin := range finalizers {
		fin(c, key, userdata[key])
	}

	if c.display != nil {
		if c.display.ErrorMode() {
			// The error screen outlives us; ownership moves to the
			// orphan set.
			m.registry.OrphanDisplay(c.display)
		} else {
			errs = multierr.Append(errs, c.display.Close())
		}
		c.display = nil
	}

	errs = multierr.Append(errs, config.SaveComputer(m.conf.DataRoot, c.id, c.conf))

	c.periphMu.Lock()
	peripherals := c.peripherals
	c.peripherals = make(map[string]Peripheral)
	c.periphMu.Unlock()
	for _, p := range peripherals {
		p.Destroy()
	}

	// Detach every peripheral on other computers that points back here,
	// under each owner's own peripheral lock. The registry lock is never
	// held across this.
	c.refMu.Lock()
	refs := make([]*Computer, 0, len(c.referencers))
	for other := range c.referencers {
		refs = append(refs, other)
	}
	c.referencers = make(map[*Computer]struct{})
	c.refMu.Unlock()
	for _, other := range refs {
		other.detachRefsTo(c)
	}

	c.invalidateTimers()
	c.closeSockets()
	c.events.close()

	if m.mounter != nil {
		m.mounter.UnmountAll(c)
	}
	if c.dirLock != nil {
		errs = multierr.Append(errs, c.dirLock.Unlock())
		c.dirLock = nil
	}
	return errs
}
