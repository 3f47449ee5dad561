package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Renderer selects the display variant a computer is created with.
type Renderer int

const (
	RendererGraphical   Renderer = iota // TUI window per computer
	RendererHeadless                    // no display at all
	RendererConsole                     // plain text console
	RendererRemote                      // frames pushed over a websocket
	RendererAccelerated                 // reserved; behaves like graphical
)

// MountMode controls how operator-specified mounts are attached.
type MountMode int

const (
	MountModeNone MountMode = iota // custom mounts disabled
	MountModeRO
	MountModeRW
)

// OnboardingFirstRun and OnboardingUpdated select which one-shot global the
// next boot injects.
const (
	OnboardingNone = iota
	OnboardingFirstRun
	OnboardingUpdated
)

// MountSpec is an operator-specified custom mount directive.
// Mode -1 means "use the global MountMode default"; 0 forces read-only;
// anything else forces read-write.
type MountSpec struct {
	GuestName string `toml:"guest"`
	HostPath  string `toml:"host"`
	Mode      int    `toml:"mode"`
}

// Global holds host-wide configuration shared by every computer.
type Global struct {
	// DataRoot is the base directory for per-computer data directories.
	DataRoot string `toml:"data_root"`
	// ROMPath is the host directory holding the system image ("rom") and
	// the diagnostic image ("debug").
	ROMPath string `toml:"rom_path"`
	// StandaloneBIOS, when non-empty, is used as the boot script source
	// instead of streaming rom/bios.lua from disk.
	StandaloneBIOS string `toml:"-"`

	Renderer     Renderer  `toml:"renderer"`
	MountMode    MountMode `toml:"mount_mode"`
	ROMReadOnly  bool      `toml:"rom_read_only"`
	AbortTimeout duration  `toml:"abort_timeout"`

	// StandardsMode tightens failure surfacing and enables the yieldable
	// load override.
	StandardsMode bool `toml:"standards_mode"`
	// Vanilla removes every non-standard guest capability.
	Vanilla bool `toml:"vanilla"`
	// DebugEnable keeps introspection primitives available to guests.
	DebugEnable bool `toml:"debug_enable"`
	HTTPEnable  bool `toml:"http_enable"`
	ServerMode  bool `toml:"server_mode"`

	DefaultComputerSettings string `toml:"default_computer_settings"`

	// Onboarding is consumed by the first boot after startup.
	Onboarding int `toml:"-"`

	// StartupScript is either a path to a script file or, with a leading
	// ESC byte, the literal script source. StartupArgs is passed through
	// verbatim.
	StartupScript string `toml:"startup_script"`
	StartupArgs   string `toml:"startup_args"`

	CustomMounts   []MountSpec    `toml:"mounts"`
	CustomDataDirs map[int]string `toml:"-"`

	// RemoteAddr is the websocket endpoint remote displays push frames to.
	RemoteAddr string `toml:"remote_addr"`
}

// RemoteURL returns the websocket endpoint for remote renderers.
func (g *Global) RemoteURL() string {
	return g.RemoteAddr
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Global with sensible defaults.
func Default() *Global {
	return &Global{
		DataRoot:     defaultDataRoot(),
		ROMPath:      "/usr/local/share/craftos",
		Renderer:     RendererGraphical,
		MountMode:    MountModeRO,
		ROMReadOnly:  true,
		AbortTimeout: duration{7 * time.Second},
		HTTPEnable:   true,
	}
}

func defaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "craftos-computers"
	}
	return filepath.Join(home, ".craftos", "computers")
}

// LoadGlobal loads configuration from a TOML file, falling back to defaults
// when path is empty or the file does not exist.
func LoadGlobal(path string) (*Global, error) {
	conf := Default()
	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if conf.AbortTimeout.Duration <= 0 {
		conf.AbortTimeout = duration{7 * time.Second}
	}
	return conf, nil
}

// SetAbortTimeout overrides the watchdog timeout programmatically.
func (g *Global) SetAbortTimeout(d time.Duration) { g.AbortTimeout = duration{d} }

// WatchdogTimeout returns the timeout armed around each guest resume.
// Standards mode pins it to 7 seconds regardless of configuration.
func (g *Global) WatchdogTimeout() time.Duration {
	if g.StandardsMode {
		return 7 * time.Second
	}
	return g.AbortTimeout.Duration
}

// DataDir resolves the private data directory for a computer id, honoring
// per-id operator overrides.
func (g *Global) DataDir(id int) string {
	if dir, ok := g.CustomDataDirs[id]; ok {
		return dir
	}
	return filepath.Join(g.DataRoot, fmt.Sprint(id))
}
