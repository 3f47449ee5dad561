// Package apis holds the guest-visible capability modules. Each module
// satisfies computer.Library and is loaded against every fresh VM
// incarnation; modules with per-incarnation resources also implement
// computer.LibraryDeinit.
package apis

import (
	"github.com/mseyne/craftos2/computer"
	"github.com/mseyne/craftos2/config"
)

// Base returns the standard library set for the given configuration:
// the fixed base modules plus the conditionally-enabled ones.
func Base(glob *config.Global) []computer.Library {
	libs := []computer.Library{
		&osLib{},
		&termLib{},
		&peripheralLib{},
		&redstoneLib{},
	}
	if glob.HTTPEnable && !glob.Vanilla {
		libs = append(libs, newHTTPLib())
	}
	if glob.DebugEnable {
		libs = append(libs, &debuggerLib{})
	}
	return libs
}
