// Package term provides the display capability used by virtual computers.
//
// Every renderer variant sits behind the one Display interface; the engine
// never type-switches on the concrete renderer. A computer holds at most one
// Display for its lifetime, and a Display whose computer died while showing
// a fatal error outlives it as an orphan.
package term

import (
	"fmt"

	"github.com/mseyne/craftos2/config"
)

// MessageKind classifies a message dialog.
type MessageKind int

const (
	MessageInfo MessageKind = iota
	MessageWarning
	MessageError
)

// Default terminal geometry, in character cells.
const (
	DefaultWidth  = 51
	DefaultHeight = 19
)

// Display is the capability interface every renderer variant implements.
type Display interface {
	Title() string
	Size() (w, h int)

	// Reset blanks the surface back to the default palette and geometry.
	// Called once per incarnation before the guest VM boots.
	Reset(w, h int)

	// Blit writes text at a cell position. SetCursor moves the blink cursor.
	Blit(x, y int, text string)
	SetCursor(x, y int)

	// SetGrayscale is applied at construction for non-color computers.
	SetGrayscale(on bool)

	// ShowFatalError switches the display into error mode and renders msg.
	// A display in error mode must not be released by teardown.
	ShowFatalError(msg string)
	ShowMessage(kind MessageKind, title, body string)
	ErrorMode() bool

	Close() error
}

// New constructs the display variant selected by the configured renderer.
// Headless returns nil: a headless computer has no display at all.
func New(conf *config.Global, title string) (Display, error) {
	switch conf.Renderer {
	case config.RendererHeadless:
		return nil, nil
	case config.RendererConsole:
		return NewConsole(title), nil
	case config.RendererRemote:
		return NewRemote(title, conf.RemoteURL())
	case config.RendererGraphical, config.RendererAccelerated:
		return NewTUI(title), nil
	default:
		return nil, fmt.Errorf("term: unknown renderer %d", conf.Renderer)
	}
}

// Title builds the window title for a computer, preferring its label.
func Title(label string, id int, debugger bool) string {
	kind := "Computer"
	if debugger {
		kind = "Debugger"
	}
	if label == "" {
		return fmt.Sprintf("CraftOS Terminal: %s %d", kind, id)
	}
	return "CraftOS Terminal: " + label
}
