package term

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	xterm "golang.org/x/term"
)

var (
	consoleTitleStyle = lipgloss.NewStyle().Bold(true)
	consoleErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	consoleWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166"))
)

// Console is the text-console renderer. It repaints the cell buffer to
// stdout on demand and renders dialogs inline.
type Console struct {
	screen
	title string
	tty   bool
}

func NewConsole(title string) *Console {
	return &Console{
		screen: newScreen(),
		title:  title,
		tty:    xterm.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (c *Console) Title() string { return c.title }

func (c *Console) Blit(x, y int, text string) {
	c.screen.Blit(x, y, text)
	c.repaint()
}

func (c *Console) repaint() {
	if !c.tty {
		return
	}
	// Home the cursor and repaint the full frame; cheap at console sizes.
	fmt.Print("\x1b[H\x1b[2J")
	fmt.Println(consoleTitleStyle.Render(c.title))
	fmt.Println(c.render())
}

func (c *Console) ShowFatalError(msg string) {
	c.setErrorMode(true)
	line := c.title + ": " + msg
	if !c.isGrayscale() {
		line = consoleErrStyle.Render(line)
	}
	fmt.Fprintln(os.Stderr, line)
}

func (c *Console) ShowMessage(kind MessageKind, title, body string) {
	line := title + ": " + body
	if !c.isGrayscale() {
		switch kind {
		case MessageError:
			line = consoleErrStyle.Render(line)
		case MessageWarning:
			line = consoleWarnStyle.Render(line)
		}
	}
	fmt.Fprintln(os.Stderr, line)
}

func (c *Console) Close() error {
	if c.tty {
		fmt.Print("\x1b[0m")
	}
	return nil
}
