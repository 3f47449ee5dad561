package term

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// InputEvent is a raw key event produced by a renderer. It feeds the
// computer's low-level input queue, not the guest event queue.
type InputEvent struct {
	Key  string
	Rune rune
}

// InputFunc receives raw input events from an interactive renderer.
type InputFunc func(InputEvent)

var (
	tuiTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	tuiErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true)

	// Grayscale counterparts used for non-color computers.
	tuiGrayTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#5A5A5A")).
				Padding(0, 1)

	tuiGrayErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#BDBDBD")).
				Bold(true)

	tuiDialogStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 2)
)

// TUI is the graphical renderer variant, one bubbletea program per computer.
type TUI struct {
	screen
	title   string
	prog    *tea.Program
	done    chan struct{}
	onInput InputFunc
}

type frameMsg string
type fatalMsg string
type dialogMsg struct {
	kind  MessageKind
	title string
	body  string
}
type closeMsg struct{}

func NewTUI(title string) *TUI {
	t := &TUI{
		screen: newScreen(),
		title:  title,
		done:   make(chan struct{}),
	}
	t.prog = tea.NewProgram(newTUIModel(t), tea.WithAltScreen())
	go func() {
		defer close(t.done)
		_, _ = t.prog.Run()
	}()
	return t
}

func (t *TUI) Title() string { return t.title }

// SetInput routes raw key events to fn. Must be set before guest input is
// expected; events arriving with no handler are dropped.
func (t *TUI) SetInput(fn InputFunc) { t.onInput = fn }

func (t *TUI) Reset(w, h int) {
	t.screen.Reset(w, h)
	t.prog.Send(frameMsg(t.render()))
}

func (t *TUI) Blit(x, y int, text string) {
	t.screen.Blit(x, y, text)
	t.prog.Send(frameMsg(t.render()))
}

func (t *TUI) ShowFatalError(msg string) {
	t.setErrorMode(true)
	t.prog.Send(fatalMsg(msg))
}

func (t *TUI) ShowMessage(kind MessageKind, title, body string) {
	t.prog.Send(dialogMsg{kind: kind, title: title, body: body})
}

func (t *TUI) Close() error {
	t.prog.Send(closeMsg{})
	<-t.done
	return nil
}

type tuiModel struct {
	owner  *TUI
	view   viewport.Model
	fatal  string
	dialog *dialogMsg
}

func newTUIModel(owner *TUI) *tuiModel {
	w, h := owner.Size()
	vp := viewport.New(w, h)
	return &tuiModel{owner: owner, view: vp}
}

func (m *tuiModel) Init() tea.Cmd { return nil }

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.dialog != nil && msg.String() == "enter" {
			m.dialog = nil
			return m, nil
		}
		if fn := m.owner.onInput; fn != nil {
			ev := InputEvent{Key: msg.String()}
			if msg.Type == tea.KeyRunes && len(msg.Runes) == 1 {
				ev.Rune = msg.Runes[0]
			}
			fn(ev)
		}

	case frameMsg:
		m.view.SetContent(string(msg))

	case fatalMsg:
		m.fatal = string(msg)

	case dialogMsg:
		m.dialog = &msg

	case closeMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.view.Width = msg.Width
		m.view.Height = msg.Height - 1
	}

	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	return m, cmd
}

func (m *tuiModel) View() string {
	titleStyle, errStyle := tuiTitleStyle, tuiErrorStyle
	if m.owner.isGrayscale() {
		titleStyle, errStyle = tuiGrayTitleStyle, tuiGrayErrorStyle
	}
	header := titleStyle.Render(m.owner.title)
	if m.fatal != "" {
		return header + "\n" + errStyle.Render(m.fatal)
	}
	if m.dialog != nil {
		body := m.dialog.title + "\n\n" + m.dialog.body
		if m.dialog.kind == MessageError {
			body = errStyle.Render(body)
		}
		return header + "\n" + tuiDialogStyle.Render(body)
	}
	return header + "\n" + m.view.View()
}
