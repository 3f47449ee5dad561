package term

import (
	"strings"
	"sync"
)

// screen is the cell buffer shared by the concrete renderer variants.
type screen struct {
	mu        sync.Mutex
	cells     [][]rune
	width     int
	height    int
	cursorX   int
	cursorY   int
	grayscale bool
	errorMode bool
}

func newScreen() (s screen) {
	s.resetLocked(DefaultWidth, DefaultHeight)
	return
}

func (s *screen) resetLocked(w, h int) {
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	s.width, s.height = w, h
	s.cursorX, s.cursorY = 0, 0
	s.cells = make([][]rune, h)
	for y := range s.cells {
		row := make([]rune, w)
		for x := range row {
			row[x] = ' '
		}
		s.cells[y] = row
	}
}

func (s *screen) Reset(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(w, h)
}

func (s *screen) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *screen) Blit(x, y int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if y < 0 || y >= s.height {
		return
	}
	for _, r := range text {
		if x >= s.width {
			break
		}
		if x >= 0 {
			s.cells[y][x] = r
		}
		x++
	}
}

func (s *screen) SetCursor(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorX, s.cursorY = x, y
}

func (s *screen) SetGrayscale(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grayscale = on
}

func (s *screen) isGrayscale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grayscale
}

func (s *screen) ErrorMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMode
}

func (s *screen) setErrorMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorMode = on
}

// render returns the buffer as newline-joined rows.
func (s *screen) render() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]string, s.height)
	for y, row := range s.cells {
		rows[y] = string(row)
	}
	return strings.Join(rows, "\n")
}
