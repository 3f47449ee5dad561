package term

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// remoteFrame is the wire format pushed to the remote endpoint on every
// display mutation.
type remoteFrame struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Kind      string `json:"kind"` // "frame", "fatal" or "message"
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Body      string `json:"body,omitempty"`
	Grayscale bool   `json:"grayscale,omitempty"`
}

// Remote pushes display frames over a websocket to an external viewer.
type Remote struct {
	screen
	title string
	id    string
	mu    sync.Mutex
	conn  *websocket.Conn
}

func NewRemote(title, url string) (*Remote, error) {
	if url == "" {
		return nil, fmt.Errorf("term: remote renderer needs remote_addr")
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("term: dial remote display: %w", err)
	}
	return &Remote{
		screen: newScreen(),
		title:  title,
		id:     uuid.NewString(),
		conn:   conn,
	}, nil
}

func (r *Remote) Title() string { return r.title }

func (r *Remote) push(f remoteFrame) {
	f.ID = r.id
	f.Title = r.title
	f.Grayscale = r.isGrayscale()
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.WriteMessage(websocket.TextMessage, payload)
	}
}

func (r *Remote) Reset(w, h int) {
	r.screen.Reset(w, h)
	w, h = r.Size()
	r.push(remoteFrame{Kind: "frame", Width: w, Height: h, Body: r.render()})
}

func (r *Remote) Blit(x, y int, text string) {
	r.screen.Blit(x, y, text)
	w, h := r.Size()
	r.push(remoteFrame{Kind: "frame", Width: w, Height: h, Body: r.render()})
}

func (r *Remote) ShowFatalError(msg string) {
	r.setErrorMode(true)
	r.push(remoteFrame{Kind: "fatal", Body: msg})
}

func (r *Remote) ShowMessage(kind MessageKind, title, body string) {
	r.push(remoteFrame{Kind: "message", Body: title + ": " + body})
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
