// Package mount is the virtual filesystem collaborator: it binds host
// directories into the guest-visible namespace of a computer. The
// on-disk guest filesystem format itself lives behind this boundary;
// the engine only ever mounts, resolves and unmounts.
package mount

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mseyne/craftos2/computer"
)

// Entry is one live binding from a guest name to a host directory.
type Entry struct {
	GuestName string
	HostPath  string
	ReadOnly  bool
}

// DirMounter mounts host directories. It implements computer.Mounter.
type DirMounter struct {
	log *zap.Logger

	mu     sync.Mutex
	tables map[*computer.Computer][]Entry
}

func NewDirMounter(log *zap.Logger) *DirMounter {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirMounter{
		log:    log,
		tables: make(map[*computer.Computer][]Entry),
	}
}

// Mount binds hostPath under guestName. Reports false when the host path
// is not an existing directory or the guest name is already taken.
func (m *DirMounter) Mount(c *computer.Computer, hostPath, guestName string, readOnly bool) bool {
	guestName = path.Clean("/" + guestName)
	info, err := os.Stat(hostPath)
	if err != nil || !info.IsDir() {
		m.log.Warn("mount target is not a directory",
			zap.String("host", hostPath), zap.Error(err))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.tables[c] {
		if e.GuestName == guestName {
			m.log.Warn("guest name already mounted", zap.String("guest", guestName))
			return false
		}
	}
	m.tables[c] = append(m.tables[c], Entry{
		GuestName: guestName,
		HostPath:  hostPath,
		ReadOnly:  readOnly,
	})
	return true
}

// Unmount removes the binding at guestName.
func (m *DirMounter) Unmount(c *computer.Computer, guestName string) bool {
	guestName = path.Clean("/" + guestName)
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.tables[c]
	for i, e := range entries {
		if e.GuestName == guestName {
			m.tables[c] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// UnmountAll drops every binding for c. Part of the teardown contract.
func (m *DirMounter) UnmountAll(c *computer.Computer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, c)
}

// List returns c's bindings sorted by guest name.
func (m *DirMounter) List(c *computer.Computer) []Entry {
	m.mu.Lock()
	entries := append([]Entry(nil), m.tables[c]...)
	m.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].GuestName < entries[j].GuestName
	})
	return entries
}

// Resolve maps a guest path to its host path under the longest matching
// mount. The second result reports whether the mount is read-only.
func (m *DirMounter) Resolve(c *computer.Computer, guestPath string) (string, bool, bool) {
	guestPath = path.Clean("/" + guestPath)

	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Entry
	for i := range m.tables[c] {
		e := &m.tables[c][i]
		if guestPath == e.GuestName || strings.HasPrefix(guestPath, e.GuestName+"/") {
			if best == nil || len(e.GuestName) > len(best.GuestName) {
				best = e
			}
		}
	}
	if best == nil {
		return "", false, false
	}
	rel := strings.TrimPrefix(guestPath, best.GuestName)
	return filepath.Join(best.HostPath, filepath.FromSlash(rel)), best.ReadOnly, true
}
