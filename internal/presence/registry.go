// ABOUTME: In-memory presence registry mapping principals to live connection ids
// ABOUTME: Owned by the relay; every mutation is followed by a getUsers broadcast

package presence

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/halfattire/inbox/internal/chat"
)

// Registry maps principal ids to their active connection ids.
type Registry struct {
	mu          sync.RWMutex
	byPrincipal map[string][]string // principal -> connection ids, oldest first
	byConn      map[string]string   // connection -> principal
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byPrincipal: make(map[string][]string),
		byConn:      make(map[string]string),
	}
}

// Add records that principalID is reachable over connID. If connID was
// previously announced for another principal it is moved. Returns false when
// the mapping already existed.
func (r *Registry) Add(principalID, connID string) bool {
	if principalID == "" || connID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok {
		if prev == principalID {
			return false
		}
		r.removeLocked(connID)
	}

	r.byConn[connID] = principalID
	r.byPrincipal[principalID] = append(r.byPrincipal[principalID], connID)
	return true
}

// Remove forgets connID. It returns the principal the connection belonged to
// and whether anything was removed.
func (r *Registry) Remove(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	principalID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	r.removeLocked(connID)
	return principalID, true
}

func (r *Registry) removeLocked(connID string) {
	principalID := r.byConn[connID]
	delete(r.byConn, connID)

	remaining := lo.Without(r.byPrincipal[principalID], connID)
	if len(remaining) == 0 {
		delete(r.byPrincipal, principalID)
		return
	}
	r.byPrincipal[principalID] = remaining
}

// Snapshot returns one entry per online principal, sorted by principal id.
// Each entry carries the principal's most recently added connection.
func (r *Registry) Snapshot() []chat.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]chat.PresenceEntry, 0, len(r.byPrincipal))
	for principalID, conns := range r.byPrincipal {
		entries = append(entries, chat.PresenceEntry{
			PrincipalID:  principalID,
			ConnectionID: conns[len(conns)-1],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PrincipalID < entries[j].PrincipalID
	})
	return entries
}

// IsOnline reports whether principalID has at least one live connection.
func (r *Registry) IsOnline(principalID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPrincipal[principalID]
	return ok
}

// Connections returns the connection ids held by principalID, oldest first.
func (r *Registry) Connections(principalID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.byPrincipal[principalID]...)
}

// PrincipalOf returns the principal announced on connID.
func (r *Registry) PrincipalOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byConn[connID]
	return p, ok
}

// Len returns the number of online principals.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPrincipal)
}
