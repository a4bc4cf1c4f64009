// Package registry tracks the single active transport handle per client.
package registry

import (
	"sync"
	"time"

	"chatlink/pkg/interfaces"
	"chatlink/pkg/types"
)

// Entry is the active transport for one client.
type Entry struct {
	ClientID    types.ClientID
	Mode        types.TransportMode
	Handle      interfaces.Handle
	ActivatedAt time.Time
}

// Registry holds at most one Entry per client. Handles are stopped outside
// the lock so a slow Stop never blocks lookups for other clients.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.ClientID]*Entry
	byMode  map[types.TransportMode]map[types.ClientID]*Entry
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[types.ClientID]*Entry),
		byMode:  make(map[types.TransportMode]map[types.ClientID]*Entry),
		now:     time.Now,
	}
}

// Activate records handle as the client's active transport. The previous
// entry must have been released first.
func (r *Registry) Activate(clientID types.ClientID, mode types.TransportMode, handle interfaces.Handle) (*Entry, error) {
	if clientID == "" {
		return nil, ErrInvalidClient
	}
	if handle == nil {
		return nil, ErrNilHandle
	}
	if !mode.IsValid() || mode == types.ModeDisconnected {
		return nil, ErrInvalidMode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[clientID]; exists {
		return nil, ErrAlreadyActive
	}

	entry := &Entry{
		ClientID:    clientID,
		Mode:        mode,
		Handle:      handle,
		ActivatedAt: r.now(),
	}
	r.entries[clientID] = entry
	if r.byMode[mode] == nil {
		r.byMode[mode] = make(map[types.ClientID]*Entry)
	}
	r.byMode[mode][clientID] = entry

	return entry, nil
}

// Deactivate removes the client's entry and stops its handle. It returns
// the mode that was released, or ModeDisconnected when nothing was active.
// Once it returns the released handle delivers nothing further.
func (r *Registry) Deactivate(clientID types.ClientID) types.TransportMode {
	r.mu.Lock()
	entry := r.removeLocked(clientID)
	r.mu.Unlock()

	if entry == nil {
		return types.ModeDisconnected
	}
	entry.Handle.Stop()
	return entry.Mode
}

// Release removes the entry only if handle is still the registered one.
// Strategies that end on their own use it so a stale handle never evicts
// its replacement.
func (r *Registry) Release(clientID types.ClientID, handle interfaces.Handle) bool {
	if handle == nil {
		return false
	}

	r.mu.Lock()
	entry, exists := r.entries[clientID]
	if !exists || entry.Handle != handle {
		r.mu.Unlock()
		return false
	}
	r.removeLocked(clientID)
	r.mu.Unlock()

	handle.Stop()
	return true
}

// DeactivateAll stops every active handle and empties the registry.
func (r *Registry) DeactivateAll() int {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entries = append(entries, entry)
	}
	r.entries = make(map[types.ClientID]*Entry)
	r.byMode = make(map[types.TransportMode]map[types.ClientID]*Entry)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(h interfaces.Handle) {
			defer wg.Done()
			h.Stop()
		}(entry.Handle)
	}
	wg.Wait()

	return len(entries)
}

// ActiveMode reports the client's current mode.
func (r *Registry) ActiveMode(clientID types.ClientID) types.TransportMode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, exists := r.entries[clientID]; exists {
		return entry.Mode
	}
	return types.ModeDisconnected
}

// Current returns a copy of the client's entry.
func (r *Registry) Current(clientID types.ClientID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[clientID]
	if !exists {
		return Entry{}, false
	}
	return *entry, true
}

// Stats returns counts for monitoring: the total plus one key per mode.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		"total_active": len(r.entries),
	}
	for _, mode := range types.Modes {
		if mode == types.ModeDisconnected {
			continue
		}
		stats[mode.String()] = len(r.byMode[mode])
	}
	return stats
}

func (r *Registry) removeLocked(clientID types.ClientID) *Entry {
	entry, exists := r.entries[clientID]
	if !exists {
		return nil
	}
	delete(r.entries, clientID)
	if clients, ok := r.byMode[entry.Mode]; ok {
		delete(clients, clientID)
		if len(clients) == 0 {
			delete(r.byMode, entry.Mode)
		}
	}
	return entry
}
