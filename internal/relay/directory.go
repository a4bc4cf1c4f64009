package relay

import (
	"sort"
	"sync"
	"time"

	"chatlink/pkg/types"
)

// Participant is one client the relay has seen.
type Participant struct {
	ClientID  types.ClientID `json:"client_id"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
}

// Directory records every client that has made a request. A posted message
// is queued for every participant except its sender.
type Directory struct {
	mu           sync.RWMutex
	participants map[types.ClientID]*Participant
	now          func() time.Time
}

func NewDirectory() *Directory {
	return &Directory{
		participants: make(map[types.ClientID]*Participant),
		now:          time.Now,
	}
}

// Touch registers clientID or refreshes its last-seen time. It reports
// whether the participant is new.
func (d *Directory) Touch(clientID types.ClientID) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.participants[clientID]; ok {
		p.LastSeen = now
		return false
	}
	d.participants[clientID] = &Participant{ClientID: clientID, FirstSeen: now, LastSeen: now}
	return true
}

// Others lists every participant except clientID, sorted for stable fan-out.
func (d *Directory) Others(clientID types.ClientID) []types.ClientID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	others := make([]types.ClientID, 0, len(d.participants))
	for id := range d.participants {
		if id != clientID {
			others = append(others, id)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })
	return others
}

// Get returns a copy of the participant record.
func (d *Directory) Get(clientID types.ClientID) (Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.participants[clientID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.participants)
}

// Prune forgets participants idle for longer than maxIdle and returns how
// many were removed. Zero or negative maxIdle keeps everyone.
func (d *Directory) Prune(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := d.now().Add(-maxIdle)

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, p := range d.participants {
		if p.LastSeen.Before(cutoff) {
			delete(d.participants, id)
			removed++
		}
	}
	return removed
}
