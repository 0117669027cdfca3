package mingle

import "sync"

// PresenceTracker maintains the set of currently-online user IDs for the
// session, fed by presence events on the notification channel.
//
// The set deliberately survives a reconnect: until a fresh presence_init
// arrives on the new connection, queries answer from the stale set. That
// staleness is accepted rather than masked with an empty set.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[int64]struct{}
}

// NewPresenceTracker returns an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[int64]struct{})}
}

// Replace swaps the entire online set for userIDs (presence_init). IDs
// absent from the new list are removed, never merged.
func (p *PresenceTracker) Replace(userIDs []int64) {
	next := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id > 0 {
			next[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
}

// Apply handles one incremental presence change. Adding a present ID or
// removing an absent one is a no-op, so duplicate delivery is harmless.
func (p *PresenceTracker) Apply(userID int64, isOnline bool) {
	if userID <= 0 {
		return
	}
	p.mu.Lock()
	if isOnline {
		p.online[userID] = struct{}{}
	} else {
		delete(p.online, userID)
	}
	p.mu.Unlock()
}

// IsOnline reports whether userID is currently online. Non-positive IDs
// always report offline.
func (p *PresenceTracker) IsOnline(userID int64) bool {
	if userID <= 0 {
		return false
	}
	p.mu.RLock()
	_, ok := p.online[userID]
	p.mu.RUnlock()
	return ok
}

// OnlineCount returns the size of the online set.
func (p *PresenceTracker) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}

// Snapshot returns a copy of the online set.
func (p *PresenceTracker) Snapshot() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int64, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	return ids
}
