package server

import (
	"sync"
	"time"
)

const oauthStateTTL = 10 * time.Minute

// oauthStateStore maps the opaque state nonce sent to the consent screen back
// to the user who initiated the connect flow. Entries expire after a short TTL.
type oauthStateStore struct {
	mu      sync.Mutex
	entries map[string]oauthStateEntry
	clock   func() time.Time
}

type oauthStateEntry struct {
	userID    string
	expiresAt time.Time
}

func newOAuthStateStore(clock func() time.Time) *oauthStateStore {
	if clock == nil {
		clock = time.Now
	}
	return &oauthStateStore{
		entries: make(map[string]oauthStateEntry),
		clock:   clock,
	}
}

func (s *oauthStateStore) put(state, userID string) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.entries[state] = oauthStateEntry{userID: userID, expiresAt: now.Add(oauthStateTTL)}
}

// take consumes the state entry; a state nonce is single use.
func (s *oauthStateStore) take(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[state]
	if !ok {
		return "", false
	}
	delete(s.entries, state)
	if s.clock().After(entry.expiresAt) {
		return "", false
	}
	return entry.userID, true
}
