package session

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store holds live sessions. Sessions idle for longer than the TTL, or
// pushed out once size sessions exist, are dropped.
type Store struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Session]
}

// NewStore keeps at most size sessions, each expiring after ttl without use.
// A non-positive ttl never expires.
func NewStore(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 1024
	}
	return &Store{cache: expirable.NewLRU[string, *Session](size, nil, ttl)}
}

// Get returns a live session and refreshes its expiry.
func (st *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.cache.Get(id)
	if ok {
		st.cache.Add(id, s)
	}
	return s, ok
}

// GetOrCreate returns the session for id, creating it under a new id when
// id is empty or unknown. created reports whether a new session was made.
func (st *Store) GetOrCreate(id string) (s *Session, created bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id != "" {
		if s, ok := st.cache.Get(id); ok {
			st.cache.Add(id, s)
			return s, false
		}
	}
	s = New(NewID())
	st.cache.Add(s.ID, s)
	return s, true
}

// Delete drops a session.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cache.Remove(id)
}

// Len is the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cache.Len()
}
