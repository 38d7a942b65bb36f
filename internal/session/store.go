// Package session holds reading requests between the POST that creates
// them and the EventSource GET that streams them.
package session

import (
	"errors"
	"sync"
	"time"

	"cheonkimoon/internal/reading"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown, expired or already consumed ids.
var ErrNotFound = errors.New("session not found or expired")

type entry struct {
	req     reading.Request
	expires time.Time
}

// Store is an in-memory single-use session map with a TTL.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewStore starts a sweeper that drops expired entries every sweep
// interval. Call Close to stop it.
func NewStore(ttl, sweep time.Duration) *Store {
	s := &Store{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweep > 0 {
		go s.sweepLoop(sweep)
	}
	return s
}

// Put stores req and returns its id.
func (s *Store) Put(req reading.Request) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.entries[id] = entry{req: req, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return id
}

// Take removes and returns the request stored under id.
func (s *Store) Take(id string) (reading.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return reading.Request{}, ErrNotFound
	}
	delete(s.entries, id)
	if s.now().After(e.expires) {
		return reading.Request{}, ErrNotFound
	}
	return e.req, nil
}

// Len is the number of stored entries, expired ones included until swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) Close() {
	s.once.Do(func() { close(s.stop) })
}
