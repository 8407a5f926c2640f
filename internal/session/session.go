// Package session implements the cookie-bound, TTL-expiring session store
// described in spec.md §4.7. Sessions are owned exclusively by the Store;
// callers only ever see them through a borrowed handle and mutate them
// through the Store's API, never directly.
package session

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Storage is the optional durable backing for a Store, consulted when a
// session id isn't found in memory (e.g. right after a process restart)
// and written to on every mutation a caller asks to persist.
// internal/memory.Storage implements it.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// DefaultTTL is the lifetime of a session since its last access (spec.md
// §4.7: 3600 seconds).
const DefaultTTL = 3600 * time.Second

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
const idLength = 16

// Session holds per-client key/value state plus bookkeeping the Store
// needs to expire it. The zero value is never exposed to callers; Session
// values are produced by Store.GetOrCreate and UnmarshalFromPersistence.
type Session struct {
	ID         string
	Values     map[string]interface{}
	LastAccess time.Time

	mu sync.RWMutex
}

// Get returns the value stored under key, if any.
func (s *Session) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.Values[key]
	return v, ok
}

// Set stores value under key.
func (s *Session) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Values == nil {
		s.Values = make(map[string]interface{})
	}
	s.Values[key] = value
}

// entry is the serialized-for-persistence shape of a Session, used only by
// MarshalForPersistence/UnmarshalFromPersistence — the in-memory Store
// below keeps live *Session pointers and never round-trips through this.
type entry struct {
	ID         string                 `json:"id"`
	Values     map[string]interface{} `json:"values"`
	LastAccess int64                  `json:"last_access"`
}

// MarshalForPersistence encodes s for a durable backing store. The
// teacher's session middleware hand-rolls a `key=type:value;` string
// format that cannot round-trip nested values or slices; goccy/go-json
// replaces it here so arbitrary JSON-able values survive a save/load
// cycle.
func MarshalForPersistence(s *Session) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(entry{ID: s.ID, Values: s.Values, LastAccess: s.LastAccess.Unix()})
}

// UnmarshalFromPersistence decodes data produced by MarshalForPersistence
// into a fresh Session.
func UnmarshalFromPersistence(data []byte) (*Session, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &Session{ID: e.ID, Values: e.Values, LastAccess: time.Unix(e.LastAccess, 0)}, nil
}

// Store is the in-memory session table. A background sweep evicts entries
// whose TTL has lapsed; GetOrCreate also performs a lazy check on the
// specific id it touches so a session doesn't survive a single access past
// its deadline even between sweeps.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	backing  Storage

	sweepTicker *time.Ticker
	stopSweep   chan struct{}
}

// NewStore returns a Store whose entries expire ttl after their last
// access. If sweepInterval is positive, a background goroutine evicts
// expired entries on that cadence (grounded on internal/memory's cleanup
// ticker); if zero or negative, only lazy per-access expiry applies.
func NewStore(ttl time.Duration, sweepInterval time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	st := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
	if sweepInterval > 0 {
		st.sweepTicker = time.NewTicker(sweepInterval)
		st.stopSweep = make(chan struct{})
		go func() {
			for {
				select {
				case <-st.sweepTicker.C:
					st.sweep()
				case <-st.stopSweep:
					st.sweepTicker.Stop()
					return
				}
			}
		}()
	}
	return st
}

// WithBacking attaches a durable Storage to st. GetOrCreate falls back to
// it on a local miss, and Persist writes through to it. Returns st for
// chaining after NewStore.
func (st *Store) WithBacking(backing Storage) *Store {
	st.backing = backing
	return st
}

// Persist writes sess to the backing store, if one is attached. Callers
// that mutate a session's Values and want that mutation to survive a
// restart call this after Session.Set; without a backing store it is a
// no-op.
func (st *Store) Persist(ctx context.Context, sess *Session) error {
	if st.backing == nil {
		return nil
	}
	data, err := MarshalForPersistence(sess)
	if err != nil {
		return err
	}
	return st.backing.Set(ctx, sess.ID, data, st.ttl)
}

// Close stops the background sweep goroutine, if one was started.
func (st *Store) Close() {
	if st.sweepTicker != nil {
		st.stopSweep <- struct{}{}
	}
}

// GetOrCreate implements spec.md §4.7's getOrCreate rule:
//   - id non-empty and known: touch last-access and return the existing
//     session.
//   - id non-empty and unknown: create a session keyed by exactly that id
//     (the client's cookie is honored verbatim).
//   - id empty: mint a fresh base62 id and create a session under it.
//
// minted reports whether a brand new id was generated (id was empty), the
// signal the caller uses to decide whether to attach Set-Cookie.
func (st *Store) GetOrCreate(id string) (sess *Session, minted bool) {
	now := time.Now()

	if id != "" {
		st.mu.Lock()
		if existing, ok := st.sessions[id]; ok {
			if now.Sub(existing.LastAccess) > st.ttl {
				delete(st.sessions, id)
			} else {
				existing.mu.Lock()
				existing.LastAccess = now
				existing.mu.Unlock()
				st.mu.Unlock()
				return existing, false
			}
		}
		st.mu.Unlock()

		if st.backing != nil {
			if data, err := st.backing.Get(context.Background(), id); err == nil {
				if restored, err := UnmarshalFromPersistence(data); err == nil {
					restored.LastAccess = now
					st.mu.Lock()
					st.sessions[id] = restored
					st.mu.Unlock()
					return restored, false
				}
			}
		}

		fresh := &Session{ID: id, Values: make(map[string]interface{}), LastAccess: now}
		st.mu.Lock()
		st.sessions[id] = fresh
		st.mu.Unlock()
		return fresh, false
	}

	newID := generateID()
	fresh := &Session{ID: newID, Values: make(map[string]interface{}), LastAccess: now}
	st.mu.Lock()
	st.sessions[newID] = fresh
	st.mu.Unlock()
	return fresh, true
}

// Delete removes a session by id.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len reports how many sessions the store currently holds, expired or
// not (expired entries are reclaimed on next access or sweep).
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// sweep drops every session whose TTL lapsed since its last access.
func (st *Store) sweep() {
	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		s.mu.RLock()
		expired := now.Sub(s.LastAccess) > st.ttl
		s.mu.RUnlock()
		if expired {
			delete(st.sessions, id)
		}
	}
}

// generateID mints a 16-character base62 session id (spec.md §3/§4.7),
// replacing the teacher's UUIDv4 generator.
func generateID() string {
	buf := make([]byte, idLength)
	randBytes := make([]byte, idLength)
	if _, err := rand.Read(randBytes); err != nil {
		// crypto/rand failure on a modern OS is not a condition this
		// server can usefully recover from; fall back to a degraded but
		// still-unique-enough source rather than panicking.
		for i := range randBytes {
			randBytes[i] = byte(time.Now().UnixNano() >> uint(i%8*8))
		}
	}
	for i, b := range randBytes {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}
