package store

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/Merlotec/jdsite/internal/apperr"
)

// Store is a strongly-typed view over a Backend for one value family. Keys
// are strings (emails, UUID text, token text); values are JSON-encoded.
type Store[V any] struct {
	name    string
	backend Backend
	locks   *KeyLocks
	logger  zerolog.Logger
}

// New wraps a backend with typed access and a fresh per-key lock table.
func New[V any](name string, backend Backend, logger zerolog.Logger) *Store[V] {
	return &Store[V]{
		name:    name,
		backend: backend,
		locks:   NewKeyLocks(),
		logger:  logger.With().Str("store", name).Logger(),
	}
}

// Name returns the store's name as used for the backing bucket.
func (s *Store[V]) Name() string { return s.name }

// Insert serialises v and writes it, overwriting any existing value.
func (s *Store[V]) Insert(key string, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return apperr.Wrap(apperr.KindSerialize, s.name, err)
	}
	if err := s.backend.Put([]byte(key), raw); err != nil {
		return apperr.Wrap(apperr.KindBackend, s.name, err)
	}
	return nil
}

// Fetch returns the decoded value, or nil when the key is absent. Corrupt
// bytes surface as a Deserialize error.
func (s *Store[V]) Fetch(key string) (*V, error) {
	raw, found, err := s.backend.Get([]byte(key))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBackend, s.name, err)
	}
	if !found {
		return nil, nil
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, apperr.Wrap(apperr.KindDeserialize, s.name, err)
	}
	return &v, nil
}

// Contains reports whether the key exists without decoding.
func (s *Store[V]) Contains(key string) (bool, error) {
	found, err := s.backend.Contains([]byte(key))
	if err != nil {
		return false, apperr.Wrap(apperr.KindBackend, s.name, err)
	}
	return found, nil
}

// Remove deletes the key and returns the previous value if it existed and
// decoded. A previous value that fails to decode is still deleted and
// reported as nil. Idempotent.
func (s *Store[V]) Remove(key string) (*V, error) {
	raw, found, err := s.backend.Get([]byte(key))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBackend, s.name, err)
	}
	if err := s.backend.Delete([]byte(key)); err != nil {
		return nil, apperr.Wrap(apperr.KindBackend, s.name, err)
	}
	if !found {
		return nil, nil
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		s.logger.Warn().Str("key", key).Err(err).Msg("removed undecodable value")
		return nil, nil
	}
	return &v, nil
}

// RemoveSilent deletes the key without reading it back. Idempotent.
func (s *Store[V]) RemoveSilent(key string) error {
	if err := s.backend.Delete([]byte(key)); err != nil {
		return apperr.Wrap(apperr.KindBackend, s.name, err)
	}
	return nil
}

// ForEach visits every decodable entry. Entries that fail to decode are
// skipped, never aborting the iteration. fn may return an error to stop.
func (s *Store[V]) ForEach(fn func(key string, v V) error) error {
	err := s.backend.ForEach(func(k, raw []byte) error {
		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			s.logger.Warn().Str("key", string(k)).Err(err).Msg("skipping undecodable entry")
			return nil
		}
		return fn(string(k), v)
	})
	if err != nil {
		return apperr.Wrap(apperr.KindBackend, s.name, err)
	}
	return nil
}

// ForEachValue visits every decodable value, discarding keys.
func (s *Store[V]) ForEachValue(fn func(v V) error) error {
	return s.ForEach(func(_ string, v V) error { return fn(v) })
}

// Retain deletes entries for which pred returns false. Entries that fail to
// decode are deleted only when keepCorrupt is false; they are never silently
// rewritten.
func (s *Store[V]) Retain(keepCorrupt bool, pred func(key string, v V) bool) error {
	var doomed []string
	err := s.backend.ForEach(func(k, raw []byte) error {
		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			if !keepCorrupt {
				doomed = append(doomed, string(k))
			}
			return nil
		}
		if !pred(string(k), v) {
			doomed = append(doomed, string(k))
		}
		return nil
	})
	if err != nil {
		return apperr.Wrap(apperr.KindBackend, s.name, err)
	}
	for _, key := range doomed {
		if err := s.backend.Delete([]byte(key)); err != nil {
			return apperr.Wrap(apperr.KindBackend, s.name, err)
		}
	}
	return nil
}

// Guard holds the per-key lock for one key together with the value read
// under it. Set replaces the value and marks the guard dirty; Release writes
// a dirty value back and always frees the lock.
type Guard[V any] struct {
	store    *Store[V]
	key      string
	value    *V
	dirty    bool
	released bool
}

// Value returns the value read when the lock was taken, nil when the key was
// absent, or the value set since.
func (g *Guard[V]) Value() *V { return g.value }

// Set replaces the guarded value; Release will write it back.
func (g *Guard[V]) Set(v V) {
	g.value = &v
	g.dirty = true
}

// Release writes back a dirty value and frees the lock. Safe to call more
// than once; only the first call has effect.
func (g *Guard[V]) Release() error {
	if g.released {
		return nil
	}
	g.released = true
	defer g.store.locks.Release(g.key)
	if g.dirty && g.value != nil {
		return g.store.Insert(g.key, *g.value)
	}
	return nil
}

// WriteLock acquires the cooperative per-key lock and reads the current
// value under it. The lock is advisory: Fetch readers are not blocked, only
// other WriteLock callers. The caller must Release the returned guard.
func (s *Store[V]) WriteLock(key string) (*Guard[V], error) {
	s.locks.Acquire(key)
	v, err := s.Fetch(key)
	if err != nil {
		s.locks.Release(key)
		return nil, err
	}
	return &Guard[V]{store: s, key: key, value: v}, nil
}

// ForEachWrite visits every key under its write guard, one at a time, never
// holding two guards at once. Decode failures skip the key.
func (s *Store[V]) ForEachWrite(fn func(key string, g *Guard[V]) error) error {
	var keys []string
	if err := s.backend.ForEach(func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}); err != nil {
		return apperr.Wrap(apperr.KindBackend, s.name, err)
	}

	for _, key := range keys {
		guard, err := s.WriteLock(key)
		if err != nil {
			if apperr.Is(err, apperr.KindDeserialize) {
				s.logger.Warn().Str("key", key).Err(err).Msg("skipping undecodable entry")
				continue
			}
			return err
		}
		if guard.Value() == nil {
			// Deleted between the key scan and the lock.
			_ = guard.Release()
			continue
		}
		if err := fn(key, guard); err != nil {
			_ = guard.Release()
			return err
		}
		if err := guard.Release(); err != nil {
			return err
		}
	}
	return nil
}
