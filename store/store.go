// Package store implements the namespaced key→entry map at the core of the
// cache engine: insertion, lookup, expiration, dependency-cascading
// invalidation and score-based eviction.
//
// The store is strictly process-local. Cross-process coordination happens
// above it through invalidation events and consistency digests; nothing in
// this package touches the network.
package store

import (
	"container/heap"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/cachego/compress"
	"github.com/hupe1980/cachego/resource"
	"github.com/hupe1980/cachego/ttl"
)

var (
	// ErrEncode is returned by Set when the value fails codec round-trip
	// verification. Nothing is stored.
	ErrEncode = errors.New("value encoding failed")

	// ErrCapacity is returned by Set when the value cannot fit within the
	// configured capacity even after eviction.
	ErrCapacity = errors.New("value exceeds cache capacity")
)

// Options configure a Store.
type Options struct {
	// Logger receives decode failures and eviction reports. Defaults to a
	// discarding logger.
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is the core cache map. All operations are serialized by an internal
// mutex; none of them perform IO.
type Store struct {
	mu sync.Mutex

	entries    map[string]*Entry
	byID       map[uint32]*Entry
	namespaces map[string]*roaring.Bitmap
	dependents map[string]*roaring.Bitmap
	versions   map[string]int64
	nextID     uint32

	comp   *compress.Compressor
	ttl    *ttl.Engine
	mon    *resource.Monitor
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store wired to the given compressor, TTL engine and memory
// monitor.
func New(comp *compress.Compressor, ttlEngine *ttl.Engine, mon *resource.Monitor, optFns ...func(o *Options)) *Store {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		entries:    make(map[string]*Entry),
		byID:       make(map[uint32]*Entry),
		namespaces: make(map[string]*roaring.Bitmap),
		dependents: make(map[string]*roaring.Bitmap),
		versions:   make(map[string]int64),
		comp:       comp,
		ttl:        ttlEngine,
		mon:        mon,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

func fullKey(namespace, key string) string {
	return namespace + "/" + key
}

// SplitTarget parses an invalidation dependency target into namespace and
// key. A target without a slash addresses the whole namespace.
func SplitTarget(target string) (namespace, key string) {
	if i := strings.IndexByte(target, '/'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

func checksum(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:8])
}

// Get returns the decoded value for (namespace, key), or ok=false on a
// miss. An entry past its expiry is a miss even before it is swept. Hits
// update access metadata.
func (s *Store) Get(namespace, key string) ([]byte, bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fullKey(namespace, key)]
	if !ok {
		return nil, false
	}
	if e.Expired(now) {
		s.removeLocked(e)
		return nil, false
	}

	value, err := s.comp.Decode(e.Value, e.Compressed)
	if err != nil {
		// Round-trip verification at write time makes this unreachable
		// short of memory corruption. Never serve the bytes.
		s.logger.Error("cache entry decode failed, dropping entry",
			"namespace", namespace, "key", key, "error", err)
		s.removeLocked(e)
		return nil, false
	}

	e.AccessCount++
	e.LastAccessedAt = now
	return value, true
}

// Peek returns entry scheduling info without touching access metadata.
func (s *Store) Peek(namespace, key string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fullKey(namespace, key)]
	if !ok || e.Expired(s.now()) {
		return Info{}, false
	}
	return Info{ExpiresAt: e.ExpiresAt, Version: e.Version}, true
}

// Version returns the monotonic version for a key; 0 if it was never set.
func (s *Store) Version(namespace, key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[fullKey(namespace, key)]
}

// Set encodes and inserts value under (namespace, key), replacing any prior
// entry. Returns ErrEncode if the codec round trip fails and ErrCapacity
// when the value cannot be accommodated even after eviction.
func (s *Store) Set(namespace, key string, value []byte, opts SetOptions) error {
	encoded, compressed, err := s.comp.Encode(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ttl.ObserveWrite(namespace)
	life := s.ttl.Compute(namespace, opts.TTLHint)

	fk := fullKey(namespace, key)
	version := s.versions[fk] + 1

	e := &Entry{
		Namespace:          namespace,
		Key:                key,
		Value:              encoded,
		Compressed:         compressed,
		CreatedAt:          now,
		LastAccessedAt:     now,
		ExpiresAt:          now.Add(life),
		Version:            version,
		Checksum:           checksum(value),
		Dependencies:       opts.Dependencies,
		Tags:               opts.Tags,
		skippedCompression: !compressed && s.comp.Type() != compress.TypeNone,
	}

	// Replace before charging so a shrinking rewrite cannot fail.
	if old, ok := s.entries[fk]; ok {
		s.removeLocked(old)
	}

	need := e.footprint()
	for !s.mon.TryAcquire(need) {
		budget := s.mon.EvictionBudget()
		if budget < 1 {
			budget = 1
		}
		if s.evictLocked(budget) == 0 {
			return fmt.Errorf("%w: %d bytes", ErrCapacity, need)
		}
	}
	e.charged = need

	e.id = s.nextID
	s.nextID++

	s.entries[fk] = e
	s.byID[e.id] = e
	s.versions[fk] = version

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = roaring.New()
		s.namespaces[namespace] = ns
	}
	ns.Add(e.id)

	for _, dep := range e.Dependencies {
		dm, ok := s.dependents[dep]
		if !ok {
			dm = roaring.New()
			s.dependents[dep] = dm
		}
		dm.Add(e.id)
	}

	return nil
}

// Delete removes the entry if present. Idempotent; deleting an absent key
// is a no-op.
func (s *Store) Delete(namespace, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[fullKey(namespace, key)]; ok {
		s.removeLocked(e)
	}
}

// InvalidateKeys removes the listed keys in the namespace and cascades to
// entries elsewhere that depend on them. Returns the number of entries
// removed.
func (s *Store) InvalidateKeys(namespace string, keys []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range keys {
		if e, ok := s.entries[fullKey(namespace, key)]; ok {
			s.removeLocked(e)
			removed++
		}
		removed += s.cascadeLocked(fullKey(namespace, key))
	}
	return removed
}

// InvalidateNamespace removes every entry in the namespace and any entry
// elsewhere whose dependencies include it. Returns the number of entries
// removed.
func (s *Store) InvalidateNamespace(namespace string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	if bm, ok := s.namespaces[namespace]; ok {
		for _, id := range bm.ToArray() {
			if e, ok := s.byID[id]; ok {
				s.removeLocked(e)
				removed++
			}
		}
	}
	removed += s.cascadeLocked(namespace)

	s.ttl.Forget(namespace)
	return removed
}

// Keys returns the keys of all entries currently held in the namespace.
func (s *Store) Keys(namespace string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	bm, ok := s.namespaces[namespace]
	if !ok {
		return nil
	}
	keys := make([]string, 0, bm.GetCardinality())
	for _, id := range bm.ToArray() {
		if e, ok := s.byID[id]; ok {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Namespaces returns every namespace with at least one live entry.
func (s *Store) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.namespaces))
	for ns, bm := range s.namespaces {
		if !bm.IsEmpty() {
			out = append(out, ns)
		}
	}
	return out
}

// Clear removes everything, including version history. Used for
// comprehensive whole-store invalidation.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	for _, e := range s.entries {
		s.mon.Release(e.charged)
	}
	s.entries = make(map[string]*Entry)
	s.byID = make(map[uint32]*Entry)
	s.namespaces = make(map[string]*roaring.Bitmap)
	s.dependents = make(map[string]*roaring.Bitmap)
	s.versions = make(map[string]int64)
	return n
}

// Evict removes up to count entries, lowest composite score first, ties
// broken by oldest creation time. Returns the number evicted.
func (s *Store) Evict(count int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(count)
}

// SweepExpired removes every entry past its expiry. Returns the number
// removed.
func (s *Store) SweepExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Entry
	for _, e := range s.entries {
		if e.Expired(now) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		s.removeLocked(e)
	}
	return len(expired)
}

// CompressPass re-encodes up to max entries that were stored raw because
// they fell below the compressor's size gate. Run under high memory
// pressure to claw back bytes from small entries.
func (s *Store) CompressPass(max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	done := 0
	for _, e := range s.entries {
		if done >= max {
			break
		}
		if e.Compressed || !e.skippedCompression {
			continue
		}

		encoded, compressed, err := s.comp.EncodeForced(e.Value)
		if err != nil || !compressed {
			e.skippedCompression = false // not worth revisiting
			continue
		}

		old := e.charged
		e.Value = encoded
		e.Compressed = true
		e.skippedCompression = false

		now := e.footprint()
		if now < old {
			s.mon.Release(old - now)
			e.charged = now
		}
		done++
	}
	return done
}

// SampleDigests returns consistency digests for up to n live entries. Map
// iteration order provides the sampling.
func (s *Store) SampleDigests(n int) []Digest {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	digests := make([]Digest, 0, n)
	for _, e := range s.entries {
		if len(digests) >= n {
			break
		}
		if e.Expired(now) {
			continue
		}
		digests = append(digests, Digest{
			Namespace: e.Namespace,
			Key:       e.Key,
			Version:   e.Version,
			Checksum:  e.Checksum,
		})
	}
	return digests
}

// DigestFor returns the digest of a single live entry.
func (s *Store) DigestFor(namespace, key string) (Digest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fullKey(namespace, key)]
	if !ok || e.Expired(s.now()) {
		return Digest{}, false
	}
	return Digest{
		Namespace: e.Namespace,
		Key:       e.Key,
		Version:   e.Version,
		Checksum:  e.Checksum,
	}, true
}

// Len returns the number of physically present entries, expired included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) evictLocked(count int) int {
	if count <= 0 || len(s.byID) == 0 {
		return 0
	}

	now := s.now()
	h := &candidateHeap{items: make([]candidate, 0, len(s.byID))}
	for id, e := range s.byID {
		h.items = append(h.items, candidate{
			id:        id,
			score:     e.score(now),
			createdAt: e.CreatedAt.UnixNano(),
		})
	}
	heap.Init(h)

	evicted := 0
	for evicted < count && h.Len() > 0 {
		c := heap.Pop(h).(candidate)
		if e, ok := s.byID[c.id]; ok {
			s.removeLocked(e)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Debug("evicted cache entries", "count", evicted)
	}
	return evicted
}

// cascadeLocked removes every entry depending on target, recursively
// following the dependency graph through removed entries.
func (s *Store) cascadeLocked(target string) int {
	bm, ok := s.dependents[target]
	if !ok || bm.IsEmpty() {
		return 0
	}

	removed := 0
	for _, id := range bm.ToArray() {
		e, ok := s.byID[id]
		if !ok {
			continue
		}
		fk := fullKey(e.Namespace, e.Key)
		s.removeLocked(e)
		removed++
		removed += s.cascadeLocked(fk)
	}
	return removed
}

// removeLocked detaches the entry from every index and returns its memory.
// Eviction and expiry do not cascade: dependents remain valid when an entry
// leaves for capacity reasons rather than because its data changed.
func (s *Store) removeLocked(e *Entry) {
	fk := fullKey(e.Namespace, e.Key)

	if cur, ok := s.entries[fk]; !ok || cur != e {
		return
	}

	delete(s.entries, fk)
	delete(s.byID, e.id)

	if bm, ok := s.namespaces[e.Namespace]; ok {
		bm.Remove(e.id)
		if bm.IsEmpty() {
			delete(s.namespaces, e.Namespace)
		}
	}
	for _, dep := range e.Dependencies {
		if bm, ok := s.dependents[dep]; ok {
			bm.Remove(e.id)
			if bm.IsEmpty() {
				delete(s.dependents, dep)
			}
		}
	}

	s.mon.Release(e.charged)
	e.charged = 0
}
