// Package cachestore implements the bounded, content-addressed, versioned
// on-disk cache at the heart of the proxy: a map of CachePath -> Entry with
// LRU-with-pinning eviction and a stale-marking sweep.
//
// Store embeds a sync.RWMutex rather than locking internally around each
// method. This is deliberate: compound sequences (the entire open-time
// fetch-or-hit, the entire close-time install) must be atomic with
// respect to other clients, which means the caller (SessionManager) has to
// hold the lock across several Store calls at once. Exposing Lock/RLock
// lets it do that; Store's own methods assume whichever lock the
// operation needs is already held, the same way a disk-backed cache
// assumes its single mutex is held across a write plus its size-accounting
// update.
package cachestore

import (
	"os"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/log"
	"github.com/dustin/go-humanize"
)

// Store is a bounded set of Entry records, one per (logical_path, version)
// pair currently resident on disk.
type Store struct {
	sync.RWMutex

	entries     map[string]*Entry // keyed by CachePath
	currentSize int64
	maxSize     int64
}

// New returns an empty Store bounded at maxSize bytes.
func New(maxSize int64) *Store {
	return &Store{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
	}
}

// CurrentSize returns the tracked footprint in bytes, including writer temp
// files accounted for via AdjustSize. Caller must hold at least RLock.
func (s *Store) CurrentSize() int64 { return s.currentSize }

// MaxSize returns the configured soft capacity in bytes.
func (s *Store) MaxSize() int64 { return s.maxSize }

// Install inserts a new entry, updating the size counter. The caller must
// have ensured capacity via MakeRoom(entry.SizeBytes) beforehand and must
// hold the write lock.
func (s *Store) Install(e *Entry) {
	e.Valid = true
	s.entries[e.CachePath] = e
	s.currentSize += e.SizeBytes
	mEntriesInstalled.Inc()
	mBytesCurrent.Set(float64(s.currentSize))
	log.Debug("cachestore: install %s (version %d, %s)", e.CachePath, e.Version, humanize.IBytes(uint64(e.SizeBytes)))
}

// Lookup returns the entry at cachePath, if any. Caller must hold at least
// RLock.
func (s *Store) Lookup(cachePath string) (*Entry, bool) {
	e, ok := s.entries[cachePath]
	return e, ok
}

// Remove unlinks the on-disk file and deletes the bookkeeping entry. It
// fails silently if the entry is absent. Caller must hold the write lock.
func (s *Store) Remove(e *Entry) {
	if e == nil {
		return
	}
	if _, ok := s.entries[e.CachePath]; !ok {
		return
	}
	if err := os.Remove(e.CachePath); err != nil && !os.IsNotExist(err) {
		log.Debug("cachestore: remove %s: %v", e.CachePath, err)
	}
	delete(s.entries, e.CachePath)
	s.currentSize -= e.SizeBytes
	if s.currentSize < 0 {
		s.currentSize = 0
	}
	mBytesCurrent.Set(float64(s.currentSize))
}

// Pin increments an entry's ref_count. Caller must hold the write lock.
func (s *Store) Pin(e *Entry) {
	e.RefCount++
	mPins.Inc()
}

// Unpin decrements an entry's ref_count, clamping at 0, and resets its
// lru_tick to refresh recency. Caller must hold the write lock.
func (s *Store) Unpin(e *Entry) {
	if e.RefCount <= 0 {
		log.Error("cachestore: unpin of already-unpinned entry %s", e.CachePath)
		e.RefCount = 0
		return
	}
	e.RefCount--
	e.LRUTick = 0
	mUnpins.Inc()
}

// TouchAll increments lru_tick on every entry. Called at the start of every
// open; this is the LRU clock. Caller must hold the write lock.
func (s *Store) TouchAll() {
	for _, e := range s.entries {
		e.LRUTick++
	}
}

// ResetLRU sets an entry's lru_tick to 0. Caller must hold the write lock.
func (s *Store) ResetLRU(e *Entry) {
	e.LRUTick = 0
}

// MarkStale marks every entry whose CachePath starts with logicalPrefix as
// stale. Called when a newer version of that logical path is installed.
// Caller must hold the write lock.
func (s *Store) MarkStale(logicalPrefix string) {
	for _, e := range s.entries {
		if strings.HasPrefix(e.CachePath, logicalPrefix) {
			e.Stale = true
		}
	}
}

// SweepStale removes every entry that is stale, unpinned, and whose
// CachePath starts with logicalPrefix. Caller must hold the write lock.
func (s *Store) SweepStale(logicalPrefix string) {
	for path, e := range s.entries {
		if e.Stale && e.RefCount == 0 && strings.HasPrefix(path, logicalPrefix) {
			s.Remove(e)
			mEntriesSwept.Inc()
		}
	}
}

// IsFull reports whether adding size bytes would exceed MaxSize.
func (s *Store) IsFull(size int64) bool {
	return s.currentSize+size > s.maxSize
}

// MakeRoom evicts unpinned entries, oldest (largest lru_tick) first, until
// current_size+size <= max_size or no unpinned entry remains. If eviction
// cannot free enough space because every remaining entry is pinned, it
// returns having made no further progress; the store is left temporarily
// over budget and the caller proceeds anyway. Caller must hold the write
// lock.
func (s *Store) MakeRoom(size int64) {
	for s.IsFull(size) {
		victim := s.selectEvictionCandidate()
		if victim == nil {
			return // everything pinned; over-budget relaxation applies
		}
		s.Remove(victim)
		mEntriesEvicted.Inc()
	}
}

// selectEvictionCandidate returns the unpinned entry with the largest
// lru_tick (the composite minimum under evictionLess), or nil if every
// entry is pinned. Linear in the number of entries; acceptable for the
// modest entry counts a single proxy instance holds.
func (s *Store) selectEvictionCandidate() *Entry {
	var best *Entry
	for _, e := range s.entries {
		if e.RefCount > 0 {
			continue
		}
		if best == nil || evictionLess(e, best) {
			best = e
		}
	}
	return best
}

// AdjustSize tracks writer-temp footprint outside of any installed Entry.
// The caller holds the write lock across the disk operation this accounts
// for. delta may be negative.
func (s *Store) AdjustSize(delta int64) {
	s.currentSize += delta
	if s.currentSize < 0 {
		s.currentSize = 0
	}
	mBytesCurrent.Set(float64(s.currentSize))
}
