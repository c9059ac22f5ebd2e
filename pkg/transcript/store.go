package transcript

import (
	"iter"
	"sync"
	"time"
)

// View is the read-only surface of a Store handed to UIs.
type View interface {
	Snapshot() []Entry
	Entries() iter.Seq[Entry]
	Since(seq uint64) []Entry
	Len() int
	LastSeq() uint64
}

// Store is an append-only, ordered transcript. Appends are serialized by a
// mutex so sequence numbers are strictly increasing and never reused, even
// when the store is bounded and evicts old entries.
type Store struct {
	mu         sync.Mutex
	entries    []Entry
	head       int // index of the oldest entry when bounded
	maxEntries int
	lastSeq    uint64
	evicted    uint64
	now        func() time.Time

	// notifyMu is taken before mu is released so observers see entries in
	// sequence order without holding the store lock.
	notifyMu  sync.Mutex
	observers []func(Entry)
}

var _ View = &Store{}
var _ Appender = &Store{}

type StoreOption func(*Store)

// WithMaxEntries bounds the store to n entries, evicting the oldest first.
// n <= 0 keeps every entry.
func WithMaxEntries(n int) StoreOption {
	return func(s *Store) {
		if n < 0 {
			n = 0
		}
		s.maxEntries = n
	}
}

// WithObserver registers a callback invoked once per appended entry, in
// sequence order. Observers may read the store but must not append to it.
func WithObserver(fn func(Entry)) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...StoreOption) *Store {
	s := &Store{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.maxEntries > 0 {
		s.entries = make([]Entry, 0, s.maxEntries)
	}
	return s
}

// Append assigns the next sequence number to e and stores a copy of it.
func (s *Store) Append(e Entry) uint64 {
	e = e.clone()

	s.mu.Lock()
	s.lastSeq++
	e.Seq = s.lastSeq
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if s.maxEntries > 0 && len(s.entries) == s.maxEntries {
		s.entries[s.head] = e
		s.head = (s.head + 1) % s.maxEntries
		s.evicted++
	} else {
		s.entries = append(s.entries, e)
	}
	seq := e.Seq

	if len(s.observers) == 0 {
		s.mu.Unlock()
		return seq
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, fn := range s.observers {
		fn(e.clone())
	}
	return seq
}

// Snapshot returns the retained entries in sequence order.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked(0)
}

// Since returns the retained entries whose Seq is greater than seq.
func (s *Store) Since(seq uint64) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked(seq)
}

// Entries is a lazy view; each range over it reads a fresh snapshot.
func (s *Store) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range s.Snapshot() {
			if !yield(e) {
				return
			}
		}
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Evicted returns how many entries the bound has dropped.
func (s *Store) Evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

func (s *Store) copyLocked(afterSeq uint64) []Entry {
	n := len(s.entries)
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		e := s.entries[(s.head+i)%n]
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e.clone())
	}
	return out
}
