package transcript

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAppendAssignsIncreasingSeq(t *testing.T) {
	s := NewStore()
	require.Equal(t, uint64(1), s.Append(Entry{Origin: OriginLocalEcho, Text: "a"}))
	require.Equal(t, uint64(2), s.Append(Entry{Origin: OriginRemotePush, Text: "b", Seq: 99}))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, uint64(1), snap[0].Seq)
	require.Equal(t, uint64(2), snap[1].Seq)
	require.Equal(t, "b", snap[1].Text)
	require.False(t, snap[0].Timestamp.IsZero())
}

func TestStoreKeepsProducerTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time { return time.Unix(0, 0) }))
	s.Append(Entry{Text: "x", Timestamp: ts})
	s.Append(Entry{Text: "y"})

	snap := s.Snapshot()
	require.Equal(t, ts, snap[0].Timestamp)
	require.Equal(t, time.Unix(0, 0), snap[1].Timestamp)
}

func TestStoreConcurrentAppendsAreAllObservedOnce(t *testing.T) {
	s := NewStore()
	const writers, perWriter = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Append(Entry{Origin: OriginActionResult})
			}
		}()
	}
	// readers run alongside the writers
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				snap := s.Snapshot()
				for j := 1; j < len(snap); j++ {
					assert.Less(t, snap[j-1].Seq, snap[j].Seq)
				}
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, writers*perWriter)
	for i, e := range snap {
		require.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestStoreEntriesAreImmutable(t *testing.T) {
	s := NewStore()
	raw := json.RawMessage(`{"a":1}`)
	s.Append(Entry{Origin: OriginRemotePush, Raw: raw})
	raw[2] = 'z'

	snap := s.Snapshot()
	require.JSONEq(t, `{"a":1}`, string(snap[0].Raw))

	snap[0].Raw[2] = 'q'
	snap[0].Text = "changed"
	again := s.Snapshot()
	require.JSONEq(t, `{"a":1}`, string(again[0].Raw))
	require.Empty(t, again[0].Text)
}

func TestStoreBoundedEvictsOldestAndKeepsSeq(t *testing.T) {
	s := NewStore(WithMaxEntries(3))
	for i := 0; i < 5; i++ {
		s.Append(Entry{Text: string(rune('a' + i))})
	}

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	require.Equal(t, []uint64{3, 4, 5}, []uint64{snap[0].Seq, snap[1].Seq, snap[2].Seq})
	require.Equal(t, "c", snap[0].Text)
	require.Equal(t, uint64(2), s.Evicted())
	require.Equal(t, uint64(5), s.LastSeq())
	require.Equal(t, uint64(6), s.Append(Entry{Text: "f"}))
}

func TestStoreSince(t *testing.T) {
	s := NewStore()
	for i := 0; i < 4; i++ {
		s.Append(Entry{})
	}
	got := s.Since(2)
	require.Len(t, got, 2)
	require.Equal(t, uint64(3), got[0].Seq)
	require.Empty(t, s.Since(4))
}

func TestStoreEntriesIsRestartable(t *testing.T) {
	s := NewStore()
	s.Append(Entry{Text: "one"})

	view := s.Entries()
	count := func() int {
		n := 0
		for range view {
			n++
		}
		return n
	}
	require.Equal(t, 1, count())
	s.Append(Entry{Text: "two"})
	require.Equal(t, 2, count())

	for e := range view {
		require.Equal(t, "one", e.Text)
		break
	}
}

func TestStoreObserversSeeSeqOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []uint64
	var s *Store
	s = NewStore(WithObserver(func(e Entry) {
		// reading from an observer must not deadlock
		assert.GreaterOrEqual(t, s.LastSeq(), e.Seq)
		mu.Lock()
		seen = append(seen, e.Seq)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Append(Entry{})
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, 400)
	for i, seq := range seen {
		require.Equal(t, uint64(i+1), seq)
	}
}
