package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeboard/server/integration"
)

func snap(name string, seq uint64) integration.Snapshot {
	return integration.Snapshot{
		Integration: name,
		Seq:         seq,
		Payload:     map[string]any{"seq": seq},
		Rendered:    fmt.Sprintf("<div>%s %d</div>", name, seq),
	}
}

func TestStore_PutAndGet(t *testing.T) {
	s := New()

	assert.True(t, s.Put(snap("weather", 1)))

	got, ok := s.Get("weather")
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Seq)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_RejectsStaleWrites(t *testing.T) {
	s := New()

	require.True(t, s.Put(snap("weather", 5)))

	// Equal and lower sequence numbers are both stale.
	assert.False(t, s.Put(snap("weather", 5)))
	assert.False(t, s.Put(snap("weather", 3)))

	got, ok := s.Get("weather")
	require.True(t, ok)
	assert.Equal(t, uint64(5), got.Seq)

	// A strictly greater sequence number replaces the snapshot.
	assert.True(t, s.Put(snap("weather", 6)))
	got, _ = s.Get("weather")
	assert.Equal(t, uint64(6), got.Seq)
}

func TestStore_SequencesAreIndependentPerIntegration(t *testing.T) {
	s := New()

	require.True(t, s.Put(snap("weather", 10)))
	require.True(t, s.Put(snap("clock", 2)))

	assert.Equal(t, 2, s.Len())
}

func TestStore_GetAllIsSortedCopy(t *testing.T) {
	s := New()

	require.True(t, s.Put(snap("weather", 1)))
	require.True(t, s.Put(snap("clock", 1)))
	require.True(t, s.Put(snap("todoist", 1)))

	all := s.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "clock", all[0].Integration)
	assert.Equal(t, "todoist", all[1].Integration)
	assert.Equal(t, "weather", all[2].Integration)

	// Mutating the returned slice does not affect the store.
	all[0].Seq = 99
	got, _ := s.Get("clock")
	assert.Equal(t, uint64(1), got.Seq)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("integration-%d", w)
			for seq := uint64(1); seq <= 100; seq++ {
				s.Put(snap(name, seq))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 8, s.Len())
	for _, got := range s.GetAll() {
		assert.Equal(t, uint64(100), got.Seq)
	}
}
