package hub

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeboard/server/integration"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource is a settable SnapshotSource.
type fakeSource struct {
	mu    sync.Mutex
	snaps []integration.Snapshot
}

func (f *fakeSource) set(snaps ...integration.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = snaps
}

func (f *fakeSource) GetAll() []integration.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]integration.Snapshot, len(f.snaps))
	copy(out, f.snaps)
	return out
}

func snap(name string, seq uint64) integration.Snapshot {
	return integration.Snapshot{
		Integration: name,
		Seq:         seq,
		Rendered:    fmt.Sprintf("<div>%s %d</div>", name, seq),
	}
}

// drain pulls every immediately available message off a session.
func drain(s *Session) []Message {
	var msgs []Message
	for {
		select {
		case msg := <-s.Messages():
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestHub_JoinBootstrapsFromSource(t *testing.T) {
	src := &fakeSource{}
	src.set(snap("clock", 3), snap("weather", 7))

	h := New(src, testLogger())
	s := h.Join()
	defer h.Leave(s)

	msgs := drain(s)
	require.Len(t, msgs, 2)
	assert.Equal(t, MessageWidgetUpdate, msgs[0].Type)
	assert.Equal(t, "clock", msgs[0].Integration)
	assert.Equal(t, uint64(3), msgs[0].Seq)
	assert.Equal(t, "weather", msgs[1].Integration)
	assert.Equal(t, "<div>weather 7</div>", msgs[1].HTML)
	assert.Equal(t, 1, h.Count())
}

func TestHub_PublishReachesAllSessions(t *testing.T) {
	h := New(&fakeSource{}, testLogger())
	s1 := h.Join()
	s2 := h.Join()
	defer h.Leave(s1)
	defer h.Leave(s2)

	h.Publish(snap("weather", 1))

	for _, s := range []*Session{s1, s2} {
		msgs := drain(s)
		require.Len(t, msgs, 1)
		assert.Equal(t, "weather", msgs[0].Integration)
	}
}

func TestHub_PublishCarriesErrorField(t *testing.T) {
	h := New(&fakeSource{}, testLogger())
	s := h.Join()
	defer h.Leave(s)

	failed := snap("weather", 2)
	failed.Err = "upstream down"
	h.Publish(failed)

	msgs := drain(s)
	require.Len(t, msgs, 1)
	assert.Equal(t, "upstream down", msgs[0].Error)
	assert.Equal(t, "<div>weather 2</div>", msgs[0].HTML,
		"error frames still carry the last rendered view")
}

func TestHub_SlowSessionIsDropped(t *testing.T) {
	h := New(&fakeSource{}, testLogger())

	var dropped []string
	var mu sync.Mutex
	h.SetDropListener(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, id)
	})

	slow := h.Join() // never drained
	fast := h.Join()
	defer h.Leave(fast)

	// Fill the slow session's queue, then one more to overflow it. The fast
	// session drains as it goes.
	for i := 0; i <= sendQueueSize; i++ {
		h.Publish(snap("weather", uint64(i+1)))
		drain(fast)
	}

	assert.Equal(t, 1, h.Count(), "only the fast session remains")

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow session was not closed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dropped, 1)
	assert.Equal(t, slow.ID, dropped[0])
}

func TestHub_PublishDoesNotBlockOnSlowSession(t *testing.T) {
	h := New(&fakeSource{}, testLogger())
	h.Join() // never drained, never left

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendQueueSize*3; i++ {
			h.Publish(snap("weather", uint64(i+1)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled session")
	}
}

func TestHub_BroadcastReload(t *testing.T) {
	h := New(&fakeSource{}, testLogger())
	s := h.Join()
	defer h.Leave(s)

	h.BroadcastReload()

	msgs := drain(s)
	require.Len(t, msgs, 1)
	assert.Equal(t, MessageReload, msgs[0].Type)
	assert.Empty(t, msgs[0].Integration)
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	h := New(&fakeSource{}, testLogger())
	s := h.Join()

	h.Leave(s)
	h.Leave(s)

	assert.Equal(t, 0, h.Count())
	assert.False(t, s.Enqueue(Message{Type: MessageReload}),
		"closed sessions reject enqueues")
}

func TestHub_CloseAll(t *testing.T) {
	h := New(&fakeSource{}, testLogger())
	s1 := h.Join()
	s2 := h.Join()

	h.CloseAll()

	assert.Equal(t, 0, h.Count())
	for _, s := range []*Session{s1, s2} {
		select {
		case <-s.Done():
		default:
			t.Fatal("session not closed by CloseAll")
		}
	}
}
