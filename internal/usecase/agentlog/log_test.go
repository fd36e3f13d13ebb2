package agentlog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-zero/internal/domain"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []UpdatedPayload
	sess   []string
}

func (p *recordingPublisher) Emit(_ context.Context, typ domain.EventType, sessionID string, payload any) {
	if typ != domain.EventLogUpdated {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, payload.(UpdatedPayload))
	p.sess = append(p.sess, sessionID)
}

func ptr[T any](v T) *T { return &v }

func TestLog_AppendAndPoll(t *testing.T) {
	pub := &recordingPublisher{}
	l := New("s1", pub)

	a := l.Log(domain.LogUser, "User message", "hi", map[string]any{"attachments": 0})
	b := l.Log(domain.LogAgent, "Agent 0: thinking", "", nil)
	assert.NotEqual(t, a.ID(), b.ID())

	items, v := l.Items(0)
	require.Len(t, items, 2)
	assert.EqualValues(t, 2, v)
	assert.Equal(t, 0, items[0].No)
	assert.Equal(t, domain.LogUser, items[0].Type)
	assert.Equal(t, "hi", items[0].Content)
	assert.Equal(t, 1, items[1].No)

	b.Stream("", "Hello")
	b.Stream("", " world")
	items, v = l.Items(2)
	require.Len(t, items, 1)
	assert.Equal(t, b.ID(), items[0].ID)
	assert.Equal(t, "Hello world", items[0].Content)
	assert.EqualValues(t, 4, v)

	items, _ = l.Items(v)
	assert.Empty(t, items)

	require.Len(t, pub.events, 4)
	assert.Equal(t, b.ID(), pub.events[3].ItemID)
	assert.EqualValues(t, 4, pub.events[3].Version)
	assert.Equal(t, "s1", pub.sess[0])
}

func TestLog_Update(t *testing.T) {
	l := New("s1", nil)
	it := l.Log(domain.LogUtil, "Searching memory for solutions...", "", map[string]any{"a": 1})

	it.Update(domain.LogUpdate{
		Heading: ptr("2 instruments, 1 solutions found"),
		KVPs:    map[string]any{"b": 2},
	})
	it.StreamKV("query", "how to ")
	it.StreamKV("query", "deploy")

	items, _ := l.Items(0)
	require.Len(t, items, 1)
	e := items[0]
	assert.Equal(t, domain.LogUtil, e.Type)
	assert.Equal(t, "2 instruments, 1 solutions found", e.Heading)
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "query": "how to deploy"}, e.KVPs)

	it.Update(domain.LogUpdate{Type: ptr(domain.LogError), Content: ptr("x")})
	items, _ = l.Items(0)
	assert.Equal(t, domain.LogError, items[0].Type)
	assert.Equal(t, "x", items[0].Content)
}

func TestLog_SnapshotsAreCopies(t *testing.T) {
	l := New("s1", nil)
	kv := map[string]any{"k": "v"}
	l.Log(domain.LogInfo, "h", "c", kv)
	kv["k"] = "changed"

	items, _ := l.Items(0)
	items[0].KVPs["k"] = "mutated"

	again, _ := l.Items(0)
	assert.Equal(t, "v", again[0].KVPs["k"])
}

func TestLog_Reset(t *testing.T) {
	l := New("s1", nil)
	l.Log(domain.LogInfo, "h", "", nil)
	before := l.Version()
	l.Reset()

	items, v := l.Items(0)
	assert.Empty(t, items)
	assert.Greater(t, v, before)
}

func TestLog_Concurrent(t *testing.T) {
	l := New("s1", &recordingPublisher{})
	it := l.Log(domain.LogAgent, "", "", nil)

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			it.Stream("", "x")
			l.Log(domain.LogInfo, "", "", nil)
		})
	}
	wg.Wait()

	items, v := l.Items(0)
	assert.Len(t, items, 21)
	assert.EqualValues(t, 41, v)
	assert.Len(t, items[0].Content, 20)
}

func TestLog_TempItemReplacedByNext(t *testing.T) {
	pub := &recordingPublisher{}
	l := New("s1", pub)

	l.Log(domain.LogUser, "User message", "hi", nil)
	tmp := l.Log(domain.LogInfo, "", "Searching memory for solutions...", map[string]any{domain.LogKeyTemp: true})

	items, _ := l.Items(0)
	require.Len(t, items, 2)
	assert.Equal(t, true, items[1].KVPs[domain.LogKeyTemp])

	next := l.Log(domain.LogUtil, "Searching memory for solutions...", "", nil)
	items, v := l.Items(0)
	require.Len(t, items, 2, "replaced, not appended")
	assert.Equal(t, next.ID(), items[1].ID)
	assert.Equal(t, 1, items[1].No)
	assert.Equal(t, domain.LogUtil, items[1].Type)

	tmp.Stream("", "late")
	assert.Equal(t, v, l.Version(), "replaced item no longer changes the log")

	l.Log(domain.LogInfo, "", "after", nil)
	items, _ = l.Items(0)
	require.Len(t, items, 3, "only a temporary item is replaced")
	assert.Equal(t, 2, items[2].No)
}

func TestLog_ResetDropsPendingTemp(t *testing.T) {
	l := New("s1", nil)
	l.Log(domain.LogInfo, "", "working", map[string]any{domain.LogKeyTemp: true})
	l.Reset()

	l.Log(domain.LogUser, "", "hi", nil)
	items, _ := l.Items(0)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].No)
}
