package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AyushSriv06/codesync2/internal/events"
	"github.com/AyushSriv06/codesync2/internal/presence"
	"github.com/AyushSriv06/codesync2/internal/registry"
	"github.com/AyushSriv06/codesync2/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	msgs  map[string][]map[string]any
	panic func(connID string, msg map[string]any) bool
}

func newRecorder() *recorder { return &recorder{msgs: make(map[string][]map[string]any)} }

func (r *recorder) Send(connID string, payload []byte) bool {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		panic(err)
	}
	if r.panic != nil && r.panic(connID, m) {
		panic("transport exploded")
	}
	r.mu.Lock()
	r.msgs[connID] = append(r.msgs[connID], m)
	r.mu.Unlock()
	return true
}

// take 返回并清空某连接收到的消息。
func (r *recorder) take(connID string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs[connID]
	delete(r.msgs, connID)
	return out
}

func types(msgs []map[string]any) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m["type"].(string))
	}
	return out
}

func userNames(msg map[string]any) []string {
	var out []string
	for _, u := range msg["users"].([]any) {
		out = append(out, u.(map[string]any)["name"].(string))
	}
	return out
}

type harness struct {
	t      *testing.T
	now    time.Time
	store  *room.Store
	conns  *registry.Registry
	out    *recorder
	router *Router
	sup    *Supervisor
}

func newHarness(t *testing.T) *harness {
	h := &harness{t: t, now: time.Unix(1_700_000_000, 0), out: newRecorder()}
	h.store = room.NewStore()
	h.conns = registry.New()
	pm := presence.NewManager(h.store, presence.WithClock(func() time.Time { return h.now }))
	h.router = NewRouter(h.store, pm, h.conns, h.out)
	seq := 0
	h.router.newID = func() string {
		seq++
		return fmt.Sprintf("msg-%d", seq)
	}
	h.sup = NewSupervisor(h.store, h.conns, h.router)
	return h
}

func (h *harness) send(connID, raw string) {
	h.t.Helper()
	ev, err := events.Decode([]byte(raw))
	if err != nil {
		h.sup.Reject(connID, err)
		return
	}
	h.sup.Handle(connID, ev)
}

func (h *harness) join(connID, roomKey, name string) {
	h.t.Helper()
	h.sup.Connect(connID)
	h.send(connID, fmt.Sprintf(`{"type":"join-room","roomId":%q,"userName":%q}`, roomKey, name))
}

func TestRouter_Scenario(t *testing.T) {
	h := newHarness(t)

	h.join("A", "r1", "Alice")
	got := h.out.take("A")
	require.Equal(t, []string{events.TypeRoomState}, types(got))
	assert.Equal(t, room.DefaultDocument, got[0]["code"])
	assert.Empty(t, got[0]["messages"])
	assert.Equal(t, []string{"Alice"}, userNames(got[0]))

	h.now = h.now.Add(time.Second)
	h.join("B", "r1", "Bob")
	gotA := h.out.take("A")
	require.Equal(t, []string{events.TypeUserJoined}, types(gotA))
	assert.Equal(t, []string{"Alice", "Bob"}, userNames(gotA[0]))
	gotB := h.out.take("B")
	require.Equal(t, []string{events.TypeRoomState}, types(gotB))
	assert.Equal(t, []string{"Alice", "Bob"}, userNames(gotB[0]))

	h.send("A", `{"type":"code-change","roomId":"r1","code":"print(1)"}`)
	gotB = h.out.take("B")
	require.Equal(t, []string{events.TypeDocumentUpdate}, types(gotB))
	assert.Equal(t, "print(1)", gotB[0]["code"])
	assert.Equal(t, "A", gotB[0]["userId"])
	assert.Empty(t, h.out.take("A"))

	h.sup.Disconnect("A")
	gotB = h.out.take("B")
	require.Equal(t, []string{events.TypeUserLeft}, types(gotB))
	assert.Equal(t, []string{"Bob"}, userNames(gotB[0]))
	snap, ok := h.store.Lookup("r1")
	require.True(t, ok)
	assert.Equal(t, "print(1)", snap.Code)

	h.sup.Disconnect("B")
	_, ok = h.store.Lookup("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.conns.Len())
}

func TestRouter_SenderInclusion(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	h.join("B", "r1", "Bob")
	h.out.take("A")
	h.out.take("B")

	h.send("A", `{"type":"language-change","roomId":"r1","language":"python"}`)
	for _, id := range []string{"A", "B"} {
		got := h.out.take(id)
		require.Equal(t, []string{events.TypeLanguageUpdate}, types(got), id)
		assert.Equal(t, "python", got[0]["language"])
		assert.Equal(t, "A", got[0]["userId"])
	}

	h.send("A", `{"type":"send-message","roomId":"r1","message":"hello","userName":"Alice"}`)
	for _, id := range []string{"A", "B"} {
		got := h.out.take(id)
		require.Equal(t, []string{events.TypeChatMessage}, types(got), id)
		assert.Equal(t, "hello", got[0]["message"])
		assert.Equal(t, "msg-1", got[0]["id"])
		assert.Equal(t, float64(h.now.UnixMilli()), got[0]["timestamp"])
	}

	h.send("B", `{"type":"cursor-change","roomId":"r1","position":{"lineNumber":3,"column":7}}`)
	assert.Empty(t, h.out.take("B"))
	got := h.out.take("A")
	require.Equal(t, []string{events.TypeCursorUpdate}, types(got))
	assert.Equal(t, "Bob", got[0]["userName"])
	assert.Equal(t, "B", got[0]["userId"])
}

func TestRouter_UnroutedConnection(t *testing.T) {
	h := newHarness(t)
	h.sup.Connect("A")
	h.join("B", "r1", "Bob")
	h.out.take("B")

	h.send("A", `{"type":"code-change","roomId":"r1","code":"hijack"}`)
	got := h.out.take("A")
	require.Equal(t, []string{events.TypeError}, types(got))
	assert.Contains(t, got[0]["message"], "not in this room")
	assert.Empty(t, h.out.take("B"))

	snap, _ := h.store.Lookup("r1")
	assert.Equal(t, room.DefaultDocument, snap.Code)

	h.send("A", `{"type":"leave-room","roomId":"r1"}`)
	assert.Equal(t, []string{events.TypeError}, types(h.out.take("A")))
	snap, _ = h.store.Lookup("r1")
	assert.Len(t, snap.Users, 1)
}

func TestRouter_InvalidEventReportedToSenderOnly(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	h.join("B", "r1", "Bob")
	h.out.take("A")
	h.out.take("B")

	h.send("A", `{"type":"send-message","roomId":"r1","message":"  "}`)
	h.send("A", `{"type":"teleport","roomId":"r1"}`)
	got := h.out.take("A")
	assert.Equal(t, []string{events.TypeError, events.TypeError}, types(got))
	assert.Empty(t, h.out.take("B"))

	snap, _ := h.store.Lookup("r1")
	assert.Empty(t, snap.Messages)
}

func TestRouter_InternalFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	h.join("B", "r1", "Bob")
	h.join("C", "r2", "Carol")
	h.out.take("A")
	h.out.take("B")
	h.out.take("C")

	h.out.panic = func(connID string, m map[string]any) bool {
		return connID == "B" && m["type"] == events.TypeDocumentUpdate
	}
	h.send("A", `{"type":"code-change","roomId":"r1","code":"lost"}`)

	got := h.out.take("A")
	require.Equal(t, []string{events.TypeError}, types(got))
	assert.Equal(t, ErrInternal.Error(), got[0]["message"])
	assert.Empty(t, h.out.take("B"))

	snap, _ := h.store.Lookup("r1")
	assert.Equal(t, room.DefaultDocument, snap.Code)

	h.out.panic = nil
	h.send("C", `{"type":"code-change","roomId":"r2","code":"fine"}`)
	snap, _ = h.store.Lookup("r2")
	assert.Equal(t, "fine", snap.Code)
	assert.Empty(t, h.out.take("C"))
}

func TestRouter_JoinAnotherRoomLeavesFirst(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	h.join("B", "r1", "Bob")
	h.out.take("A")
	h.out.take("B")

	h.send("A", `{"type":"join-room","roomId":"r2","userName":"Alice"}`)
	gotB := h.out.take("B")
	require.Equal(t, []string{events.TypeUserLeft}, types(gotB))
	assert.Equal(t, []string{"Bob"}, userNames(gotB[0]))
	assert.Equal(t, []string{events.TypeRoomState}, types(h.out.take("A")))

	key, _ := h.conns.CurrentRoom("A")
	assert.Equal(t, "r2", key)

	h.send("B", `{"type":"join-room","roomId":"r2","userName":"Bob"}`)
	_, ok := h.store.Lookup("r1")
	assert.False(t, ok, "r1 should be deleted once its last member moved away")
	snap, _ := h.store.Lookup("r2")
	assert.Len(t, snap.Users, 2)
}

func TestRouter_RejoinSameRoomResyncs(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	h.send("A", `{"type":"code-change","roomId":"r1","code":"x"}`)
	h.out.take("A")

	h.send("A", `{"type":"join-room","roomId":"r1","userName":"Alicia"}`)
	got := h.out.take("A")
	require.Equal(t, []string{events.TypeRoomState}, types(got))
	assert.Equal(t, "x", got[0]["code"])
	assert.Equal(t, []string{"Alicia"}, userNames(got[0]))
}

func TestRouter_ExplicitLeave(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	h.send("A", `{"type":"send-message","roomId":"r1","message":"bye"}`)
	h.send("A", `{"type":"leave-room","roomId":"r1"}`)

	_, ok := h.conns.CurrentRoom("A")
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.Len())

	h.join("B", "r1", "Bob")
	got := h.out.take("B")
	require.Len(t, got, 1)
	assert.Empty(t, got[0]["messages"], "a recreated room must not leak prior chat")
	assert.Equal(t, room.DefaultDocument, got[0]["code"])

	// 已离开后再断开是幂等的
	h.sup.Disconnect("A")
	h.sup.Disconnect("A")
	assert.Equal(t, 1, h.store.Len())
}

func TestRouter_ChatHistoryBounded(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	for i := 0; i < 130; i++ {
		h.send("A", fmt.Sprintf(`{"type":"send-message","roomId":"r1","message":"m%d"}`, i))
	}
	h.join("B", "r1", "Bob")
	got := h.out.take("B")
	require.Len(t, got, 1)
	msgs := got[0]["messages"].([]any)
	require.Len(t, msgs, 100)
	assert.Equal(t, "m30", msgs[0].(map[string]any)["message"])
	assert.Equal(t, "m129", msgs[99].(map[string]any)["message"])
	assert.Equal(t, "Alice", msgs[99].(map[string]any)["userName"])
}

func TestRouter_SnapshotOmitsStaleCursors(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	h.join("B", "r1", "Bob")
	h.send("A", `{"type":"cursor-change","roomId":"r1","position":{"lineNumber":1,"column":1}}`)
	h.now = h.now.Add(5 * time.Second)
	h.send("B", `{"type":"cursor-change","roomId":"r1","position":{"lineNumber":2,"column":1}}`)

	h.now = h.now.Add(6 * time.Second)
	h.join("C", "r1", "Carol")
	got := h.out.take("C")
	require.Len(t, got, 1)
	cursors := got[0]["cursors"].([]any)
	require.Len(t, cursors, 1)
	assert.Equal(t, "B", cursors[0].(map[string]any)["userId"])
}

func TestRouter_ConcurrentJoinLeave(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			ev, _ := events.Decode([]byte(`{"type":"join-room","roomId":"shared","userName":"u"}`))
			h.sup.Connect(id)
			h.sup.Handle(id, ev)
			ev, _ = events.Decode([]byte(`{"type":"send-message","roomId":"shared","message":"hi"}`))
			h.sup.Handle(id, ev)
			h.sup.Disconnect(id)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.conns.Len())
}

func TestRouter_FailedLeaveKeepsRouteAndRoster(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	h.join("B", "r1", "Bob")
	h.out.take("A")
	h.out.take("B")

	h.out.panic = func(connID string, m map[string]any) bool {
		return m["type"] == events.TypeUserLeft
	}
	h.send("A", `{"type":"leave-room","roomId":"r1"}`)
	assert.Equal(t, []string{events.TypeError}, types(h.out.take("A")))

	key, ok := h.conns.CurrentRoom("A")
	assert.True(t, ok)
	assert.Equal(t, "r1", key)
	snap, _ := h.store.Lookup("r1")
	assert.Len(t, snap.Users, 2)

	h.out.panic = nil
	h.send("A", `{"type":"leave-room","roomId":"r1"}`)
	assert.Equal(t, []string{events.TypeUserLeft}, types(h.out.take("B")))
	snap, _ = h.store.Lookup("r1")
	assert.Len(t, snap.Users, 1)
}

func TestRouter_DisconnectEvictsWhenLeaveFails(t *testing.T) {
	h := newHarness(t)
	h.join("A", "r1", "Alice")
	h.join("B", "r1", "Bob")
	h.out.take("A")
	h.out.take("B")

	h.out.panic = func(connID string, m map[string]any) bool {
		return m["type"] == events.TypeUserLeft
	}
	h.sup.Disconnect("A")
	snap, ok := h.store.Lookup("r1")
	require.True(t, ok)
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "B", snap.Users[0].ID)

	h.sup.Disconnect("B")
	_, ok = h.store.Lookup("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.conns.Len())
}

func TestRouter_FailedFirstJoinDoesNotLeaveEmptyRoom(t *testing.T) {
	h := newHarness(t)
	h.out.panic = func(connID string, m map[string]any) bool {
		return m["type"] == events.TypeRoomState
	}
	h.join("A", "r9", "Alice")
	h.out.panic = nil

	assert.Equal(t, []string{events.TypeError}, types(h.out.take("A")))
	_, ok := h.store.Lookup("r9")
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.Len())
	_, routed := h.conns.CurrentRoom("A")
	assert.False(t, routed)

	h.sup.Disconnect("A")
	assert.Equal(t, 0, h.conns.Len())
}
