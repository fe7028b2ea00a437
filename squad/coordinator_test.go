package squad

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/staryskies/explo/wire"
)

type fakeAuth struct {
	mu        sync.Mutex
	token     string
	user      Identity
	listeners []func(bool)
}

func (f *fakeAuth) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeAuth) CurrentUser() Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

func (f *fakeAuth) AddListener(fn func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// revoke simulates the session going away.
func (f *fakeAuth) revoke() {
	f.mu.Lock()
	f.token = ""
	listeners := make([]func(bool), len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(false)
	}
}

// fakeRealtime is a scriptable realtime channel. Pushes are injected via
// push; acks are served from ackFn.
type fakeRealtime struct {
	mu             sync.Mutex
	autoConnect    bool
	connected      bool
	closed         bool
	handlers       map[string]func(any)
	onConnect      func()
	onDisconnect   func(string)
	onConnectError func(error)
	ackFn          map[string]func(payload any) (map[string]any, error)
}

func newFakeRealtime(autoConnect bool) *fakeRealtime {
	return &fakeRealtime{
		autoConnect: autoConnect,
		handlers:    make(map[string]func(any)),
		ackFn:       make(map[string]func(any) (map[string]any, error)),
	}
}

func (f *fakeRealtime) On(event string, handler func(any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = handler
}

func (f *fakeRealtime) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = fn
}

func (f *fakeRealtime) OnDisconnect(fn func(reason string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

func (f *fakeRealtime) OnConnectError(fn func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnectError = fn
}

func (f *fakeRealtime) Connect(token, squadID string) error {
	f.mu.Lock()
	auto := f.autoConnect
	fn := f.onConnect
	f.mu.Unlock()
	if auto {
		f.mu.Lock()
		f.connected = true
		f.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
	return nil
}

func (f *fakeRealtime) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRealtime) Emit(event string, payload any) error { return nil }

func (f *fakeRealtime) EmitWithAck(event string, payload any, timeout time.Duration) (map[string]any, error) {
	f.mu.Lock()
	fn := f.ackFn[event]
	f.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no ack handler for %s", event)
	}
	return fn(payload)
}

func (f *fakeRealtime) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

// push injects a server push.
func (f *fakeRealtime) push(event string, payload any) {
	f.mu.Lock()
	handler := f.handlers[event]
	f.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

// drop simulates the channel dropping.
func (f *fakeRealtime) drop(reason string) {
	f.mu.Lock()
	f.connected = false
	fn := f.onDisconnect
	f.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

type msgLoop struct {
	since    func() int64
	onResult func([]wire.Message)
	onError  func(error)
}

type squadLoop struct {
	onResult func(wire.Squad)
	onError  func(error)
}

// fakePolling records started loops so tests drive ticks by hand, and
// serves REST ops from scriptable funcs.
type fakePolling struct {
	mu        sync.Mutex
	msgLoops  map[wire.Scope]*msgLoop
	squadLoop *squadLoop

	createFn      func() (wire.Squad, error)
	joinFn        func(code string) (wire.Squad, error)
	leaveCalls    int
	postMessageFn func(out wire.OutboundMessage) (wire.Message, error)
	postStateFn   func(squadID string, update wire.GameStateUpdate) error
}

func newFakePolling() *fakePolling {
	return &fakePolling{msgLoops: make(map[wire.Scope]*msgLoop)}
}

func (f *fakePolling) StartMessagePolling(scope wire.Scope, squadID string, interval time.Duration, since func() int64, onResult func([]wire.Message), onError func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgLoops[scope] = &msgLoop{since: since, onResult: onResult, onError: onError}
}

func (f *fakePolling) StartSquadPolling(squadID string, interval time.Duration, onResult func(wire.Squad), onError func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.squadLoop = &squadLoop{onResult: onResult, onError: onError}
}

func (f *fakePolling) StopMessagePolling(scope wire.Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.msgLoops, scope)
}

func (f *fakePolling) StopSquadPolling() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.squadLoop = nil
}

func (f *fakePolling) StopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgLoops = make(map[wire.Scope]*msgLoop)
	f.squadLoop = nil
}

func (f *fakePolling) CreateSquad() (wire.Squad, error) {
	f.mu.Lock()
	fn := f.createFn
	f.mu.Unlock()
	if fn == nil {
		return wire.Squad{}, fmt.Errorf("create not scripted")
	}
	return fn()
}

func (f *fakePolling) JoinSquad(code string) (wire.Squad, error) {
	f.mu.Lock()
	fn := f.joinFn
	f.mu.Unlock()
	if fn == nil {
		return wire.Squad{}, fmt.Errorf("join not scripted")
	}
	return fn(code)
}

func (f *fakePolling) LeaveSquad() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveCalls++
	return nil
}

func (f *fakePolling) GetSquad(squadID string) (wire.Squad, error) {
	return wire.Squad{}, fmt.Errorf("get not scripted")
}

func (f *fakePolling) PostMessage(out wire.OutboundMessage) (wire.Message, error) {
	f.mu.Lock()
	fn := f.postMessageFn
	f.mu.Unlock()
	if fn == nil {
		return wire.Message{}, fmt.Errorf("post not scripted")
	}
	return fn(out)
}

func (f *fakePolling) PostGameState(squadID string, update wire.GameStateUpdate) error {
	f.mu.Lock()
	fn := f.postStateFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(squadID, update)
}

func (f *fakePolling) globalLoop() *msgLoop {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgLoops[wire.ScopeGlobal]
}

func (f *fakePolling) squadMsgLoop() *msgLoop {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgLoops[wire.ScopeSquad]
}

func (f *fakePolling) snapshotLoop() *squadLoop {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.squadLoop
}

// eventRecorder collects events from a subscription.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func newTestCoordinator(t *testing.T, rt *fakeRealtime, poll *fakePolling) *Coordinator {
	t.Helper()
	c, err := New(Config{
		ServerURL:        "http://test",
		Auth:             &fakeAuth{token: "tok", user: Identity{ID: "me", DisplayName: "Me"}},
		ConnectGrace:     30 * time.Millisecond,
		ReconnectBackoff: 5 * time.Millisecond,
		newRealtime:      func(string) realtimeChannel { return rt },
		newPolling:       func(string, func() string) pollingChannel { return poll },
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// flush drains both the dispatch and callback queues.
func flush(c *Coordinator) {
	_, _ = c.dispatch.call(func() (interface{}, error) { return nil, nil })
	_, _ = c.callbacks.call(func() (interface{}, error) { return nil, nil })
}

func waitForState(t *testing.T, c *Coordinator, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.ConnectionState() == want
	}, 2*time.Second, 5*time.Millisecond)
}

func testSquad(members ...wire.Member) wire.Squad {
	leader := ""
	if len(members) > 0 {
		leader = members[0].ID
	}
	return wire.Squad{ID: "sq1", JoinCode: "ABCD23", LeaderID: leader, Members: members}
}

func echoAck(out wire.OutboundMessage, seq int64) map[string]any {
	return map[string]any{
		"result": "success",
		"message": map[string]any{
			"id":        out.ID,
			"scope":     out.Scope,
			"squadId":   out.SquadID,
			"senderId":  "me",
			"body":      out.Body,
			"timestamp": float64(1000),
			"seq":       float64(seq),
		},
	}
}

func TestSendMessageOncePerCallDespiteEchoes(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime(true)
	var seq int64
	var echoes []wire.Message
	var echoMu sync.Mutex
	rt.ackFn[wire.EventMessage] = func(payload any) (map[string]any, error) {
		var out wire.OutboundMessage
		require.NoError(t, wire.DecodeEvent(payload, &out))
		seq++
		ack := echoAck(out, seq)
		var stored wire.Message
		_ = wire.DecodeEvent(ack["message"], &stored)
		echoMu.Lock()
		echoes = append(echoes, stored)
		echoMu.Unlock()
		return ack, nil
	}

	c := newTestCoordinator(t, rt, newFakePolling())
	require.NoError(t, c.Connect())
	waitForState(t, c, StateRealtime)

	const sends = 5
	ids := make(map[string]bool, sends)
	for i := 0; i < sends; i++ {
		id, err := c.SendMessage(wire.ScopeGlobal, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		require.False(t, ids[id])
		ids[id] = true
	}

	require.Eventually(t, func() bool {
		for _, m := range c.Messages(wire.ScopeGlobal) {
			if m.Status != StatusDelivered {
				return false
			}
		}
		return len(c.Messages(wire.ScopeGlobal)) == sends
	}, 2*time.Second, 5*time.Millisecond)

	// The server also pushes the sender's own messages back; they must
	// collapse into the existing entries.
	echoMu.Lock()
	pushed := append([]wire.Message(nil), echoes...)
	echoMu.Unlock()
	for _, m := range pushed {
		rt.push(wire.EventMessage, m)
	}
	flush(c)

	messages := c.Messages(wire.ScopeGlobal)
	require.Len(t, messages, sends)
	for _, m := range messages {
		require.True(t, ids[m.ID])
		require.Equal(t, StatusDelivered, m.Status)
	}
}

func TestPollingSameWatermarkIsIdempotent(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime(false) // never connects
	poll := newFakePolling()
	c := newTestCoordinator(t, rt, poll)

	require.NoError(t, c.Connect())
	waitForState(t, c, StatePolling)

	loop := poll.globalLoop()
	require.NotNil(t, loop)

	batch := []wire.Message{
		{ID: "g1", Scope: wire.ScopeGlobal, SenderID: "a", Body: "one", Seq: 1},
		{ID: "g2", Scope: wire.ScopeGlobal, SenderID: "b", Body: "two", Seq: 2},
	}
	loop.onResult(batch)
	flush(c)
	require.Equal(t, int64(2), loop.since())

	// A repeated poll with an unchanged watermark returns the same rows.
	loop.onResult(batch)
	flush(c)

	require.Len(t, c.Messages(wire.ScopeGlobal), 2)
}

func TestGraceElapsedFallsBackToPollingOnce(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime(false)
	poll := newFakePolling()
	c := newTestCoordinator(t, rt, poll)

	rec := &eventRecorder{}
	c.Subscribe(KindConnectionState, rec.record)

	require.NoError(t, c.Connect())
	waitForState(t, c, StatePolling)
	flush(c)

	pollingTransitions := 0
	for _, ev := range rec.snapshot() {
		if ev.State == StatePolling {
			pollingTransitions++
		}
	}
	require.Equal(t, 1, pollingTransitions)

	// Polling begins as part of the same transition.
	require.NotNil(t, poll.globalLoop())
}

func TestLeaveWithNoSquadIsNoop(t *testing.T) {
	t.Parallel()

	poll := newFakePolling()
	c := newTestCoordinator(t, newFakeRealtime(false), poll)

	require.NoError(t, c.LeaveSquad())
	require.Equal(t, 0, poll.leaveCalls)
}

func TestJoinSupersededByLeaveIsDiscarded(t *testing.T) {
	t.Parallel()

	poll := newFakePolling()
	release := make(chan struct{})
	poll.joinFn = func(code string) (wire.Squad, error) {
		<-release
		return testSquad(
			wire.Member{ID: "a", DisplayName: "A"},
			wire.Member{ID: "me", DisplayName: "Me"},
		), nil
	}

	c := newTestCoordinator(t, newFakeRealtime(false), poll)

	joinErr := make(chan error, 1)
	go func() {
		_, err := c.JoinSquad("ABCD23")
		joinErr <- err
	}()

	// Let the join capture its snapshot and block in the fake transport.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.LeaveSquad())

	close(release)
	require.ErrorIs(t, <-joinErr, ErrSuperseded)
	require.Nil(t, c.CurrentSquad())
}

func TestRostersConvergeOnJoin(t *testing.T) {
	t.Parallel()

	// Client A is on realtime and learns about B from a member-joined push.
	rt := newFakeRealtime(true)
	rt.ackFn[wire.EventCreateSquad] = func(any) (map[string]any, error) {
		squad := testSquad(wire.Member{ID: "me", DisplayName: "Me"})
		return map[string]any{"result": "success", "squad": squad}, nil
	}

	c := newTestCoordinator(t, rt, newFakePolling())
	require.NoError(t, c.Connect())
	waitForState(t, c, StateRealtime)

	squad, err := c.CreateSquad()
	require.NoError(t, err)
	require.Equal(t, "me", squad.LeaderID)

	rec := &eventRecorder{}
	c.Subscribe(KindPresence, rec.record)

	rt.push(wire.EventMemberJoined, wire.MemberEvent{
		SquadID: squad.ID,
		Member:  wire.Member{ID: "b", DisplayName: "B"},
	})
	flush(c)

	roster := c.CurrentSquad()
	require.NotNil(t, roster)
	require.Len(t, roster.Members, 2)
	require.Equal(t, 1, wire.MemberIndex(roster.Members, "b"))

	events := rec.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, "b", events[0].Member.ID)
	require.False(t, events[0].Left)
}

func TestPollingRosterConvergesFromSnapshot(t *testing.T) {
	t.Parallel()

	poll := newFakePolling()
	poll.joinFn = func(code string) (wire.Squad, error) {
		return testSquad(
			wire.Member{ID: "a", DisplayName: "A"},
			wire.Member{ID: "me", DisplayName: "Me"},
		), nil
	}

	c := newTestCoordinator(t, newFakeRealtime(false), poll)
	require.NoError(t, c.Connect())
	waitForState(t, c, StatePolling)

	_, err := c.JoinSquad("ABCD23")
	require.NoError(t, err)

	rec := &eventRecorder{}
	c.Subscribe(KindPresence, rec.record)

	// The next snapshot poll carries a third member.
	loop := poll.snapshotLoop()
	require.NotNil(t, loop)
	loop.onResult(testSquad(
		wire.Member{ID: "a", DisplayName: "A"},
		wire.Member{ID: "me", DisplayName: "Me"},
		wire.Member{ID: "c", DisplayName: "C"},
	))
	flush(c)

	roster := c.CurrentSquad()
	require.Len(t, roster.Members, 3)

	events := rec.snapshot()
	require.Len(t, events, 1)
	require.Equal(t, "c", events[0].Member.ID)
}

func TestOfflineSendRecoversWithoutDuplicates(t *testing.T) {
	t.Parallel()

	poll := newFakePolling()
	var postErr error = fmt.Errorf("connection refused")
	var postMu sync.Mutex
	poll.postMessageFn = func(out wire.OutboundMessage) (wire.Message, error) {
		postMu.Lock()
		defer postMu.Unlock()
		if postErr != nil {
			return wire.Message{}, postErr
		}
		return wire.Message{
			ID: out.ID, Scope: wire.Scope(out.Scope), SquadID: out.SquadID,
			SenderID: "me", Body: out.Body, Timestamp: 1000, Seq: 1,
		}, nil
	}

	c := newTestCoordinator(t, newFakeRealtime(false), poll)
	require.NoError(t, c.Connect())
	waitForState(t, c, StatePolling)

	rec := &eventRecorder{}
	c.Subscribe(KindMessageStatus, rec.record)

	id, err := c.SendMessage(wire.ScopeGlobal, "hi")
	require.NoError(t, err)

	// The optimistic copy is visible immediately, then marked failed once
	// the transport rejects it.
	require.Eventually(t, func() bool {
		messages := c.Messages(wire.ScopeGlobal)
		return len(messages) == 1 && messages[0].Status == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	// Transport recovers; a retry delivers the same id.
	postMu.Lock()
	postErr = nil
	postMu.Unlock()
	require.NoError(t, c.RetrySend(id))

	require.Eventually(t, func() bool {
		messages := c.Messages(wire.ScopeGlobal)
		return len(messages) == 1 && messages[0].Status == StatusDelivered
	}, 2*time.Second, 5*time.Millisecond)

	messages := c.Messages(wire.ScopeGlobal)
	require.Equal(t, id, messages[0].ID)
	require.Equal(t, int64(1), messages[0].Seq)
}

func TestGameStateEventsArriveInReceiptOrder(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime(true)
	rt.ackFn[wire.EventJoinSquad] = func(any) (map[string]any, error) {
		squad := testSquad(
			wire.Member{ID: "a", DisplayName: "A"},
			wire.Member{ID: "b", DisplayName: "B"},
			wire.Member{ID: "me", DisplayName: "Me"},
		)
		return map[string]any{"result": "success", "squad": squad}, nil
	}

	c := newTestCoordinator(t, rt, newFakePolling())
	require.NoError(t, c.Connect())
	waitForState(t, c, StateRealtime)

	_, err := c.JoinSquad("ABCD23")
	require.NoError(t, err)

	rec := &eventRecorder{}
	c.Subscribe(KindGameState, rec.record)

	ready := true
	for _, sender := range []string{"a", "b"} {
		rt.push(wire.EventGameStateUpdate, wire.GameStateUpdate{
			Kind:     wire.KindReadyStatus,
			SenderID: sender,
			Ready:    &wire.ReadyStatus{Ready: ready},
		})
	}
	flush(c)

	events := rec.snapshot()
	require.Len(t, events, 2)
	require.Equal(t, "a", events[0].GameState.SenderID)
	require.Equal(t, "b", events[1].GameState.SenderID)

	// Ready flags are folded into the roster.
	roster := c.CurrentSquad()
	require.True(t, roster.Members[0].Ready)
	require.True(t, roster.Members[1].Ready)
}

func TestReconnectExhaustionFallsBackAndLateSuccessIsDropped(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime(true)
	poll := newFakePolling()
	c := newTestCoordinator(t, rt, poll)

	require.NoError(t, c.Connect())
	waitForState(t, c, StateRealtime)

	// Stop auto-connecting so every reconnect dial times out via grace.
	rt.mu.Lock()
	rt.autoConnect = false
	rt.mu.Unlock()
	rt.drop("transport close")

	waitForState(t, c, StatePolling)
	require.NotNil(t, poll.globalLoop())

	// A late channel-up must not resurrect realtime mode.
	rt.mu.Lock()
	onConnect := rt.onConnect
	rt.mu.Unlock()
	if onConnect != nil {
		onConnect()
	}
	flush(c)
	require.Equal(t, StatePolling, c.ConnectionState())
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	t.Parallel()

	poll := newFakePolling()
	c := newTestCoordinator(t, newFakeRealtime(false), poll)
	require.NoError(t, c.Connect())
	waitForState(t, c, StatePolling)

	var order []string
	var mu sync.Mutex
	c.Subscribe(KindMessage, func(Event) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		panic("boom")
	})
	c.Subscribe(KindMessage, func(Event) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	loop := poll.globalLoop()
	loop.onResult([]wire.Message{{ID: "g1", Scope: wire.ScopeGlobal, Seq: 1}})
	flush(c)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestSquadScopeSendWithoutSquadFails(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, newFakeRealtime(false), newFakePolling())
	_, err := c.SendMessage(wire.ScopeSquad, "hi")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJoinErrorMapping(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime(true)
	rt.ackFn[wire.EventJoinSquad] = func(any) (map[string]any, error) {
		return map[string]any{"result": "error", "code": wire.CodeFull}, nil
	}

	c := newTestCoordinator(t, rt, newFakePolling())
	require.NoError(t, c.Connect())
	waitForState(t, c, StateRealtime)

	_, err := c.JoinSquad("ABCD23")
	require.ErrorIs(t, err, ErrFull)
	require.Nil(t, c.CurrentSquad())
}

func TestGlobalPollingSurvivesSquadChange(t *testing.T) {
	t.Parallel()

	poll := newFakePolling()
	poll.joinFn = func(code string) (wire.Squad, error) {
		return testSquad(
			wire.Member{ID: "a", DisplayName: "A"},
			wire.Member{ID: "me", DisplayName: "Me"},
		), nil
	}

	c := newTestCoordinator(t, newFakeRealtime(false), poll)
	require.NoError(t, c.Connect())
	waitForState(t, c, StatePolling)

	loop := poll.globalLoop()
	require.NotNil(t, loop)
	loop.onResult([]wire.Message{{ID: "g1", Scope: wire.ScopeGlobal, SenderID: "a", Body: "one", Seq: 1}})
	flush(c)

	_, err := c.JoinSquad("ABCD23")
	require.NoError(t, err)

	// The join restarted only the squad-scope loops; the loop registered
	// at fallback time still feeds the global scope.
	loop.onResult([]wire.Message{{ID: "g2", Scope: wire.ScopeGlobal, SenderID: "b", Body: "two", Seq: 2}})
	flush(c)
	require.Len(t, c.Messages(wire.ScopeGlobal), 2)

	require.NoError(t, c.LeaveSquad())
	loop.onResult([]wire.Message{{ID: "g3", Scope: wire.ScopeGlobal, SenderID: "a", Body: "three", Seq: 3}})
	flush(c)
	require.Len(t, c.Messages(wire.ScopeGlobal), 3)
	require.Equal(t, int64(3), loop.since())
}

func TestSquadSwitchDropsPreviousSquadMessages(t *testing.T) {
	t.Parallel()

	squads := map[string]wire.Squad{
		"AAAA22": {ID: "sqA", JoinCode: "AAAA22", LeaderID: "me",
			Members: []wire.Member{{ID: "me", DisplayName: "Me"}}},
		"BBBB22": {ID: "sqB", JoinCode: "BBBB22", LeaderID: "me",
			Members: []wire.Member{{ID: "me", DisplayName: "Me"}}},
	}
	poll := newFakePolling()
	poll.joinFn = func(code string) (wire.Squad, error) {
		return squads[code], nil
	}

	c := newTestCoordinator(t, newFakeRealtime(false), poll)
	require.NoError(t, c.Connect())
	waitForState(t, c, StatePolling)

	_, err := c.JoinSquad("AAAA22")
	require.NoError(t, err)

	loop := poll.squadMsgLoop()
	require.NotNil(t, loop)
	loop.onResult([]wire.Message{{ID: "s1", Scope: wire.ScopeSquad, SquadID: "sqA", SenderID: "a", Body: "old", Seq: 5}})
	flush(c)
	require.Len(t, c.Messages(wire.ScopeSquad), 1)

	_, err = c.JoinSquad("BBBB22")
	require.NoError(t, err)

	// The previous squad's history and watermark are gone.
	require.Empty(t, c.Messages(wire.ScopeSquad))
	fresh := poll.squadMsgLoop()
	require.NotNil(t, fresh)
	require.Equal(t, int64(0), fresh.since())
}

func TestAuthLossTearsDownAndClearsSession(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime(true)
	rt.ackFn[wire.EventCreateSquad] = func(any) (map[string]any, error) {
		squad := testSquad(wire.Member{ID: "me", DisplayName: "Me"})
		return map[string]any{"result": "success", "squad": squad}, nil
	}
	poll := newFakePolling()
	auth := &fakeAuth{token: "tok", user: Identity{ID: "me", DisplayName: "Me"}}
	c, err := New(Config{
		ServerURL:        "http://test",
		Auth:             auth,
		ConnectGrace:     30 * time.Millisecond,
		ReconnectBackoff: 5 * time.Millisecond,
		newRealtime:      func(string) realtimeChannel { return rt },
		newPolling:       func(string, func() string) pollingChannel { return poll },
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Connect())
	waitForState(t, c, StateRealtime)
	_, err = c.CreateSquad()
	require.NoError(t, err)

	auth.revoke()
	waitForState(t, c, StateUninitialized)
	flush(c)

	require.Nil(t, c.CurrentSquad())
	rt.mu.Lock()
	closed := rt.closed
	rt.mu.Unlock()
	require.True(t, closed)

	// Connecting again needs fresh credentials.
	require.ErrorIs(t, c.Connect(), ErrAuthRequired)
}

func TestSendGameStateAckDoesNotStallDispatcher(t *testing.T) {
	t.Parallel()

	rt := newFakeRealtime(true)
	rt.ackFn[wire.EventCreateSquad] = func(any) (map[string]any, error) {
		squad := testSquad(wire.Member{ID: "me", DisplayName: "Me"})
		return map[string]any{"result": "success", "squad": squad}, nil
	}
	started := make(chan struct{})
	release := make(chan struct{})
	rt.ackFn[wire.EventGameState] = func(any) (map[string]any, error) {
		close(started)
		<-release
		return map[string]any{"result": "success"}, nil
	}

	c := newTestCoordinator(t, rt, newFakePolling())
	require.NoError(t, c.Connect())
	waitForState(t, c, StateRealtime)
	_, err := c.CreateSquad()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- c.SendGameState(wire.GameStateUpdate{
			Kind:  wire.KindReadyStatus,
			Ready: &wire.ReadyStatus{Ready: true},
		})
	}()
	<-started

	// With the ack still outstanding, the dispatcher keeps observing
	// messages and serving queries.
	rt.push(wire.EventMessage, wire.Message{ID: "m1", Scope: wire.ScopeGlobal, SenderID: "a", Body: "hi", Seq: 1})
	flush(c)
	require.Len(t, c.Messages(wire.ScopeGlobal), 1)
	require.Equal(t, StateRealtime, c.ConnectionState())

	close(release)
	require.NoError(t, <-done)
}
