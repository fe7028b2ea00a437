// Package squad is the client coordination layer: one Coordinator per
// player process owns the connection lifecycle, the message cache, and the
// squad roster, and fans events out to UI subscribers.
//
// All coordinator state is mutated on a single dispatch goroutine; public
// methods enqueue onto it. Subscriber callbacks run on a separate callback
// goroutine so a slow UI cannot stall transport work.
package squad

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/staryskies/explo/pkg/logger"
	"github.com/staryskies/explo/squad/polling"
	"github.com/staryskies/explo/squad/realtime"
	"github.com/staryskies/explo/wire"
)

// Default tunables. Overridable per Config field.
const (
	defaultConnectGrace         = 5 * time.Second
	defaultMaxReconnects        = 3
	defaultReconnectBackoff     = time.Second
	defaultMessagePollInterval  = 3 * time.Second
	defaultSnapshotPollInterval = 6 * time.Second
	defaultAckTimeout           = 5 * time.Second

	// pollFailureThreshold is how many consecutive poll failures flip the
	// connection to degraded.
	pollFailureThreshold = 3
)

// realtimeChannel is the socket transport surface the coordinator drives.
type realtimeChannel interface {
	On(event string, handler func(any))
	OnConnect(fn func())
	OnDisconnect(fn func(reason string))
	OnConnectError(fn func(err error))
	Connect(token, squadID string) error
	IsConnected() bool
	Emit(event string, payload any) error
	EmitWithAck(event string, payload any, timeout time.Duration) (map[string]any, error)
	Close() error
}

// pollingChannel is the HTTP fallback surface the coordinator drives.
type pollingChannel interface {
	StartMessagePolling(scope wire.Scope, squadID string, interval time.Duration, since func() int64, onResult func([]wire.Message), onError func(error))
	StartSquadPolling(squadID string, interval time.Duration, onResult func(wire.Squad), onError func(error))
	StopMessagePolling(scope wire.Scope)
	StopSquadPolling()
	StopAll()
	CreateSquad() (wire.Squad, error)
	JoinSquad(joinCode string) (wire.Squad, error)
	LeaveSquad() error
	GetSquad(squadID string) (wire.Squad, error)
	PostMessage(out wire.OutboundMessage) (wire.Message, error)
	PostGameState(squadID string, update wire.GameStateUpdate) error
}

// EventKind selects which coordinator events a subscriber receives.
type EventKind string

const (
	// KindMessage fires once per newly cached message, optimistic or
	// remote.
	KindMessage EventKind = "message"
	// KindMessageStatus fires when a cached message's delivery status
	// changes.
	KindMessageStatus EventKind = "message-status"
	// KindPresence fires on squad membership and leadership changes.
	KindPresence EventKind = "presence"
	// KindConnectionState fires on transport lifecycle changes.
	KindConnectionState EventKind = "connection-state"
	// KindGameState fires on incoming game-state updates.
	KindGameState EventKind = "game-state"
)

// Event is the payload delivered to subscribers. Fields are set per kind.
type Event struct {
	Kind EventKind

	// Message is set for KindMessage and KindMessageStatus.
	Message *CachedMessage

	// Squad is the roster after a presence change; nil when the squad was
	// dissolved or the local player was removed.
	Squad *wire.Squad
	// Member is the member that joined or left, when the change is
	// attributable to one member.
	Member *wire.Member
	// Left is true when Member left rather than joined.
	Left bool

	// State, Transport, and Degraded are set for KindConnectionState.
	State     ConnState
	Transport TransportMode
	Degraded  bool

	// GameState is set for KindGameState.
	GameState *wire.GameStateUpdate
}

// Config configures a Coordinator. ServerURL and Auth are required.
type Config struct {
	ServerURL string
	Auth      AuthProvider

	// ConnectGrace bounds each realtime dial attempt.
	ConnectGrace time.Duration
	// MaxReconnects bounds reconnect dials after an established channel
	// drops. Exhaustion falls back to polling.
	MaxReconnects int
	// ReconnectBackoff is the first retry delay; it doubles per attempt.
	ReconnectBackoff time.Duration

	MessagePollInterval  time.Duration
	SnapshotPollInterval time.Duration
	AckTimeout           time.Duration

	// Test seams. Nil selects the production transports and clock.
	newRealtime func(serverURL string) realtimeChannel
	newPolling  func(serverURL string, token func() string) pollingChannel
	now         func() time.Time
}

type subscription struct {
	id   int
	kind EventKind
	fn   func(Event)
}

// Coordinator owns one player's connection to the coordination server.
type Coordinator struct {
	cfg Config

	dispatch  *dispatcher
	callbacks *dispatcher

	// All fields below are owned by the dispatch goroutine.
	epoch      uint64
	squadEpoch uint64
	state      ConnState
	attempt    int
	closed     bool
	degraded   bool
	pollErrs   int

	rt   realtimeChannel
	poll pollingChannel

	cache *messageCache
	squad *wire.Squad

	subs      []*subscription
	nextSubID int

	graceTimer *time.Timer
	retryTimer *time.Timer

	// Seq watermark mirrors readable from polling goroutines.
	globalSeq atomic.Int64
	squadSeq  atomic.Int64
}

// New creates a Coordinator. It performs no I/O until Connect.
func New(cfg Config) (*Coordinator, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth provider is required")
	}
	if cfg.ConnectGrace <= 0 {
		cfg.ConnectGrace = defaultConnectGrace
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = defaultReconnectBackoff
	}
	if cfg.MessagePollInterval <= 0 {
		cfg.MessagePollInterval = defaultMessagePollInterval
	}
	if cfg.SnapshotPollInterval <= 0 {
		cfg.SnapshotPollInterval = defaultSnapshotPollInterval
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.newRealtime == nil {
		cfg.newRealtime = func(serverURL string) realtimeChannel {
			return realtime.NewClient(serverURL)
		}
	}
	if cfg.newPolling == nil {
		cfg.newPolling = func(serverURL string, token func() string) pollingChannel {
			return polling.NewChannel(serverURL, token)
		}
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	c := &Coordinator{
		cfg:       cfg,
		dispatch:  newDispatcher(256),
		callbacks: newDispatcher(256),
		state:     StateUninitialized,
		cache:     newMessageCache(),
	}
	c.poll = cfg.newPolling(cfg.ServerURL, cfg.Auth.Token)

	cfg.Auth.AddListener(func(authenticated bool) {
		if authenticated {
			return
		}
		_ = c.dispatch.do(c.authLost)
	})
	return c, nil
}

// Subscribe registers a handler for one event kind. Handlers run on the
// callback goroutine in registration order; a panicking handler is isolated
// and does not affect the others. The returned func cancels the
// subscription.
func (c *Coordinator) Subscribe(kind EventKind, fn func(Event)) (cancel func()) {
	value, _ := c.dispatch.call(func() (interface{}, error) {
		c.nextSubID++
		sub := &subscription{id: c.nextSubID, kind: kind, fn: fn}
		c.subs = append(c.subs, sub)
		return sub.id, nil
	})
	id, _ := value.(int)
	return func() {
		_, _ = c.dispatch.call(func() (interface{}, error) {
			for i, sub := range c.subs {
				if sub.id == id {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					break
				}
			}
			return nil, nil
		})
	}
}

// Connect starts the connection lifecycle: a realtime dial bounded by the
// connect grace, with polling as the fallback. It returns once the dial is
// initiated; progress is reported via KindConnectionState events.
func (c *Coordinator) Connect() error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		if c.closed {
			return nil, ErrClosed
		}
		if c.cfg.Auth.Token() == "" {
			return nil, ErrAuthRequired
		}
		if c.state != StateUninitialized {
			return nil, nil
		}
		c.applyConn(EvConnectRequested)
		return nil, nil
	})
	return err
}

// Close tears down both transports and stops the worker goroutines. The
// coordinator cannot be reused.
func (c *Coordinator) Close() {
	_, err := c.dispatch.call(func() (interface{}, error) {
		if c.closed {
			return nil, nil
		}
		c.closed = true
		c.applyConn(EvCloseRequested)
		c.stopTimers()
		return nil, nil
	})
	if err != nil {
		// Already closed.
		return
	}
	c.dispatch.close()
	c.callbacks.close()
}

// authLost tears both transports down and clears the squad session when
// credentials go away. The coordinator returns to uninitialized; a later
// Connect with fresh credentials starts over.
func (c *Coordinator) authLost() {
	if c.closed || c.state == StateUninitialized {
		return
	}
	logger.Infof("auth unavailable; tearing down transports")
	c.applyConn(EvCloseRequested)
	c.stopTimers()
	if c.squad != nil {
		c.setSquad(nil)
	} else {
		// Still a supersede point for in-flight squad operations.
		c.squadEpoch++
	}
}

// ConnectionState returns the current lifecycle state.
func (c *Coordinator) ConnectionState() ConnState {
	value, _ := c.dispatch.call(func() (interface{}, error) {
		return c.state, nil
	})
	state, _ := value.(ConnState)
	return state
}

// CurrentSquad returns a copy of the squad roster, or nil when not in a
// squad.
func (c *Coordinator) CurrentSquad() *wire.Squad {
	value, _ := c.dispatch.call(func() (interface{}, error) {
		if c.squad == nil {
			return nil, nil
		}
		copied := *c.squad
		copied.Members = append([]wire.Member(nil), c.squad.Members...)
		return &copied, nil
	})
	squad, _ := value.(*wire.Squad)
	return squad
}

// Messages returns the cached messages for a scope in arrival order.
func (c *Coordinator) Messages(scope wire.Scope) []CachedMessage {
	value, _ := c.dispatch.call(func() (interface{}, error) {
		return c.cache.snapshot(scope), nil
	})
	messages, _ := value.([]CachedMessage)
	return messages
}

// opSnapshot captures the transport and membership epoch at the moment a
// squad operation starts. The server round trip runs off the dispatch
// queue; the apply step discards the response if the epoch moved on.
type opSnapshot struct {
	epoch uint64
	mode  TransportMode
	rt    realtimeChannel
}

func (c *Coordinator) snapshotOp() (opSnapshot, error) {
	value, err := c.dispatch.call(func() (interface{}, error) {
		if c.closed {
			return nil, ErrClosed
		}
		return opSnapshot{epoch: c.squadEpoch, mode: c.state.Mode(), rt: c.rt}, nil
	})
	if err != nil {
		return opSnapshot{}, err
	}
	return value.(opSnapshot), nil
}

// applySquad installs a server-returned squad unless membership changed
// while the round trip was in flight.
func (c *Coordinator) applySquad(snap opSnapshot, squad wire.Squad) error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		if c.closed {
			return nil, ErrClosed
		}
		if snap.epoch != c.squadEpoch {
			return nil, ErrSuperseded
		}
		c.setSquad(&squad)
		return nil, nil
	})
	return err
}

// CreateSquad creates a new squad with the local player as leader.
func (c *Coordinator) CreateSquad() (wire.Squad, error) {
	snap, err := c.snapshotOp()
	if err != nil {
		return wire.Squad{}, err
	}

	var squad wire.Squad
	if snap.mode == TransportRealtime && snap.rt != nil {
		ack, ackErr := snap.rt.EmitWithAck(wire.EventCreateSquad, map[string]any{}, c.cfg.AckTimeout)
		if ackErr != nil {
			return wire.Squad{}, ErrTransportUnavailable
		}
		squad, err = decodeSquadAck(ack)
	} else {
		squad, err = c.poll.CreateSquad()
		err = firstError(err, mapTransportError(err))
	}
	if err != nil {
		return wire.Squad{}, err
	}

	if err := c.applySquad(snap, squad); err != nil {
		return wire.Squad{}, err
	}
	return squad, nil
}

// JoinSquad joins a squad by join code. If a LeaveSquad (or another
// membership change) lands while the join is in flight, the late response
// is discarded and ErrSuperseded is returned.
func (c *Coordinator) JoinSquad(joinCode string) (wire.Squad, error) {
	snap, err := c.snapshotOp()
	if err != nil {
		return wire.Squad{}, err
	}

	var squad wire.Squad
	if snap.mode == TransportRealtime && snap.rt != nil {
		ack, ackErr := snap.rt.EmitWithAck(wire.EventJoinSquad, map[string]any{"joinCode": joinCode}, c.cfg.AckTimeout)
		if ackErr != nil {
			return wire.Squad{}, ErrTransportUnavailable
		}
		squad, err = decodeSquadAck(ack)
	} else {
		squad, err = c.poll.JoinSquad(joinCode)
		err = firstError(err, mapTransportError(err))
	}
	if err != nil {
		return wire.Squad{}, err
	}

	if err := c.applySquad(snap, squad); err != nil {
		return wire.Squad{}, err
	}
	return squad, nil
}

// LeaveSquad leaves the current squad. The local roster is cleared
// immediately, which also supersedes any in-flight join; the server leave
// is then best-effort. Leaving with no squad is a no-op.
func (c *Coordinator) LeaveSquad() error {
	value, err := c.dispatch.call(func() (interface{}, error) {
		if c.closed {
			return nil, ErrClosed
		}
		if c.squad == nil {
			// Still a supersede point: an in-flight join must not land
			// after the user chose to leave.
			c.squadEpoch++
			return nil, nil
		}
		snap := opSnapshot{epoch: c.squadEpoch, mode: c.state.Mode(), rt: c.rt}
		c.setSquad(nil)
		return snap, nil
	})
	if err != nil {
		return err
	}
	snap, ok := value.(opSnapshot)
	if !ok {
		return nil
	}

	if snap.mode == TransportRealtime && snap.rt != nil {
		ack, ackErr := snap.rt.EmitWithAck(wire.EventLeaveSquad, map[string]any{}, c.cfg.AckTimeout)
		if ackErr != nil {
			return ErrTransportUnavailable
		}
		return decodeResultAck(ack)
	}
	return mapTransportError(c.poll.LeaveSquad())
}

// firstError keeps nil when the raw error was nil, otherwise the mapped
// one.
func firstError(raw, mapped error) error {
	if raw == nil {
		return nil
	}
	return mapped
}

// SendMessage appends a message optimistically and delivers it in the
// background. It returns the message id immediately; delivery progress is
// reported via KindMessageStatus events. The only synchronous failures are
// local: a closed coordinator or a squad-scope send with no squad.
func (c *Coordinator) SendMessage(scope wire.Scope, body string) (string, error) {
	value, err := c.dispatch.call(func() (interface{}, error) {
		if c.closed {
			return nil, ErrClosed
		}
		if scope == wire.ScopeSquad && c.squad == nil {
			return nil, ErrNotFound
		}

		user := c.cfg.Auth.CurrentUser()
		msg := wire.Message{
			ID:         uuid.NewString(),
			Scope:      scope,
			SenderID:   user.ID,
			SenderName: user.DisplayName,
			Body:       body,
			Timestamp:  c.cfg.now().UnixMilli(),
		}
		if scope == wire.ScopeSquad {
			msg.SquadID = c.squad.ID
		}

		cached := c.cache.addPending(msg)
		c.emit(Event{Kind: KindMessage, Message: cached})

		out := wire.OutboundMessage{
			ID:      msg.ID,
			Scope:   string(scope),
			SquadID: msg.SquadID,
			Body:    body,
		}
		c.scheduleDelivery(out, false)
		return msg.ID, nil
	})
	if err != nil {
		return "", err
	}
	id, _ := value.(string)
	return id, nil
}

// RetrySend re-attempts delivery of a failed message.
func (c *Coordinator) RetrySend(messageID string) error {
	_, err := c.dispatch.call(func() (interface{}, error) {
		if c.closed {
			return nil, ErrClosed
		}
		cached, ok := c.cache.byID[messageID]
		if !ok {
			return nil, ErrNotFound
		}
		if cached.Status == StatusDelivered {
			return nil, nil
		}
		cached.Status = StatusPending
		c.emit(Event{Kind: KindMessageStatus, Message: cached})
		c.scheduleDelivery(wire.OutboundMessage{
			ID:      cached.ID,
			Scope:   string(cached.Scope),
			SquadID: cached.SquadID,
			Body:    cached.Body,
		}, false)
		return nil, nil
	})
	return err
}

// SendGameState delivers a game-state update to the current squad over
// whichever transport is active. The server round trip runs off the
// dispatch queue so a slow ack cannot stall message observation or timers.
func (c *Coordinator) SendGameState(update wire.GameStateUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	value, err := c.dispatch.call(func() (interface{}, error) {
		if c.closed {
			return nil, ErrClosed
		}
		if c.squad == nil {
			return nil, ErrNotFound
		}
		return gameStateSnapshot{
			squadID: c.squad.ID,
			mode:    c.state.Mode(),
			rt:      c.rt,
		}, nil
	})
	if err != nil {
		return err
	}
	snap := value.(gameStateSnapshot)

	if snap.mode == TransportRealtime && snap.rt != nil {
		out := wire.OutboundGameState{SquadID: snap.squadID, Update: update}
		ack, ackErr := snap.rt.EmitWithAck(wire.EventGameState, out, c.cfg.AckTimeout)
		if ackErr != nil {
			return ErrTransportUnavailable
		}
		return decodeResultAck(ack)
	}
	return mapTransportError(c.poll.PostGameState(snap.squadID, update))
}

// gameStateSnapshot captures the transport to use for one game-state send.
type gameStateSnapshot struct {
	squadID string
	mode    TransportMode
	rt      realtimeChannel
}

// ---- connection lifecycle (dispatch goroutine only) ----

func (c *Coordinator) applyConn(ev ConnEvent) {
	next, actions := NextConnState(c.state, ev, c.attempt, c.cfg.MaxReconnects)
	changed := next != c.state
	c.state = next

	for _, action := range actions {
		switch action {
		case ActionDial:
			c.dialChannel()
		case ActionScheduleRetry:
			c.scheduleRetry()
		case ActionDropChannel:
			c.dropChannel()
		case ActionStartPolling:
			c.startPolling()
		case ActionStopPolling:
			c.poll.StopAll()
		}
	}

	if changed {
		logger.Infof("connection state: %s (transport %s)", c.state, c.state.Mode())
		c.emitConnState()
	}
}

func (c *Coordinator) dialChannel() {
	c.epoch++
	e := c.epoch

	rt := c.cfg.newRealtime(c.cfg.ServerURL)
	c.rt = rt
	c.wireChannel(rt, e)

	squadID := ""
	if c.squad != nil {
		squadID = c.squad.ID
	}
	token := c.cfg.Auth.Token()

	go func() {
		if err := rt.Connect(token, squadID); err != nil {
			c.dispatch.do(func() {
				if e != c.epoch {
					return
				}
				logger.Debugf("realtime dial failed: %v", err)
				c.applyConn(EvChannelFailed)
			})
		}
	}()

	c.stopGraceTimer()
	c.graceTimer = time.AfterFunc(c.cfg.ConnectGrace, func() {
		c.dispatch.do(func() {
			if e != c.epoch {
				return
			}
			if c.state == StateConnecting || c.state == StateReconnecting {
				logger.Debugf("realtime dial exceeded grace period")
				c.applyConn(EvChannelFailed)
			}
		})
	})
}

func (c *Coordinator) wireChannel(rt realtimeChannel, e uint64) {
	rt.OnConnect(func() {
		c.dispatch.do(func() {
			if e != c.epoch {
				// A dial from a superseded lifecycle won the race; drop it
				// rather than adopt a second delivery path.
				_ = rt.Close()
				return
			}
			c.attempt = 0
			c.stopGraceTimer()
			c.applyConn(EvChannelUp)
		})
	})
	rt.OnDisconnect(func(reason string) {
		c.dispatch.do(func() {
			if e != c.epoch {
				return
			}
			if reason == realtime.ReasonServerDisconnect {
				c.applyConn(EvServerDisconnect)
			} else {
				c.applyConn(EvChannelDropped)
			}
		})
	})
	rt.OnConnectError(func(err error) {
		c.dispatch.do(func() {
			if e != c.epoch {
				return
			}
			logger.Debugf("realtime connect error: %v", err)
			c.applyConn(EvChannelFailed)
		})
	})

	rt.On(wire.EventMessage, func(payload any) {
		c.dispatch.do(func() {
			if e != c.epoch {
				return
			}
			var msg wire.Message
			if err := wire.DecodeEvent(payload, &msg); err != nil {
				logger.Warnf("bad message push: %v", err)
				return
			}
			c.observeMessage(msg)
		})
	})
	rt.On(wire.EventSquadJoined, func(payload any) {
		c.dispatch.do(func() {
			if e != c.epoch {
				return
			}
			var squad wire.Squad
			if err := wire.DecodeEvent(payload, &squad); err != nil {
				logger.Warnf("bad squad-joined push: %v", err)
				return
			}
			c.setSquad(&squad)
		})
	})
	rt.On(wire.EventMemberJoined, func(payload any) {
		c.dispatch.do(func() {
			if e != c.epoch {
				return
			}
			var event wire.MemberEvent
			if err := wire.DecodeEvent(payload, &event); err != nil {
				logger.Warnf("bad member-joined push: %v", err)
				return
			}
			c.memberJoined(event)
		})
	})
	rt.On(wire.EventMemberLeft, func(payload any) {
		c.dispatch.do(func() {
			if e != c.epoch {
				return
			}
			var event wire.MemberEvent
			if err := wire.DecodeEvent(payload, &event); err != nil {
				logger.Warnf("bad member-left push: %v", err)
				return
			}
			c.memberLeft(event)
		})
	})
	rt.On(wire.EventGameStateUpdate, func(payload any) {
		c.dispatch.do(func() {
			if e != c.epoch {
				return
			}
			var update wire.GameStateUpdate
			if err := wire.DecodeEvent(payload, &update); err != nil {
				logger.Warnf("bad game-state push: %v", err)
				return
			}
			c.gameStateReceived(update)
		})
	})
}

func (c *Coordinator) scheduleRetry() {
	if c.retryTimer != nil {
		return
	}
	delay := c.cfg.ReconnectBackoff << uint(c.attempt)
	e := c.epoch
	c.retryTimer = time.AfterFunc(delay, func() {
		c.dispatch.do(func() {
			c.retryTimer = nil
			if e != c.epoch || c.state != StateReconnecting {
				return
			}
			c.attempt++
			c.dialChannel()
		})
	})
}

func (c *Coordinator) dropChannel() {
	c.epoch++
	c.stopGraceTimer()
	if c.rt != nil {
		_ = c.rt.Close()
		c.rt = nil
	}
}

func (c *Coordinator) stopGraceTimer() {
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
}

func (c *Coordinator) stopTimers() {
	c.stopGraceTimer()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// ---- polling fallback (dispatch goroutine only) ----

func (c *Coordinator) startPolling() {
	c.epoch++
	e := c.epoch

	c.poll.StartMessagePolling(wire.ScopeGlobal, "", c.cfg.MessagePollInterval,
		c.globalSeq.Load,
		func(messages []wire.Message) { c.pollMessagesResult(e, messages) },
		func(err error) { c.pollFailure(e, err) },
	)
	if c.squad != nil {
		c.startSquadPolling(e)
	}
}

// startSquadPolling starts the squad-scope loops. They are guarded by the
// membership epoch in addition to the transport epoch: squad changes
// restart only these loops, never the global one, so global delivery stays
// scope-independent.
func (c *Coordinator) startSquadPolling(e uint64) {
	se := c.squadEpoch
	squadID := c.squad.ID
	c.poll.StartMessagePolling(wire.ScopeSquad, squadID, c.cfg.MessagePollInterval,
		c.squadSeq.Load,
		func(messages []wire.Message) { c.pollSquadMessagesResult(e, se, messages) },
		func(err error) { c.pollSquadFailure(e, se, err) },
	)
	c.poll.StartSquadPolling(squadID, c.cfg.SnapshotPollInterval,
		func(squad wire.Squad) { c.pollSnapshotResult(e, se, squad) },
		func(err error) { c.pollSnapshotFailure(e, se, err) },
	)
}

func (c *Coordinator) pollMessagesResult(e uint64, messages []wire.Message) {
	c.dispatch.do(func() {
		if e != c.epoch {
			return
		}
		c.pollSucceeded()
		for _, msg := range messages {
			c.observeMessage(msg)
		}
	})
}

func (c *Coordinator) pollSquadMessagesResult(e, se uint64, messages []wire.Message) {
	c.dispatch.do(func() {
		if e != c.epoch || se != c.squadEpoch {
			return
		}
		c.pollSucceeded()
		for _, msg := range messages {
			c.observeMessage(msg)
		}
	})
}

func (c *Coordinator) pollSnapshotResult(e, se uint64, squad wire.Squad) {
	c.dispatch.do(func() {
		if e != c.epoch || se != c.squadEpoch {
			return
		}
		c.pollSucceeded()
		c.diffSquad(squad)
	})
}

func (c *Coordinator) pollFailure(e uint64, err error) {
	c.dispatch.do(func() {
		if e != c.epoch {
			return
		}
		c.pollFailed(err)
	})
}

func (c *Coordinator) pollSquadFailure(e, se uint64, err error) {
	c.dispatch.do(func() {
		if e != c.epoch || se != c.squadEpoch {
			return
		}
		c.pollFailed(err)
	})
}

func (c *Coordinator) pollSnapshotFailure(e, se uint64, err error) {
	c.dispatch.do(func() {
		if e != c.epoch || se != c.squadEpoch {
			return
		}
		if errors.Is(mapTransportError(err), ErrNotFound) {
			// The squad was dissolved, or we were removed, while polling.
			c.setSquad(nil)
			return
		}
		c.pollFailed(err)
	})
}

func (c *Coordinator) pollSucceeded() {
	c.pollErrs = 0
	if c.degraded {
		c.degraded = false
		c.emitConnState()
	}
}

func (c *Coordinator) pollFailed(err error) {
	c.pollErrs++
	if c.pollErrs >= pollFailureThreshold && !c.degraded {
		logger.Warnf("polling degraded after %d consecutive failures: %v", c.pollErrs, err)
		c.degraded = true
		c.emitConnState()
	}
}

// ---- message delivery (dispatch goroutine only) ----

func (c *Coordinator) scheduleDelivery(out wire.OutboundMessage, fallbackUsed bool) {
	e := c.epoch
	mode := c.state.Mode()
	rt := c.rt

	go func() {
		var stored wire.Message
		var err error
		if mode == TransportRealtime && rt != nil {
			stored, err = deliverRealtime(rt, out, c.cfg.AckTimeout)
		} else {
			// Polling and pre-connection sends go over REST directly.
			stored, err = c.poll.PostMessage(out)
		}
		c.dispatch.do(func() {
			c.finishDelivery(e, mode, out, stored, err, fallbackUsed)
		})
	}()
}

func (c *Coordinator) finishDelivery(e uint64, mode TransportMode, out wire.OutboundMessage, stored wire.Message, err error, fallbackUsed bool) {
	if c.closed {
		return
	}
	if err == nil {
		// A success is applied regardless of epoch; observe is idempotent
		// so a duplicate arrival over the new transport is harmless.
		c.observeMessage(stored)
		return
	}

	if e != c.epoch && !fallbackUsed {
		// The transport changed while the send was in flight; the failure
		// belongs to the superseded path. Re-deliver over the current one.
		logger.Debugf("re-delivering message %s after transport change", out.ID)
		c.scheduleDelivery(out, true)
		return
	}

	if mode == TransportRealtime && !fallbackUsed {
		// The alternate transport gets one shot before the message is
		// marked failed.
		logger.Debugf("realtime delivery of %s failed, falling back to REST: %v", out.ID, err)
		c.deliverViaRest(out)
		return
	}

	logger.Warnf("message delivery failed (%s): %v", out.ID, err)
	cached, changed := c.cache.markFailed(out.ID)
	if changed {
		c.emit(Event{Kind: KindMessageStatus, Message: cached})
	}
}

func (c *Coordinator) deliverViaRest(out wire.OutboundMessage) {
	e := c.epoch
	go func() {
		stored, err := c.poll.PostMessage(out)
		c.dispatch.do(func() {
			c.finishDelivery(e, TransportPolling, out, stored, err, true)
		})
	}()
}

func deliverRealtime(rt realtimeChannel, out wire.OutboundMessage, timeout time.Duration) (wire.Message, error) {
	ack, err := rt.EmitWithAck(wire.EventMessage, out, timeout)
	if err != nil {
		return wire.Message{}, err
	}
	if result, _ := ack["result"].(string); result != "success" {
		return wire.Message{}, ackError(ack)
	}
	var stored wire.Message
	if err := wire.DecodeEvent(ack["message"], &stored); err != nil {
		return wire.Message{}, fmt.Errorf("decode message ack: %w", err)
	}
	if stored.ID == "" {
		return wire.Message{}, fmt.Errorf("message ack missing message")
	}
	return stored, nil
}

// ---- state updates and fan-out (dispatch goroutine only) ----

func (c *Coordinator) observeMessage(msg wire.Message) {
	cached, isNew, statusChanged := c.cache.observe(msg)
	c.refreshWatermarks()
	if isNew {
		c.emit(Event{Kind: KindMessage, Message: cached})
	} else if statusChanged {
		c.emit(Event{Kind: KindMessageStatus, Message: cached})
	}
}

func (c *Coordinator) refreshWatermarks() {
	c.globalSeq.Store(c.cache.since(wire.ScopeGlobal))
	c.squadSeq.Store(c.cache.since(wire.ScopeSquad))
}

// setSquad replaces the squad roster and restarts squad-scope polling when
// the fallback is active. The squad-scope message cache is dropped with the
// old roster; the global scope and its poll loop are untouched.
func (c *Coordinator) setSquad(squad *wire.Squad) {
	if squad != nil && c.squad != nil && c.squad.ID == squad.ID {
		// Same squad re-announced (join ack and push race): refresh the
		// roster without resetting scope state.
		c.squad = squad
		c.emit(Event{Kind: KindPresence, Squad: c.squadCopy()})
		return
	}
	c.squadEpoch++
	c.squad = squad
	c.cache.dropScope(wire.ScopeSquad)
	c.squadSeq.Store(0)

	if c.state == StatePolling {
		c.poll.StopMessagePolling(wire.ScopeSquad)
		c.poll.StopSquadPolling()
		if squad != nil {
			c.startSquadPolling(c.epoch)
		}
	}
	c.emit(Event{Kind: KindPresence, Squad: c.squadCopy()})
}

func (c *Coordinator) squadCopy() *wire.Squad {
	if c.squad == nil {
		return nil
	}
	copied := *c.squad
	copied.Members = append([]wire.Member(nil), c.squad.Members...)
	return &copied
}

func (c *Coordinator) memberJoined(event wire.MemberEvent) {
	if c.squad == nil || c.squad.ID != event.SquadID {
		return
	}
	if wire.MemberIndex(c.squad.Members, event.Member.ID) < 0 {
		c.squad.Members = append(c.squad.Members, event.Member)
	}
	member := event.Member
	c.emit(Event{Kind: KindPresence, Squad: c.squadCopy(), Member: &member})
}

func (c *Coordinator) memberLeft(event wire.MemberEvent) {
	if c.squad == nil || c.squad.ID != event.SquadID {
		return
	}
	if event.Member.ID == c.cfg.Auth.CurrentUser().ID {
		c.setSquad(nil)
		return
	}
	if i := wire.MemberIndex(c.squad.Members, event.Member.ID); i >= 0 {
		c.squad.Members = append(c.squad.Members[:i], c.squad.Members[i+1:]...)
	}
	if event.LeaderID != "" {
		c.squad.LeaderID = event.LeaderID
	}
	member := event.Member
	c.emit(Event{Kind: KindPresence, Squad: c.squadCopy(), Member: &member, Left: true})
}

// diffSquad reconciles a polled snapshot against the local roster and emits
// presence events for the differences.
func (c *Coordinator) diffSquad(snapshot wire.Squad) {
	if c.squad == nil || c.squad.ID != snapshot.ID {
		return
	}

	known := make(map[string]wire.Member, len(c.squad.Members))
	for _, m := range c.squad.Members {
		known[m.ID] = m
	}
	current := make(map[string]bool, len(snapshot.Members))
	for _, m := range snapshot.Members {
		current[m.ID] = true
	}

	var joined []wire.Member
	for _, m := range snapshot.Members {
		if _, ok := known[m.ID]; !ok {
			joined = append(joined, m)
		}
	}
	var left []wire.Member
	for _, m := range c.squad.Members {
		if !current[m.ID] {
			left = append(left, m)
		}
	}

	selfID := c.cfg.Auth.CurrentUser().ID
	if !current[selfID] {
		c.setSquad(nil)
		return
	}

	changed := len(joined) > 0 || len(left) > 0 ||
		c.squad.LeaderID != snapshot.LeaderID ||
		readyChanged(c.squad.Members, snapshot.Members)

	c.squad = &snapshot
	if !changed {
		return
	}
	for i := range joined {
		c.emit(Event{Kind: KindPresence, Squad: c.squadCopy(), Member: &joined[i]})
	}
	for i := range left {
		c.emit(Event{Kind: KindPresence, Squad: c.squadCopy(), Member: &left[i], Left: true})
	}
	if len(joined) == 0 && len(left) == 0 {
		c.emit(Event{Kind: KindPresence, Squad: c.squadCopy()})
	}
}

func readyChanged(a, b []wire.Member) bool {
	ready := make(map[string]bool, len(a))
	for _, m := range a {
		ready[m.ID] = m.Ready
	}
	for _, m := range b {
		if ready[m.ID] != m.Ready {
			return true
		}
	}
	return false
}

func (c *Coordinator) gameStateReceived(update wire.GameStateUpdate) {
	if update.Kind == wire.KindReadyStatus && update.Ready != nil && c.squad != nil {
		if i := wire.MemberIndex(c.squad.Members, update.SenderID); i >= 0 {
			c.squad.Members[i].Ready = update.Ready.Ready
		}
	}
	copied := update
	c.emit(Event{Kind: KindGameState, GameState: &copied})
}

func (c *Coordinator) emitConnState() {
	c.emit(Event{
		Kind:      KindConnectionState,
		State:     c.state,
		Transport: c.state.Mode(),
		Degraded:  c.degraded,
	})
}

// emit fans an event out to matching subscribers on the callback goroutine,
// preserving registration order and isolating panics per handler.
func (c *Coordinator) emit(ev Event) {
	var handlers []func(Event)
	for _, sub := range c.subs {
		if sub.kind == ev.Kind {
			handlers = append(handlers, sub.fn)
		}
	}
	if len(handlers) == 0 {
		return
	}
	_ = c.callbacks.do(func() {
		for _, fn := range handlers {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("subscriber panic (%s): %v", ev.Kind, r)
					}
				}()
				fn(ev)
			}()
		}
	})
}

// ---- error mapping ----

func decodeSquadAck(ack map[string]any) (wire.Squad, error) {
	var decoded wire.SquadAck
	if err := wire.DecodeEvent(ack, &decoded); err != nil {
		return wire.Squad{}, fmt.Errorf("decode squad ack: %w", err)
	}
	if decoded.Result != "success" {
		return wire.Squad{}, codeError(decoded.Code)
	}
	if decoded.Squad == nil {
		return wire.Squad{}, ErrServerError
	}
	return *decoded.Squad, nil
}

func decodeResultAck(ack map[string]any) error {
	var decoded wire.ResultAck
	if err := wire.DecodeEvent(ack, &decoded); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if decoded.Result != "success" {
		return codeError(decoded.Code)
	}
	return nil
}

func ackError(ack map[string]any) error {
	code, _ := ack["code"].(string)
	return codeError(code)
}

func codeError(code string) error {
	switch code {
	case wire.CodeAuthRequired:
		return ErrAuthRequired
	case wire.CodeNotFound:
		return ErrNotFound
	case wire.CodeFull:
		return ErrFull
	default:
		return ErrServerError
	}
}

// mapTransportError maps HTTP-level failures onto the coordinator's error
// taxonomy.
func mapTransportError(err error) error {
	if err == nil {
		return nil
	}
	var statusErr *polling.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 401, 403:
			return ErrAuthRequired
		case 404:
			return ErrNotFound
		case 409:
			return ErrFull
		default:
			return ErrServerError
		}
	}
	return ErrTransportUnavailable
}
