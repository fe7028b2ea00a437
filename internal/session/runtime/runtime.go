// Package runtime owns server-side squad lifecycle: create/join/leave,
// leadership transfer, message ingest, and game-state broadcast. Both the
// REST handlers and the socket.io handlers delegate here so the two
// transports expose equivalent operations.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/staryskies/explo/internal/crypto"
	"github.com/staryskies/explo/internal/metrics"
	"github.com/staryskies/explo/internal/store"
	"github.com/staryskies/explo/pkg/logger"
	"github.com/staryskies/explo/wire"
)

// Runtime error taxonomy. REST and socket handlers map these to status
// codes and ack codes respectively.
var (
	// ErrNotFound means an invalid join code or a dissolved squad.
	ErrNotFound = errors.New("squad not found")
	// ErrFull means the squad is at capacity.
	ErrFull = errors.New("squad is full")
	// ErrNotMember means the caller does not belong to the target squad.
	ErrNotMember = errors.New("not a squad member")
)

// Store is the subset of queries the runtime needs.
type Store interface {
	CreateSquad(ctx context.Context, squad wire.Squad) error
	GetSquadByID(ctx context.Context, id string) (wire.Squad, error)
	GetSquadByJoinCode(ctx context.Context, code string) (wire.Squad, error)
	GetSquadForMember(ctx context.Context, accountID string) (wire.Squad, error)
	AddMember(ctx context.Context, squadID string, m wire.Member) error
	RemoveMember(ctx context.Context, squadID, accountID string) error
	CountMembers(ctx context.Context, squadID string) (int, error)
	SetMemberReady(ctx context.Context, squadID, accountID string, ready bool) error
	SetLeader(ctx context.Context, squadID, accountID string) error
	DissolveSquad(ctx context.Context, squadID string, at int64) error
	InsertMessage(ctx context.Context, msg wire.Message) (wire.Message, error)
	ListMessagesSince(ctx context.Context, scope wire.Scope, squadID string, since int64, limit int) ([]wire.Message, error)
}

// UpdateEmitter pushes events to connected realtime clients. Polling clients
// observe the same changes through snapshot/message polls.
type UpdateEmitter interface {
	// EmitToMembers emits to every socket owned by one of the given
	// accounts, except the socket identified by skipSocketID.
	EmitToMembers(accountIDs []string, event string, payload any, skipSocketID string)
	EmitToAccount(accountID, event string, payload any)
	EmitGlobal(event string, payload any, skipSocketID string)
}

func memberIDs(members []wire.Member) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids
}

// Manager coordinates squad state changes against the store and fans out
// realtime pushes.
type Manager struct {
	store    Store
	emitter  UpdateEmitter
	capacity int
	now      func() time.Time
	newCode  func() (string, error)
}

// NewManager creates a squad runtime manager.
func NewManager(s Store, emitter UpdateEmitter, capacity int) *Manager {
	if capacity < 1 {
		capacity = 4
	}
	return &Manager{
		store:    s,
		emitter:  emitter,
		capacity: capacity,
		now:      time.Now,
		newCode:  func() (string, error) { return crypto.NewJoinCode(6) },
	}
}

// SetClock overrides the clock. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Create makes a new squad led by the caller. A caller already in a squad
// leaves it first; the client adopts the new squad as current either way.
func (m *Manager) Create(ctx context.Context, accountID, displayName, skipSocketID string) (wire.Squad, error) {
	if err := m.leaveCurrent(ctx, accountID, skipSocketID); err != nil {
		return wire.Squad{}, err
	}

	code, err := m.newCode()
	if err != nil {
		return wire.Squad{}, fmt.Errorf("generate join code: %w", err)
	}

	now := m.now().UnixMilli()
	squad := wire.Squad{
		ID:       uuid.New().String(),
		JoinCode: code,
		LeaderID: accountID,
		Members: []wire.Member{{
			ID:          accountID,
			DisplayName: displayName,
			JoinedAt:    now,
		}},
		CreatedAt: now,
	}
	if err := m.store.CreateSquad(ctx, squad); err != nil {
		return wire.Squad{}, err
	}

	metrics.SquadsCreated.Inc()
	logger.Infof("squad %s created by %s (code %s)", squad.ID, accountID, code)
	return squad, nil
}

// Join adds the caller to the squad with the given join code.
func (m *Manager) Join(ctx context.Context, accountID, displayName, joinCode, skipSocketID string) (wire.Squad, error) {
	squad, err := m.store.GetSquadByJoinCode(ctx, joinCode)
	if errors.Is(err, store.ErrNotFound) {
		return wire.Squad{}, ErrNotFound
	}
	if err != nil {
		return wire.Squad{}, err
	}

	if wire.MemberIndex(squad.Members, accountID) >= 0 {
		// Rejoin of the same squad is idempotent.
		return squad, nil
	}
	if len(squad.Members) >= m.capacity {
		return wire.Squad{}, ErrFull
	}

	if err := m.leaveCurrent(ctx, accountID, skipSocketID); err != nil {
		return wire.Squad{}, err
	}

	member := wire.Member{
		ID:          accountID,
		DisplayName: displayName,
		JoinedAt:    m.now().UnixMilli(),
	}
	if err := m.store.AddMember(ctx, squad.ID, member); err != nil {
		return wire.Squad{}, err
	}
	existing := memberIDs(squad.Members)
	squad.Members = append(squad.Members, member)

	metrics.SquadJoins.Inc()
	if m.emitter != nil {
		m.emitter.EmitToMembers(existing, wire.EventMemberJoined, wire.MemberEvent{
			SquadID:  squad.ID,
			Member:   member,
			LeaderID: squad.LeaderID,
		}, skipSocketID)
		m.emitter.EmitToAccount(accountID, wire.EventSquadJoined, squad)
	}
	logger.Infof("member %s joined squad %s", accountID, squad.ID)
	return squad, nil
}

// Leave removes the caller from their current squad. A caller not in a
// squad is a no-op; the operation is idempotent.
func (m *Manager) Leave(ctx context.Context, accountID, skipSocketID string) error {
	return m.leaveCurrent(ctx, accountID, skipSocketID)
}

func (m *Manager) leaveCurrent(ctx context.Context, accountID, skipSocketID string) error {
	squad, err := m.store.GetSquadForMember(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.store.RemoveMember(ctx, squad.ID, accountID); err != nil {
		return err
	}

	remaining := make([]wire.Member, 0, len(squad.Members))
	var left wire.Member
	for _, member := range squad.Members {
		if member.ID == accountID {
			left = member
			continue
		}
		remaining = append(remaining, member)
	}

	now := m.now().UnixMilli()
	if len(remaining) == 0 {
		if err := m.store.DissolveSquad(ctx, squad.ID, now); err != nil {
			return err
		}
		logger.Infof("squad %s dissolved (last member left)", squad.ID)
		return nil
	}

	// Leadership transfers to the next member in join order.
	leaderID := squad.LeaderID
	if leaderID == accountID {
		leaderID = remaining[0].ID
		if err := m.store.SetLeader(ctx, squad.ID, leaderID); err != nil {
			return err
		}
		logger.Infof("squad %s leadership transferred to %s", squad.ID, leaderID)
	}

	if m.emitter != nil {
		m.emitter.EmitToMembers(memberIDs(remaining), wire.EventMemberLeft, wire.MemberEvent{
			SquadID:  squad.ID,
			Member:   left,
			LeaderID: leaderID,
		}, skipSocketID)
	}
	return nil
}

// Snapshot returns the caller's view of a squad, including members and
// readiness. It is the poll-session-state operation.
func (m *Manager) Snapshot(ctx context.Context, squadID, accountID string) (wire.Squad, error) {
	squad, err := m.store.GetSquadByID(ctx, squadID)
	if errors.Is(err, store.ErrNotFound) {
		return wire.Squad{}, ErrNotFound
	}
	if err != nil {
		return wire.Squad{}, err
	}
	if wire.MemberIndex(squad.Members, accountID) < 0 {
		return wire.Squad{}, ErrNotMember
	}
	return squad, nil
}

// IngestMessage validates, stores, and broadcasts a chat message. The
// returned message carries the server-assigned seq; its id is the
// sender-assigned id unchanged, which is the client dedup contract.
func (m *Manager) IngestMessage(ctx context.Context, accountID, displayName string, out wire.OutboundMessage, skipSocketID string) (wire.Message, error) {
	scope, err := wire.ParseScope(out.Scope)
	if err != nil {
		return wire.Message{}, err
	}
	if out.Body == "" {
		return wire.Message{}, fmt.Errorf("message body is required")
	}
	id := out.ID
	if id == "" {
		id = uuid.New().String()
	}

	msg := wire.Message{
		ID:         id,
		Scope:      scope,
		SenderID:   accountID,
		SenderName: displayName,
		Body:       out.Body,
		Timestamp:  m.now().UnixMilli(),
	}

	var squadMembers []string
	if scope == wire.ScopeSquad {
		squad, err := m.store.GetSquadForMember(ctx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return wire.Message{}, ErrNotMember
		}
		if err != nil {
			return wire.Message{}, err
		}
		if out.SquadID != "" && out.SquadID != squad.ID {
			return wire.Message{}, ErrNotMember
		}
		msg.SquadID = squad.ID
		squadMembers = memberIDs(squad.Members)
	}

	stored, err := m.store.InsertMessage(ctx, msg)
	if err != nil {
		return wire.Message{}, err
	}

	metrics.MessagesIngested.WithLabelValues(string(scope)).Inc()
	if m.emitter != nil {
		switch scope {
		case wire.ScopeSquad:
			m.emitter.EmitToMembers(squadMembers, wire.EventMessage, stored, skipSocketID)
		case wire.ScopeGlobal:
			m.emitter.EmitGlobal(wire.EventMessage, stored, skipSocketID)
		}
	}
	return stored, nil
}

// PollMessages returns messages in a scope after the given seq watermark.
func (m *Manager) PollMessages(ctx context.Context, accountID string, scope wire.Scope, squadID string, since int64, limit int) ([]wire.Message, error) {
	if scope == wire.ScopeSquad {
		squad, err := m.Snapshot(ctx, squadID, accountID)
		if err != nil {
			return nil, err
		}
		squadID = squad.ID
	} else {
		squadID = ""
	}
	return m.store.ListMessagesSince(ctx, scope, squadID, since, limit)
}

// GameState broadcasts a transient game-state update to the caller's squad.
// Ready-status updates additionally persist the member's ready flag so
// snapshot polls converge.
func (m *Manager) GameState(ctx context.Context, accountID, squadID string, update wire.GameStateUpdate, skipSocketID string) error {
	if err := update.Validate(); err != nil {
		return err
	}

	squad, err := m.Snapshot(ctx, squadID, accountID)
	if err != nil {
		return err
	}

	update.SenderID = accountID
	if update.Kind == wire.KindReadyStatus {
		if err := m.store.SetMemberReady(ctx, squad.ID, accountID, update.Ready.Ready); err != nil {
			return err
		}
	}
	if update.Kind == wire.KindGameStart && squad.LeaderID != accountID {
		return fmt.Errorf("only the squad leader can start the game")
	}

	metrics.GameStateUpdates.WithLabelValues(string(update.Kind)).Inc()
	if m.emitter != nil {
		m.emitter.EmitToMembers(memberIDs(squad.Members), wire.EventGameStateUpdate, update, skipSocketID)
	}
	return nil
}
