package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/staryskies/explo/wire"
)

// CreateSquad inserts a squad row plus its leader membership atomically.
func (q *Queries) CreateSquad(ctx context.Context, squad wire.Squad) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create squad: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO squads (id, join_code, leader_id, created_at) VALUES (?, ?, ?, ?)`,
		squad.ID, squad.JoinCode, squad.LeaderID, squad.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert squad: %w", err)
	}
	for _, m := range squad.Members {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO squad_members (squad_id, account_id, display_name, joined_at, ready)
			 VALUES (?, ?, ?, ?, ?)`,
			squad.ID, m.ID, m.DisplayName, m.JoinedAt, m.Ready)
		if err != nil {
			return fmt.Errorf("insert squad member: %w", err)
		}
	}
	return tx.Commit()
}

// GetSquadByID returns an active squad with its members in join order.
func (q *Queries) GetSquadByID(ctx context.Context, id string) (wire.Squad, error) {
	return q.getSquad(ctx, `SELECT id, join_code, leader_id, created_at
		FROM squads WHERE id = ? AND dissolved_at IS NULL`, id)
}

// GetSquadByJoinCode returns an active squad by join code.
func (q *Queries) GetSquadByJoinCode(ctx context.Context, code string) (wire.Squad, error) {
	return q.getSquad(ctx, `SELECT id, join_code, leader_id, created_at
		FROM squads WHERE join_code = ? AND dissolved_at IS NULL`, code)
}

// GetSquadForMember returns the active squad the account belongs to, if any.
func (q *Queries) GetSquadForMember(ctx context.Context, accountID string) (wire.Squad, error) {
	return q.getSquad(ctx, `SELECT s.id, s.join_code, s.leader_id, s.created_at
		FROM squads s
		JOIN squad_members m ON m.squad_id = s.id
		WHERE m.account_id = ? AND s.dissolved_at IS NULL`, accountID)
}

func (q *Queries) getSquad(ctx context.Context, query string, arg any) (wire.Squad, error) {
	var s wire.Squad
	err := q.db.QueryRowContext(ctx, query, arg).
		Scan(&s.ID, &s.JoinCode, &s.LeaderID, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return wire.Squad{}, ErrNotFound
	}
	if err != nil {
		return wire.Squad{}, fmt.Errorf("get squad: %w", err)
	}
	members, err := q.ListMembers(ctx, s.ID)
	if err != nil {
		return wire.Squad{}, err
	}
	s.Members = members
	return s, nil
}

// ListMembers returns squad members in join order.
func (q *Queries) ListMembers(ctx context.Context, squadID string) ([]wire.Member, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT account_id, display_name, joined_at, ready
		 FROM squad_members WHERE squad_id = ? ORDER BY joined_at, account_id`, squadID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []wire.Member
	for rows.Next() {
		var m wire.Member
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.JoinedAt, &m.Ready); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddMember inserts a membership row.
func (q *Queries) AddMember(ctx context.Context, squadID string, m wire.Member) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO squad_members (squad_id, account_id, display_name, joined_at, ready)
		 VALUES (?, ?, ?, ?, ?)`,
		squadID, m.ID, m.DisplayName, m.JoinedAt, m.Ready)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership row.
func (q *Queries) RemoveMember(ctx context.Context, squadID, accountID string) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM squad_members WHERE squad_id = ? AND account_id = ?`,
		squadID, accountID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// CountMembers returns the member count for a squad.
func (q *Queries) CountMembers(ctx context.Context, squadID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM squad_members WHERE squad_id = ?`, squadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return count, nil
}

// SetMemberReady updates a member's ready flag.
func (q *Queries) SetMemberReady(ctx context.Context, squadID, accountID string, ready bool) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE squad_members SET ready = ? WHERE squad_id = ? AND account_id = ?`,
		ready, squadID, accountID)
	if err != nil {
		return fmt.Errorf("set member ready: %w", err)
	}
	return nil
}

// SetLeader transfers squad leadership.
func (q *Queries) SetLeader(ctx context.Context, squadID, accountID string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE squads SET leader_id = ? WHERE id = ?`, accountID, squadID)
	if err != nil {
		return fmt.Errorf("set leader: %w", err)
	}
	return nil
}

// DissolveSquad marks a squad dissolved.
func (q *Queries) DissolveSquad(ctx context.Context, squadID string, at int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE squads SET dissolved_at = ? WHERE id = ?`, at, squadID)
	if err != nil {
		return fmt.Errorf("dissolve squad: %w", err)
	}
	return nil
}
