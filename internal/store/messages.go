package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/staryskies/explo/wire"
)

// InsertMessage stores a message and returns it with the assigned seq.
//
// Inserts are idempotent on the sender-assigned message id: a replay (e.g.
// a fallback retry after an ambiguous transport failure) returns the
// already-stored row instead of duplicating it.
func (q *Queries) InsertMessage(ctx context.Context, msg wire.Message) (wire.Message, error) {
	var squadID any
	if msg.SquadID != "" {
		squadID = msg.SquadID
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO messages (id, scope, squad_id, sender_id, sender_name, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.Scope, squadID, msg.SenderID, msg.SenderName, msg.Body, msg.Timestamp)
	if err != nil {
		return wire.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return q.GetMessageByID(ctx, msg.ID)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return q.GetMessageByID(ctx, msg.ID)
	}
	msg.Seq = seq
	return msg, nil
}

// GetMessageByID returns a stored message by its sender-assigned id.
func (q *Queries) GetMessageByID(ctx context.Context, id string) (wire.Message, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT seq, id, scope, COALESCE(squad_id, ''), sender_id, sender_name, body, created_at
		 FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return wire.Message{}, ErrNotFound
	}
	return msg, err
}

// ListMessagesSince returns up to limit messages in a scope with seq greater
// than since, in seq order. A squadID of "" selects the global scope.
func (q *Queries) ListMessagesSince(ctx context.Context, scope wire.Scope, squadID string, since int64, limit int) ([]wire.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if squadID == "" {
		rows, err = q.db.QueryContext(ctx,
			`SELECT seq, id, scope, COALESCE(squad_id, ''), sender_id, sender_name, body, created_at
			 FROM messages WHERE scope = ? AND squad_id IS NULL AND seq > ?
			 ORDER BY seq LIMIT ?`, scope, since, limit)
	} else {
		rows, err = q.db.QueryContext(ctx,
			`SELECT seq, id, scope, COALESCE(squad_id, ''), sender_id, sender_name, body, created_at
			 FROM messages WHERE scope = ? AND squad_id = ? AND seq > ?
			 ORDER BY seq LIMIT ?`, scope, squadID, since, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []wire.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (wire.Message, error) {
	var msg wire.Message
	var scope string
	err := row.Scan(&msg.Seq, &msg.ID, &scope, &msg.SquadID,
		&msg.SenderID, &msg.SenderName, &msg.Body, &msg.Timestamp)
	if err != nil {
		return wire.Message{}, err
	}
	msg.Scope = wire.Scope(scope)
	return msg, nil
}
