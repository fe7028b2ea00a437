package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Account is one player account row.
type Account struct {
	ID           string
	DisplayName  string
	PasswordHash string
	Guest        bool
	CreatedAt    int64
}

// Queries is the hand-written query layer over the sqlite database.
type Queries struct {
	db *sql.DB
}

// New creates a query layer bound to db.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// CreateAccount inserts a new account row.
func (q *Queries) CreateAccount(ctx context.Context, a Account) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (id, display_name, password_hash, guest, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.DisplayName, a.PasswordHash, a.Guest, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccountByName returns a registered (non-guest) account by display name.
func (q *Queries) GetAccountByName(ctx context.Context, name string) (Account, error) {
	var a Account
	err := q.db.QueryRowContext(ctx,
		`SELECT id, display_name, password_hash, guest, created_at
		 FROM accounts WHERE display_name = ? AND guest = 0`, name).
		Scan(&a.ID, &a.DisplayName, &a.PasswordHash, &a.Guest, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountByID returns an account by id.
func (q *Queries) GetAccountByID(ctx context.Context, id string) (Account, error) {
	var a Account
	err := q.db.QueryRowContext(ctx,
		`SELECT id, display_name, password_hash, guest, created_at
		 FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.DisplayName, &a.PasswordHash, &a.Guest, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}
