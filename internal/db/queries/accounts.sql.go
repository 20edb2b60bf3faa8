package queries

import (
	"context"
	"database/sql"
)

const insertAccount = `
INSERT INTO accounts (username, created_at) VALUES (?, ?)
`

type InsertAccountParams struct {
	Username  string
	CreatedAt int64
}

// InsertAccount stores a new account.
func (q *Queries) InsertAccount(ctx context.Context,
	arg InsertAccountParams) error {

	_, err := q.db.ExecContext(ctx, insertAccount, arg.Username,
		arg.CreatedAt)

	return err
}

const getAccount = `
SELECT username, created_at FROM accounts WHERE username = ?
`

// GetAccount returns the account with the given user ID.
func (q *Queries) GetAccount(ctx context.Context,
	username string) (Account, error) {

	var a Account
	err := q.db.QueryRowContext(ctx, getAccount, username).Scan(
		&a.Username, &a.CreatedAt,
	)

	return a, err
}

// The position is allocated in the same statement so that addresses keep
// their insertion order.
const insertAddress = `
INSERT INTO addresses (id, username, display_name, email, position)
VALUES (
    ?1, ?2, ?3, ?4,
    (SELECT COALESCE(MAX(position), -1) + 1 FROM addresses
     WHERE username = ?2)
)
RETURNING id, username, display_name, email, position
`

type InsertAddressParams struct {
	ID          string
	Username    string
	DisplayName sql.NullString
	Email       string
}

// InsertAddress adds an address to an account.
func (q *Queries) InsertAddress(ctx context.Context,
	arg InsertAddressParams) (Address, error) {

	var a Address
	err := q.db.QueryRowContext(
		ctx, insertAddress, arg.ID, arg.Username, arg.DisplayName,
		arg.Email,
	).Scan(&a.ID, &a.Username, &a.DisplayName, &a.Email, &a.Position)

	return a, err
}

const listAddresses = `
SELECT id, username, display_name, email, position
FROM addresses
WHERE username = ?
ORDER BY position
`

// ListAddresses returns the addresses of an account.
func (q *Queries) ListAddresses(ctx context.Context,
	username string) ([]Address, error) {

	rows, err := q.db.QueryContext(ctx, listAddresses, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Address
	for rows.Next() {
		var a Address
		err := rows.Scan(
			&a.ID, &a.Username, &a.DisplayName, &a.Email,
			&a.Position,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}

	return items, rows.Err()
}

const getSessionUser = `
SELECT username FROM session_state WHERE id = 1
`

// GetSessionUser returns sql.ErrNoRows if no login ever happened.
func (q *Queries) GetSessionUser(ctx context.Context) (sql.NullString,
	error) {

	var username sql.NullString
	err := q.db.QueryRowContext(ctx, getSessionUser).Scan(&username)

	return username, err
}

const setSessionUser = `
INSERT INTO session_state (id, username, updated_at) VALUES (1, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    username = excluded.username,
    updated_at = excluded.updated_at
`

type SetSessionUserParams struct {
	Username  sql.NullString
	UpdatedAt int64
}

// SetSessionUser stores the logged in user, NULL meaning logged out.
func (q *Queries) SetSessionUser(ctx context.Context,
	arg SetSessionUserParams) error {

	_, err := q.db.ExecContext(ctx, setSessionUser, arg.Username,
		arg.UpdatedAt)

	return err
}
