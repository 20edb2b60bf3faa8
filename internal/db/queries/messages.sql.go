package queries

import (
	"context"
	"database/sql"
)

const messageColumns = `
db_id, message_id, address_id, subject, body, parent_id, created_at,
updated_at
`

// scanMessage reads the columns of messageColumns.
func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(
		&m.DbID, &m.MessageID, &m.AddressID, &m.Subject, &m.Body,
		&m.ParentID, &m.CreatedAt, &m.UpdatedAt,
	)

	return m, err
}

const insertMessage = `
INSERT INTO messages (
    message_id, address_id, subject, body, parent_id, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING db_id
`

type InsertMessageParams struct {
	MessageID string
	AddressID sql.NullString
	Subject   string
	Body      sql.NullString
	ParentID  sql.NullString
	Now       int64
}

// InsertMessage stores a message and returns its row ID.
func (q *Queries) InsertMessage(ctx context.Context,
	arg InsertMessageParams) (int64, error) {

	var id int64
	err := q.db.QueryRowContext(
		ctx, insertMessage, arg.MessageID, arg.AddressID, arg.Subject,
		arg.Body, arg.ParentID, arg.Now, arg.Now,
	).Scan(&id)

	return id, err
}

const updateMessage = `
UPDATE messages SET
    message_id = ?, address_id = ?, subject = ?, body = ?, parent_id = ?,
    updated_at = ?
WHERE db_id = ?
`

type UpdateMessageParams struct {
	DbID      int64
	MessageID string
	AddressID sql.NullString
	Subject   string
	Body      sql.NullString
	ParentID  sql.NullString
	UpdatedAt int64
}

// UpdateMessage returns the number of rows changed.
func (q *Queries) UpdateMessage(ctx context.Context,
	arg UpdateMessageParams) (int64, error) {

	res, err := q.db.ExecContext(
		ctx, updateMessage, arg.MessageID, arg.AddressID, arg.Subject,
		arg.Body, arg.ParentID, arg.UpdatedAt, arg.DbID,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

const getMessage = `SELECT ` + messageColumns + ` FROM messages WHERE db_id = ?`

// GetMessage returns the message with the given row ID.
func (q *Queries) GetMessage(ctx context.Context, dbID int64) (Message,
	error) {

	return scanMessage(q.db.QueryRowContext(ctx, getMessage, dbID))
}

const listMessages = `
SELECT ` + messageColumns + `
FROM messages
ORDER BY db_id DESC
LIMIT ? OFFSET ?
`

type ListMessagesParams struct {
	Limit  int64
	Offset int64
}

// ListMessages returns the newest messages first.
func (q *Queries) ListMessages(ctx context.Context,
	arg ListMessagesParams) ([]Message, error) {

	rows, err := q.db.QueryContext(ctx, listMessages, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}

	return items, rows.Err()
}
