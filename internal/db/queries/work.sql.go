package queries

import (
	"context"
	"database/sql"
)

const workColumns = `
id, kind, input, requires_network, state, output, attempts, max_attempts,
initial_backoff_ms, last_error, created_at, updated_at, next_run_at
`

// scanWorkItem reads the columns of workColumns.
func scanWorkItem(row interface{ Scan(...any) error }) (WorkItem, error) {
	var w WorkItem
	err := row.Scan(
		&w.ID, &w.Kind, &w.Input, &w.RequiresNetwork, &w.State,
		&w.Output, &w.Attempts, &w.MaxAttempts, &w.InitialBackoffMs,
		&w.LastError, &w.CreatedAt, &w.UpdatedAt, &w.NextRunAt,
	)

	return w, err
}

// collectWorkItems scans and closes rows.
func collectWorkItems(rows *sql.Rows) ([]WorkItem, error) {
	defer rows.Close()

	var items []WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}

	return items, rows.Err()
}

const insertWorkItem = `
INSERT INTO work_items (
    id, kind, input, requires_network, state, attempts, max_attempts,
    initial_backoff_ms, created_at, updated_at, next_run_at
) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
`

type InsertWorkItemParams struct {
	ID               string
	Kind             string
	Input            []byte
	RequiresNetwork  bool
	State            string
	MaxAttempts      int64
	InitialBackoffMs int64
	CreatedAt        int64
	NextRunAt        int64
}

// InsertWorkItem stores a new work item.
func (q *Queries) InsertWorkItem(ctx context.Context,
	arg InsertWorkItemParams) error {

	_, err := q.db.ExecContext(
		ctx, insertWorkItem, arg.ID, arg.Kind, arg.Input,
		arg.RequiresNetwork, arg.State, arg.MaxAttempts,
		arg.InitialBackoffMs, arg.CreatedAt, arg.CreatedAt,
		arg.NextRunAt,
	)

	return err
}

const getWorkItem = `SELECT ` + workColumns + ` FROM work_items WHERE id = ?`

// GetWorkItem returns the work item with the given ID.
func (q *Queries) GetWorkItem(ctx context.Context, id string) (WorkItem,
	error) {

	return scanWorkItem(q.db.QueryRowContext(ctx, getWorkItem, id))
}

// Empty filters match everything.
const listWorkItems = `
SELECT ` + workColumns + `
FROM work_items
WHERE (?1 = '' OR state = ?1) AND (?2 = '' OR kind = ?2)
ORDER BY created_at DESC, id DESC
LIMIT ?3
`

type ListWorkItemsParams struct {
	State string
	Kind  string
	Limit int64
}

// ListWorkItems returns work items, newest first.
func (q *Queries) ListWorkItems(ctx context.Context,
	arg ListWorkItemsParams) ([]WorkItem, error) {

	rows, err := q.db.QueryContext(
		ctx, listWorkItems, arg.State, arg.Kind, arg.Limit,
	)
	if err != nil {
		return nil, err
	}

	return collectWorkItems(rows)
}

// Terminal rows are never touched again, which is what lets a cancel win
// over a late worker outcome.
const updateWorkItem = `
UPDATE work_items SET
    state = ?, output = ?, attempts = ?, last_error = ?, next_run_at = ?,
    updated_at = ?
WHERE id = ? AND state NOT IN ('succeeded', 'failed', 'cancelled')
`

type UpdateWorkItemParams struct {
	ID        string
	State     string
	Output    []byte
	Attempts  int64
	LastError sql.NullString
	NextRunAt int64
	UpdatedAt int64
}

// UpdateWorkItem returns the number of rows changed, zero when the item is
// unknown or already terminal.
func (q *Queries) UpdateWorkItem(ctx context.Context,
	arg UpdateWorkItemParams) (int64, error) {

	res, err := q.db.ExecContext(
		ctx, updateWorkItem, arg.State, arg.Output, arg.Attempts,
		arg.LastError, arg.NextRunAt, arg.UpdatedAt, arg.ID,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

const listDueWorkItems = `
SELECT ` + workColumns + `
FROM work_items
WHERE state IN ('enqueued', 'blocked') AND next_run_at <= ?
  AND (requires_network = 0 OR ? OR state = 'enqueued')
ORDER BY next_run_at, created_at, id
LIMIT ?
`

type ListDueWorkItemsParams struct {
	Now int64

	// Online includes blocked items that require the network. Enqueued
	// ones are always returned so that the caller can block them.
	Online bool

	Limit int64
}

// ListDueWorkItems returns the waiting items due by Now, oldest first.
func (q *Queries) ListDueWorkItems(ctx context.Context,
	arg ListDueWorkItemsParams) ([]WorkItem, error) {

	rows, err := q.db.QueryContext(
		ctx, listDueWorkItems, arg.Now, arg.Online, arg.Limit,
	)
	if err != nil {
		return nil, err
	}

	return collectWorkItems(rows)
}

const resetRunningWorkItems = `
UPDATE work_items SET state = 'enqueued', next_run_at = ?1, updated_at = ?1
WHERE state = 'running'
`

// ResetRunningWorkItems re-enqueues every running item.
func (q *Queries) ResetRunningWorkItems(ctx context.Context,
	now int64) (int64, error) {

	res, err := q.db.ExecContext(ctx, resetRunningWorkItems, now)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

const deleteFinishedWorkItems = `
DELETE FROM work_items
WHERE state IN ('succeeded', 'failed', 'cancelled') AND updated_at < ?
`

// DeleteFinishedWorkItems deletes terminal items updated before the
// cutoff.
func (q *Queries) DeleteFinishedWorkItems(ctx context.Context,
	before int64) (int64, error) {

	res, err := q.db.ExecContext(ctx, deleteFinishedWorkItems, before)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

const countWorkItemsByState = `
SELECT state, COUNT(*) FROM work_items GROUP BY state ORDER BY state
`

type StateCount struct {
	State string
	Count int64
}

// CountWorkItemsByState returns the number of items per state.
func (q *Queries) CountWorkItemsByState(ctx context.Context) ([]StateCount,
	error) {

	rows, err := q.db.QueryContext(ctx, countWorkItemsByState)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StateCount
	for rows.Next() {
		var c StateCount
		if err := rows.Scan(&c.State, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}
