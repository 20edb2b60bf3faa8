package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/db"
	"github.com/roasbeef/draftsync/internal/db/queries"
)

// SqlStore implements Store on top of the SQLite database.
type SqlStore struct {
	db *db.TransactionExecutor[*queries.Queries]

	// now is swapped in tests.
	now func() time.Time
}

// NewSqlStore wraps a migrated database.
func NewSqlStore(sqlite *db.SqliteStore) *SqlStore {
	return &SqlStore{
		db:  sqlite.NewTxExecutor(),
		now: time.Now,
	}
}

// nullString maps the empty string to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// optionToNull maps None to NULL.
func optionToNull(o fn.Option[string]) sql.NullString {
	return nullString(o.UnwrapOr(""))
}

// nullToOption maps NULL to None.
func nullToOption(s sql.NullString) fn.Option[string] {
	if !s.Valid {
		return fn.None[string]()
	}

	return fn.Some(s.String)
}

// toMillis converts t to the unix milliseconds stored in the database.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// fromMillis is the inverse of toMillis.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// messageFromRow converts a database row to a Message.
func messageFromRow(m queries.Message) Message {
	return Message{
		DBID:      m.DbID,
		MessageID: m.MessageID,
		AddressID: m.AddressID.String,
		Subject:   m.Subject,
		Body:      m.Body.String,
		ParentID:  nullToOption(m.ParentID),
		CreatedAt: fromMillis(m.CreatedAt),
		UpdatedAt: fromMillis(m.UpdatedAt),
	}
}

// addressFromRow converts a database row to an Address.
func addressFromRow(a queries.Address) Address {
	return Address{
		ID:          a.ID,
		DisplayName: nullToOption(a.DisplayName),
		Email:       a.Email,
	}
}

// workItemFromRow converts a database row to a WorkItem.
func workItemFromRow(w queries.WorkItem) WorkItem {
	return WorkItem{
		ID:              w.ID,
		Kind:            w.Kind,
		Input:           w.Input,
		RequiresNetwork: w.RequiresNetwork,
		State:           WorkState(w.State),
		Output:          w.Output,
		Attempts:        int(w.Attempts),
		MaxAttempts:     int(w.MaxAttempts),
		InitialBackoff: time.Duration(w.InitialBackoffMs) *
			time.Millisecond,
		LastError: w.LastError.String,
		CreatedAt: fromMillis(w.CreatedAt),
		UpdatedAt: fromMillis(w.UpdatedAt),
		NextRunAt: fromMillis(w.NextRunAt),
	}
}

// workItemsFromRows converts a slice of database rows.
func workItemsFromRows(rows []queries.WorkItem) []WorkItem {
	items := make([]WorkItem, len(rows))
	for i, r := range rows {
		items[i] = workItemFromRow(r)
	}

	return items
}

// SaveMessage inserts or updates msg.
func (s *SqlStore) SaveMessage(ctx context.Context,
	msg Message) (Message, error) {

	now := s.now()

	var saved queries.Message
	err := s.db.ExecTx(ctx, db.WriteTxOption(), func(q *queries.Queries) error {
		dbID := msg.DBID
		if dbID == 0 {
			id, err := q.InsertMessage(ctx, queries.InsertMessageParams{
				MessageID: msg.MessageID,
				AddressID: nullString(msg.AddressID),
				Subject:   msg.Subject,
				Body:      nullString(msg.Body),
				ParentID:  optionToNull(msg.ParentID),
				Now:       toMillis(now),
			})
			if err != nil {
				return err
			}
			dbID = id
		} else {
			n, err := q.UpdateMessage(ctx, queries.UpdateMessageParams{
				DbID:      dbID,
				MessageID: msg.MessageID,
				AddressID: nullString(msg.AddressID),
				Subject:   msg.Subject,
				Body:      nullString(msg.Body),
				ParentID:  optionToNull(msg.ParentID),
				UpdatedAt: toMillis(now),
			})
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("message %d: %w", dbID,
					ErrNotFound)
			}
		}

		var err error
		saved, err = q.GetMessage(ctx, dbID)

		return err
	})
	switch {
	case db.IsUniqueViolation(err):
		return Message{}, fmt.Errorf("message %q: %w", msg.MessageID,
			ErrAlreadyExists)

	case err != nil:
		return Message{}, fmt.Errorf("failed to save message: %w", err)
	}

	return messageFromRow(saved), nil
}

// FindMessageByDBID returns the message with the given local ID, if any.
func (s *SqlStore) FindMessageByDBID(ctx context.Context,
	dbID int64) (fn.Option[Message], error) {

	m, err := s.db.GetMessage(ctx, dbID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fn.None[Message](), nil

	case err != nil:
		return fn.None[Message](), fmt.Errorf("failed to get "+
			"message %d: %w", dbID, db.MapSQLError(err))
	}

	return fn.Some(messageFromRow(m)), nil
}

// ListMessages returns messages, newest first.
func (s *SqlStore) ListMessages(ctx context.Context, limit,
	offset int) ([]Message, error) {

	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.ListMessages(ctx, queries.ListMessagesParams{
		Limit:  int64(limit),
		Offset: int64(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs := make([]Message, len(rows))
	for i, r := range rows {
		msgs[i] = messageFromRow(r)
	}

	return msgs, nil
}

// CreateAccount adds an account without addresses.
func (s *SqlStore) CreateAccount(ctx context.Context,
	username string) (Account, error) {

	now := s.now()
	err := s.db.InsertAccount(ctx, queries.InsertAccountParams{
		Username:  username,
		CreatedAt: toMillis(now),
	})
	err = db.MapSQLError(err)
	switch {
	case db.IsUniqueViolation(err):
		return Account{}, fmt.Errorf("account %q: %w", username,
			ErrAlreadyExists)

	case err != nil:
		return Account{}, fmt.Errorf("failed to create account: %w",
			err)
	}

	return Account{
		Username:  username,
		CreatedAt: fromMillis(toMillis(now)),
	}, nil
}

// AddAddress appends addr to the account's address list.
func (s *SqlStore) AddAddress(ctx context.Context, username string,
	addr Address) (Address, error) {

	row, err := s.db.InsertAddress(ctx, queries.InsertAddressParams{
		ID:          addr.ID,
		Username:    username,
		DisplayName: optionToNull(addr.DisplayName),
		Email:       addr.Email,
	})
	err = db.MapSQLError(err)
	switch {
	case db.IsForeignKeyViolation(err):
		return Address{}, fmt.Errorf("account %q: %w", username,
			ErrNotFound)

	case db.IsUniqueViolation(err):
		return Address{}, fmt.Errorf("address %q: %w", addr.ID,
			ErrAlreadyExists)

	case err != nil:
		return Address{}, fmt.Errorf("failed to add address: %w", err)
	}

	return addressFromRow(row), nil
}

// GetAccount returns the account with its addresses, if it exists.
func (s *SqlStore) GetAccount(ctx context.Context,
	username string) (fn.Option[Account], error) {

	var (
		account Account
		found   bool
	)
	err := s.db.ExecTx(ctx, db.ReadTxOption(), func(q *queries.Queries) error {
		row, err := q.GetAccount(ctx, username)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		addrs, err := q.ListAddresses(ctx, username)
		if err != nil {
			return err
		}

		found = true
		account = Account{
			Username:  row.Username,
			CreatedAt: fromMillis(row.CreatedAt),
			Addresses: make([]Address, len(addrs)),
		}
		for i, a := range addrs {
			account.Addresses[i] = addressFromRow(a)
		}

		return nil
	})
	if err != nil {
		return fn.None[Account](), fmt.Errorf("failed to get account "+
			"%q: %w", username, err)
	}
	if !found {
		return fn.None[Account](), nil
	}

	return fn.Some(account), nil
}

// SessionUser returns the persisted logged in username.
func (s *SqlStore) SessionUser(ctx context.Context) (fn.Option[string],
	error) {

	user, err := s.db.GetSessionUser(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fn.None[string](), nil

	case err != nil:
		return fn.None[string](), fmt.Errorf("failed to get session "+
			"user: %w", err)
	}

	return nullToOption(user), nil
}

// SetSessionUser persists the logged in username, or clears it.
func (s *SqlStore) SetSessionUser(ctx context.Context,
	username fn.Option[string]) error {

	err := s.db.SetSessionUser(ctx, queries.SetSessionUserParams{
		Username:  optionToNull(username),
		UpdatedAt: toMillis(s.now()),
	})
	err = db.MapSQLError(err)
	switch {
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("account %q: %w", username.UnwrapOr(""),
			ErrNotFound)

	case err != nil:
		return fmt.Errorf("failed to set session user: %w", err)
	}

	return nil
}

// InsertWorkItem stores a new item.
func (s *SqlStore) InsertWorkItem(ctx context.Context, item WorkItem) error {
	err := s.db.InsertWorkItem(ctx, queries.InsertWorkItemParams{
		ID:               item.ID,
		Kind:             item.Kind,
		Input:            item.Input,
		RequiresNetwork:  item.RequiresNetwork,
		State:            string(item.State),
		MaxAttempts:      int64(item.MaxAttempts),
		InitialBackoffMs: item.InitialBackoff.Milliseconds(),
		CreatedAt:        toMillis(item.CreatedAt),
		NextRunAt:        toMillis(item.NextRunAt),
	})
	err = db.MapSQLError(err)
	switch {
	case db.IsUniqueViolation(err):
		return fmt.Errorf("work item %s: %w", item.ID, ErrAlreadyExists)

	case err != nil:
		return fmt.Errorf("failed to insert work item: %w", err)
	}

	return nil
}

// GetWorkItem returns ErrNotFound for unknown IDs.
func (s *SqlStore) GetWorkItem(ctx context.Context, id string) (WorkItem,
	error) {

	row, err := s.db.GetWorkItem(ctx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return WorkItem{}, fmt.Errorf("work item %s: %w", id,
			ErrNotFound)

	case err != nil:
		return WorkItem{}, fmt.Errorf("failed to get work item: %w",
			db.MapSQLError(err))
	}

	return workItemFromRow(row), nil
}

// ListWorkItems returns items, newest first.
func (s *SqlStore) ListWorkItems(ctx context.Context,
	filter WorkFilter) ([]WorkItem, error) {

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.ListWorkItems(ctx, queries.ListWorkItemsParams{
		State: string(filter.State.UnwrapOr("")),
		Kind:  filter.Kind,
		Limit: int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}

	return workItemsFromRows(rows), nil
}

// UpdateWorkItem writes the mutable fields of item.
func (s *SqlStore) UpdateWorkItem(ctx context.Context, item WorkItem) error {
	return s.db.ExecTx(ctx, db.WriteTxOption(), func(q *queries.Queries) error {
		n, err := q.UpdateWorkItem(ctx, queries.UpdateWorkItemParams{
			ID:        item.ID,
			State:     string(item.State),
			Output:    item.Output,
			Attempts:  int64(item.Attempts),
			LastError: nullString(item.LastError),
			NextRunAt: toMillis(item.NextRunAt),
			UpdatedAt: toMillis(item.UpdatedAt),
		})
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}

		// Nothing changed: tell a missing row from a terminal one.
		_, err = q.GetWorkItem(ctx, item.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("work item %s: %w", item.ID,
				ErrNotFound)

		case err != nil:
			return err
		}

		return fmt.Errorf("work item %s: %w", item.ID,
			ErrWorkItemFinished)
	})
}

// ListDueWorkItems returns runnable items due by now, oldest first.
func (s *SqlStore) ListDueWorkItems(ctx context.Context, now time.Time,
	online bool, limit int) ([]WorkItem, error) {

	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.ListDueWorkItems(ctx, queries.ListDueWorkItemsParams{
		Now:    toMillis(now),
		Online: online,
		Limit:  int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list due work items: %w", err)
	}

	return workItemsFromRows(rows), nil
}

// ResetRunningWorkItems re-enqueues items left running.
func (s *SqlStore) ResetRunningWorkItems(ctx context.Context,
	now time.Time) (int, error) {

	n, err := s.db.ResetRunningWorkItems(ctx, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to reset running work items: %w",
			err)
	}

	return int(n), nil
}

// PruneWorkItems deletes old terminal items.
func (s *SqlStore) PruneWorkItems(ctx context.Context,
	before time.Time) (int, error) {

	n, err := s.db.DeleteFinishedWorkItems(ctx, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune work items: %w", err)
	}

	return int(n), nil
}

// CountWorkItems returns the number of items per state.
func (s *SqlStore) CountWorkItems(ctx context.Context) (map[WorkState]int,
	error) {

	rows, err := s.db.CountWorkItemsByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count work items: %w", err)
	}

	counts := make(map[WorkState]int, len(rows))
	for _, r := range rows {
		counts[WorkState(r.State)] = int(r.Count)
	}

	return counts, nil
}

var _ Store = (*SqlStore)(nil)
