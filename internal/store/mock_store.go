package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// MockStore is an in-memory Store for tests. Errors can be injected per
// operation with FailNext.
type MockStore struct {
	mu sync.RWMutex

	messages        map[int64]Message
	messageIDs      map[string]int64
	accounts        map[string]Account
	addressOwners   map[string]string
	sessionUser     fn.Option[string]
	workItems       map[string]WorkItem
	nextMessageDBID int64

	// failures maps an operation name to the errors it returns next, in
	// order.
	failures map[string][]error

	now func() time.Time
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		messages:        make(map[int64]Message),
		messageIDs:      make(map[string]int64),
		accounts:        make(map[string]Account),
		addressOwners:   make(map[string]string),
		workItems:       make(map[string]WorkItem),
		failures:        make(map[string][]error),
		nextMessageDBID: 1,
		now:             time.Now,
	}
}

// FailNext makes the next call of the named operation, e.g.
// "FindMessageByDBID", return err. Repeated calls queue errors.
func (m *MockStore) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures[op] = append(m.failures[op], err)
}

// injected pops the next error queued for op. The caller holds mu.
func (m *MockStore) injected(op string) error {
	errs := m.failures[op]
	if len(errs) == 0 {
		return nil
	}

	m.failures[op] = errs[1:]

	return errs[0]
}

// SaveMessage inserts or updates msg.
func (m *MockStore) SaveMessage(_ context.Context,
	msg Message) (Message, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("SaveMessage"); err != nil {
		return Message{}, err
	}

	if owner, ok := m.messageIDs[msg.MessageID]; ok && owner != msg.DBID {
		return Message{}, fmt.Errorf("message %q: %w", msg.MessageID,
			ErrAlreadyExists)
	}

	now := m.now()
	if msg.DBID == 0 {
		msg.DBID = m.nextMessageDBID
		m.nextMessageDBID++
		msg.CreatedAt = now
	} else {
		existing, ok := m.messages[msg.DBID]
		if !ok {
			return Message{}, fmt.Errorf("message %d: %w", msg.DBID,
				ErrNotFound)
		}
		delete(m.messageIDs, existing.MessageID)
		msg.CreatedAt = existing.CreatedAt
	}
	msg.UpdatedAt = now

	m.messages[msg.DBID] = msg
	m.messageIDs[msg.MessageID] = msg.DBID

	return msg, nil
}

// FindMessageByDBID returns the message with the given local ID, if any.
func (m *MockStore) FindMessageByDBID(_ context.Context,
	dbID int64) (fn.Option[Message], error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("FindMessageByDBID"); err != nil {
		return fn.None[Message](), err
	}

	msg, ok := m.messages[dbID]
	if !ok {
		return fn.None[Message](), nil
	}

	return fn.Some(msg), nil
}

// ListMessages returns messages, newest first.
func (m *MockStore) ListMessages(_ context.Context, limit,
	offset int) ([]Message, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultListLimit
	}

	msgs := make([]Message, 0, len(m.messages))
	for _, msg := range m.messages {
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].DBID > msgs[j].DBID
	})

	if offset >= len(msgs) {
		return nil, nil
	}
	msgs = msgs[offset:]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}

	return msgs, nil
}

// CreateAccount adds an account without addresses.
func (m *MockStore) CreateAccount(_ context.Context,
	username string) (Account, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("CreateAccount"); err != nil {
		return Account{}, err
	}

	if _, ok := m.accounts[username]; ok {
		return Account{}, fmt.Errorf("account %q: %w", username,
			ErrAlreadyExists)
	}

	acct := Account{Username: username, CreatedAt: m.now()}
	m.accounts[username] = acct

	return acct, nil
}

// AddAddress appends addr to the account's address list.
func (m *MockStore) AddAddress(_ context.Context, username string,
	addr Address) (Address, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("AddAddress"); err != nil {
		return Address{}, err
	}

	acct, ok := m.accounts[username]
	if !ok {
		return Address{}, fmt.Errorf("account %q: %w", username,
			ErrNotFound)
	}
	if _, ok := m.addressOwners[addr.ID]; ok {
		return Address{}, fmt.Errorf("address %q: %w", addr.ID,
			ErrAlreadyExists)
	}

	acct.Addresses = append(slices.Clone(acct.Addresses), addr)
	m.accounts[username] = acct
	m.addressOwners[addr.ID] = username

	return addr, nil
}

// GetAccount returns the account with its addresses, if it exists.
func (m *MockStore) GetAccount(_ context.Context,
	username string) (fn.Option[Account], error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("GetAccount"); err != nil {
		return fn.None[Account](), err
	}

	acct, ok := m.accounts[username]
	if !ok {
		return fn.None[Account](), nil
	}
	acct.Addresses = slices.Clone(acct.Addresses)

	return fn.Some(acct), nil
}

// SessionUser returns the persisted logged in username.
func (m *MockStore) SessionUser(context.Context) (fn.Option[string], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("SessionUser"); err != nil {
		return fn.None[string](), err
	}

	return m.sessionUser, nil
}

// SetSessionUser persists the logged in username, or clears it.
func (m *MockStore) SetSessionUser(_ context.Context,
	username fn.Option[string]) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("SetSessionUser"); err != nil {
		return err
	}

	if name, ok := optionValue(username); ok {
		if _, exists := m.accounts[name]; !exists {
			return fmt.Errorf("account %q: %w", name, ErrNotFound)
		}
	}
	m.sessionUser = username

	return nil
}

// optionValue unpacks an option into the comma-ok form.
func optionValue[T any](o fn.Option[T]) (T, bool) {
	var zero T
	return o.UnwrapOr(zero), o.IsSome()
}

// InsertWorkItem stores a new item.
func (m *MockStore) InsertWorkItem(_ context.Context, item WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("InsertWorkItem"); err != nil {
		return err
	}

	if _, ok := m.workItems[item.ID]; ok {
		return fmt.Errorf("work item %s: %w", item.ID, ErrAlreadyExists)
	}

	item.UpdatedAt = item.CreatedAt
	item.Attempts = 0
	item.Output = nil
	item.LastError = ""
	m.workItems[item.ID] = item

	return nil
}

// GetWorkItem returns ErrNotFound for unknown IDs.
func (m *MockStore) GetWorkItem(_ context.Context, id string) (WorkItem,
	error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("GetWorkItem"); err != nil {
		return WorkItem{}, err
	}

	item, ok := m.workItems[id]
	if !ok {
		return WorkItem{}, fmt.Errorf("work item %s: %w", id,
			ErrNotFound)
	}

	return item, nil
}

// ListWorkItems returns items, newest first.
func (m *MockStore) ListWorkItems(_ context.Context,
	filter WorkFilter) ([]WorkItem, error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var items []WorkItem
	for _, item := range m.workItems {
		if state, ok := optionValue(filter.State); ok &&
			item.State != state {

			continue
		}
		if filter.Kind != "" && item.Kind != filter.Kind {
			continue
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

// UpdateWorkItem writes the mutable fields of item.
func (m *MockStore) UpdateWorkItem(_ context.Context, item WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("UpdateWorkItem"); err != nil {
		return err
	}

	stored, ok := m.workItems[item.ID]
	switch {
	case !ok:
		return fmt.Errorf("work item %s: %w", item.ID, ErrNotFound)

	case stored.State.IsTerminal():
		return fmt.Errorf("work item %s: %w", item.ID,
			ErrWorkItemFinished)
	}

	stored.State = item.State
	stored.Output = item.Output
	stored.Attempts = item.Attempts
	stored.LastError = item.LastError
	stored.NextRunAt = item.NextRunAt
	stored.UpdatedAt = item.UpdatedAt
	m.workItems[item.ID] = stored

	return nil
}

// ListDueWorkItems returns runnable items due by now, oldest first.
func (m *MockStore) ListDueWorkItems(_ context.Context, now time.Time,
	online bool, limit int) ([]WorkItem, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.injected("ListDueWorkItems"); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultListLimit
	}

	var items []WorkItem
	for _, item := range m.workItems {
		runnable := item.State == WorkEnqueued ||
			item.State == WorkBlocked
		if item.State == WorkBlocked && item.RequiresNetwork &&
			!online {

			runnable = false
		}
		if runnable && !item.NextRunAt.After(now) {
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.NextRunAt.Equal(b.NextRunAt) {
			return a.NextRunAt.Before(b.NextRunAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

// ResetRunningWorkItems re-enqueues items left running.
func (m *MockStore) ResetRunningWorkItems(_ context.Context,
	now time.Time) (int, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, item := range m.workItems {
		if item.State != WorkRunning {
			continue
		}

		item.State = WorkEnqueued
		item.NextRunAt = now
		item.UpdatedAt = now
		m.workItems[id] = item
		count++
	}

	return count, nil
}

// PruneWorkItems deletes old terminal items.
func (m *MockStore) PruneWorkItems(_ context.Context,
	before time.Time) (int, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for id, item := range m.workItems {
		if item.State.IsTerminal() && item.UpdatedAt.Before(before) {
			delete(m.workItems, id)
			count++
		}
	}

	return count, nil
}

// CountWorkItems returns the number of items per state.
func (m *MockStore) CountWorkItems(context.Context) (map[WorkState]int,
	error) {

	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[WorkState]int)
	for _, item := range m.workItems {
		counts[item.State]++
	}

	return counts, nil
}

var _ Store = (*MockStore)(nil)
