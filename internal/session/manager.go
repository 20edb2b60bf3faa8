// Package session tracks the logged in user and streams authentication
// changes to interested parties.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/notify"
	"github.com/roasbeef/draftsync/internal/store"
)

var (
	// ErrNotLoggedIn is returned when an operation needs a logged in user.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrUnknownAccount is returned when logging in to, or resolving, an
	// account that does not exist.
	ErrUnknownAccount = errors.New("unknown account")
)

// Manager owns the logged in user. The user survives restarts through the
// account store.
type Manager struct {
	accounts store.AccountStore
	hub      HubRef
	now      func() time.Time

	mu      sync.Mutex
	current fn.Option[string]
}

// NewManager creates a manager and restores the persisted user.
func NewManager(ctx context.Context, accounts store.AccountStore,
	hub HubRef) (*Manager, error) {

	current, err := accounts.SessionUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session user: %w", err)
	}

	current.WhenSome(func(user string) {
		log.InfoS(ctx, "Restored session", "username", user)
	})

	return &Manager{
		accounts: accounts,
		hub:      hub,
		now:      time.Now,
		current:  current,
	}, nil
}

// Login makes username the current user. Logging in as another user first
// logs the previous one out. Logging in again as the current user is a
// no-op.
func (m *Manager) Login(ctx context.Context, username string) error {
	account, err := m.accounts.GetAccount(ctx, username)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if account.IsNone() {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, username)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.current.UnwrapOr("")
	if previous == username {
		return nil
	}

	err = m.accounts.SetSessionUser(ctx, fn.Some(username))
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	m.current = fn.Some(username)

	if previous != "" {
		m.publish(ctx, LoggedOut, previous)
	}
	m.publish(ctx, LoggedIn, username)

	log.InfoS(ctx, "User logged in", "username", username)

	return nil
}

// Logout clears the current user.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.IsNone() {
		return ErrNotLoggedIn
	}
	username := m.current.UnwrapOr("")

	err := m.accounts.SetSessionUser(ctx, fn.None[string]())
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	m.current = fn.None[string]()

	m.publish(ctx, LoggedOut, username)

	log.InfoS(ctx, "User logged out", "username", username)

	return nil
}

// CurrentUsername returns the logged in username, if any.
func (m *Manager) CurrentUsername() fn.Option[string] {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// CurrentUser returns the logged in account with its addresses.
func (m *Manager) CurrentUser(ctx context.Context) (store.Account, error) {
	username := m.CurrentUsername()
	if username.IsNone() {
		return store.Account{}, ErrNotLoggedIn
	}
	name := username.UnwrapOr("")

	account, err := m.accounts.GetAccount(ctx, name)
	if err != nil {
		return store.Account{}, fmt.Errorf("get account: %w", err)
	}

	if account.IsNone() {
		return store.Account{}, fmt.Errorf("%w: %s", ErrUnknownAccount,
			name)
	}

	return account.UnsafeFromSome(), nil
}

// Subscribe opens a raw subscription to auth events. Most callers want a
// Scope instead.
func (m *Manager) Subscribe(
	ctx context.Context) (*notify.Subscription[string, AuthEvent], error) {

	return notify.Subscribe[string, AuthEvent](ctx, m.hub, authTopic, nil)
}

// publish must be called with mu held so that events keep the order of the
// changes they describe.
func (m *Manager) publish(ctx context.Context, kind EventKind,
	username string) {

	notify.Publish(ctx, m.hub, authTopic, AuthEvent{
		Kind:     kind,
		Username: username,
		At:       m.now(),
	})
}
