package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/db"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// newSqlStore opens a migrated SQLite store in a temp dir.
func newSqlStore(t testing.TB, dir string) *SqlStore {
	t.Helper()

	sqlite, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: filepath.Join(dir, "store.db"),
	}, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return NewSqlStore(sqlite)
}

// storeImpls returns every Store implementation so that each test checks
// both against the same contract.
func storeImpls(t *testing.T) map[string]Store {
	return map[string]Store{
		"sql":  newSqlStore(t, t.TempDir()),
		"mock": NewMockStore(),
	}
}

func TestMessageSaveAndFind(t *testing.T) {
	t.Parallel()

	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			missing, err := s.FindMessageByDBID(ctx, 42)
			require.NoError(t, err)
			require.True(t, missing.IsNone())

			saved, err := s.SaveMessage(ctx, Message{
				MessageID: "local-1",
				AddressID: "addr-1",
				Subject:   "hi",
				Body:      "-----BEGIN PGP MESSAGE-----",
				ParentID:  fn.Some("abc123"),
			})
			require.NoError(t, err)
			require.Positive(t, saved.DBID)

			found, err := s.FindMessageByDBID(ctx, saved.DBID)
			require.NoError(t, err)
			msg := found.UnwrapOr(Message{})
			require.Equal(t, "local-1", msg.MessageID)
			require.Equal(t, "addr-1", msg.AddressID)
			require.Equal(t, fn.Some("abc123"), msg.ParentID)

			// Clearing the body and parent round trips as empty.
			msg.Body = ""
			msg.ParentID = fn.None[string]()
			_, err = s.SaveMessage(ctx, msg)
			require.NoError(t, err)

			found, err = s.FindMessageByDBID(ctx, saved.DBID)
			require.NoError(t, err)
			require.Empty(t, found.UnwrapOr(Message{}).Body)
			require.True(t, found.UnwrapOr(Message{}).ParentID.IsNone())

			_, err = s.SaveMessage(ctx, Message{MessageID: "local-1"})
			require.ErrorIs(t, err, ErrAlreadyExists)

			_, err = s.SaveMessage(ctx, Message{
				DBID: 999, MessageID: "ghost",
			})
			require.ErrorIs(t, err, ErrNotFound)

			list, err := s.ListMessages(ctx, 10, 0)
			require.NoError(t, err)
			require.Len(t, list, 1)
		})
	}
}

func TestAccountsAndSession(t *testing.T) {
	t.Parallel()

	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.CreateAccount(ctx, "alice")
			require.NoError(t, err)

			_, err = s.CreateAccount(ctx, "alice")
			require.ErrorIs(t, err, ErrAlreadyExists)

			_, err = s.AddAddress(ctx, "alice", Address{
				ID:          "addr-1",
				DisplayName: fn.Some("Alice"),
				Email:       "alice@example.com",
			})
			require.NoError(t, err)

			_, err = s.AddAddress(ctx, "alice", Address{
				ID: "addr-2", Email: "alice@work.example",
			})
			require.NoError(t, err)

			_, err = s.AddAddress(ctx, "bob", Address{
				ID: "addr-3", Email: "bob@example.com",
			})
			require.ErrorIs(t, err, ErrNotFound)

			acct, err := s.GetAccount(ctx, "alice")
			require.NoError(t, err)
			require.True(t, acct.IsSome())

			a := acct.UnwrapOr(Account{})
			require.Len(t, a.Addresses, 2)
			require.Equal(t, "addr-1", a.Addresses[0].ID)
			require.True(t, a.Addresses[1].DisplayName.IsNone())

			addr := a.FindAddressByID("addr-2")
			require.True(t, addr.IsSome())
			require.True(t, a.FindAddressByID("nope").IsNone())

			none, err := s.GetAccount(ctx, "bob")
			require.NoError(t, err)
			require.True(t, none.IsNone())

			user, err := s.SessionUser(ctx)
			require.NoError(t, err)
			require.True(t, user.IsNone())

			require.NoError(t, s.SetSessionUser(ctx, fn.Some("alice")))
			user, err = s.SessionUser(ctx)
			require.NoError(t, err)
			require.Equal(t, fn.Some("alice"), user)

			err = s.SetSessionUser(ctx, fn.Some("bob"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.SetSessionUser(
				ctx, fn.None[string](),
			))
			user, err = s.SessionUser(ctx)
			require.NoError(t, err)
			require.True(t, user.IsNone())
		})
	}
}

func TestWorkItems(t *testing.T) {
	t.Parallel()

	base := time.UnixMilli(1_700_000_000_000)

	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for i, id := range []string{"w1", "w2", "w3"} {
				err := s.InsertWorkItem(ctx, WorkItem{
					ID:             id,
					Kind:           "create_draft",
					Input:          []byte(`{"messageDbId":1}`),
					State:          WorkEnqueued,
					MaxAttempts:    3,
					InitialBackoff: time.Second,
					CreatedAt: base.Add(
						time.Duration(i) * time.Second,
					),
					NextRunAt: base.Add(
						time.Duration(i) * time.Second,
					),
				})
				require.NoError(t, err)
			}

			err := s.InsertWorkItem(ctx, WorkItem{
				ID: "w1", Kind: "x", State: WorkEnqueued,
			})
			require.ErrorIs(t, err, ErrAlreadyExists)

			due, err := s.ListDueWorkItems(
				ctx, base.Add(time.Second), false, 10,
			)
			require.NoError(t, err)
			require.Len(t, due, 2)
			require.Equal(t, "w1", due[0].ID)
			require.Equal(t, time.Second, due[0].InitialBackoff)

			w1 := due[0]
			w1.State = WorkRunning
			w1.Attempts = 1
			w1.UpdatedAt = base.Add(2 * time.Second)
			require.NoError(t, s.UpdateWorkItem(ctx, w1))

			n, err := s.ResetRunningWorkItems(
				ctx, base.Add(3*time.Second),
			)
			require.NoError(t, err)
			require.Equal(t, 1, n)

			w1, err = s.GetWorkItem(ctx, "w1")
			require.NoError(t, err)
			require.Equal(t, WorkEnqueued, w1.State)
			require.Equal(t, 1, w1.Attempts)

			w1.State = WorkFailed
			w1.Output = []byte(`{"errorEnum":"MessageNotFound"}`)
			w1.UpdatedAt = base.Add(4 * time.Second)
			require.NoError(t, s.UpdateWorkItem(ctx, w1))

			w1.State = WorkSucceeded
			err = s.UpdateWorkItem(ctx, w1)
			require.ErrorIs(t, err, ErrWorkItemFinished)

			err = s.UpdateWorkItem(ctx, WorkItem{ID: "nope"})
			require.ErrorIs(t, err, ErrNotFound)

			_, err = s.GetWorkItem(ctx, "nope")
			require.ErrorIs(t, err, ErrNotFound)

			failed, err := s.ListWorkItems(ctx, WorkFilter{
				State: fn.Some(WorkFailed),
			})
			require.NoError(t, err)
			require.Len(t, failed, 1)
			require.JSONEq(t, `{"errorEnum":"MessageNotFound"}`,
				string(failed[0].Output))

			all, err := s.ListWorkItems(ctx, WorkFilter{Limit: 2})
			require.NoError(t, err)
			require.Len(t, all, 2)
			require.Equal(t, "w3", all[0].ID)

			counts, err := s.CountWorkItems(ctx)
			require.NoError(t, err)
			require.Equal(t, map[WorkState]int{
				WorkEnqueued: 2, WorkFailed: 1,
			}, counts)

			n, err = s.PruneWorkItems(ctx, base.Add(5*time.Second))
			require.NoError(t, err)
			require.Equal(t, 1, n)
		})
	}
}

// TestDueWorkItemsOffline checks that blocked network items are only due
// while online, so that they cannot crowd out local items.
func TestDueWorkItemsOffline(t *testing.T) {
	t.Parallel()

	base := time.UnixMilli(1_700_000_000_000)

	for name, s := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			items := []WorkItem{
				{ID: "net-blocked", RequiresNetwork: true,
					State: WorkBlocked},
				{ID: "net-new", RequiresNetwork: true,
					State: WorkEnqueued},
				{ID: "local", State: WorkEnqueued},
			}
			for i, item := range items {
				at := base.Add(time.Duration(i) * time.Second)
				item.Kind = "create_draft"
				item.Input = []byte(`{}`)
				item.MaxAttempts = 3
				item.CreatedAt = at
				item.UpdatedAt = at
				item.NextRunAt = at
				require.NoError(t, s.InsertWorkItem(ctx, item))
			}

			ids := func(online bool) []string {
				due, err := s.ListDueWorkItems(
					ctx, base.Add(time.Minute), online, 10,
				)
				require.NoError(t, err)

				var out []string
				for _, item := range due {
					out = append(out, item.ID)
				}

				return out
			}

			require.Equal(t, []string{"net-new", "local"},
				ids(false))
			require.Equal(t,
				[]string{"net-blocked", "net-new", "local"},
				ids(true))
		})
	}
}

func TestMockStoreFailNext(t *testing.T) {
	t.Parallel()

	s := NewMockStore()
	ctx := context.Background()

	boom := errors.New("disk on fire")
	s.FailNext("FindMessageByDBID", boom)

	_, err := s.FindMessageByDBID(ctx, 1)
	require.ErrorIs(t, err, boom)

	_, err = s.FindMessageByDBID(ctx, 1)
	require.NoError(t, err)
}

// TestMessageLookupProperty checks that every saved message is found under
// the ID it was given and that no other ID finds anything.
func TestMessageLookupProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		s := NewMockStore()
		ctx := context.Background()

		n := rapid.IntRange(0, 20).Draw(rt, "n")
		saved := make(map[int64]string, n)
		for i := range n {
			msg, err := s.SaveMessage(ctx, Message{
				MessageID: rapid.StringMatching(`[a-z]{8}`).
					Draw(rt, "message_id") + string(rune('A'+i)),
				Body: rapid.String().Draw(rt, "body"),
			})
			require.NoError(rt, err)
			saved[msg.DBID] = msg.MessageID
		}

		probe := rapid.Int64Range(-5, 30).Draw(rt, "probe")
		found, err := s.FindMessageByDBID(ctx, probe)
		require.NoError(rt, err)

		wantID, ok := saved[probe]
		require.Equal(rt, ok, found.IsSome())
		if ok {
			require.Equal(
				rt, wantID, found.UnwrapOr(Message{}).MessageID,
			)
		}
	})
}
