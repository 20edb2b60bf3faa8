package commands

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
	"github.com/roasbeef/draftsync/internal/draft"
	"github.com/roasbeef/draftsync/internal/session"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/roasbeef/draftsync/internal/web"
	"github.com/roasbeef/draftsync/internal/work"
	"github.com/stretchr/testify/require"
)

// newDaemon serves the HTTP API over an in-memory store.
func newDaemon(t *testing.T, online bool) (*Client, *work.StaticMonitor) {
	t.Helper()

	ctx := context.Background()
	as := actor.NewActorSystem()
	t.Cleanup(func() {
		_ = as.Shutdown(context.Background())
	})

	s := store.NewMockStore()
	sessions, err := session.NewManager(ctx, s, session.SpawnHub(as))
	require.NoError(t, err)

	network := work.NewStaticMonitor(online)
	mgr, err := work.NewManager(work.Config{
		Store:        s,
		Network:      network,
		ActorSystem:  as,
		PollInterval: 10 * time.Millisecond,
		Registerer:   prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Stop)

	require.NoError(t, draft.Register(mgr, draft.NewWorker(s, sessions)))
	require.NoError(t, mgr.Start(ctx))

	srv := web.NewServer(web.Config{
		Messages: s,
		Accounts: s,
		Sessions: sessions,
		Work:     mgr,
		Drafts:   draft.NewEnqueuer(mgr),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return NewClient(ts.URL), network
}

func TestNewClientAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, "http://localhost:8085",
		NewClient("localhost:8085").baseURL)
	require.Equal(t, "https://example.com",
		NewClient("https://example.com/").baseURL)
}

func TestClientDraftFlow(t *testing.T) {
	client, network := newDaemon(t, false)
	ctx := context.Background()

	_, err := client.CreateAccount(ctx, "alice")
	require.NoError(t, err)
	_, err = client.AddAddress(ctx, "alice", web.AddressJSON{
		ID:          "addr-1",
		DisplayName: "Alice",
		Email:       "alice@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, client.Login(ctx, "alice"))

	account, err := client.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice", account.Username)

	msg, err := client.SaveMessage(ctx, web.MessageJSON{
		MessageID: "local-1",
		AddressID: "addr-1",
		Subject:   "hello",
		Body:      "armored",
	})
	require.NoError(t, err)

	got, err := client.GetMessage(ctx, msg.DBID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Subject)

	queued, err := client.EnqueueDraft(ctx, msg.DBID, "abc123")
	require.NoError(t, err)

	var states []work.State
	final, err := client.WatchWork(ctx, queued.ID, func(info web.WorkJSON) {
		states = append(states, info.State)
		if !network.Online() {
			network.SetOnline(true)
		}
	})
	require.NoError(t, err)
	require.Equal(t, work.Failed, final.State)
	require.Equal(t, "failure", final.Result.Status)
	require.NotEmpty(t, states)

	infos, err := client.ListWork(ctx, string(work.Failed), draft.Kind, 10)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, queued.ID, infos[0].ID)

	_, err = client.CancelWork(ctx, queued.ID)
	requireStatus(t, err, http.StatusConflict)
}

func TestClientErrors(t *testing.T) {
	client, _ := newDaemon(t, true)
	ctx := context.Background()

	_, err := client.Session(ctx)
	requireStatus(t, err, http.StatusUnauthorized)

	err = client.Login(ctx, "ghost")
	requireStatus(t, err, http.StatusNotFound)

	_, err = client.EnqueueDraft(ctx, 42, "")
	requireStatus(t, err, http.StatusNotFound)

	_, err = client.GetWork(ctx, "missing")
	requireStatus(t, err, http.StatusNotFound)

	_, err = client.WatchWork(ctx, "missing", nil)
	requireStatus(t, err, http.StatusNotFound)
}

func TestFormatWork(t *testing.T) {
	t.Parallel()

	info := web.WorkJSON{
		Info: work.Info{
			ID:          "w1",
			Kind:        draft.Kind,
			State:       work.Failed,
			Attempts:    2,
			MaxAttempts: 5,
			LastError:   "boom",
		},
		Result: &web.DraftResultJSON{
			Status: "failure",
			Reason: string(draft.MessageNotFound),
		},
	}

	out := formatWork(info)
	require.Contains(t, out, "w1 [create_draft] failed")
	require.Contains(t, out, "Attempts: 2/5")
	require.Contains(t, out, "Last error: boom")
	require.Contains(t, out, "Result: failure (MessageNotFound)")
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "unexpected error: %v", err)
	require.Equal(t, status, apiErr.Status)
}
