package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
	"github.com/roasbeef/draftsync/internal/draft"
	"github.com/roasbeef/draftsync/internal/session"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/roasbeef/draftsync/internal/work"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server

	network *work.StaticMonitor
	work    *work.Manager
}

func newTestServer(t *testing.T, online bool) *testServer {
	t.Helper()

	ctx := context.Background()
	as := actor.NewActorSystem()
	t.Cleanup(func() {
		_ = as.Shutdown(context.Background())
	})

	s := store.NewMockStore()
	sessions, err := session.NewManager(ctx, s, session.SpawnHub(as))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	network := work.NewStaticMonitor(online)
	mgr, err := work.NewManager(work.Config{
		Store:        s,
		Network:      network,
		ActorSystem:  as,
		PollInterval: 10 * time.Millisecond,
		Registerer:   reg,
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Stop)

	require.NoError(t, draft.Register(mgr, draft.NewWorker(s, sessions)))
	require.NoError(t, mgr.Start(ctx))

	srv := NewServer(Config{
		Messages: s,
		Accounts: s,
		Sessions: sessions,
		Work:     mgr,
		Drafts:   draft.NewEnqueuer(mgr),
		Gatherer: reg,
		Version:  "test",
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, network: network, work: mgr}
}

// do sends a JSON request and decodes the data of the response into out.
func (ts *testServer) do(t *testing.T, method, path string, body any,
	out any) int {

	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 &&
		resp.StatusCode != http.StatusNoContent {

		var wrapped struct {
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&wrapped))
		require.NoError(t, json.Unmarshal(wrapped.Data, out))
	}

	return resp.StatusCode
}

// setupUser creates alice with one address and logs her in.
func (ts *testServer) setupUser(t *testing.T) {
	t.Helper()

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost,
		"/api/v1/accounts", map[string]string{"username": "alice"}, nil))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost,
		"/api/v1/accounts/alice/addresses", AddressJSON{
			ID:          "addr-1",
			DisplayName: "Alice",
			Email:       "alice@example.com",
		}, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost,
		"/api/v1/session/login", map[string]string{"username": "alice"},
		nil))
}

func (ts *testServer) saveMessage(t *testing.T) MessageJSON {
	t.Helper()

	var msg MessageJSON
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost,
		"/api/v1/messages", map[string]string{
			"message_id": "local-1",
			"address_id": "addr-1",
			"subject":    "hello",
			"body":       "armored",
		}, &msg))
	require.NotZero(t, msg.DBID)

	return msg
}

func (ts *testServer) enqueueDraft(t *testing.T, dbID int64) WorkJSON {
	t.Helper()

	var info WorkJSON
	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost,
		"/api/v1/drafts", map[string]any{
			"message_db_id": dbID,
			"parent_id":     "abc123",
		}, &info))

	return info
}

func TestAccountAndSessionAPI(t *testing.T) {
	ts := newTestServer(t, true)

	require.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet,
		"/api/v1/session", nil, nil))
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost,
		"/api/v1/session/login", map[string]string{"username": "ghost"},
		nil))

	ts.setupUser(t)

	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost,
		"/api/v1/accounts", map[string]string{"username": "alice"}, nil))
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost,
		"/api/v1/accounts", map[string]string{"nick": "x"}, nil))

	var account AccountJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet,
		"/api/v1/session", nil, &account))
	require.Equal(t, "alice", account.Username)
	require.Len(t, account.Addresses, 1)
	require.Equal(t, "Alice", account.Addresses[0].DisplayName)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost,
		"/api/v1/session/logout", nil, nil))
	require.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost,
		"/api/v1/session/logout", nil, nil))
}

func TestMessageAPI(t *testing.T) {
	ts := newTestServer(t, true)
	msg := ts.saveMessage(t)

	var got MessageJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet,
		"/api/v1/messages/"+itoa(msg.DBID), nil, &got))
	require.Equal(t, "hello", got.Subject)

	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet,
		"/api/v1/messages/999", nil, nil))
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet,
		"/api/v1/messages/abc", nil, nil))

	var list []MessageJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet,
		"/api/v1/messages", nil, &list))
	require.Len(t, list, 1)
}

// TestDraftAPI enqueues a draft and follows it to its terminal result.
func TestDraftAPI(t *testing.T) {
	ts := newTestServer(t, true)
	ts.setupUser(t)
	msg := ts.saveMessage(t)

	queued := ts.enqueueDraft(t, msg.DBID)
	require.Equal(t, draft.Kind, queued.Kind)
	require.True(t, queued.RequiresNetwork)

	var info WorkJSON
	require.Eventually(t, func() bool {
		code := ts.do(t, http.MethodGet, "/api/v1/work/"+queued.ID,
			nil, &info)
		return code == http.StatusOK && info.Done()
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, work.Failed, info.State)
	require.NotNil(t, info.Result)
	require.Equal(t, "failure", info.Result.Status)
	require.Empty(t, info.Result.Reason)

	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost,
		"/api/v1/drafts", map[string]any{"message_db_id": 42}, nil))
}

func TestWorkAPI(t *testing.T) {
	ts := newTestServer(t, false)
	msg := ts.saveMessage(t)
	queued := ts.enqueueDraft(t, msg.DBID)

	var list []WorkJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet,
		"/api/v1/work?kind="+draft.Kind, nil, &list))
	require.Len(t, list, 1)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet,
		"/api/v1/work?state=bogus", nil, nil))
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet,
		"/api/v1/work/missing", nil, nil))

	var cancelled WorkJSON
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodDelete,
		"/api/v1/work/"+queued.ID, nil, &cancelled))
	require.Equal(t, work.Cancelled, cancelled.State)

	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodDelete,
		"/api/v1/work/"+queued.ID, nil, nil))

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet,
		"/api/v1/work?state=cancelled", nil, &list))
	require.Len(t, list, 1)
}

func TestMetricsAndHealth(t *testing.T) {
	ts := newTestServer(t, false)
	msg := ts.saveMessage(t)
	ts.enqueueDraft(t, msg.DBID)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Contains(t, string(body), "draftsync_work_enqueued_total")

	var health map[string]any
	resp, err = ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "test", health["version"])
}

func dialWork(t *testing.T, ts *testServer, id string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/work/" + id
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))

	return frame
}

// readUntil reads frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wsFrame {
	t.Helper()

	for {
		frame := readFrame(t, conn)
		if frame.Type == typ {
			return frame
		}
	}
}

// TestWorkStream follows a blocked draft over the websocket until it
// finishes once the network returns.
func TestWorkStream(t *testing.T) {
	ts := newTestServer(t, false)
	ts.setupUser(t)
	msg := ts.saveMessage(t)
	queued := ts.enqueueDraft(t, msg.DBID)

	conn := dialWork(t, ts, queued.ID)
	require.Equal(t, WSMsgTypeConnected, readFrame(t, conn).Type)

	var states []work.State
	for {
		frame := readUntil(t, conn, WSMsgTypeWork)

		var info WorkJSON
		require.NoError(t, json.Unmarshal(frame.Payload, &info))
		states = append(states, info.State)

		if info.State == work.Blocked || info.State == work.Enqueued {
			ts.network.SetOnline(true)
		}
		if info.Done() {
			require.Equal(t, "failure", info.Result.Status)
			break
		}
	}
	require.Equal(t, work.Failed, states[len(states)-1])

	// The server closes the stream after the terminal snapshot.
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

// TestWorkStreamClosesOnLogout checks that logging out ends the stream.
func TestWorkStreamClosesOnLogout(t *testing.T) {
	ts := newTestServer(t, false)
	ts.setupUser(t)
	msg := ts.saveMessage(t)
	queued := ts.enqueueDraft(t, msg.DBID)

	conn := dialWork(t, ts, queued.ID)
	require.Equal(t, WSMsgTypeConnected, readFrame(t, conn).Type)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost,
		"/api/v1/session/logout", nil, nil))

	frame := readUntil(t, conn, WSMsgTypeAuth)
	var event struct {
		Kind     string `json:"kind"`
		Username string `json:"username"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &event))
	require.Equal(t, "logged_out", event.Kind)
	require.Equal(t, "alice", event.Username)

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func TestWorkStreamUnknownID(t *testing.T) {
	ts := newTestServer(t, true)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/work/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
