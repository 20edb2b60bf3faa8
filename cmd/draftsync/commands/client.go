package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roasbeef/draftsync/internal/web"
)

// requestTimeout bounds every plain API call.
const requestTimeout = 30 * time.Second

// APIError is an error response of the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client is a thin client of the draftsyncd HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the daemon at addr. A bare host:port
// is treated as plain HTTP.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	return &Client{
		baseURL: strings.TrimSuffix(addr, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// getClient returns a client for the --server flag.
func getClient() *Client {
	return NewClient(serverAddr)
}

// do sends a JSON request and decodes the data of the response into out.
func (c *Client) do(ctx context.Context, method, path string, body,
	out any) error {

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reader,
	)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.baseURL,
			err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr web.APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return &APIError{
				Status:  resp.StatusCode,
				Code:    "http",
				Message: resp.Status,
			}
		}

		return &APIError{
			Status:  resp.StatusCode,
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return json.Unmarshal(wrapped.Data, out)
}

// CreateAccount creates a local account.
func (c *Client) CreateAccount(ctx context.Context,
	username string) (web.AccountJSON, error) {

	var account web.AccountJSON
	err := c.do(ctx, http.MethodPost, "/api/v1/accounts",
		map[string]string{"username": username}, &account)

	return account, err
}

// AddAddress adds a sending address to an account.
func (c *Client) AddAddress(ctx context.Context, username string,
	addr web.AddressJSON) (web.AddressJSON, error) {

	var added web.AddressJSON
	err := c.do(ctx, http.MethodPost,
		"/api/v1/accounts/"+url.PathEscape(username)+"/addresses",
		addr, &added)

	return added, err
}

// Login switches the session to username.
func (c *Client) Login(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/session/login",
		map[string]string{"username": username}, nil)
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/session/logout", nil, nil)
}

// Session returns the logged in account.
func (c *Client) Session(ctx context.Context) (web.AccountJSON, error) {
	var account web.AccountJSON
	err := c.do(ctx, http.MethodGet, "/api/v1/session", nil, &account)

	return account, err
}

// SaveMessage creates or, when msg.DBID is set, updates a message.
func (c *Client) SaveMessage(ctx context.Context,
	msg web.MessageJSON) (web.MessageJSON, error) {

	body := map[string]any{
		"message_id": msg.MessageID,
		"address_id": msg.AddressID,
		"subject":    msg.Subject,
		"body":       msg.Body,
		"parent_id":  msg.ParentID,
	}
	if msg.DBID != 0 {
		body["db_id"] = msg.DBID
	}

	var saved web.MessageJSON
	err := c.do(ctx, http.MethodPost, "/api/v1/messages", body, &saved)

	return saved, err
}

// GetMessage fetches a message by its local database ID.
func (c *Client) GetMessage(ctx context.Context,
	dbID int64) (web.MessageJSON, error) {

	var msg web.MessageJSON
	err := c.do(ctx, http.MethodGet,
		"/api/v1/messages/"+strconv.FormatInt(dbID, 10), nil, &msg)

	return msg, err
}

// EnqueueDraft schedules the submission of a saved message.
func (c *Client) EnqueueDraft(ctx context.Context, dbID int64,
	parentID string) (web.WorkJSON, error) {

	var info web.WorkJSON
	err := c.do(ctx, http.MethodPost, "/api/v1/drafts", map[string]any{
		"message_db_id": dbID,
		"parent_id":     parentID,
	}, &info)

	return info, err
}

// GetWork fetches a work item.
func (c *Client) GetWork(ctx context.Context,
	id string) (web.WorkJSON, error) {

	var info web.WorkJSON
	err := c.do(ctx, http.MethodGet, "/api/v1/work/"+url.PathEscape(id),
		nil, &info)

	return info, err
}

// ListWork lists work items. Empty filters match everything.
func (c *Client) ListWork(ctx context.Context, state, kind string,
	limit int) ([]web.WorkJSON, error) {

	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/v1/work"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var infos []web.WorkJSON
	err := c.do(ctx, http.MethodGet, path, nil, &infos)

	return infos, err
}

// CancelWork cancels an unfinished work item.
func (c *Client) CancelWork(ctx context.Context,
	id string) (web.WorkJSON, error) {

	var info web.WorkJSON
	err := c.do(ctx, http.MethodDelete,
		"/api/v1/work/"+url.PathEscape(id), nil, &info)

	return info, err
}

// errStreamEnded is returned by WatchWork when the daemon closed the
// stream before a terminal snapshot, e.g. on logout.
var errStreamEnded = errors.New("stream ended")

// WatchWork streams the snapshots of a work item to onUpdate until the item
// finishes. It returns the terminal snapshot.
func (c *Client) WatchWork(ctx context.Context, id string,
	onUpdate func(web.WorkJSON)) (web.WorkJSON, error) {

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") +
		"/ws/work/" + url.PathEscape(id)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return web.WorkJSON{}, &APIError{
				Status:  resp.StatusCode,
				Code:    "http",
				Message: resp.Status,
			}
		}

		return web.WorkJSON{}, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return web.WorkJSON{}, ctx.Err()
			}

			return web.WorkJSON{}, errStreamEnded
		}

		switch msg.Type {
		case web.WSMsgTypeWork:
			var info web.WorkJSON
			if err := json.Unmarshal(msg.Payload, &info); err != nil {
				return web.WorkJSON{}, err
			}

			if onUpdate != nil {
				onUpdate(info)
			}
			if info.Done() {
				return info, nil
			}

		case web.WSMsgTypeError:
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(msg.Payload, &payload)

			return web.WorkJSON{}, errors.New(payload.Message)
		}
	}
}
