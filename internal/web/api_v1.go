package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/draft"
	"github.com/roasbeef/draftsync/internal/session"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/roasbeef/draftsync/internal/work"
)

// APIResponse wraps API responses.
type APIResponse struct {
	Data any `json:"data"`
}

// APIError represents an API error response.
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail contains error details.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// registerAPIV1Routes registers all /api/v1/ routes.
func (s *Server) registerAPIV1Routes() {
	api := func(handler http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			handler(w, r)
		}
	}

	// Accounts and session.
	s.mux.HandleFunc("POST /api/v1/accounts", api(s.handleCreateAccount))
	s.mux.HandleFunc("GET /api/v1/accounts/{username}",
		api(s.handleGetAccount))
	s.mux.HandleFunc("POST /api/v1/accounts/{username}/addresses",
		api(s.handleAddAddress))
	s.mux.HandleFunc("GET /api/v1/session", api(s.handleGetSession))
	s.mux.HandleFunc("POST /api/v1/session/login", api(s.handleLogin))
	s.mux.HandleFunc("POST /api/v1/session/logout", api(s.handleLogout))

	// Messages and drafts.
	s.mux.HandleFunc("GET /api/v1/messages", api(s.handleListMessages))
	s.mux.HandleFunc("POST /api/v1/messages", api(s.handleSaveMessage))
	s.mux.HandleFunc("GET /api/v1/messages/{id}", api(s.handleGetMessage))
	s.mux.HandleFunc("POST /api/v1/drafts", api(s.handleEnqueueDraft))

	// Work.
	s.mux.HandleFunc("GET /api/v1/work", api(s.handleListWork))
	s.mux.HandleFunc("GET /api/v1/work/{id}", api(s.handleGetWork))
	s.mux.HandleFunc("DELETE /api/v1/work/{id}", api(s.handleCancelWork))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Debugf("Error encoding JSON response: %v", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{
		Error: APIErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeErr maps a domain error to a status code.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, work.ErrWorkNotFound),
		errors.Is(err, session.ErrUnknownAccount):

		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error())

	case errors.Is(err, work.ErrWorkFinished):
		writeError(w, http.StatusConflict, "finished", err.Error())

	case errors.Is(err, session.ErrNotLoggedIn):
		writeError(w, http.StatusUnauthorized, "not_logged_in",
			err.Error())

	case errors.Is(err, work.ErrManagerStopped):
		writeError(w, http.StatusServiceUnavailable, "stopping",
			err.Error())

	default:
		log.Errorf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal",
			"internal error")
	}
}

// decodeBody decodes the JSON request body into v, writing a 400 on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}

	return true
}

// AddressJSON is the wire form of an address.
type AddressJSON struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email"`
}

// AccountJSON is the wire form of an account.
type AccountJSON struct {
	Username  string        `json:"username"`
	Addresses []AddressJSON `json:"addresses"`
	CreatedAt time.Time     `json:"created_at"`
}

// toAddressJSON converts a stored address to its API form.
func toAddressJSON(a store.Address) AddressJSON {
	return AddressJSON{
		ID:          a.ID,
		DisplayName: a.DisplayName.UnwrapOr(""),
		Email:       a.Email,
	}
}

// toAccountJSON converts a stored account to its API form.
func toAccountJSON(a store.Account) AccountJSON {
	addrs := make([]AddressJSON, 0, len(a.Addresses))
	for _, addr := range a.Addresses {
		addrs = append(addrs, toAddressJSON(addr))
	}

	return AccountJSON{
		Username:  a.Username,
		Addresses: addrs,
		CreatedAt: a.CreatedAt,
	}
}

// MessageJSON is the wire form of a message.
type MessageJSON struct {
	DBID      int64     `json:"db_id"`
	MessageID string    `json:"message_id"`
	AddressID string    `json:"address_id,omitempty"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body,omitempty"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// toMessageJSON converts a stored message to its API form.
func toMessageJSON(m store.Message) MessageJSON {
	return MessageJSON{
		DBID:      m.DBID,
		MessageID: m.MessageID,
		AddressID: m.AddressID,
		Subject:   m.Subject,
		Body:      m.Body,
		ParentID:  m.ParentID.UnwrapOr(""),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// WorkJSON is the wire form of a work snapshot. Draft items also carry
// their typed result.
type WorkJSON struct {
	work.Info

	Result *DraftResultJSON `json:"result,omitempty"`
}

// DraftResultJSON is the wire form of a draft result.
type DraftResultJSON struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// toWorkJSON converts a work snapshot to its API form.
func toWorkJSON(info work.Info) WorkJSON {
	out := WorkJSON{Info: info}
	if info.Kind != draft.Kind {
		return out
	}

	result, err := draft.ResultFromInfo(info)
	if err != nil {
		log.Warnf("Undecodable draft result for %s: %v", info.ID, err)
		return out
	}

	out.Result = &DraftResultJSON{
		Status: result.Status.String(),
		Reason: string(result.Reason.UnwrapOr("")),
	}

	return out
}

// handleCreateAccount handles POST /api/v1/accounts.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "bad_request",
			"username is required")
		return
	}

	account, err := s.cfg.Accounts.CreateAccount(r.Context(), req.Username)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, APIResponse{
		Data: toAccountJSON(account),
	})
}

// handleGetAccount handles GET /api/v1/accounts/{username}.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	account, err := s.cfg.Accounts.GetAccount(r.Context(), username)
	if err != nil {
		writeErr(w, err)
		return
	}
	if account.IsNone() {
		writeError(w, http.StatusNotFound, "not_found",
			"account "+username+" not found")
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Data: toAccountJSON(account.UnsafeFromSome()),
	})
}

// handleAddAddress handles POST /api/v1/accounts/{username}/addresses.
func (s *Server) handleAddAddress(w http.ResponseWriter, r *http.Request) {
	var req AddressJSON
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "bad_request",
			"id and email are required")
		return
	}

	addr := store.Address{
		ID:          req.ID,
		DisplayName: fn.None[string](),
		Email:       req.Email,
	}
	if req.DisplayName != "" {
		addr.DisplayName = fn.Some(req.DisplayName)
	}

	added, err := s.cfg.Accounts.AddAddress(
		r.Context(), r.PathValue("username"), addr,
	)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, APIResponse{
		Data: toAddressJSON(added),
	})
}

// handleGetSession handles GET /api/v1/session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	account, err := s.cfg.Sessions.CurrentUser(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Data: toAccountJSON(account)})
}

// handleLogin handles POST /api/v1/session/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.cfg.Sessions.Login(r.Context(), req.Username); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Data: map[string]string{"username": req.Username},
	})
}

// handleLogout handles POST /api/v1/session/logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Sessions.Logout(r.Context()); err != nil {
		writeErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages handles GET /api/v1/messages.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaging(r)

	msgs, err := s.cfg.Messages.ListMessages(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]MessageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageJSON(m))
	}

	writeJSON(w, http.StatusOK, APIResponse{Data: out})
}

// handleSaveMessage handles POST /api/v1/messages. A request with a db_id
// updates that message.
func (s *Server) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DBID      int64  `json:"db_id"`
		MessageID string `json:"message_id"`
		AddressID string `json:"address_id"`
		Subject   string `json:"subject"`
		Body      string `json:"body"`
		ParentID  string `json:"parent_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MessageID == "" {
		writeError(w, http.StatusBadRequest, "bad_request",
			"message_id is required")
		return
	}

	msg := store.Message{
		DBID:      req.DBID,
		MessageID: req.MessageID,
		AddressID: req.AddressID,
		Subject:   req.Subject,
		Body:      req.Body,
		ParentID:  fn.None[string](),
	}
	if req.ParentID != "" {
		msg.ParentID = fn.Some(req.ParentID)
	}

	saved, err := s.cfg.Messages.SaveMessage(r.Context(), msg)
	if err != nil {
		writeErr(w, err)
		return
	}

	status := http.StatusCreated
	if req.DBID != 0 {
		status = http.StatusOK
	}

	writeJSON(w, status, APIResponse{Data: toMessageJSON(saved)})
}

// handleGetMessage handles GET /api/v1/messages/{id}.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	dbID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request",
			"invalid message id")
		return
	}

	msg, err := s.cfg.Messages.FindMessageByDBID(r.Context(), dbID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if msg.IsNone() {
		writeError(w, http.StatusNotFound, "not_found",
			"message not found")
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Data: toMessageJSON(msg.UnsafeFromSome()),
	})
}

// handleEnqueueDraft handles POST /api/v1/drafts.
func (s *Server) handleEnqueueDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageDBID int64  `json:"message_db_id"`
		ParentID    string `json:"parent_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := s.cfg.Messages.FindMessageByDBID(r.Context(), req.MessageDBID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if msg.IsNone() {
		writeError(w, http.StatusNotFound, "not_found",
			"message not found")
		return
	}

	parent := fn.None[string]()
	if req.ParentID != "" {
		parent = fn.Some(req.ParentID)
	}

	handle, err := s.cfg.Drafts.Enqueue(
		r.Context(), msg.UnsafeFromSome(), parent,
	)
	if err != nil {
		writeErr(w, err)
		return
	}

	info, err := handle.Info(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, APIResponse{Data: toWorkJSON(info)})
}

// handleListWork handles GET /api/v1/work.
func (s *Server) handleListWork(w http.ResponseWriter, r *http.Request) {
	limit, _ := parsePaging(r)
	filter := work.Filter{
		Kind:  r.URL.Query().Get("kind"),
		Limit: limit,
	}

	if state := r.URL.Query().Get("state"); state != "" {
		ws := work.State(state)
		if !ws.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request",
				"unknown state "+state)
			return
		}
		filter.State = fn.Some(ws)
	}

	infos, err := s.cfg.Work.List(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]WorkJSON, 0, len(infos))
	for _, info := range infos {
		out = append(out, toWorkJSON(info))
	}

	writeJSON(w, http.StatusOK, APIResponse{Data: out})
}

// handleGetWork handles GET /api/v1/work/{id}.
func (s *Server) handleGetWork(w http.ResponseWriter, r *http.Request) {
	info, err := s.cfg.Work.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Data: toWorkJSON(info)})
}

// handleCancelWork handles DELETE /api/v1/work/{id}.
func (s *Server) handleCancelWork(w http.ResponseWriter, r *http.Request) {
	info, err := s.cfg.Work.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, APIResponse{Data: toWorkJSON(info)})
}

// parsePaging reads the limit and offset query parameters. Invalid values
// fall back to the defaults.
func parsePaging(r *http.Request) (int, int) {
	limit := store.DefaultListLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil &&
		v > 0 {

		limit = v
	}

	var offset int
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil &&
		v > 0 {

		offset = v
	}

	return limit, offset
}
