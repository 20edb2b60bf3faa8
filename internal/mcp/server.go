package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/roasbeef/draftsync/internal/draft"
	"github.com/roasbeef/draftsync/internal/session"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/roasbeef/draftsync/internal/work"
)

// Config holds the dependencies of the MCP server.
type Config struct {
	// Messages is the local message store.
	Messages store.MessageStore

	// Sessions tracks the logged in user.
	Sessions *session.Manager

	// Work is the background work manager.
	Work *work.Manager

	// Drafts schedules draft submissions.
	Drafts *draft.Enqueuer

	// Version is reported as the implementation version.
	Version string
}

// Server exposes the draft and work operations as MCP tools.
type Server struct {
	server *mcp.Server
	cfg    Config
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(cfg Config) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "draftsync",
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server: mcpServer,
		cfg:    cfg,
	}
	s.registerTools()

	return s
}

// Run starts the MCP server on the given transport.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

// Connect serves a single session over transport.
func (s *Server) Connect(ctx context.Context,
	transport mcp.Transport) (*mcp.ServerSession, error) {

	return s.server.Connect(ctx, transport, nil)
}

// registerTools adds every tool to the MCP server.
func (s *Server) registerTools() {
	// Messages.
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "save_message",
		Description: "Create or update a local message",
	}, s.handleSaveMessage)

	// Drafts.
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "enqueue_draft",
		Description: "Schedule the submission of a saved message as a remote draft",
	}, s.handleEnqueueDraft)

	// Work items.
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_work",
		Description: "Get the current state of a work item",
	}, s.handleGetWork)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_work",
		Description: "List work items, optionally filtered by state or kind",
	}, s.handleListWork)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "cancel_work",
		Description: "Cancel a work item that has not finished yet",
	}, s.handleCancelWork)

	// Session.
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "whoami",
		Description: "Get the logged in user",
	}, s.handleWhoAmI)
}
