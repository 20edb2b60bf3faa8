package queries

import (
	"context"
	"database/sql"
)

// Querier lists every query of the package.
type Querier interface {
	InsertAccount(ctx context.Context, arg InsertAccountParams) error
	GetAccount(ctx context.Context, username string) (Account, error)
	InsertAddress(ctx context.Context, arg InsertAddressParams) (Address, error)
	ListAddresses(ctx context.Context, username string) ([]Address, error)
	GetSessionUser(ctx context.Context) (sql.NullString, error)
	SetSessionUser(ctx context.Context, arg SetSessionUserParams) error

	InsertMessage(ctx context.Context, arg InsertMessageParams) (int64, error)
	UpdateMessage(ctx context.Context, arg UpdateMessageParams) (int64, error)
	GetMessage(ctx context.Context, dbID int64) (Message, error)
	ListMessages(ctx context.Context, arg ListMessagesParams) ([]Message, error)

	InsertWorkItem(ctx context.Context, arg InsertWorkItemParams) error
	GetWorkItem(ctx context.Context, id string) (WorkItem, error)
	ListWorkItems(ctx context.Context, arg ListWorkItemsParams) ([]WorkItem, error)
	UpdateWorkItem(ctx context.Context, arg UpdateWorkItemParams) (int64, error)
	ListDueWorkItems(ctx context.Context, arg ListDueWorkItemsParams) ([]WorkItem, error)
	ResetRunningWorkItems(ctx context.Context, now int64) (int64, error)
	DeleteFinishedWorkItems(ctx context.Context, before int64) (int64, error)
	CountWorkItemsByState(ctx context.Context) ([]StateCount, error)
}

var _ Querier = (*Queries)(nil)
