package queries

import "database/sql"

type Account struct {
	Username  string
	CreatedAt int64
}

type Address struct {
	ID          string
	Username    string
	DisplayName sql.NullString
	Email       string
	Position    int64
}

type Message struct {
	DbID      int64
	MessageID string
	AddressID sql.NullString
	Subject   string
	Body      sql.NullString
	ParentID  sql.NullString
	CreatedAt int64
	UpdatedAt int64
}

type WorkItem struct {
	ID               string
	Kind             string
	Input            []byte
	RequiresNetwork  bool
	State            string
	Output           []byte
	Attempts         int64
	MaxAttempts      int64
	InitialBackoffMs int64
	LastError        sql.NullString
	CreatedAt        int64
	UpdatedAt        int64
	NextRunAt        int64
}
