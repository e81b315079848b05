package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DateFormat is the civil-date layout used for transaction dates.
const DateFormat = "2006-01-02"

// Transaction is a single ledger entry. Amount is signed: negative values
// are expenses, positive values are income. Rows are immutable once
// ingested; corrections go through the transaction_updates overlay.
type Transaction struct {
	ID        string
	Merchant  string
	Amount    float64
	Date      time.Time // civil date, time component zero
	Category  string
	CreatedAt time.Time
}

// TransactionPatch is one overlay row: a partial correction or a soft
// delete keyed by transaction ID. Nil fields leave the original value
// untouched.
type TransactionPatch struct {
	TxnID     string
	Merchant  *string
	Amount    *float64
	Date      *time.Time
	Category  *string
	Deleted   bool
	UpdatedAt time.Time
}

// Turn is one conversation message, append-only.
type Turn struct {
	MessageID      string
	ConversationID string
	Role           string // "user" or "assistant"
	Text           string
	CreatedAt      time.Time
}

// Goal is a savings goal surfaced to the retriever and grounded prompts.
type Goal struct {
	ID            string
	Purpose       string
	TargetAmount  float64
	CurrentAmount float64
	TargetDate    time.Time
	CreatedAt     time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
