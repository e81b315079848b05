package conversation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/penny/internal/storage"
)

// historyDepth is how many prior turns a query can draw on. Deeper history
// adds prompt weight without improving reference resolution.
const historyDepth = 6

// Log records and replays conversation turns.
type Log struct {
	db *storage.Store
}

func NewLog(db *storage.Store) *Log {
	return &Log{db: db}
}

// Append stores a turn and returns it with its generated message id.
func (l *Log) Append(conversationID, role, text string) (storage.Turn, error) {
	turn := storage.Turn{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := l.db.AppendTurn(turn); err != nil {
		return storage.Turn{}, fmt.Errorf("appending %s turn: %w", role, err)
	}
	return turn, nil
}

// History returns the most recent turns for the conversation, newest first.
func (l *Log) History(conversationID string) ([]storage.Turn, error) {
	return l.db.RecentTurns(conversationID, historyDepth)
}
