package chat

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a chat session
type Session struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Timestamp time.Time `db:"timestamp"`
}

// NewSession creates a new Session instance. The id is normally the
// server-assigned session id; a local one is generated when it is empty.
func NewSession(id, name string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{
		ID:        id,
		Name:      name,
		Timestamp: time.Now(),
	}
}
