package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/debo-6186/aistockrecommender/internal/chat"
)

// Messages is a local archive of chat-log entries
type Messages struct {
	db *sqlx.DB
}

type messageRow struct {
	ID             string         `db:"id"`
	SessionID      string         `db:"session_id"`
	Role           string         `db:"role"`
	Author         string         `db:"author"`
	Content        string         `db:"content"`
	AttachmentName sql.NullString `db:"attachment_name"`
	AttachmentURL  sql.NullString `db:"attachment_url"`
	Timestamp      time.Time      `db:"timestamp"`
}

func (r messageRow) toMessage() chat.Message {
	msg := chat.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      chat.Role(r.Role),
		Author:    r.Author,
		Content:   r.Content,
		Timestamp: r.Timestamp,
	}
	if r.AttachmentName.Valid {
		msg.Attachment = &chat.Attachment{Name: r.AttachmentName.String, URL: r.AttachmentURL.String}
	}
	return msg
}

// NewMessages creates a new Messages storage
func NewMessages(db *sqlx.DB) (*Messages, error) {
	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		author TEXT NOT NULL,
		content TEXT NOT NULL,
		attachment_name TEXT,
		attachment_url TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	)
	`
	if _, err := db.Exec(createMessagesTable); err != nil {
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}

	return &Messages{db: db}, nil
}

// ReadBySessionID returns archived messages for a specific session_id
func (m *Messages) ReadBySessionID(sessionID string) ([]chat.Message, error) {
	var rows []messageRow
	err := m.db.Select(&rows, "SELECT id, session_id, role, author, content, attachment_name, attachment_url, timestamp FROM messages WHERE session_id = ? ORDER BY timestamp ASC", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages for session_id %s: %w", sessionID, err)
	}

	messages := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toMessage())
	}

	slog.Debug("read messages by session_id",
		slog.String("session_id", sessionID),
		slog.Int("count", len(messages)),
	)
	return messages, nil
}

// Write writes new message to the storage
func (m *Messages) Write(message chat.Message) error {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	var attachmentName, attachmentURL sql.NullString
	if message.Attachment != nil {
		attachmentName = sql.NullString{String: message.Attachment.Name, Valid: true}
		attachmentURL = sql.NullString{String: message.Attachment.URL, Valid: true}
	}
	// Insert a new record, ignoring if it already exists
	insertQuery := "INSERT OR IGNORE INTO messages (id, session_id, role, author, content, attachment_name, attachment_url, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	if _, err := m.db.Exec(insertQuery, message.ID, message.SessionID, string(message.Role), message.Author, message.Content, attachmentName, attachmentURL, message.Timestamp); err != nil {
		return fmt.Errorf("failed to insert message %+v: %w", message, err)
	}

	slog.Debug("message added to messages",
		slog.String("id", message.ID),
		slog.String("session_id", message.SessionID),
		slog.String("role", string(message.Role)),
		slog.Time("timestamp", message.Timestamp),
	)
	return nil
}

// Delete deletes the given message by id from the storage
func (m *Messages) Delete(id string) error {
	if _, err := m.db.Exec("DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete message by id %s: %w", id, err)
	}

	slog.Debug("message deleted from messages",
		slog.String("id", id),
	)
	return nil
}
