package chat

import "time"

// Role identifies the author class of a log entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SystemAuthor is the display name of client-generated status messages.
const SystemAuthor = "System"

// Attachment is a reference to a file accepted for the session.
type Attachment struct {
	Name string
	URL  string
}

// Upload is the raw file content of a pending submission.
type Upload struct {
	Name    string
	Content []byte
}

// Message is one immutable chat-log entry. Chunked delivery appends new
// messages rather than mutating existing ones.
type Message struct {
	ID         string
	SessionID  string
	Role       Role
	Author     string
	Content    string
	Attachment *Attachment
	Timestamp  time.Time
}
