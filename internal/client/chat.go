package client

import "time"

// Task status values reported by the poll endpoint.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// History message_type values.
const (
	MessageTypeUser      = "user"
	MessageTypeAssistant = "assistant"
)

type InitRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
}

// InitResponse carries either a greeting for a fresh session or the
// has_messages signal for an existing one, never both.
type InitResponse struct {
	SessionID   string `json:"session_id"`
	Greeting    string `json:"greeting"`
	HasMessages bool   `json:"has_messages"`
}

// SendRequest is the shared request shape of the sync and async send paths.
// FileName and FileContent switch the encoding to multipart.
type SendRequest struct {
	Message     string `json:"message"`
	UserID      string `json:"user_id"`
	PaidUser    bool   `json:"paid_user"`
	SessionID   string `json:"session_id,omitempty"`
	FileName    string `json:"-"`
	FileContent []byte `json:"-"`
}

// HasFile reports whether the request carries an attachment.
func (r SendRequest) HasFile() bool {
	return r.FileName != ""
}

type ChatResponse struct {
	Response       string `json:"response"`
	SessionID      string `json:"session_id"`
	IsFileUploaded bool   `json:"is_file_uploaded"`
	EndSession     bool   `json:"end_session"`
}

type AsyncSubmitResponse struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type TaskStatusResponse struct {
	Status         string `json:"status"`
	Response       string `json:"response"`
	IsComplete     bool   `json:"is_complete"`
	IsFileUploaded bool   `json:"is_file_uploaded"`
	EndSession     bool   `json:"end_session"`
	Error          string `json:"error"`
	Progress       int    `json:"progress"`
}

type HistoryMessage struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	Timestamp   time.Time `json:"timestamp"`
}

type HistoryResponse struct {
	Messages []HistoryMessage `json:"messages"`
}
