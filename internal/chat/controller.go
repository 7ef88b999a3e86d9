package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/debo-6186/aistockrecommender/internal/client"
	"github.com/debo-6186/aistockrecommender/internal/config"
)

// State is the controller's position in the session lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateSubmitting:
		return "submitting"
	}
	return "unknown"
}

var (
	ErrNotReady        = errors.New("session is not ready for submissions")
	ErrBusy            = errors.New("a submission is already in flight")
	ErrChatDisabled    = errors.New("chat is disabled, start a new session")
	ErrSessionEnded    = errors.New("session has ended, acknowledge it to start a new one")
	ErrMessageLimited  = errors.New("message limit reached")
	ErrEmptySubmission = errors.New("nothing to submit")
)

// User-facing status texts.
const (
	processingText       = "Analyzing your document, this may take a few minutes."
	timeoutText          = "This is taking longer than expected. Please check back shortly."
	taskFailedFallback   = "Something went wrong while analyzing your document."
	authExpiredText      = "Your session has expired. Please log in again."
	rateLimitFallback    = "You're sending messages too quickly. Please wait a moment and try again."
	messageLimitFallback = "You've reached your free message limit."
	networkErrorText     = "Connection problem, please try again."
	gatewayTimeoutText   = "The service took too long to respond. Please try again."
)

// Transport is the slice of the API client the controller depends on.
type Transport interface {
	InitSession(ctx context.Context, userID, sessionID string) (*client.InitResponse, error)
	SendMessage(ctx context.Context, request client.SendRequest) (*client.ChatResponse, error)
	SubmitAsync(ctx context.Context, request client.SendRequest) (*client.AsyncSubmitResponse, error)
	TaskStatus(ctx context.Context, taskID string) (*client.TaskStatusResponse, error)
	History(ctx context.Context, sessionID string, limit int) (*client.HistoryResponse, error)
}

// Identity is the authenticated user on whose behalf the controller acts.
type Identity struct {
	UserID      string
	DisplayName string
	PaidUser    bool
}

// Draft is the input restored after a failed submission so the user can
// retry without retyping.
type Draft struct {
	Text       string
	Attachment *Upload
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers a callback invoked for every message appended to the
// log, in append order. The callback runs under the controller's lock and
// must not call back into the controller.
func WithObserver(fn func(Message)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// Controller owns the message log, the session id and the UI flags for one
// chat view. All submissions and deliveries are serialized: the poller and
// renderer only ever see append callbacks guarded by the session epoch, so a
// continuation of an abandoned session becomes a no-op instead of mutating a
// stale log.
type Controller struct {
	transport Transport
	cfg       *config.Config
	identity  Identity
	renderer  *Renderer
	poller    *Poller
	observer  func(Message)

	submitGate sync.Mutex

	mu             sync.Mutex
	state          State
	epoch          int
	sessionID      string
	log            []Message
	draft          Draft
	fileUploaded   bool
	ended          bool
	disabled       bool
	disabledErr    *client.APIError
	messageLimited bool
	notice         string
}

// NewController creates a new Controller instance
func NewController(transport Transport, cfg *config.Config, identity Identity, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		cfg:       cfg,
		identity:  identity,
		renderer:  NewRenderer(cfg.ChunkDelay),
		poller:    NewPoller(transport, cfg.PollInterval, cfg.MaxPollAttempts),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartSession bootstraps the session: on a greeting it delivers it chunk by
// chunk, on has_messages it fetches and replaces the log from history. The
// two are mutually exclusive. Calling it again while initialized is a no-op.
func (c *Controller) StartSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return nil
	}
	c.state = StateInitializing
	epoch := c.epoch
	sessionID := c.sessionID
	c.mu.Unlock()

	initResp, err := c.transport.InitSession(ctx, c.identity.UserID, sessionID)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if epoch != c.epoch {
			return nil
		}
		c.state = StateReady
		c.applyInitErrorLocked(err)
		return err
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	c.sessionID = initResp.SessionID
	c.mu.Unlock()

	slog.Info("Chat session initialized", "session_id", initResp.SessionID, "has_messages", initResp.HasMessages)

	// The state stays initializing until the bootstrap delivery finishes, so
	// a racing Submit gets ErrNotReady instead of interleaving with it.
	switch {
	case initResp.Greeting != "":
		err = c.renderer.Deliver(ctx, uuid.NewString(), c.cfg.AssistantName, initResp.Greeting, c.appendFor(epoch))
	case initResp.HasMessages:
		err = c.loadHistory(ctx, epoch, initResp.SessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return nil
	}
	c.state = StateReady
	return err
}

func (c *Controller) loadHistory(ctx context.Context, epoch int, sessionID string) error {
	historyResp, err := c.transport.History(ctx, sessionID, c.cfg.HistoryLimit)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if epoch != c.epoch {
			return nil
		}
		c.appendLocked(c.systemMessage("Failed to load the conversation history."))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return nil
	}
	c.log = nil
	for _, item := range historyResp.Messages {
		c.appendLocked(c.historyMessage(item, sessionID))
	}
	return nil
}

func (c *Controller) historyMessage(item client.HistoryMessage, sessionID string) Message {
	msg := Message{
		ID:        item.ID,
		SessionID: sessionID,
		Content:   item.Content,
		Timestamp: item.Timestamp,
	}
	switch item.MessageType {
	case client.MessageTypeUser:
		msg.Role = RoleUser
		msg.Author = c.identity.DisplayName
	case client.MessageTypeAssistant:
		msg.Role = RoleAssistant
		msg.Author = c.cfg.AssistantName
	default:
		msg.Role = RoleSystem
		msg.Author = SystemAuthor
	}
	return msg
}

// Submit sends the user's message, optimistically echoing it to the log
// first. With an attachment it takes the async path, otherwise the sync one.
// A second submission while one is in flight returns ErrBusy.
func (c *Controller) Submit(ctx context.Context, text string, upload *Upload) error {
	if text == "" && upload == nil {
		return ErrEmptySubmission
	}

	c.mu.Lock()
	switch {
	case c.disabled:
		c.mu.Unlock()
		return ErrChatDisabled
	case c.ended:
		c.mu.Unlock()
		return ErrSessionEnded
	case c.messageLimited:
		c.mu.Unlock()
		return ErrMessageLimited
	case c.state == StateUninitialized || c.state == StateInitializing:
		c.mu.Unlock()
		return ErrNotReady
	}
	c.mu.Unlock()

	if !c.submitGate.TryLock() {
		return ErrBusy
	}
	defer c.submitGate.Unlock()

	c.mu.Lock()
	epoch := c.epoch
	c.state = StateSubmitting
	c.draft = Draft{}
	c.notice = ""
	echo := Message{
		ID:        uuid.NewString(),
		SessionID: c.sessionID,
		Role:      RoleUser,
		Author:    c.identity.DisplayName,
		Content:   text,
		Timestamp: time.Now(),
	}
	if upload != nil {
		echo.Attachment = &Attachment{Name: upload.Name}
	}
	c.appendLocked(echo)
	request := client.SendRequest{
		Message:   text,
		UserID:    c.identity.UserID,
		PaidUser:  c.identity.PaidUser,
		SessionID: c.sessionID,
	}
	c.mu.Unlock()

	var err error
	if upload != nil {
		request.FileName = upload.Name
		request.FileContent = upload.Content
		err = c.submitAsync(ctx, epoch, request)
	} else {
		err = c.submitSync(ctx, epoch, request)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return nil
	}
	c.state = StateReady
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		c.applySubmitErrorLocked(err, text, upload)
	}
	return err
}

func (c *Controller) submitSync(ctx context.Context, epoch int, request client.SendRequest) error {
	chatResp, err := c.transport.SendMessage(ctx, request)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	if chatResp.SessionID != "" {
		c.sessionID = chatResp.SessionID
	}
	if chatResp.IsFileUploaded {
		c.fileUploaded = true
	}
	if chatResp.EndSession {
		c.ended = true
	}
	c.mu.Unlock()

	if chatResp.Response == "" {
		return nil
	}
	return c.renderer.Deliver(ctx, uuid.NewString(), c.cfg.AssistantName, chatResp.Response, c.appendFor(epoch))
}

func (c *Controller) submitAsync(ctx context.Context, epoch int, request client.SendRequest) error {
	submitResp, err := c.transport.SubmitAsync(ctx, request)
	if err != nil {
		return err
	}

	placeholderID := "processing-" + submitResp.TaskID
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return nil
	}
	if submitResp.SessionID != "" {
		c.sessionID = submitResp.SessionID
	}
	c.appendLocked(Message{
		ID:        placeholderID,
		SessionID: c.sessionID,
		Role:      RoleAssistant,
		Author:    c.cfg.AssistantName,
		Content:   processingText,
		Timestamp: time.Now(),
	})
	c.mu.Unlock()

	outcome, err := c.poller.PollUntilDone(ctx, submitResp.TaskID)
	c.removeMessage(epoch, placeholderID)
	if err != nil {
		return err
	}

	appendMsg := c.appendFor(epoch)
	switch outcome.Status {
	case TaskCompleted:
		c.mu.Lock()
		if epoch == c.epoch {
			if outcome.IsFileUploaded {
				c.fileUploaded = true
			}
			if outcome.EndSession {
				c.ended = true
			}
		}
		c.mu.Unlock()
		if outcome.Response != "" {
			return c.renderer.Deliver(ctx, uuid.NewString(), c.cfg.AssistantName, outcome.Response, appendMsg)
		}
	case TaskFailed:
		text := outcome.Err
		if text == "" {
			text = taskFailedFallback
		}
		appendMsg(c.systemMessage(text))
	case TaskTimedOut:
		appendMsg(c.systemMessage(timeoutText))
	}
	return nil
}

// AcknowledgeEnd confirms a server-signalled session end: the log is cleared
// and the controller returns to uninitialized for a fresh session.
func (c *Controller) AcknowledgeEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ended {
		return
	}
	c.resetLocked()
}

// Reset abandons the current session unconditionally, including a disabled
// one. Outstanding polls and deliveries become no-ops.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.epoch++
	c.state = StateUninitialized
	c.sessionID = ""
	c.log = nil
	c.draft = Draft{}
	c.fileUploaded = false
	c.ended = false
	c.disabled = false
	c.disabledErr = nil
	c.messageLimited = false
	c.notice = ""
}

// ClearMessageLimit lifts the send block after the quota has been remediated.
func (c *Controller) ClearMessageLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageLimited = false
	c.notice = ""
}

// DismissNotice clears the inline notice.
func (c *Controller) DismissNotice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notice = ""
}

// Messages returns a copy of the chat log.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := make([]Message, len(c.log))
	copy(log, c.log)
	return log
}

// State returns the controller's lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the current server-assigned session id, if any.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Draft returns the input restored by the last failed submission.
func (c *Controller) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// FileUploaded reports whether an attachment has been accepted this session.
func (c *Controller) FileUploaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileUploaded
}

// Ended reports whether the server signalled the end of the session.
func (c *Controller) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Disabled reports whether a fatal error has disabled the session.
func (c *Controller) Disabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled
}

// DisabledError returns the fatal error retained for display, if any.
func (c *Controller) DisabledError() *client.APIError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabledErr
}

// MessageLimited reports whether further sends are blocked by the quota.
func (c *Controller) MessageLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageLimited
}

// Notice returns the current inline notice text, if any.
func (c *Controller) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// appendFor returns an append capability bound to the given epoch. Appends
// from continuations of an abandoned session are dropped.
func (c *Controller) appendFor(epoch int) AppendFunc {
	return func(msg Message) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if epoch != c.epoch {
			return
		}
		c.appendLocked(msg)
	}
}

func (c *Controller) appendLocked(msg Message) {
	if msg.SessionID == "" {
		msg.SessionID = c.sessionID
	}
	c.log = append(c.log, msg)
	if c.observer != nil {
		c.observer(msg)
	}
}

func (c *Controller) removeMessage(epoch int, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	for i, msg := range c.log {
		if msg.ID == id {
			c.log = append(c.log[:i], c.log[i+1:]...)
			return
		}
	}
}

func (c *Controller) systemMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleSystem,
		Author:    SystemAuthor,
		Content:   text,
		Timestamp: time.Now(),
	}
}

// applyInitErrorLocked records the artifacts of a failed session bootstrap:
// always a system message, plus the disabled flag and retained error for
// fatal kinds.
func (c *Controller) applyInitErrorLocked(err error) {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		c.appendLocked(c.systemMessage(networkErrorText))
		return
	}
	text := apiErr.Message
	if text == "" {
		text = fmt.Sprintf("Failed to start the chat session (status %d).", apiErr.Status)
	}
	c.appendLocked(c.systemMessage(text))
	if apiErr.Fatal() {
		c.disabled = true
		c.disabledErr = apiErr
	}
}

// applySubmitErrorLocked records exactly one visible artifact for a failed
// submission and restores the draft unless the session is fatally disabled.
// The optimistic echo always stays in the log.
func (c *Controller) applySubmitErrorLocked(err error, text string, upload *Upload) {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		c.draft = Draft{Text: text, Attachment: upload}
		c.appendLocked(c.systemMessage(networkErrorText))
		return
	}

	if apiErr.Fatal() {
		c.disabled = true
		c.disabledErr = apiErr
		return
	}

	c.draft = Draft{Text: text, Attachment: upload}
	switch apiErr.Kind {
	case client.KindAuthExpired:
		c.appendLocked(c.systemMessage(authExpiredText))
	case client.KindRateLimited:
		c.notice = apiErr.Message
		if c.notice == "" {
			c.notice = rateLimitFallback
		}
	case client.KindMessageLimit:
		c.messageLimited = true
		c.notice = apiErr.Message
		if c.notice == "" {
			c.notice = messageLimitFallback
		}
	case client.KindGatewayTimeout:
		c.appendLocked(c.systemMessage(gatewayTimeoutText))
	default:
		text := apiErr.Message
		if text == "" {
			text = fmt.Sprintf("Request failed with status %d. Please try again.", apiErr.Status)
		}
		c.appendLocked(c.systemMessage(text))
	}
}
