package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debo-6186/aistockrecommender/internal/chat"
)

func newTestStorage(t *testing.T) (*Sessions, *Messages) {
	t.Helper()
	db, err := NewSqliteDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sessions, err := NewSessions(db)
	require.NoError(t, err)
	messages, err := NewMessages(db)
	require.NoError(t, err)
	return sessions, messages
}

func TestSessionsRoundTrip(t *testing.T) {
	sessions, _ := newTestStorage(t)

	older := chat.Session{ID: "s1", Name: "first chat", Timestamp: time.Now().Add(-time.Hour)}
	newer := chat.Session{ID: "s2", Name: "second chat", Timestamp: time.Now()}
	require.NoError(t, sessions.Write(older))
	require.NoError(t, sessions.Write(newer))

	archive, err := sessions.Read()
	require.NoError(t, err)
	require.Len(t, archive, 2)
	assert.Equal(t, "s2", archive[0].ID)
	assert.Equal(t, "s1", archive[1].ID)
	assert.Equal(t, "second chat", archive[0].Name)
}

func TestSessionsWriteIsIdempotent(t *testing.T) {
	sessions, _ := newTestStorage(t)

	session := *chat.NewSession("s1", "chat")
	require.NoError(t, sessions.Write(session))
	require.NoError(t, sessions.Write(session))

	archive, err := sessions.Read()
	require.NoError(t, err)
	assert.Len(t, archive, 1)
}

func TestMessagesRoundTrip(t *testing.T) {
	sessions, messages := newTestStorage(t)
	require.NoError(t, sessions.Write(*chat.NewSession("s1", "chat")))

	base := time.Now().Add(-time.Minute)
	first := chat.Message{
		ID:        "m1",
		SessionID: "s1",
		Role:      chat.RoleUser,
		Author:    "You",
		Content:   "review this",
		Attachment: &chat.Attachment{
			Name: "portfolio.pdf",
			URL:  "https://files.example.com/portfolio.pdf",
		},
		Timestamp: base,
	}
	second := chat.Message{
		ID:        "m2",
		SessionID: "s1",
		Role:      chat.RoleAssistant,
		Author:    "Advisor",
		Content:   "Looks balanced.",
		Timestamp: base.Add(30 * time.Second),
	}
	require.NoError(t, messages.Write(second))
	require.NoError(t, messages.Write(first))

	archive, err := messages.ReadBySessionID("s1")
	require.NoError(t, err)
	require.Len(t, archive, 2)

	assert.Equal(t, "m1", archive[0].ID)
	assert.Equal(t, "m2", archive[1].ID)
	assert.Equal(t, chat.RoleUser, archive[0].Role)
	require.NotNil(t, archive[0].Attachment)
	assert.Equal(t, "portfolio.pdf", archive[0].Attachment.Name)
	assert.Equal(t, "https://files.example.com/portfolio.pdf", archive[0].Attachment.URL)
	assert.Nil(t, archive[1].Attachment)
	assert.WithinDuration(t, base, archive[0].Timestamp, time.Second)
}

func TestMessagesReadOtherSessionEmpty(t *testing.T) {
	sessions, messages := newTestStorage(t)
	require.NoError(t, sessions.Write(*chat.NewSession("s1", "chat")))
	require.NoError(t, messages.Write(chat.Message{ID: "m1", SessionID: "s1", Role: chat.RoleUser, Author: "You", Content: "hi"}))

	archive, err := messages.ReadBySessionID("s2")
	require.NoError(t, err)
	assert.Empty(t, archive)
}

func TestSessionDeleteCascades(t *testing.T) {
	sessions, messages := newTestStorage(t)
	require.NoError(t, sessions.Write(*chat.NewSession("s1", "chat")))
	require.NoError(t, messages.Write(chat.Message{ID: "m1", SessionID: "s1", Role: chat.RoleUser, Author: "You", Content: "hi"}))

	require.NoError(t, sessions.Delete("s1"))

	archive, err := sessions.Read()
	require.NoError(t, err)
	assert.Empty(t, archive)

	archived, err := messages.ReadBySessionID("s1")
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestMessageDelete(t *testing.T) {
	sessions, messages := newTestStorage(t)
	require.NoError(t, sessions.Write(*chat.NewSession("s1", "chat")))
	require.NoError(t, messages.Write(chat.Message{ID: "m1", SessionID: "s1", Role: chat.RoleUser, Author: "You", Content: "hi"}))

	require.NoError(t, messages.Delete("m1"))

	archive, err := messages.ReadBySessionID("s1")
	require.NoError(t, err)
	assert.Empty(t, archive)
}
