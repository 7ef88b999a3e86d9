package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/debo-6186/aistockrecommender/internal/auth"
	"github.com/debo-6186/aistockrecommender/internal/chat"
	"github.com/debo-6186/aistockrecommender/internal/client"
	"github.com/debo-6186/aistockrecommender/internal/config"
	"github.com/debo-6186/aistockrecommender/storage"
)

const sessionNameLimit = 48

func main() {
	ctx := context.Background()
	godotenv.Load(".env")

	baseURL := envOr("HOST_AGENT_URL", "http://localhost:8000")
	userID := os.Getenv("USER_ID")
	if userID == "" {
		log.Fatal("USER_ID must be set")
	}
	userName := envOr("USER_NAME", "You")
	paidUser, _ := strconv.ParseBool(os.Getenv("PAID_USER"))

	cfg := config.NewConfig(baseURL)

	tokens, err := newTokenSource(ctx)
	if err != nil {
		log.Fatalf("Failed to create token source: %s", err)
	}

	db, err := storage.NewSqliteDB(envOr("HISTORY_DB", "chat.db"))
	if err != nil {
		log.Fatalf("Failed to open history database: %s", err)
	}
	sessions, err := storage.NewSessions(db)
	if err != nil {
		log.Fatalf("Failed to init sessions storage: %s", err)
	}
	messages, err := storage.NewMessages(db)
	if err != nil {
		log.Fatalf("Failed to init messages storage: %s", err)
	}

	apiClient := client.NewClient(cfg, tokens)
	controller := chat.NewController(apiClient, cfg, chat.Identity{
		UserID:      userID,
		DisplayName: userName,
		PaidUser:    paidUser,
	}, chat.WithObserver(printMessage))

	if err := controller.StartSession(ctx); err != nil {
		slog.Error("Failed to start chat session", "error", err)
	}

	archived := 0
	sessionNamed := false
	reader := bufio.NewReader(os.Stdin)
	for {
		printBanner(controller)
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)

		var upload *chat.Upload
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/new":
			controller.Reset()
			archived = 0
			sessionNamed = false
			if err := controller.StartSession(ctx); err != nil {
				slog.Error("Failed to start chat session", "error", err)
			}
			continue
		case line == "/sessions":
			listSessions(sessions)
			continue
		case line == "/retry":
			draft := controller.Draft()
			if draft.Text == "" && draft.Attachment == nil {
				fmt.Println("Nothing to retry.")
				continue
			}
			line = draft.Text
			upload = draft.Attachment
		case strings.HasPrefix(line, "/file "):
			line, upload, err = parseFileCommand(line)
			if err != nil {
				fmt.Println(err)
				continue
			}
			if controller.FileUploaded() {
				fmt.Println("A document has already been uploaded for this session.")
				continue
			}
		}

		if controller.Ended() {
			controller.AcknowledgeEnd()
			archived = 0
			sessionNamed = false
			fmt.Println("Session ended. Starting a fresh one.")
			if err := controller.StartSession(ctx); err != nil {
				slog.Error("Failed to start chat session", "error", err)
				continue
			}
		}

		if err := controller.Submit(ctx, line, upload); err != nil {
			slog.Error("Submission failed", "error", err)
			if draft := controller.Draft(); draft.Text != "" || draft.Attachment != nil {
				fmt.Println("Your message was kept, type /retry to resend it.")
			}
		}

		if !sessionNamed && controller.SessionID() != "" {
			if err := sessions.Write(*chat.NewSession(controller.SessionID(), sessionName(line))); err != nil {
				slog.Error("Failed to archive session", "error", err)
			} else {
				sessionNamed = true
			}
		}
		archived = archiveMessages(messages, controller, archived)
	}
}

func newTokenSource(ctx context.Context) (auth.TokenSource, error) {
	refreshToken := os.Getenv("AUTH_REFRESH_TOKEN")
	if refreshToken == "" {
		return auth.NewStaticTokenSource(os.Getenv("AUTH_ID_TOKEN")), nil
	}
	handler, err := auth.NewRefreshHandler(ctx, os.Getenv("AUTH_TOKEN_ENDPOINT"), os.Getenv("AUTH_API_KEY"), refreshToken)
	if err != nil {
		return nil, err
	}
	wg := handler.Run(ctx)
	go func() {
		defer close(handler.ErrorChan)
		wg.Wait()
	}()
	return handler, nil
}

func printMessage(msg chat.Message) {
	if msg.Attachment != nil {
		fmt.Printf("%s: %s [attached: %s]\n", msg.Author, msg.Content, msg.Attachment.Name)
		return
	}
	fmt.Printf("%s: %s\n", msg.Author, msg.Content)
}

func printBanner(controller *chat.Controller) {
	if controller.Disabled() {
		if apiErr := controller.DisabledError(); apiErr != nil {
			fmt.Printf("Chat disabled: %s. Type /new to start over.\n", apiErr.Message)
		} else {
			fmt.Println("Chat disabled. Type /new to start over.")
		}
		return
	}
	if notice := controller.Notice(); notice != "" {
		fmt.Printf("! %s\n", notice)
	}
	if controller.Ended() {
		fmt.Println("The session has ended. Your next message starts a fresh one.")
	}
}

func parseFileCommand(line string) (string, *chat.Upload, error) {
	rest := strings.TrimPrefix(line, "/file ")
	path, text, _ := strings.Cut(rest, " ")
	content, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(text), &chat.Upload{Name: filepath.Base(path), Content: content}, nil
}

func listSessions(sessions *storage.Sessions) {
	archive, err := sessions.Read()
	if err != nil {
		slog.Error("Failed to read archived sessions", "error", err)
		return
	}
	for _, session := range archive {
		fmt.Printf("%s  %s  %s\n", session.Timestamp.Format("2006-01-02 15:04"), session.ID, session.Name)
	}
}

func archiveMessages(messages *storage.Messages, controller *chat.Controller, archived int) int {
	log := controller.Messages()
	for i := archived; i < len(log); i++ {
		if err := messages.Write(log[i]); err != nil {
			slog.Error("Failed to archive message", "error", err)
			return i
		}
	}
	return len(log)
}

func sessionName(firstMessage string) string {
	if firstMessage == "" {
		firstMessage = "new chat"
	}
	if len(firstMessage) > sessionNameLimit {
		firstMessage = firstMessage[:sessionNameLimit]
	}
	return firstMessage
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
