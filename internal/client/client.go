package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/debo-6186/aistockrecommender/internal/auth"
	"github.com/debo-6186/aistockrecommender/internal/config"
)

const (
	JSONContentType = "application/json"
)

// Client talks to the host agent REST API. It owns no UI state: every method
// does network I/O only and returns either the typed payload or an *APIError.
type Client struct {
	httpClient *http.Client
	cfg        *config.Config
	tokens     auth.TokenSource
}

// NewClient creates a new API Client instance
func NewClient(cfg *config.Config, tokens auth.TokenSource) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		tokens:     tokens,
	}
}

// InitSession bootstraps a chat session for the user. Passing a previous
// session id asks the server to resume it.
func (c *Client) InitSession(ctx context.Context, userID, sessionID string) (*InitResponse, error) {
	initResp := InitResponse{}
	build := func() (*http.Request, error) {
		return c.newJSONRequest(ctx, c.cfg.BaseURL+"/chats/init", InitRequest{UserID: userID, SessionID: sessionID})
	}
	if err := c.do(ctx, build, &initResp); err != nil {
		return nil, err
	}
	return &initResp, nil
}

// SendMessage sends a message on the synchronous path; the assistant reply
// comes back inline.
func (c *Client) SendMessage(ctx context.Context, request SendRequest) (*ChatResponse, error) {
	chatResp := ChatResponse{}
	if err := c.do(ctx, c.sendRequestBuilder(ctx, c.cfg.BaseURL+"/chats", request), &chatResp); err != nil {
		return nil, err
	}
	return &chatResp, nil
}

// SubmitAsync submits a message as a long-running task and returns its handle.
// Always used when an attachment is present.
func (c *Client) SubmitAsync(ctx context.Context, request SendRequest) (*AsyncSubmitResponse, error) {
	submitResp := AsyncSubmitResponse{}
	if err := c.do(ctx, c.sendRequestBuilder(ctx, c.cfg.BaseURL+"/chats/async", request), &submitResp); err != nil {
		return nil, err
	}
	return &submitResp, nil
}

// TaskStatus polls the status of one async task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	statusResp := TaskStatusResponse{}
	build := func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+"/chats/tasks/"+taskID, nil)
	}
	if err := c.do(ctx, build, &statusResp); err != nil {
		return nil, err
	}
	return &statusResp, nil
}

// History fetches up to limit messages of an existing session.
func (c *Client) History(ctx context.Context, sessionID string, limit int) (*HistoryResponse, error) {
	historyResp := HistoryResponse{}
	build := func() (*http.Request, error) {
		historyURL := fmt.Sprintf("%s/sessions/%s/messages?limit=%d", c.cfg.BaseURL, sessionID, limit)
		return http.NewRequestWithContext(ctx, "GET", historyURL, nil)
	}
	if err := c.do(ctx, build, &historyResp); err != nil {
		return nil, err
	}
	return &historyResp, nil
}

// sendRequestBuilder encodes a SendRequest as JSON, or as multipart form data
// when an attachment is present. The builder produces a fresh request per
// attempt so the 504 retry can resend the body.
func (c *Client) sendRequestBuilder(ctx context.Context, url string, request SendRequest) func() (*http.Request, error) {
	if !request.HasFile() {
		return func() (*http.Request, error) {
			return c.newJSONRequest(ctx, url, request)
		}
	}
	return func() (*http.Request, error) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		fields := map[string]string{
			"message":   request.Message,
			"user_id":   request.UserID,
			"paid_user": strconv.FormatBool(request.PaidUser),
		}
		if request.SessionID != "" {
			fields["session_id"] = request.SessionID
		}
		for name, value := range fields {
			if err := writer.WriteField(name, value); err != nil {
				return nil, fmt.Errorf("write multipart field %s: %w", name, err)
			}
		}
		part, err := writer.CreateFormFile("file", request.FileName)
		if err != nil {
			return nil, fmt.Errorf("create multipart file part: %w", err)
		}
		if _, err := part.Write(request.FileContent); err != nil {
			return nil, fmt.Errorf("write multipart file part: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("close multipart writer: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	}
}

func (c *Client) newJSONRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", JSONContentType)
	return req, nil
}

// do sends the request built by build, retrying exactly once on a gateway
// timeout and refreshing the credential exactly once on 401. Every other
// non-2xx response is classified and returned as an *APIError.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error), out any) error {
	retriedTimeout := false
	refreshed := false
	for {
		req, err := build()
		if err != nil {
			slog.Error("Failed to build api request", "error", err)
			return err
		}
		req.Header.Set("Accept", JSONContentType)
		if token, err := c.tokens.IdentityToken(ctx); err == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		res, err := c.httpClient.Do(req)
		if err != nil {
			slog.Error("Failed to send api request", "error", err)
			return fmt.Errorf("send request: %w", err)
		}
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			slog.Error("Failed to read response body", "error", err)
			return fmt.Errorf("read response body: %w", err)
		}

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				slog.Error("Failed to unmarshal response body", "error", err)
				return fmt.Errorf("unmarshal response body: %w", err)
			}
			return nil
		}

		if res.StatusCode == http.StatusGatewayTimeout && !retriedTimeout {
			retriedTimeout = true
			slog.Warn("Gateway timeout, retrying once", "path", req.URL.Path)
			continue
		}
		if res.StatusCode == http.StatusUnauthorized && !refreshed {
			refreshed = true
			if _, err := c.tokens.Refresh(ctx); err == nil {
				slog.Info("Identity token refreshed after 401", "path", req.URL.Path)
				continue
			} else {
				slog.Error("Failed to refresh identity token", "error", err)
			}
		}

		apiErr := Classify(res.StatusCode, errorMessage(body))
		slog.Error("Api request failed", "path", req.URL.Path, "status", res.StatusCode, "kind", string(apiErr.Kind))
		return apiErr
	}
}

// errorMessage extracts the server-provided message from an error body.
func errorMessage(body []byte) string {
	payload := struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}{}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Detail != "":
			return payload.Detail
		case payload.Message != "":
			return payload.Message
		case payload.Error != "":
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}
