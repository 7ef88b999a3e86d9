package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	JSONContentType       = "application/json"
	URLEncodedContentType = "application/x-www-form-urlencoded"
)

const (
	errorChanBufferSize       = 100
	rotateTokenTickerInterval = time.Minute * 45
)

// TokenSource supplies the bearer credential attached to every chat request.
// Refresh is called once by the transport when the server answers 401.
type TokenSource interface {
	IdentityToken(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token. Used when the caller already holds
// a valid identity token, and by tests.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource creates a new StaticTokenSource instance
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) IdentityToken(ctx context.Context) (string, error) {
	return s.token, nil
}

func (s *StaticTokenSource) Refresh(ctx context.Context) (string, error) {
	return s.token, nil
}

type tokenErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type tokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

// RefreshHandler exchanges a long-lived refresh token for short-lived identity
// tokens at the auth provider's token endpoint and rotates them periodically.
type RefreshHandler struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	ErrorChan  chan error

	mu           sync.RWMutex
	idToken      string
	refreshToken string
}

// NewRefreshHandler creates a new RefreshHandler instance and fetches the
// initial identity token.
func NewRefreshHandler(ctx context.Context, endpoint, apiKey, refreshToken string) (*RefreshHandler, error) {
	handler := &RefreshHandler{
		endpoint:     endpoint,
		apiKey:       apiKey,
		httpClient:   &http.Client{},
		ErrorChan:    make(chan error, errorChanBufferSize),
		refreshToken: refreshToken,
	}
	if _, err := handler.Refresh(ctx); err != nil {
		slog.Error("Failed to get initial identity token", "error", err)
		return nil, err
	}
	return handler, nil
}

func (rh *RefreshHandler) IdentityToken(ctx context.Context) (string, error) {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return rh.idToken, nil
}

func (rh *RefreshHandler) Refresh(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {rh.currentRefreshToken()},
	}
	tokenURL := rh.endpoint
	if rh.apiKey != "" {
		tokenURL += "?key=" + url.QueryEscape(rh.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		slog.Error("Failed to build token request", "error", err)
		return "", err
	}
	req.Header.Add("Content-Type", URLEncodedContentType)
	req.Header.Add("Accept", JSONContentType)
	req.Header.Add("X-Request-Id", uuid.NewString())

	res, err := rh.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send token request", "error", err)
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		slog.Error("Failed to read token response body", "error", err)
		return "", err
	}

	if res.StatusCode != http.StatusOK {
		tokenErr := tokenErrorResponse{}
		if err := json.Unmarshal(body, &tokenErr); err != nil {
			slog.Error("Failed to unmarshal token error response", "error", err)
			return "", err
		}
		return "", fmt.Errorf("token request failed: status code %d, error code %d, message %s", res.StatusCode, tokenErr.Error.Code, tokenErr.Error.Message)
	}

	token := tokenResponse{}
	if err := json.Unmarshal(body, &token); err != nil {
		slog.Error("Failed to unmarshal token response body", "error", err)
		return "", err
	}

	rh.mu.Lock()
	rh.idToken = token.IDToken
	if token.RefreshToken != "" {
		rh.refreshToken = token.RefreshToken
	}
	rh.mu.Unlock()
	return token.IDToken, nil
}

func (rh *RefreshHandler) currentRefreshToken() string {
	rh.mu.RLock()
	defer rh.mu.RUnlock()
	return rh.refreshToken
}

// Run rotates the identity token on a fixed ticker until ctx is cancelled.
func (rh *RefreshHandler) Run(ctx context.Context) *sync.WaitGroup {
	ticker := time.NewTicker(rotateTokenTickerInterval)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rh.rotateToken(ctx)

			case <-ctx.Done():
				return

			case err := <-rh.ErrorChan:
				slog.Error("Identity token rotation error", "error", err)
			}
		}
	}()

	return wg
}

func (rh *RefreshHandler) rotateToken(ctx context.Context) {
	if _, err := rh.Refresh(ctx); err != nil {
		slog.Error("Failed to rotate identity token", "error", err)
		rh.ErrorChan <- err
		return
	}
	slog.Info("Identity token rotated successfully")
}
