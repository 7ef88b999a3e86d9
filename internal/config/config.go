package config

import "time"

const (
	defaultPollInterval    = time.Second * 5
	defaultMaxPollAttempts = 120
	defaultChunkDelay      = time.Millisecond * 2500
	defaultHistoryLimit    = 50
	defaultRequestTimeout  = time.Second * 30
	defaultAssistantName   = "Advisor"
)

// Config holds the tunable constants of the chat client. The polling and
// delivery timings are plain fields so tests can shrink them.
type Config struct {
	BaseURL         string
	PollInterval    time.Duration
	MaxPollAttempts int
	ChunkDelay      time.Duration
	HistoryLimit    int
	RequestTimeout  time.Duration
	AssistantName   string
}

// NewConfig creates a new Config instance with default timings
func NewConfig(baseURL string) *Config {
	return &Config{
		BaseURL:         baseURL,
		PollInterval:    defaultPollInterval,
		MaxPollAttempts: defaultMaxPollAttempts,
		ChunkDelay:      defaultChunkDelay,
		HistoryLimit:    defaultHistoryLimit,
		RequestTimeout:  defaultRequestTimeout,
		AssistantName:   defaultAssistantName,
	}
}
