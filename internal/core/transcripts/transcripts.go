// Package transcripts turns episode audio into text through the
// Whisper API. Audio is downloaded with a bounded GET first because
// the API wants the bytes, not a URL. A deterministic mock fills in
// when no key is configured so development and tests work offline.
package transcripts

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Client transcribes one episode's audio enclosure.
type Client interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

const mockAPIKey = "mock"

// Config holds configuration for creating a transcription client.
type Config struct {
	APIKey       string
	Model        string
	FetchTimeout time.Duration
}

// NewClient creates a transcription client. When no API key is
// configured the mock client is returned instead.
func NewClient(cfg Config, logger *zerolog.Logger) Client {
	if cfg.APIKey == "" || cfg.APIKey == mockAPIKey {
		logger.Warn().Msg("no transcription provider configured, using mock client")

		return NewMockClient()
	}

	return newWhisperClient(cfg, logger)
}
