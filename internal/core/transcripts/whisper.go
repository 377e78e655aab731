package transcripts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	apperrors "github.com/podscout/podscout/internal/core/errors"
	"github.com/podscout/podscout/internal/platform/observability"
)

// Whisper rejects uploads above 25 MB.
const maxAudioBytes = 25 << 20

const defaultFetchTimeout = 5 * time.Minute

// ErrAudioTooLarge indicates the enclosure exceeds the upload limit.
var ErrAudioTooLarge = errors.New("audio file exceeds transcription size limit")

type whisperClient struct {
	api        *openai.Client
	httpClient *http.Client
	model      string
	logger     zerolog.Logger
}

func newWhisperClient(cfg Config, logger *zerolog.Logger) *whisperClient {
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	timeout := cfg.FetchTimeout
	if timeout == 0 {
		timeout = defaultFetchTimeout
	}

	return &whisperClient{
		api:        openai.NewClient(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		model:      model,
		logger:     logger.With().Str("component", "transcripts").Logger(),
	}
}

// Transcribe downloads the audio and runs it through Whisper.
func (c *whisperClient) Transcribe(ctx context.Context, audioURL string) (string, error) {
	audio, name, err := c.fetchAudio(ctx, audioURL)
	if err != nil {
		observability.TranscriptionsTotal.WithLabelValues("fetch_error").Inc()

		return "", err
	}

	start := time.Now()

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: name,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		observability.TranscriptionsTotal.WithLabelValues("error").Inc()

		return "", fmt.Errorf("whisper transcription: %w", classifyAPIError(err))
	}

	observability.TranscriptionsTotal.WithLabelValues("success").Inc()

	c.logger.Debug().
		Str("audio_url", audioURL).
		Int("audio_bytes", len(audio)).
		Int("transcript_chars", len(resp.Text)).
		Dur("duration", time.Since(start)).
		Msg("transcribed episode audio")

	return resp.Text, nil
}

// fetchAudio downloads the enclosure into memory, bounded by the
// upload limit. The returned name keeps the URL's extension so the API
// can sniff the container format.
func (c *whisperClient) fetchAudio(ctx context.Context, audioURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build audio request: %v", apperrors.ErrPermanent, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: fetch audio: %v", apperrors.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", fmt.Errorf("%w: audio fetch status %d", apperrors.ErrPermanent, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", fmt.Errorf("%w: audio fetch status %d", apperrors.ErrTransient, resp.StatusCode)
	default:
		return nil, "", fmt.Errorf("%w: audio fetch status %d", apperrors.ErrPermanent, resp.StatusCode)
	}

	if resp.ContentLength > maxAudioBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrAudioTooLarge, resp.ContentLength)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read audio: %v", apperrors.ErrTransient, err)
	}

	if len(audio) > maxAudioBytes {
		return nil, "", fmt.Errorf("%w: over %d bytes", ErrAudioTooLarge, maxAudioBytes)
	}

	return audio, audioFileName(audioURL), nil
}

func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrTransient, err)
	}

	switch {
	case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err)
	case apiErr.HTTPStatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", apperrors.ErrTransient, err)
	default:
		return fmt.Errorf("%w: %v", apperrors.ErrPermanent, err)
	}
}

// audioFileName derives an upload name with a recognizable extension.
func audioFileName(audioURL string) string {
	const fallback = "episode.mp3"

	parsed, err := url.Parse(audioURL)
	if err != nil {
		return fallback
	}

	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return fallback
	}

	return name
}

var _ Client = (*whisperClient)(nil)
