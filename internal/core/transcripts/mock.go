package transcripts

import (
	"context"
	"fmt"
	"hash/fnv"
)

// MockClient returns a deterministic transcript derived from the audio
// URL, long enough to exercise summary and quality-score paths.
type MockClient struct{}

// NewMockClient creates a mock transcription client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Transcribe implements Client.
func (c *MockClient) Transcribe(_ context.Context, audioURL string) (string, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(audioURL))

	return fmt.Sprintf(
		"Mock transcript %08x. The host welcomes a guest and they discuss the show's usual topics "+
			"in depth, covering background, current work and practical advice for the audience. "+
			"The conversation closes with where to find the guest online.",
		h.Sum32(),
	), nil
}

var _ Client = (*MockClient)(nil)
