package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/podscout/podscout/internal/platform/circuit"
)

type stubProvider struct {
	name  string
	ready bool
	vec   []float32
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Ready() bool  { return s.ready }

func (s *stubProvider) Embed(context.Context, string) ([]float32, error) {
	s.calls++

	if s.err != nil {
		return nil, s.err
	}

	return s.vec, nil
}

func testChain(providers ...Provider) *Chain {
	logger := zerolog.Nop()

	return NewChain(4, circuit.Settings{Trip: 2, Cooldown: time.Minute}, &logger, providers...)
}

func TestChainFallsBackOnFailure(t *testing.T) {
	primary := &stubProvider{name: "a", ready: true, err: errors.New("boom")}
	backup := &stubProvider{name: "b", ready: true, vec: []float32{1, 2}}

	vec, err := testChain(primary, backup).Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(vec) != 4 {
		t.Fatalf("fitted length = %d, want 4", len(vec))
	}

	if primary.calls != 1 || backup.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.calls, backup.calls)
	}
}

func TestChainSkipsNotReady(t *testing.T) {
	offline := &stubProvider{name: "a", ready: false}
	online := &stubProvider{name: "b", ready: true, vec: []float32{1}}

	if _, err := testChain(offline, online).Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if offline.calls != 0 {
		t.Fatalf("offline provider called %d times", offline.calls)
	}
}

func TestChainBreakerSkipsAfterTrip(t *testing.T) {
	failing := &stubProvider{name: "a", ready: true, err: errors.New("boom")}
	backup := &stubProvider{name: "b", ready: true, vec: []float32{1}}
	c := testChain(failing, backup)

	for i := 0; i < 3; i++ {
		if _, err := c.Embed(context.Background(), "x"); err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
	}

	// Two failures open the breaker; the third call skips the provider.
	if failing.calls != 2 {
		t.Fatalf("failing provider called %d times, want 2", failing.calls)
	}

	if backup.calls != 3 {
		t.Fatalf("backup provider called %d times, want 3", backup.calls)
	}
}

func TestChainAllFailed(t *testing.T) {
	p := &stubProvider{name: "a", ready: true, err: errors.New("boom")}

	_, err := testChain(p).Embed(context.Background(), "x")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestChainNoProviders(t *testing.T) {
	_, err := testChain().Embed(context.Background(), "x")
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err = %v, want ErrNoProviders", err)
	}
}

func TestNewClientWithoutKeyUsesMock(t *testing.T) {
	logger := zerolog.Nop()
	client := NewClient(Config{Dimensions: 8}, &logger)

	vec, err := client.Embed(context.Background(), "growth marketing")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(vec) != 8 {
		t.Fatalf("dimensions = %d, want 8", len(vec))
	}
}
