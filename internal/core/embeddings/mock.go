package embeddings

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
)

// Mock derives vectors from the text alone, so the same input embeds
// identically across runs. Vectors are unit length to mirror the real
// models.
type Mock struct {
	dims int
}

// NewMock builds a mock provider emitting vectors of the given size.
func NewMock(dims int) *Mock {
	if dims <= 0 {
		dims = DefaultDimensions
	}

	return &Mock{dims: dims}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Ready() bool { return true }

// Embed seeds a PCG generator from the text hash and draws the vector
// from it.
func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	vec := make([]float32, m.dims)
	for i := range vec {
		vec[i] = float32(rng.Float64()*2 - 1)
	}

	return unit(vec), nil
}
