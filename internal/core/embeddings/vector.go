package embeddings

import "math"

// Fit pads or truncates a vector to the requested dimension. Zero
// padding keeps cosine angles intact, so fitted vectors stay
// comparable with the stored pgvector columns.
func Fit(vec []float32, dims int) []float32 {
	switch {
	case len(vec) == dims:
		return vec
	case len(vec) > dims:
		return vec[:dims]
	}

	out := make([]float32, dims)
	copy(out, vec)

	return out
}

// unit scales a vector to length one. Zero vectors pass through.
func unit(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	if sum == 0 {
		return vec
	}

	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}

	return vec
}

// estimateTokens approximates usage at four characters per token.
func estimateTokens(text string) int {
	const charsPerToken = 4

	return (len(text) + charsPerToken - 1) / charsPerToken
}
