package enrich

import "math"

// Quality score weights and normalization ceilings. The score blends
// reach (audience), transcript depth, catalog size and topical breadth
// into [0,1]; each component saturates at its ceiling so one huge show
// cannot dominate on a single axis.
const (
	weightAudience = 0.35
	weightDepth    = 0.30
	weightCatalog  = 0.20
	weightBreadth  = 0.15

	// log10(1e6): a million listeners saturates the audience axis.
	audienceLogCeiling = 6.0

	// A 7500-word transcript is roughly a dense hour of talk.
	depthWordsCeiling = 7500.0

	catalogEpisodeCeiling = 100.0
	breadthThemesCeiling  = 12.0

	// qualityEpisodeWindow is how many recent episodes feed the depth
	// and breadth components.
	qualityEpisodeWindow = 20
)

// Inputs are the observable facts the quality score is computed from.
type Inputs struct {
	AudienceSize    int64
	EpisodeCount    int
	TranscriptWords []int
	DistinctThemes  int
}

// Score computes the deterministic media quality score in [0,1].
// Same inputs always produce the same score; there is no model call
// anywhere in here.
func Score(in Inputs) float32 {
	listeners := float64(in.AudienceSize)
	if listeners < 0 {
		listeners = 0
	}

	audience := clamp01(math.Log10(listeners+1) / audienceLogCeiling)
	depth := clamp01(avgWords(in.TranscriptWords) / depthWordsCeiling)
	catalog := clamp01(float64(in.EpisodeCount) / catalogEpisodeCeiling)
	breadth := clamp01(float64(in.DistinctThemes) / breadthThemesCeiling)

	score := weightAudience*audience +
		weightDepth*depth +
		weightCatalog*catalog +
		weightBreadth*breadth

	return float32(score)
}

func avgWords(counts []int) float64 {
	if len(counts) == 0 {
		return 0
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	return float64(total) / float64(len(counts))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}

	if v > 1 {
		return 1
	}

	return v
}
