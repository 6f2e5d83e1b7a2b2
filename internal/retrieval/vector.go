package retrieval

import "math"

// cosineSimilarity assumes both vectors are already unit-normalized;
// callers normalize once at index time rather than on every search.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// dedupeThreshold is the fixed pairwise-similarity cutoff search uses
// to collapse near-duplicate hits, keeping the higher-scoring one.
const dedupeThreshold = 0.9

func dedupeResults(results []SearchResult, vectors map[string][]float32) []SearchResult {
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		dup := false
		for _, kept := range out {
			if cosineSimilarity(vectors[r.PageID], vectors[kept.PageID]) > dedupeThreshold {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r)
		}
	}
	return out
}
