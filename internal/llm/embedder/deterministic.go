package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"ctxcore/internal/llm"
)

// Deterministic is a hash-based embedder with no external dependency,
// useful for tests and for running the retrieval pipeline offline. It
// hashes byte 3-grams into a fixed-size vector and L2-normalizes.
type Deterministic struct {
	dim  int
	seed uint64
}

var _ llm.EmbeddingProvider = (*Deterministic)(nil)

func NewDeterministic(dim int, seed uint64) *Deterministic {
	if dim <= 0 {
		dim = 64
	}
	return &Deterministic{dim: dim, seed: seed}
}

func (d *Deterministic) Dimension() int   { return d.dim }
func (d *Deterministic) Model() string    { return "deterministic-3gram" }
func (d *Deterministic) Provider() string { return "deterministic" }

func (d *Deterministic) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *Deterministic) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		addGram(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(d.seed, b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
