package vectorstore

import (
	"math"
	"sort"
)

// Cosine returns the cosine similarity of a and b, or 0 when undefined.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank scores every record against query, discards those below cutoff,
// then sorts and truncates to topK. topK <= 0 keeps every survivor.
func Rank(query []float32, records []Record, cutoff float64, topK int) []Scored {
	out := make([]Scored, 0, len(records))
	for _, r := range records {
		score := Cosine(query, r.Embedding)
		if score < cutoff {
			continue
		}
		out = append(out, Scored{Record: r, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
