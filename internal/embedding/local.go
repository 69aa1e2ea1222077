package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const localDimension = 256

// LocalEmbedder is a hashed bag-of-words fallback used when no API key is
// configured. Vectors are L2-normalized so cosine similarity stays in [-1,1].
type LocalEmbedder struct{}

// Embed hashes character bigrams and whitespace tokens into a fixed-size
// vector. Crude, but sufficient to match near-identical section names.
func (LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashEmbed(text)
	}
	return out, nil
}

func hashEmbed(text string) []float32 {
	vec := make([]float32, localDimension)
	for _, tok := range tokens(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%localDimension]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// tokens emits whitespace-delimited words plus rune bigrams. Bigrams carry
// the signal for Japanese text, which has no word boundaries.
func tokens(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	out = append(out, strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})...)

	runes := []rune(lower)
	for i := 0; i+1 < len(runes); i++ {
		if unicode.IsSpace(runes[i]) || unicode.IsSpace(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[i:i+2]))
	}
	return out
}

var _ Embedder = LocalEmbedder{}
