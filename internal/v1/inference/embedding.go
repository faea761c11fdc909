package inference

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// hashEmbedding derives a deterministic, fixed-dimension vector from text
// by hashing successive salted digests into floats. It stands in for a
// real embeddings backend so the pipeline always has something to cache
// and serve, satisfying spec.md §4.2's "deterministic for identical
// inputs up to backend version" requirement without depending on a second
// network call.
func hashEmbedding(text string) []float32 {
	out := make([]float32, EmbeddingDimension)
	data := []byte(text)
	for i := 0; i < EmbeddingDimension; i += 8 {
		h := sha256.Sum256(append(data, byte(i), byte(i>>8)))
		for j := 0; j < 8 && i+j < EmbeddingDimension; j++ {
			bits := binary.BigEndian.Uint32(h[j*4 : j*4+4])
			out[i+j] = float32(math.Mod(float64(bits)/float64(math.MaxUint32), 1.0)*2 - 1)
		}
	}
	return out
}
