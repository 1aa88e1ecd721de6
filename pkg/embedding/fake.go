package embedding

import (
	"context"
	"crypto/sha256"
	"math"
)

// FakeClient is a deterministic, network-free embedding client for tests:
// the same text always produces the same unit vector, seeded from its
// SHA-256 digest, so assertions can compare vectors without a live service.
type FakeClient struct {
	dimensions int
}

// NewFakeClient builds a FakeClient producing vectors of the given length.
func NewFakeClient(dimensions int) *FakeClient {
	return &FakeClient{dimensions: dimensions}
}

func (f *FakeClient) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, f.dimensions)

	var norm float64
	for i := range vec {
		b := sum[i%len(sum)]
		// Spread the byte across a wider range than a single byte, mixing in
		// the index so dimensions beyond len(sum) still vary.
		v := float64(b) + float64(i)
		vec[i] = float32(math.Sin(v))
		norm += float64(vec[i]) * float64(vec[i])
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (f *FakeClient) Dims() (int, bool) {
	return f.dimensions, true
}

func (f *FakeClient) ProbeDims(_ context.Context) (int, error) {
	return f.dimensions, nil
}
