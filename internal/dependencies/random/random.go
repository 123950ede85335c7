package random

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// float64Precision is the number of random bits used by Float64
const float64Precision = 53

// Random provides random number generation that can be mocked for testing
type Random interface {
	// Intn returns a random int in [0, n)
	Intn(n int) int

	// Float64 returns a uniformly distributed float in [0, 1)
	Float64() float64

	// String generates a random string of the given length from the given alphabet
	String(length int, alphabet string) string
}

// CryptoRandom implements Random using crypto/rand. A failing entropy
// source panics rather than handing out a biased value.
type CryptoRandom struct {
	source io.Reader
}

// New creates a new CryptoRandom
func New() *CryptoRandom {
	return &CryptoRandom{source: rand.Reader}
}

// NewFromReader creates a CryptoRandom drawing from source
func NewFromReader(source io.Reader) *CryptoRandom {
	return &CryptoRandom{source: source}
}

func (r *CryptoRandom) below(n *big.Int) *big.Int {
	result, err := rand.Int(r.source, n)
	if err != nil {
		panic(fmt.Errorf("read entropy: %w", err))
	}
	return result
}

// Intn returns a cryptographically random int in [0, n)
func (r *CryptoRandom) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.below(big.NewInt(int64(n))).Int64())
}

// Float64 returns a random float in [0, 1) with 53 bits of precision
func (r *CryptoRandom) Float64() float64 {
	result := r.below(new(big.Int).Lsh(big.NewInt(1), float64Precision))
	return float64(result.Int64()) / float64(int64(1)<<float64Precision)
}

// String generates a random string of the given length from the given alphabet
func (r *CryptoRandom) String(length int, alphabet string) string {
	if length <= 0 || len(alphabet) == 0 {
		return ""
	}
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		result[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(result)
}
