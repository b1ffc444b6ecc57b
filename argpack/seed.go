package argpack

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// SeedSource derives a fresh Philox seed for each kernel launch from a
// single process-wide key, rather than reading crypto/rand per call —
// a blake2b-MAC'd counter stream, so the exact sequence of seeds handed
// out in a run is reproducible from the key alone (useful for replaying a
// failing launch in a test). Grounded on tenant_teacher/tnproto's
// Key-based per-connection stream, adapted from its sha-based transcript
// tags to blake2b (the dependency already present in the teacher's
// go.mod).
type SeedSource struct {
	mu      sync.Mutex
	key     [32]byte
	counter uint64
}

// NewSeedSource returns a SeedSource derived from key.
func NewSeedSource(key [32]byte) *SeedSource {
	return &SeedSource{key: key}
}

// NewRandomSeedSource returns a SeedSource keyed from crypto/rand.
func NewRandomSeedSource() (*SeedSource, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("argpack: generating seed source key: %w", err)
	}
	return NewSeedSource(key), nil
}

// NextSeed returns the next seed in the stream.
func (s *SeedSource) NextSeed() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := blake2b.New512(s.key[:])
	if err != nil {
		return 0, fmt.Errorf("argpack: initializing seed MAC: %w", err)
	}
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], s.counter)
	s.counter++
	if _, err := h.Write(ctr[:]); err != nil {
		return 0, err
	}
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8]), nil
}

// PhiloxOffset computes the RNG offset for a kernel whose widest output
// has outNumel elements, launched with gdimx grid blocks in x (spec.md
// §4.6 step 6): 4*(ceil(outNumel / (4*128*gdimx)) + 1).
func PhiloxOffset(outNumel, gdimx int64) uint64 {
	if gdimx <= 0 {
		gdimx = 1
	}
	denom := float64(4 * 128 * gdimx)
	quotient := float64(outNumel) / denom
	ceil := int64(quotient)
	if float64(ceil) < quotient {
		ceil++
	}
	return uint64(4 * (ceil + 1))
}
