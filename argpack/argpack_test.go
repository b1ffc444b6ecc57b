package argpack

import (
	"testing"

	"github.com/kernelfuse/fuser/device"
	"github.com/kernelfuse/fuser/ir"
)

func TestPackRNGTailAddsSixteenBytes(t *testing.T) {
	rt := device.NewFakeRuntime()
	in, err := rt.Allocate([]int64{4, 4}, ir.Float, device.Device{}, false)
	if err != nil {
		t.Fatal(err)
	}
	out, err := rt.Allocate([]int64{4, 4}, ir.Float, device.Device{}, false)
	if err != nil {
		t.Fatal(err)
	}

	withoutRNG, err := Pack([]device.Tensor{in}, []device.Tensor{out}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	withRNG, err := Pack([]device.Tensor{in}, []device.Tensor{out}, nil, &RNGArgs{Seed: 7, Offset: 12})
	if err != nil {
		t.Fatal(err)
	}
	if len(withRNG) != len(withoutRNG)+16 {
		t.Fatalf("expected RNG tail to add exactly 16 bytes, got %d vs %d", len(withRNG), len(withoutRNG))
	}
}

func TestPackRejectsShapeStrideMismatch(t *testing.T) {
	b := NewBuilder()
	bad := device.NewFakeTensorRaw([]int64{1, 2}, []int64{1}, ir.Float)
	if err := b.PutTensor(bad); err == nil {
		t.Fatal("expected an error for mismatched shape/stride rank")
	}
}

func TestPhiloxOffsetMatchesFormula(t *testing.T) {
	// ceil(1024 / (4*128*1)) + 1 = ceil(2) + 1 = 3 -> offset = 12
	got := PhiloxOffset(1024, 1)
	if got != 12 {
		t.Fatalf("expected offset 12, got %d", got)
	}
}

func TestPhiloxOffsetNonExactDivision(t *testing.T) {
	// ceil(1025 / 512) + 1 = ceil(2.002) + 1 = 3 + 1 = 4 -> offset = 16
	got := PhiloxOffset(1025, 1)
	if got != 16 {
		t.Fatalf("expected offset 16, got %d", got)
	}
}

func TestSeedSourceDeterministicFromKey(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	s1 := NewSeedSource(key)
	s2 := NewSeedSource(key)
	a, err := s1.NextSeed()
	if err != nil {
		t.Fatal(err)
	}
	b, err := s2.NextSeed()
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("expected the same key to produce the same first seed")
	}
	c, err := s1.NextSeed()
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Fatal("expected successive seeds from the same source to differ")
	}
}
