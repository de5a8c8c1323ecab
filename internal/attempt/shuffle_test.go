package attempt

import (
	"math/rand/v2"
	"slices"
	"testing"
)

func TestShuffleFor(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		external []int
		want     []int
	}{
		{"none", 3, nil, []int{0, 1, 2}},
		{"valid", 3, []int{2, 0, 1}, []int{2, 0, 1}},
		{"wrong length", 3, []int{1, 0}, []int{0, 1, 2}},
		{"duplicate", 3, []int{0, 0, 1}, []int{0, 1, 2}},
		{"out of range", 3, []int{0, 1, 3}, []int{0, 1, 2}},
		{"negative", 2, []int{-1, 0}, []int{0, 1}},
		{"no choices", 0, nil, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShuffleFor(tt.count, tt.external); !slices.Equal(got, tt.want) {
				t.Fatalf("ShuffleFor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShuffleForCopiesInput(t *testing.T) {
	external := []int{1, 0}
	perm := ShuffleFor(2, external)
	external[0] = 0

	if perm[0] != 1 {
		t.Fatal("ShuffleFor must not alias the stored map")
	}
}

func TestGenerateIsPermutation(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for n := 0; n <= 8; n++ {
		perm := Generate(n, r)
		if len(perm) != n || !IsPermutation(perm) {
			t.Fatalf("Generate(%d) = %v", n, perm)
		}
	}
}

func TestCanonicalDisplayRoundTrip(t *testing.T) {
	perm := []int{3, 1, 0, 2}
	inv := Invert(perm)

	for pos := range perm {
		canonical, ok := ToCanonical(perm, pos)
		if !ok {
			t.Fatalf("ToCanonical(%d) failed", pos)
		}
		back, ok := ToDisplay(perm, canonical)
		if !ok || back != pos || inv[canonical] != pos {
			t.Fatalf("position %d -> %d -> %d", pos, canonical, back)
		}
	}

	if _, ok := ToCanonical(perm, 4); ok {
		t.Fatal("out of range position accepted")
	}
	if _, ok := ToDisplay(perm, 9); ok {
		t.Fatal("unknown canonical index accepted")
	}
}

func TestInvertFallsBackToIdentity(t *testing.T) {
	tests := []struct {
		name string
		perm []int
	}{
		{"out of range", []int{0, 5, 1}},
		{"negative", []int{-1, 0, 1}},
		{"duplicate", []int{1, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Invert(tt.perm)
			if !slices.Equal(got, Identity(len(tt.perm))) {
				t.Fatalf("Invert(%v) = %v, want identity", tt.perm, got)
			}
		})
	}

	if got := Invert(nil); len(got) != 0 {
		t.Fatalf("Invert(nil) = %v", got)
	}
}
