package attempt

import "math/rand/v2"

// ShuffleFor returns the display order for a question with choiceCount choices.
// perm[displayPos] is the canonical index shown at displayPos. A supplied
// permutation is used when it is a bijection over the choices; anything else,
// including no permutation at all, falls back to the identity order.
func ShuffleFor(choiceCount int, external []int) []int {
	if choiceCount < 0 {
		choiceCount = 0
	}
	if len(external) == choiceCount && IsPermutation(external) {
		out := make([]int, choiceCount)
		copy(out, external)
		return out
	}
	return Identity(choiceCount)
}

// Identity returns [0, 1, ..., n-1].
func Identity(n int) []int {
	if n < 0 {
		n = 0
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Generate returns a random permutation of [0..n-1] drawn from r.
func Generate(n int, r *rand.Rand) []int {
	if n <= 1 {
		return Identity(n)
	}
	return r.Perm(n)
}

// IsPermutation reports whether perm holds every index of [0..len-1] exactly once.
func IsPermutation(perm []int) bool {
	seen := make([]bool, len(perm))
	for _, v := range perm {
		if v < 0 || v >= len(perm) || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}

// Invert maps canonical index -> display position. A perm that is not a
// bijection inverts as the identity order.
func Invert(perm []int) []int {
	if !IsPermutation(perm) {
		return Identity(len(perm))
	}
	inv := make([]int, len(perm))
	for pos, canonical := range perm {
		inv[canonical] = pos
	}
	return inv
}

// ToCanonical translates an on-screen position to the canonical choice index.
func ToCanonical(perm []int, displayPos int) (int, bool) {
	if displayPos < 0 || displayPos >= len(perm) {
		return 0, false
	}
	return perm[displayPos], true
}

// ToDisplay translates a canonical choice index to its on-screen position.
func ToDisplay(perm []int, canonical int) (int, bool) {
	for pos, c := range perm {
		if c == canonical {
			return pos, true
		}
	}
	return 0, false
}
