// Package validation provides the proof-of-work acceptance predicate and the
// payout address checks used by the powminer client.
package validation

// MaxDifficulty returns the largest difficulty a digest of hashLen bytes can
// satisfy: one nibble per half byte.
func MaxDifficulty(hashLen int) int {
	return 2 * hashLen
}

// Satisfies reports whether the first difficulty nibbles of hash are zero.
// Nibbles are read most significant first within each byte, so hash[0]>>4 is
// nibble 0 and hash[0]&0xf is nibble 1.
//
// A difficulty of zero or less is always met. A difficulty longer than the
// digest can never be met.
func Satisfies(hash []byte, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > MaxDifficulty(len(hash)) {
		return false
	}

	full := difficulty / 2
	for i := 0; i < full; i++ {
		if hash[i] != 0 {
			return false
		}
	}
	if difficulty%2 == 1 && hash[full]>>4 != 0 {
		return false
	}
	return true
}

// LeadingZeroNibbles counts the zero nibbles at the start of hash.
func LeadingZeroNibbles(hash []byte) int {
	n := 0
	for _, b := range hash {
		if b == 0 {
			n += 2
			continue
		}
		if b>>4 == 0 {
			n++
		}
		break
	}
	return n
}
