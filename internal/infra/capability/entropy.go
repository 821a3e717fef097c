package capability

import "math"

// shannonEntropy computes the Shannon entropy of a string in bits per
// character. Random secrets sit near the top of the scale while natural
// language sits well below it.
func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}

	freq := make(map[rune]int)
	var total float64
	for _, r := range s {
		freq[r]++
		total++
	}

	var entropy float64
	for _, count := range freq {
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// entropyConfidence maps a candidate secret's entropy to a confidence in
// [floor, 1]. The floor keeps low-entropy but rule-matched secrets from
// being discarded by downstream weighting.
func entropyConfidence(secret string) float64 {
	const (
		floor      = 0.5
		maxEntropy = 5.0
	)
	c := floor + (1-floor)*(shannonEntropy(secret)/maxEntropy)
	if c > 1 {
		return 1
	}
	if c < floor {
		return floor
	}
	return c
}
