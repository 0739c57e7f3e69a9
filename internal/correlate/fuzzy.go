package correlate

import "strings"

// Score rates the similarity of two task titles in [0, 1]. Exact
// case-insensitive equality scores 1.0, substring containment 0.8, and
// anything else the fraction of word tokens (three characters or longer)
// that appear as a substring of some token in the other string, over the
// larger token count.
func Score(a, b string) float64 {
	aLower := strings.ToLower(a)
	bLower := strings.ToLower(b)

	if aLower == bLower {
		return 1.0
	}
	if strings.Contains(aLower, bLower) || strings.Contains(bLower, aLower) {
		return 0.8
	}

	aWords := strings.Fields(aLower)
	bWords := strings.Fields(bLower)

	matching := 0
	for _, aw := range aWords {
		if len(aw) < 3 {
			continue
		}
		for _, bw := range bWords {
			if strings.Contains(bw, aw) || strings.Contains(aw, bw) {
				matching++
				break
			}
		}
	}

	total := len(aWords)
	if len(bWords) > total {
		total = len(bWords)
	}
	if total == 0 {
		return 0
	}
	return float64(matching) / float64(total)
}
