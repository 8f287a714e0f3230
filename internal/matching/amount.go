package matching

import (
	"strconv"
	"strings"
)

var amountSuffixes = []struct {
	suffix string
	scale  float64
}{
	{"thousand", 1e3},
	{"million", 1e6},
	{"billion", 1e9},
	{"mn", 1e6},
	{"bn", 1e9},
	{"k", 1e3},
	{"m", 1e6},
	{"b", 1e9},
}

// ParseAmount turns strings like "$2M", "500k" or "1.5 million" into a number.
// ok is false when no number can be recovered.
func ParseAmount(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, "+ ")
	if s == "" {
		return 0, false
	}

	scale := 1.0
	for _, sf := range amountSuffixes {
		if strings.HasSuffix(s, sf.suffix) {
			scale = sf.scale
			s = strings.TrimSuffix(s, sf.suffix)
			break
		}
	}

	var digits strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil {
		return 0, false
	}
	return v * scale, true
}
