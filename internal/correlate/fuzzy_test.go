package correlate

import (
	"math"
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"exact", "Implement login form", "Implement login form", 1.0},
		{"exact case insensitive", "Fix Parser Bug", "fix parser bug", 1.0},
		{"containment", "login form", "Implement the login form now", 0.8},
		{"containment reversed", "Implement the login form now", "login form", 0.8},
		{"token overlap", "Implement login form", "Implement the login form UI", 0.6},
		{"no overlap", "Fix bug in parser", "Write deployment docs", 0.0},
		{"short tokens ignored", "do it up", "it is up to us", 0.0},
		{"empty", "", "anything", 0.8},
		{"both empty", "", "", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestScoreSymmetricRange(t *testing.T) {
	pairs := [][2]string{
		{"Refactor auth module", "auth refactor work"},
		{"Add pagination", "Implement pagination for list view"},
		{"a b c", "x y z"},
	}
	for _, p := range pairs {
		s := Score(p[0], p[1])
		if s < 0 || s > 1 {
			t.Errorf("Score(%q, %q) = %v out of [0,1]", p[0], p[1], s)
		}
	}
}
