package money

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
		ok    bool
	}{
		{"whole number", "30", 30_000_000, true},
		{"two decimals", "30.00", 30_000_000, true},
		{"full precision", "1.500000", 1_500_000, true},
		{"sub-unit", "0.000001", 1, true},
		{"truncates excess precision", "0.0000019", 1, true},
		{"zero", "0", 0, true},
		{"empty string is zero", "", 0, true},
		{"negative rejected", "-1.50", 0, false},
		{"double decimal rejected", "1.5.0", 0, false},
		{"garbage rejected", "abc", 0, false},
		{"decimal only", ".50", 500_000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if !tt.ok {
				return
			}
			if got.Int64() != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		input int64
		want  string
	}{
		{"whole", 30_000_000, "30.000000"},
		{"fraction", 1_500_000, "1.500000"},
		{"sub-unit", 1, "0.000001"},
		{"zero", 0, "0.000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(big.NewInt(tt.input))
			if got != tt.want {
				t.Errorf("Format(%d) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	if got := Format(nil); got != "0.000000" {
		t.Errorf("Format(nil) = %q, want 0.000000", got)
	}

	if got := Format(big.NewInt(-1_500_000)); got != "-1.500000" {
		t.Errorf("Format(-1500000) = %q, want -1.500000", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000000", "1.500000", "30.000000", "999999.999999"} {
		parsed, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(parsed); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}
