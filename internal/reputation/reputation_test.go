package reputation

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want MerchantID
	}{
		{"Khan Academy", "khan academy"},
		{"  Khan   Academy  ", "khan academy"},
		{"AMAZON", "amazon"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTable_Score(t *testing.T) {
	table := NewTable(map[string]float64{
		"Khan Academy":     9.5,
		"ShadyDealsOnline": 1.0,
	}, nil, nil)

	if got := table.Score(Normalize("khan ACADEMY")); got != 9.5 {
		t.Errorf("score = %v, want 9.5", got)
	}
	if got := table.Score(Normalize("ShadyDealsOnline")); got != 1.0 {
		t.Errorf("score = %v, want 1.0", got)
	}
	if got := table.Score(Normalize("Unknown Corner Store")); got != NeutralScore {
		t.Errorf("unknown merchant score = %v, want neutral %v", got, NeutralScore)
	}
}

func TestTable_BlockedAndTrusted(t *testing.T) {
	table := NewTable(nil,
		[]string{"ShadyDealsOnline"},
		[]string{"Khan Academy"},
	)

	if !table.Blocked(Normalize("shadydealsonline")) {
		t.Error("expected blocked merchant")
	}
	if table.Blocked(Normalize("Khan Academy")) {
		t.Error("trusted merchant should not be blocked")
	}
	if !table.Trusted(Normalize("KHAN  Academy")) {
		t.Error("expected trusted merchant")
	}
	if table.Trusted(Normalize("ShadyDealsOnline")) {
		t.Error("blocked merchant should not be trusted")
	}
}
