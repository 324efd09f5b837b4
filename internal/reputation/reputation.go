// Package reputation provides merchant trust lookups.
//
// Merchants are keyed by a normalized identifier rather than raw display
// names, so that casing or spacing differences cannot create unintended
// trust. Unknown merchants fall back to an explicit neutral score.
package reputation

import "strings"

// MerchantID is a normalized merchant identifier. Construct with Normalize.
type MerchantID string

// NeutralScore is assigned to merchants absent from the table.
const NeutralScore = 5.0

// Normalize produces the canonical MerchantID for a display name:
// lowercased, with surrounding and repeated whitespace collapsed.
func Normalize(name string) MerchantID {
	return MerchantID(strings.ToLower(strings.Join(strings.Fields(name), " ")))
}

// Table holds merchant reputation scores, the fraud block-list, and the
// trusted-platform allow-list. It is immutable after construction.
type Table struct {
	scores  map[MerchantID]float64
	blocked map[MerchantID]struct{}
	trusted map[MerchantID]struct{}
}

// NewTable builds a Table from display-name keyed configuration.
func NewTable(scores map[string]float64, blocklist, trusted []string) *Table {
	t := &Table{
		scores:  make(map[MerchantID]float64, len(scores)),
		blocked: make(map[MerchantID]struct{}, len(blocklist)),
		trusted: make(map[MerchantID]struct{}, len(trusted)),
	}
	for name, score := range scores {
		t.scores[Normalize(name)] = score
	}
	for _, name := range blocklist {
		t.blocked[Normalize(name)] = struct{}{}
	}
	for _, name := range trusted {
		t.trusted[Normalize(name)] = struct{}{}
	}
	return t
}

// Score returns the merchant's reputation score in [0, 10], or NeutralScore
// if the merchant is not in the table.
func (t *Table) Score(id MerchantID) float64 {
	if s, ok := t.scores[id]; ok {
		return s
	}
	return NeutralScore
}

// Blocked reports whether the merchant is on the fraud block-list.
func (t *Table) Blocked(id MerchantID) bool {
	_, ok := t.blocked[id]
	return ok
}

// Trusted reports whether the merchant is on the trusted-platform
// allow-list.
func (t *Table) Trusted(id MerchantID) bool {
	_, ok := t.trusted[id]
	return ok
}
