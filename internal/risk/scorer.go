// Package risk implements fraud-risk scoring and behavioral pattern
// detection for purchase requests.
//
// Scoring is additive over independent factors and capped at 10.0. Both
// the scorer and the pattern detector are synchronous pure functions over
// the account's recent transaction window; they never touch the network
// and never mutate state, so their cost is bounded by the window size.
package risk

import (
	"math/big"
	"strings"
	"time"

	"github.com/clearspend/clearspend/internal/account"
	"github.com/clearspend/clearspend/internal/reputation"
)

// MaxScore caps the additive fraud score.
const MaxScore = 10.0

// Config captures the scoring inputs at construction time.
type Config struct {
	TrustedPlatforms  []string
	TrustedCategories []string

	HighAmountThreshold *big.Int // micro-units
	MidAmountThreshold  *big.Int // micro-units
	DaytimeStartHour    int      // inclusive
	DaytimeEndHour      int      // exclusive
	SuspiciousKeywords  []string
	ElevatedCategories  []string

	BaitAmounts        []*big.Int
	VelocityWindow     time.Duration
	VelocityThreshold  int
	DuplicateWindow    time.Duration
	DuplicateThreshold int
}

// Scorer evaluates fraud risk. Immutable after construction.
type Scorer struct {
	cfg              Config
	trustedMerchants map[reputation.MerchantID]struct{}
	trustedCats      map[string]struct{}
	elevatedCats     map[string]struct{}
	keywords         []string // lowercased
}

// NewScorer builds a Scorer from cfg.
func NewScorer(cfg Config) *Scorer {
	s := &Scorer{
		cfg:              cfg,
		trustedMerchants: make(map[reputation.MerchantID]struct{}, len(cfg.TrustedPlatforms)),
		trustedCats:      make(map[string]struct{}, len(cfg.TrustedCategories)),
		elevatedCats:     make(map[string]struct{}, len(cfg.ElevatedCategories)),
		keywords:         make([]string, 0, len(cfg.SuspiciousKeywords)),
	}
	for _, name := range cfg.TrustedPlatforms {
		s.trustedMerchants[reputation.Normalize(name)] = struct{}{}
	}
	for _, cat := range cfg.TrustedCategories {
		s.trustedCats[cat] = struct{}{}
	}
	for _, cat := range cfg.ElevatedCategories {
		s.elevatedCats[cat] = struct{}{}
	}
	for _, kw := range cfg.SuspiciousKeywords {
		s.keywords = append(s.keywords, strings.ToLower(kw))
	}
	return s
}

// Score computes the fraud score in [0, MaxScore].
//
// Trusted counterparties short-circuit: a trusted merchant scores 0.0 and a
// trusted category scores 1.0, bypassing every other factor.
func (s *Scorer) Score(merchant reputation.MerchantID, amount *big.Int,
	category string, history []account.TxRecord, now time.Time) float64 {

	if _, ok := s.trustedMerchants[merchant]; ok {
		return 0.0
	}
	if _, ok := s.trustedCats[category]; ok {
		return 1.0
	}

	score := 0.0

	switch {
	case amount.Cmp(s.cfg.HighAmountThreshold) > 0:
		score += 3.0
	case amount.Cmp(s.cfg.MidAmountThreshold) > 0:
		score += 1.5
	}

	if hour := now.Hour(); hour < s.cfg.DaytimeStartHour || hour >= s.cfg.DaytimeEndHour {
		score += 2.0
	}

	// At most one keyword hit counts, first match wins.
	name := string(merchant)
	for _, kw := range s.keywords {
		if strings.Contains(name, kw) {
			score += 1.5
			break
		}
	}

	if _, ok := s.elevatedCats[category]; ok {
		score += 0.5
	}

	return clamp(score, 0, MaxScore)
}

// DetectPattern reports whether the request matches a suspicious behavioral
// pattern: transaction velocity, a known bait amount, or repeated purchases
// from the same merchant. Trusted merchants bypass detection entirely.
func (s *Scorer) DetectPattern(amount *big.Int, merchant reputation.MerchantID,
	history []account.TxRecord, now time.Time) bool {

	if _, ok := s.trustedMerchants[merchant]; ok {
		return false
	}

	velocityCutoff := now.Add(-s.cfg.VelocityWindow)
	velocity := 0
	for _, rec := range history {
		if !rec.At.Before(velocityCutoff) {
			velocity++
		}
	}
	if velocity >= s.cfg.VelocityThreshold {
		return true
	}

	for _, bait := range s.cfg.BaitAmounts {
		if amount.Cmp(bait) == 0 {
			return true
		}
	}

	dupCutoff := now.Add(-s.cfg.DuplicateWindow)
	duplicates := 0
	for _, rec := range history {
		if !rec.At.Before(dupCutoff) && reputation.Normalize(rec.Merchant) == merchant {
			duplicates++
		}
	}
	return duplicates >= s.cfg.DuplicateThreshold
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
