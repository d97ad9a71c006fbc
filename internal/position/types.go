// Package position computes competitive positions from windowed observations,
// degrading through confidence tiers and caching results under deterministic keys.
package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketlens/marketlens/config"
	"github.com/marketlens/marketlens/errs"
)

// Tier is the confidence level of a computed position. Tiers are ordered:
// Measured > Partial > Baseline. Baseline is the zero value, so a position
// whose tier was never set claims the lowest confidence instead of the
// highest.
type Tier int

const (
	// TierBaseline means neither half resolved and the result was populated
	// from configured static defaults.
	TierBaseline Tier = iota
	// TierPartial means only one of the two data halves resolved; the other
	// half's fields are nil, never zero-filled.
	TierPartial
	// TierMeasured means both pricing and capacity resolved for the subject
	// with at least one competitor inside the window.
	TierMeasured
)

// String returns the lower-case tier name.
func (t Tier) String() string {
	switch t {
	case TierMeasured:
		return "measured"
	case TierPartial:
		return "partial"
	case TierBaseline:
		return "baseline"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalJSON encodes the tier as its string name.
func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON decodes a tier from its string name.
func (t *Tier) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"measured"`:
		*t = TierMeasured
	case `"partial"`:
		*t = TierPartial
	case `"baseline"`:
		*t = TierBaseline
	default:
		return fmt.Errorf("unknown tier %s", string(data))
	}
	return nil
}

// BetterThan reports whether t carries more confidence than other.
func (t Tier) BetterThan(other Tier) bool { return t > other }

// ObservationRecord is a single append-only data point reported by a provider.
type ObservationRecord struct {
	ProviderID string          `json:"provider_id"`
	SubjectID  string          `json:"subject_id"`
	Value      decimal.Decimal `json:"value"`
	ObservedAt time.Time       `json:"observed_at"`
}

// CompetitivePosition is the aggregation result for one subject and window.
// It is a pure value: computed fresh per aggregation call and never mutated
// once returned. Nil pointer fields mark data halves that did not resolve.
type CompetitivePosition struct {
	SubjectID          string           `json:"subject_id"`
	ReferencePrice     *decimal.Decimal `json:"reference_price,omitempty"`
	CompetitorAvgPrice *decimal.Decimal `json:"competitor_avg_price,omitempty"`
	PriceAdvantage     *decimal.Decimal `json:"price_advantage,omitempty"`
	PriceRank          *int             `json:"price_rank,omitempty"`
	SubjectUnits       *int64           `json:"subject_units,omitempty"`
	TotalUnits         *int64           `json:"total_units,omitempty"`
	SharePercent       *decimal.Decimal `json:"share_percent,omitempty"`
	ShareRank          *int             `json:"share_rank,omitempty"`
	CompetitorCount    int              `json:"competitor_count"`
	Tier               Tier             `json:"tier"`
	// Degraded marks a Baseline served because of an availability failure
	// (provider outage or overall timeout) rather than an empty window.
	// Degraded results are never cached: providers may recover at any moment
	// and a stale negative must not outlive the outage.
	Degraded bool `json:"degraded,omitempty"`
}

// BaselineEntry is the static reference point served for a subject when no
// observation data resolves.
type BaselineEntry struct {
	ReferencePrice *decimal.Decimal
	SharePercent   *decimal.Decimal
}

// BaselineDefaults maps canonical subject ids to their configured baselines.
// It is consumed only by the cascade's final tier.
type BaselineDefaults struct {
	entries map[string]BaselineEntry
}

// Lookup returns the baseline entry for the canonical subject id.
func (b BaselineDefaults) Lookup(subjectID string) (BaselineEntry, bool) {
	entry, ok := b.entries[canonicalSubject(subjectID)]
	return entry, ok
}

// BaselinesFromSettings parses configured baseline entries into decimals.
func BaselinesFromSettings(entries map[string]config.BaselineEntry) (BaselineDefaults, error) {
	defaults := BaselineDefaults{entries: make(map[string]BaselineEntry, len(entries))}
	for subject, raw := range entries {
		key := canonicalSubject(subject)
		if key == "" {
			continue
		}
		var entry BaselineEntry
		if raw.ReferencePrice != "" {
			price, err := decimal.NewFromString(raw.ReferencePrice)
			if err != nil {
				return BaselineDefaults{}, errs.New("position/baseline", errs.CodeInvalid,
					errs.WithMessage(fmt.Sprintf("baseline %s: reference price %q", subject, raw.ReferencePrice)),
					errs.WithCause(err))
			}
			entry.ReferencePrice = &price
		}
		if raw.SharePercent != "" {
			share, err := decimal.NewFromString(raw.SharePercent)
			if err != nil {
				return BaselineDefaults{}, errs.New("position/baseline", errs.CodeInvalid,
					errs.WithMessage(fmt.Sprintf("baseline %s: share percent %q", subject, raw.SharePercent)),
					errs.WithCause(err))
			}
			entry.SharePercent = &share
		}
		defaults.entries[key] = entry
	}
	return defaults, nil
}
