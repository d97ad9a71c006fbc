package position

import (
	"github.com/marketlens/marketlens/errs"
	"github.com/marketlens/marketlens/internal/observability"
)

// resolveBaseline serves the configured static reference point for a subject
// whose window yielded no observations. A subject with no configured baseline
// is an explicit absence, distinct from a Baseline tier result.
func (e *Engine) resolveBaseline(subject string) (CompetitivePosition, error) {
	entry, ok := e.baselines.Lookup(subject)
	if !ok {
		return CompetitivePosition{}, errs.New("position", errs.CodeNotFound,
			errs.WithMessage("unknown subject "+subject+" with no configured baseline"))
	}
	pos := baselinePosition(subject, entry)
	e.recordTier(pos.Tier)
	return pos, nil
}

// degradedBaseline serves a Baseline value on availability failures, where
// callers expect a value rather than an error. The configured entry is used
// when present; otherwise the result carries only the tier stamp.
func (e *Engine) degradedBaseline(subject string) CompetitivePosition {
	entry, _ := e.baselines.Lookup(subject)
	pos := baselinePosition(subject, entry)
	pos.Degraded = true
	e.recordTier(pos.Tier)
	return pos
}

func baselinePosition(subject string, entry BaselineEntry) CompetitivePosition {
	pos := CompetitivePosition{SubjectID: subject, Tier: TierBaseline}
	if entry.ReferencePrice != nil {
		price := *entry.ReferencePrice
		pos.ReferencePrice = &price
	}
	if entry.SharePercent != nil {
		share := *entry.SharePercent
		pos.SharePercent = &share
	}
	return pos
}

func (e *Engine) recordTier(tier Tier) {
	if e.metrics != nil {
		e.metrics.RecordTier(tier.String())
	}
	observability.Telemetry().IncCounter("position_tier_total", 1, map[string]string{"tier": tier.String()})
}
