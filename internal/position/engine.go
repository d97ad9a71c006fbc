package position

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/marketlens/marketlens/errs"
	"github.com/marketlens/marketlens/internal/clock"
	"github.com/marketlens/marketlens/internal/observability"
)

// ObservationSource supplies observation records for the market a subject
// participates in. Implementations return records for the subject and its
// competitors whose ObservedAt falls inside [from, to].
type ObservationSource interface {
	Query(ctx context.Context, subjectID string, from, to time.Time) ([]ObservationRecord, error)
}

const (
	defaultQueryTimeout   = 5 * time.Second
	defaultOverallTimeout = 15 * time.Second
)

var hundred = decimal.NewFromInt(100)

// EngineConfig wires the cascade's collaborators and bounds.
type EngineConfig struct {
	Pricing  ObservationSource
	Capacity ObservationSource
	// Clock supplies the window anchor. Nil selects the system clock.
	Clock clock.Clock
	// QueryTimeout caps each provider query; expiry downgrades the tier.
	QueryTimeout time.Duration
	// OverallTimeout caps the whole computation; expiry yields Baseline.
	OverallTimeout time.Duration
	// MaxWindowDays rejects wider windows; zero disables the bound.
	MaxWindowDays int
	Baselines     BaselineDefaults
	Metrics       *observability.RuntimeMetrics
}

// Engine resolves competitive positions through the tiered fallback cascade.
type Engine struct {
	pricing        ObservationSource
	capacity       ObservationSource
	clock          clock.Clock
	queryTimeout   time.Duration
	overallTimeout time.Duration
	maxWindowDays  int
	baselines      BaselineDefaults
	metrics        *observability.RuntimeMetrics
}

// NewEngine constructs an aggregation engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = defaultOverallTimeout
	}
	return &Engine{
		pricing:        cfg.Pricing,
		capacity:       cfg.Capacity,
		clock:          cfg.Clock,
		queryTimeout:   cfg.QueryTimeout,
		overallTimeout: cfg.OverallTimeout,
		maxWindowDays:  cfg.MaxWindowDays,
		baselines:      cfg.Baselines,
		metrics:        cfg.Metrics,
	}
}

// ValidateQuery rejects malformed queries before any cache or provider work.
func (e *Engine) ValidateQuery(subjectID string, windowDays int) error {
	if canonicalSubject(subjectID) == "" {
		return errs.New("position", errs.CodeInvalid, errs.WithMessage("subject id required"))
	}
	if windowDays < 0 {
		return errs.New("position", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("window must be >=0 days, got %d", windowDays)))
	}
	if e.maxWindowDays > 0 && windowDays > e.maxWindowDays {
		return errs.New("position", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("window %d days exceeds maximum %d", windowDays, e.maxWindowDays)))
	}
	return nil
}

// ComputePosition resolves the competitive position of the subject over the
// trailing window. Provider failures and timeouts degrade the tier; only
// malformed input or an unknown subject reach the caller as errors.
func (e *Engine) ComputePosition(ctx context.Context, subjectID string, windowDays int) (CompetitivePosition, error) {
	if err := e.ValidateQuery(subjectID, windowDays); err != nil {
		return CompetitivePosition{}, err
	}
	subject := canonicalSubject(subjectID)

	if windowDays == 0 {
		return e.resolveBaseline(subject)
	}

	ctx, cancel := context.WithTimeout(ctx, e.overallTimeout)
	defer cancel()

	now := e.clock.Now()
	from := now.AddDate(0, 0, -windowDays)

	var (
		pricingObs  []ObservationRecord
		pricingErr  error
		capacityObs []ObservationRecord
		capacityErr error
	)
	var wg conc.WaitGroup
	wg.Go(func() {
		pricingObs, pricingErr = e.query(ctx, "pricing", e.pricing, subject, from, now)
	})
	wg.Go(func() {
		capacityObs, capacityErr = e.query(ctx, "capacity", e.capacity, subject, from, now)
	})
	wg.Wait()

	if ctx.Err() != nil {
		observability.Log().Error("position computation timed out, serving baseline",
			observability.Field{Key: "subject", Value: subject},
			observability.Field{Key: "window_days", Value: windowDays},
		)
		return e.degradedBaseline(subject), nil
	}

	pricing := partition(pricingObs, subject, from, now)
	capacity := partition(capacityObs, subject, from, now)

	pos := CompetitivePosition{SubjectID: subject}
	// A half resolves only when the subject itself has observations in it.
	// Competitor-only data leaves the whole half nil: a competitor average
	// without a reference price has no advantage to anchor to, though the
	// competitors still count toward CompetitorCount.
	pricingResolved := pricing.ownCount > 0
	capacityResolved := capacity.ownCount > 0
	pos.CompetitorCount = distinctCompetitors(subject, pricing, capacity)

	if pricingResolved {
		e.applyPricing(&pos, pricing)
	}
	if capacityResolved {
		e.applyCapacity(&pos, capacity)
	}

	switch {
	case pricingResolved && capacityResolved && pos.CompetitorCount > 0:
		pos.Tier = TierMeasured
	case pricingResolved || capacityResolved:
		pos.Tier = TierPartial
	case pricingErr != nil || capacityErr != nil:
		// Availability failure, not established absence.
		return e.degradedBaseline(subject), nil
	default:
		return e.resolveBaseline(subject)
	}

	e.recordTier(pos.Tier)
	return pos, nil
}

func (e *Engine) query(ctx context.Context, name string, source ObservationSource, subject string, from, to time.Time) ([]ObservationRecord, error) {
	if source == nil {
		return nil, errs.New("position/"+name, errs.CodeUnavailable, errs.WithMessage("source not configured"))
	}
	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	records, err := source.Query(queryCtx, subject, from, to)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordProviderFailure(name)
		}
		observability.Log().Error("observation source query failed",
			observability.Field{Key: "provider", Value: name},
			observability.Field{Key: "subject", Value: subject},
			observability.Field{Key: "error", Value: err.Error()},
		)
		return nil, errs.New("position/"+name, errs.CodeUnavailable, errs.WithCause(err))
	}
	return records, nil
}

// partitioned groups one provider's observations into the subject's own
// values and per-subject aggregates for ranking.
type partitioned struct {
	ownCount        int
	ownSum          decimal.Decimal
	competitorCount int
	competitorSum   decimal.Decimal
	sumBySubject    map[string]decimal.Decimal
	countBySubject  map[string]int
}

func partition(records []ObservationRecord, subject string, from, to time.Time) partitioned {
	p := partitioned{
		sumBySubject:   make(map[string]decimal.Decimal),
		countBySubject: make(map[string]int),
	}
	for _, record := range records {
		id := canonicalSubject(record.SubjectID)
		if id == "" {
			continue
		}
		if record.ObservedAt.Before(from) || record.ObservedAt.After(to) {
			continue
		}
		p.sumBySubject[id] = p.sumBySubject[id].Add(record.Value)
		p.countBySubject[id]++
		if id == subject {
			p.ownCount++
			p.ownSum = p.ownSum.Add(record.Value)
		} else {
			p.competitorCount++
			p.competitorSum = p.competitorSum.Add(record.Value)
		}
	}
	return p
}

func (p partitioned) ownMean() decimal.Decimal {
	return p.ownSum.Div(decimal.NewFromInt(int64(p.ownCount)))
}

func (p partitioned) competitorMean() (decimal.Decimal, bool) {
	if p.competitorCount == 0 {
		return decimal.Decimal{}, false
	}
	return p.competitorSum.Div(decimal.NewFromInt(int64(p.competitorCount))), true
}

// meanBySubject yields each subject's average observation value.
func (p partitioned) meanBySubject() map[string]decimal.Decimal {
	means := make(map[string]decimal.Decimal, len(p.sumBySubject))
	for id, sum := range p.sumBySubject {
		means[id] = sum.Div(decimal.NewFromInt(int64(p.countBySubject[id])))
	}
	return means
}

func (e *Engine) applyPricing(pos *CompetitivePosition, pricing partitioned) {
	reference := pricing.ownMean()
	pos.ReferencePrice = &reference

	if competitorAvg, ok := pricing.competitorMean(); ok {
		pos.CompetitorAvgPrice = &competitorAvg
		advantage := reference.Sub(competitorAvg)
		pos.PriceAdvantage = &advantage
	}

	rank := rankSubject(pricing.meanBySubject(), pos.SubjectID, false)
	pos.PriceRank = &rank
}

func (e *Engine) applyCapacity(pos *CompetitivePosition, capacity partitioned) {
	subjectUnits := capacity.ownSum.Round(0).IntPart()
	pos.SubjectUnits = &subjectUnits

	total := decimal.Decimal{}
	for _, sum := range capacity.sumBySubject {
		total = total.Add(sum)
	}
	totalUnits := total.Round(0).IntPart()
	pos.TotalUnits = &totalUnits

	share := decimal.Decimal{}
	if total.IsPositive() {
		share = capacity.ownSum.Mul(hundred).Div(total)
	}
	pos.SharePercent = &share

	rank := rankSubject(capacity.sumBySubject, pos.SubjectID, true)
	pos.ShareRank = &rank
}

// rankSubject computes the 1-based rank of subject among per-subject values.
// Ascending order ranks cheapest first; descending ranks largest first. Ties
// break by lexical subject id for determinism.
func rankSubject(values map[string]decimal.Decimal, subject string, descending bool) int {
	type ranked struct {
		id    string
		value decimal.Decimal
	}
	entries := make([]ranked, 0, len(values))
	for id, value := range values {
		entries = append(entries, ranked{id: id, value: value})
	}
	sort.Slice(entries, func(i, j int) bool {
		cmp := entries[i].value.Cmp(entries[j].value)
		if cmp == 0 {
			return entries[i].id < entries[j].id
		}
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
	for i, entry := range entries {
		if entry.id == subject {
			return i + 1
		}
	}
	return 0
}

func distinctCompetitors(subject string, pricing, capacity partitioned) int {
	competitors := make(map[string]struct{})
	for id := range pricing.sumBySubject {
		if id != subject {
			competitors[id] = struct{}{}
		}
	}
	for id := range capacity.sumBySubject {
		if id != subject {
			competitors[id] = struct{}{}
		}
	}
	return len(competitors)
}
