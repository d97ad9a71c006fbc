// Package postgres persists observation records behind the observation
// source contract consumed by the aggregation cascade.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketlens/marketlens/internal/position"
)

// ObservationStore persists pricing and capacity observations in PostgreSQL.
// Observations are append-only; nothing updates or deletes them.
type ObservationStore struct {
	pool *pgxpool.Pool
}

// NewObservationStore constructs an ObservationStore backed by the provided pgx pool.
func NewObservationStore(pool *pgxpool.Pool) *ObservationStore {
	return &ObservationStore{pool: pool}
}

const (
	subjectUpsertSQL = `
INSERT INTO subjects (subject_id, market_id)
VALUES ($1, $2)
ON CONFLICT (subject_id) DO UPDATE SET market_id = EXCLUDED.market_id;
`
	observationInsertSQL = `
INSERT INTO %s (id, provider_id, subject_id, value, observed_at, metadata)
VALUES ($1, $2, $3, $4, $5, $6::jsonb);
`
	// A query for one subject returns its whole market window so the cascade
	// can partition own versus competitor observations itself.
	observationWindowSQL = `
SELECT o.provider_id, o.subject_id, o.value, o.observed_at
FROM %s o
JOIN subjects s ON s.subject_id = o.subject_id
WHERE s.market_id = (SELECT market_id FROM subjects WHERE subject_id = $1)
  AND o.observed_at >= $2
  AND o.observed_at <= $3
ORDER BY o.observed_at;
`
)

const (
	pricingTable  = "pricing_observations"
	capacityTable = "capacity_observations"
)

// UpsertSubject registers a subject in its market. Observations only join
// markets through this table, so seeding must register subjects first.
func (s *ObservationStore) UpsertSubject(ctx context.Context, subjectID, marketID string) error {
	if s.pool == nil {
		return fmt.Errorf("observation store: nil pool")
	}
	subject := strings.ToLower(strings.TrimSpace(subjectID))
	market := strings.ToLower(strings.TrimSpace(marketID))
	if subject == "" || market == "" {
		return fmt.Errorf("observation store: subject and market required")
	}
	if _, err := s.pool.Exec(ctx, subjectUpsertSQL, subject, market); err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}
	return nil
}

// InsertPricing appends a pricing observation.
func (s *ObservationStore) InsertPricing(ctx context.Context, record position.ObservationRecord, metadata map[string]string) error {
	return s.insert(ctx, pricingTable, record, metadata)
}

// InsertCapacity appends a capacity observation.
func (s *ObservationStore) InsertCapacity(ctx context.Context, record position.ObservationRecord, metadata map[string]string) error {
	return s.insert(ctx, capacityTable, record, metadata)
}

// QueryPricing returns the pricing observations for the subject's market window.
func (s *ObservationStore) QueryPricing(ctx context.Context, subjectID string, from, to time.Time) ([]position.ObservationRecord, error) {
	return s.queryWindow(ctx, pricingTable, subjectID, from, to)
}

// QueryCapacity returns the capacity observations for the subject's market window.
func (s *ObservationStore) QueryCapacity(ctx context.Context, subjectID string, from, to time.Time) ([]position.ObservationRecord, error) {
	return s.queryWindow(ctx, capacityTable, subjectID, from, to)
}

// PricingSource adapts the store to the cascade's observation source contract.
func (s *ObservationStore) PricingSource() position.ObservationSource {
	return sourceFunc(s.QueryPricing)
}

// CapacitySource adapts the store to the cascade's observation source contract.
func (s *ObservationStore) CapacitySource() position.ObservationSource {
	return sourceFunc(s.QueryCapacity)
}

type sourceFunc func(ctx context.Context, subjectID string, from, to time.Time) ([]position.ObservationRecord, error)

func (f sourceFunc) Query(ctx context.Context, subjectID string, from, to time.Time) ([]position.ObservationRecord, error) {
	return f(ctx, subjectID, from, to)
}

func (s *ObservationStore) insert(ctx context.Context, table string, record position.ObservationRecord, metadata map[string]string) error {
	if s.pool == nil {
		return fmt.Errorf("observation store: nil pool")
	}
	subject := strings.ToLower(strings.TrimSpace(record.SubjectID))
	if subject == "" {
		return fmt.Errorf("observation store: subject required")
	}
	provider := strings.TrimSpace(record.ProviderID)
	if provider == "" {
		return fmt.Errorf("observation store: provider required")
	}
	value, err := numericFromDecimal(record.Value)
	if err != nil {
		return fmt.Errorf("encode observation value: %w", err)
	}
	metadataBytes, err := encodeMetadata(metadata)
	if err != nil {
		return fmt.Errorf("encode observation metadata: %w", err)
	}

	query := fmt.Sprintf(observationInsertSQL, table)
	if _, err := s.pool.Exec(ctx, query, uuid.New(), provider, subject, value, record.ObservedAt.UTC(), metadataBytes); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *ObservationStore) queryWindow(ctx context.Context, table, subjectID string, from, to time.Time) ([]position.ObservationRecord, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("observation store: nil pool")
	}
	subject := strings.ToLower(strings.TrimSpace(subjectID))
	if subject == "" {
		return nil, fmt.Errorf("observation store: subject required")
	}

	query := fmt.Sprintf(observationWindowSQL, table)
	rows, err := s.pool.Query(ctx, query, subject, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var records []position.ObservationRecord
	for rows.Next() {
		record, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return records, nil
}

func scanObservation(rows pgx.Rows) (position.ObservationRecord, error) {
	var (
		provider   string
		subject    string
		value      pgtype.Numeric
		observedAt time.Time
	)
	if err := rows.Scan(&provider, &subject, &value, &observedAt); err != nil {
		return position.ObservationRecord{}, err
	}
	parsed, err := decimalFromNumeric(value)
	if err != nil {
		return position.ObservationRecord{}, err
	}
	return position.ObservationRecord{
		ProviderID: provider,
		SubjectID:  subject,
		Value:      parsed,
		ObservedAt: observedAt.UTC(),
	}, nil
}

func encodeMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return data, nil
}
