package ingest

import (
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/marketlens/marketlens/errs"
	"github.com/marketlens/marketlens/internal/position"
)

type batchRecord struct {
	Kind       string            `json:"kind"`
	ProviderID string            `json:"provider_id"`
	SubjectID  string            `json:"subject_id"`
	Value      string            `json:"value"`
	ObservedAt time.Time         `json:"observed_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DecodeBatch reads a JSON array of observation records. Values are decimal
// strings so precision survives the trip.
func DecodeBatch(r io.Reader) ([]Observation, error) {
	var rows []batchRecord
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, errs.New("ingest", errs.CodeInvalid,
			errs.WithMessage("decode observation batch"), errs.WithCause(err))
	}
	out := make([]Observation, 0, len(rows))
	for i, row := range rows {
		kind := Kind(row.Kind)
		switch kind {
		case KindPricing, KindCapacity:
		default:
			return nil, errs.New("ingest", errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("record %d: unknown kind %q", i, row.Kind)))
		}
		value, err := decimal.NewFromString(row.Value)
		if err != nil {
			return nil, errs.New("ingest", errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("record %d: value %q", i, row.Value)), errs.WithCause(err))
		}
		out = append(out, Observation{
			Kind: kind,
			Record: position.ObservationRecord{
				ProviderID: row.ProviderID,
				SubjectID:  row.SubjectID,
				Value:      value,
				ObservedAt: row.ObservedAt,
			},
			Metadata: row.Metadata,
		})
	}
	return out, nil
}
