package store

import (
	"context"
	"fmt"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/driver"
	"github.com/agenthands/driftwatch/internal/fault"
)

// GraphStore records findings as (:Job)-[:SURFACED]->(:Finding) in Memgraph,
// which makes per-job history queryable next to the dedup key.
type GraphStore struct {
	driver driver.GraphDriver
}

func NewGraphStore(d driver.GraphDriver) *GraphStore {
	return &GraphStore{driver: d}
}

func (s *GraphStore) IsNew(ctx context.Context, fp model.Fingerprint) (bool, error) {
	res, err := s.driver.ExecuteQuery(ctx, driver.CountFindingQuery, map[string]interface{}{
		"fingerprint": string(fp),
	})
	if err != nil {
		return false, fault.New(fault.Transient, "store.IsNew", err)
	}
	if len(res.Records) == 0 {
		return true, nil
	}
	n, ok := res.Records[0].Get("n")
	if !ok {
		return false, fmt.Errorf("count query returned no n column")
	}
	count, ok := n.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected count type %T", n)
	}
	return count == 0, nil
}

func (s *GraphStore) MarkDelivered(ctx context.Context, rec model.NotificationRecord) error {
	_, err := s.driver.ExecuteQuery(ctx, driver.MarkFindingQuery, map[string]interface{}{
		"job_id":       rec.JobID,
		"fingerprint":  string(rec.Fingerprint),
		"block_id":     rec.BlockID,
		"delivered_at": rec.DeliveredAt.UTC(),
		"attempts":     int64(rec.Attempts),
		"outcome":      string(rec.Outcome),
	})
	if err != nil {
		return fault.New(fault.Transient, "store.MarkDelivered", err)
	}
	return nil
}

func (s *GraphStore) RecordFailure(ctx context.Context, rec model.NotificationRecord) error {
	_, err := s.driver.ExecuteQuery(ctx, driver.RecordFailureQuery, map[string]interface{}{
		"job_id":      rec.JobID,
		"fingerprint": string(rec.Fingerprint),
		"block_id":    rec.BlockID,
		"failed_at":   rec.DeliveredAt.UTC(),
		"attempts":    int64(rec.Attempts),
		"outcome":     string(rec.Outcome),
		"error":       rec.Error,
	})
	if err != nil {
		return fault.New(fault.Transient, "store.RecordFailure", err)
	}
	return nil
}

func (s *GraphStore) Close() error {
	return s.driver.Close(context.Background())
}
