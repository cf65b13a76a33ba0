package store

import (
	"context"
	"sync"

	"github.com/agenthands/driftwatch/internal/core/model"
)

// MemoryStore keeps everything in process memory. Used in tests and local
// runs.
type MemoryStore struct {
	mu        sync.RWMutex
	delivered map[model.Fingerprint]model.NotificationRecord
	failures  map[model.Fingerprint][]model.NotificationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		delivered: make(map[model.Fingerprint]model.NotificationRecord),
		failures:  make(map[model.Fingerprint][]model.NotificationRecord),
	}
}

func (s *MemoryStore) IsNew(ctx context.Context, fp model.Fingerprint) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.delivered[fp]
	return !ok, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, rec model.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delivered[rec.Fingerprint]; !ok {
		s.delivered[rec.Fingerprint] = rec
	}
	return nil
}

func (s *MemoryStore) RecordFailure(ctx context.Context, rec model.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[rec.Fingerprint] = append(s.failures[rec.Fingerprint], rec)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// Delivered returns the record for fp, if any.
func (s *MemoryStore) Delivered(fp model.Fingerprint) (model.NotificationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.delivered[fp]
	return rec, ok
}

// DeliveredCount returns the number of delivered fingerprints.
func (s *MemoryStore) DeliveredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.delivered)
}

// Failures returns the failure log for fp.
func (s *MemoryStore) Failures(fp model.Fingerprint) []model.NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.NotificationRecord(nil), s.failures[fp]...)
}
