// Package store provides the in-memory reference implementations of the
// persistence boundaries. They hold everything in process memory with no
// durability across restarts; the gorm-backed implementations in
// internal/db satisfy the same contracts.
package store

import (
	"fmt"
	"sync"
	"time"

	"pricelab/internal/allocation"
	"pricelab/internal/experiment"
	"pricelab/internal/metrics"
)

// MemoryExperiments stores experiment configs keyed by id.
type MemoryExperiments struct {
	mu   sync.RWMutex
	byID map[string]*experiment.Config
}

func NewMemoryExperiments() *MemoryExperiments {
	return &MemoryExperiments{byID: make(map[string]*experiment.Config)}
}

func (s *MemoryExperiments) Put(cfg *experiment.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cfg.ID] = cfg.Clone()
	return nil
}

func (s *MemoryExperiments) Get(id string) (*experiment.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("experiment %s: %w", id, experiment.ErrNotFound)
	}
	return cfg.Clone(), nil
}

func (s *MemoryExperiments) ListActive(productID string) ([]*experiment.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*experiment.Config
	for _, cfg := range s.byID {
		if cfg.Status == experiment.StatusActive && cfg.ProductID == productID {
			out = append(out, cfg.Clone())
		}
	}
	return out, nil
}

func (s *MemoryExperiments) ListExpired(now time.Time) ([]*experiment.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*experiment.Config
	for _, cfg := range s.byID {
		if cfg.Status == experiment.StatusActive && cfg.EndDate != nil && cfg.EndDate.Before(now) {
			out = append(out, cfg.Clone())
		}
	}
	return out, nil
}

// MemoryOverrides stores manual variant assignments keyed by
// (user, experiment).
type MemoryOverrides struct {
	mu sync.RWMutex
	m  map[allocation.OverrideKey]string
}

func NewMemoryOverrides() *MemoryOverrides {
	return &MemoryOverrides{m: make(map[allocation.OverrideKey]string)}
}

func (s *MemoryOverrides) Set(key allocation.OverrideKey, variantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = variantID
	return nil
}

func (s *MemoryOverrides) Get(key allocation.OverrideKey) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	variantID, ok := s.m[key]
	return variantID, ok, nil
}

func (s *MemoryOverrides) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[allocation.OverrideKey]string)
	return nil
}

// MemoryEvents is the append-only in-memory event log.
type MemoryEvents struct {
	mu     sync.RWMutex
	events []metrics.Event
}

func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{}
}

func (s *MemoryEvents) Append(ev metrics.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryEvents) AppendBatch(events []metrics.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryEvents) ByExperiment(experimentID string) ([]metrics.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []metrics.Event
	for _, ev := range s.events {
		if ev.ExperimentID == experimentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryEvents) ByUser(experimentID, userID string) ([]metrics.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []metrics.Event
	for _, ev := range s.events {
		if ev.ExperimentID == experimentID && ev.UserID == userID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *MemoryEvents) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	return nil
}
