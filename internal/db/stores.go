package db

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"pricelab/internal/allocation"
	"pricelab/internal/experiment"
	"pricelab/internal/metrics"
)

// ExperimentStore is the gorm-backed experiment.Store.
type ExperimentStore struct {
	db *gorm.DB
}

func NewExperimentStore(db *gorm.DB) *ExperimentStore {
	return &ExperimentStore{db: db}
}

func (s *ExperimentStore) Put(cfg *experiment.Config) error {
	row, err := experimentRow(cfg)
	if err != nil {
		return err
	}
	return s.db.Save(row).Error
}

func (s *ExperimentStore) Get(id string) (*experiment.Config, error) {
	var row Experiment
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("experiment %s: %w", id, experiment.ErrNotFound)
		}
		return nil, err
	}
	return experimentConfig(&row)
}

func (s *ExperimentStore) ListActive(productID string) ([]*experiment.Config, error) {
	var rows []Experiment
	if err := s.db.
		Where("status = ? AND product_id = ?", string(experiment.StatusActive), productID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return experimentConfigs(rows)
}

func (s *ExperimentStore) ListExpired(now time.Time) ([]*experiment.Config, error) {
	var rows []Experiment
	if err := s.db.
		Where("status = ? AND end_date IS NOT NULL AND end_date <= ?", string(experiment.StatusActive), now).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return experimentConfigs(rows)
}

func experimentRow(cfg *experiment.Config) (*Experiment, error) {
	variants, err := json.Marshal(cfg.Variants)
	if err != nil {
		return nil, err
	}
	rules, err := json.Marshal(cfg.TargetingRules)
	if err != nil {
		return nil, err
	}
	return &Experiment{
		ID:                    cfg.ID,
		Name:                  cfg.Name,
		Hypothesis:            cfg.Hypothesis,
		ProductID:             cfg.ProductID,
		Status:                string(cfg.Status),
		StartDate:             cfg.StartDate,
		EndDate:               cfg.EndDate,
		Variants:              datatypes.JSON(variants),
		TargetingRules:        datatypes.JSON(rules),
		MinimumSampleSize:     cfg.MinimumSampleSize,
		SignificanceThreshold: cfg.SignificanceThreshold,
	}, nil
}

func experimentConfig(row *Experiment) (*experiment.Config, error) {
	cfg := &experiment.Config{
		ID:                    row.ID,
		Name:                  row.Name,
		Hypothesis:            row.Hypothesis,
		ProductID:             row.ProductID,
		Status:                experiment.Status(row.Status),
		StartDate:             row.StartDate,
		EndDate:               row.EndDate,
		MinimumSampleSize:     row.MinimumSampleSize,
		SignificanceThreshold: row.SignificanceThreshold,
	}
	if len(row.Variants) > 0 {
		if err := json.Unmarshal(row.Variants, &cfg.Variants); err != nil {
			return nil, fmt.Errorf("experiment %s: decode variants: %w", row.ID, err)
		}
	}
	if len(row.TargetingRules) > 0 {
		if err := json.Unmarshal(row.TargetingRules, &cfg.TargetingRules); err != nil {
			return nil, fmt.Errorf("experiment %s: decode targeting rules: %w", row.ID, err)
		}
	}
	return cfg, nil
}

func experimentConfigs(rows []Experiment) ([]*experiment.Config, error) {
	out := make([]*experiment.Config, 0, len(rows))
	for i := range rows {
		cfg, err := experimentConfig(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// OverrideStore is the gorm-backed allocation.OverrideStore.
type OverrideStore struct {
	db *gorm.DB
}

func NewOverrideStore(db *gorm.DB) *OverrideStore {
	return &OverrideStore{db: db}
}

func (s *OverrideStore) Set(key allocation.OverrideKey, variantID string) error {
	var existing Override
	err := s.db.Where("user_id = ? AND experiment_id = ?", key.UserID, key.ExperimentID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return s.db.Create(&Override{
			UserID:       key.UserID,
			ExperimentID: key.ExperimentID,
			VariantID:    variantID,
		}).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&existing).Update("variant_id", variantID).Error
}

func (s *OverrideStore) Get(key allocation.OverrideKey) (string, bool, error) {
	var row Override
	err := s.db.Where("user_id = ? AND experiment_id = ?", key.UserID, key.ExperimentID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return row.VariantID, true, nil
}

func (s *OverrideStore) Clear() error {
	return s.db.Where("1 = 1").Delete(&Override{}).Error
}

// EventStore is the gorm-backed metrics.EventStore. Appends are the only
// write path; rows are never updated.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ev metrics.Event) error {
	md := datatypes.JSONMap{}
	for k, v := range ev.Metadata {
		md[k] = v
	}
	return s.db.Create(&Event{
		CreatedAt:    ev.Timestamp,
		ExperimentID: ev.ExperimentID,
		VariantID:    ev.VariantID,
		UserID:       ev.UserID,
		Type:         string(ev.Type),
		ValueCents:   ev.Value,
		Metadata:     md,
	}).Error
}

func (s *EventStore) AppendBatch(events []metrics.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]Event, 0, len(events))
	for _, ev := range events {
		md := datatypes.JSONMap{}
		for k, v := range ev.Metadata {
			md[k] = v
		}
		rows = append(rows, Event{
			CreatedAt:    ev.Timestamp,
			ExperimentID: ev.ExperimentID,
			VariantID:    ev.VariantID,
			UserID:       ev.UserID,
			Type:         string(ev.Type),
			ValueCents:   ev.Value,
			Metadata:     md,
		})
	}
	return s.db.Create(&rows).Error
}

func (s *EventStore) ByExperiment(experimentID string) ([]metrics.Event, error) {
	var rows []Event
	if err := s.db.Where("experiment_id = ?", experimentID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return metricEvents(rows), nil
}

func (s *EventStore) ByUser(experimentID, userID string) ([]metrics.Event, error) {
	var rows []Event
	if err := s.db.Where("experiment_id = ? AND user_id = ?", experimentID, userID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return metricEvents(rows), nil
}

func (s *EventStore) Clear() error {
	return s.db.Where("1 = 1").Delete(&Event{}).Error
}

func metricEvents(rows []Event) []metrics.Event {
	out := make([]metrics.Event, 0, len(rows))
	for _, row := range rows {
		ev := metrics.Event{
			ExperimentID: row.ExperimentID,
			VariantID:    row.VariantID,
			UserID:       row.UserID,
			Type:         metrics.EventType(row.Type),
			Value:        row.ValueCents,
			Timestamp:    row.CreatedAt,
		}
		if len(row.Metadata) > 0 {
			ev.Metadata = map[string]any(row.Metadata)
		}
		out = append(out, ev)
	}
	return out
}
