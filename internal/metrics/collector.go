package metrics

import (
	"sync"
	"time"
)

// EventType classifies a recorded metric event.
type EventType string

const (
	EventView       EventType = "view"
	EventClick      EventType = "click"
	EventConversion EventType = "conversion"
	EventRevenue    EventType = "revenue"
)

// Event is one observed data point, tagged by experiment, variant, and
// subject. Events are append-only: once recorded they are never mutated
// or deleted. Value carries the amount in cents for revenue events and is
// ignored for every other type.
type Event struct {
	ExperimentID string         `json:"experiment_id"`
	VariantID    string         `json:"variant_id"`
	UserID       string         `json:"user_id"`
	Type         EventType      `json:"event_type"`
	Value        float64        `json:"value,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EventStore is the persistence boundary for the event log: atomic
// appends plus filtered reads. AppendBatch writes all events or none.
type EventStore interface {
	Append(ev Event) error
	AppendBatch(events []Event) error
	ByExperiment(experimentID string) ([]Event, error)
	ByUser(experimentID, userID string) ([]Event, error)
	Clear() error
}

// Engagement holds click metrics for one variant.
type Engagement struct {
	Clicks    int     `json:"clicks"`
	ClickRate float64 `json:"click_rate"`
}

// VariantMetrics is the derived per-variant rollup. Every ratio field is
// 0 when its denominator is 0, never NaN.
type VariantMetrics struct {
	VariantID         string     `json:"variant_id"`
	VariantName       string     `json:"variant_name"`
	Visitors          int        `json:"visitors"`
	Conversions       int        `json:"conversions"`
	ConversionRate    float64    `json:"conversion_rate"`
	TotalRevenue      float64    `json:"total_revenue"`
	RevenuePerVisitor float64    `json:"revenue_per_visitor"`
	AverageOrderValue float64    `json:"average_order_value"`
	Engagement        Engagement `json:"engagement"`
}

// ExperimentMetrics aggregates all variants of one experiment.
type ExperimentMetrics struct {
	ExperimentID          string           `json:"experiment_id"`
	Variants              []VariantMetrics `json:"variants"`
	TotalVisitors         int              `json:"total_visitors"`
	TotalConversions      int              `json:"total_conversions"`
	TotalRevenue          float64          `json:"total_revenue"`
	OverallConversionRate float64          `json:"overall_conversion_rate"`
	StartDate             time.Time        `json:"start_date"`
	LastUpdated           time.Time        `json:"last_updated"`
}

// VariantByID returns the rollup for one variant, or nil.
func (m *ExperimentMetrics) VariantByID(id string) *VariantMetrics {
	for i := range m.Variants {
		if m.Variants[i].VariantID == id {
			return &m.Variants[i]
		}
	}
	return nil
}

// Collector ingests typed events and aggregates them on demand.
// Aggregation is a full recomputation over the filtered log; the output
// contract would be unchanged by an incrementally maintained rollup.
type Collector struct {
	store EventStore

	// visitors tracks unique subjects per experiment as secondary
	// bookkeeping; reported visitor counts come from aggregation.
	mu       sync.Mutex
	visitors map[string]map[string]struct{}
}

func NewCollector(store EventStore) *Collector {
	return &Collector{
		store:    store,
		visitors: make(map[string]map[string]struct{}),
	}
}

// RecordEvent stamps the event with the current time and appends it to
// the log. View events also register the subject in the per-experiment
// unique-visitor set.
func (c *Collector) RecordEvent(ev Event) error {
	ev.Timestamp = time.Now()
	if ev.Type == EventView {
		c.mu.Lock()
		set, ok := c.visitors[ev.ExperimentID]
		if !ok {
			set = make(map[string]struct{})
			c.visitors[ev.ExperimentID] = set
		}
		set[ev.UserID] = struct{}{}
		c.mu.Unlock()
	}
	return c.store.Append(ev)
}

// RecordBatch stamps and appends a batch of events in a single store
// write, so a failing store leaves no partial prefix behind. Visitor
// bookkeeping happens only after the write succeeds.
func (c *Collector) RecordBatch(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now()
	for i := range events {
		events[i].Timestamp = now
	}
	if err := c.store.AppendBatch(events); err != nil {
		return err
	}

	c.mu.Lock()
	for i := range events {
		if events[i].Type != EventView {
			continue
		}
		set, ok := c.visitors[events[i].ExperimentID]
		if !ok {
			set = make(map[string]struct{})
			c.visitors[events[i].ExperimentID] = set
		}
		set[events[i].UserID] = struct{}{}
	}
	c.mu.Unlock()
	return nil
}

// RecordView records an exposure of a subject to a variant.
func (c *Collector) RecordView(experimentID, variantID, userID string) error {
	return c.RecordEvent(Event{ExperimentID: experimentID, VariantID: variantID, UserID: userID, Type: EventView})
}

// RecordClick records an engagement event.
func (c *Collector) RecordClick(experimentID, variantID, userID string) error {
	return c.RecordEvent(Event{ExperimentID: experimentID, VariantID: variantID, UserID: userID, Type: EventClick})
}

// RecordConversion records a conversion and, when a positive amount is
// supplied, a separate revenue event, so conversion and revenue counts
// can diverge (a conversion may carry no charge).
func (c *Collector) RecordConversion(experimentID, variantID, userID string, revenueCents float64) error {
	if err := c.RecordEvent(Event{ExperimentID: experimentID, VariantID: variantID, UserID: userID, Type: EventConversion}); err != nil {
		return err
	}
	if revenueCents > 0 {
		return c.RecordEvent(Event{ExperimentID: experimentID, VariantID: variantID, UserID: userID, Type: EventRevenue, Value: revenueCents})
	}
	return nil
}

// ExperimentMetrics filters the log to one experiment and tallies each
// variant's counters in a single pass. variantName resolves display names
// for variant ids; a nil lookup leaves names equal to ids.
func (c *Collector) ExperimentMetrics(experimentID string, variantName func(id string) string) (*ExperimentMetrics, error) {
	events, err := c.store.ByExperiment(experimentID)
	if err != nil {
		return nil, err
	}

	type tally struct {
		views       int
		clicks      int
		conversions int
		revenue     float64
	}
	tallies := make(map[string]*tally)
	order := make([]string, 0, 4)

	now := time.Now()
	start, last := now, now
	for i, ev := range events {
		if i == 0 {
			start, last = ev.Timestamp, ev.Timestamp
		} else {
			if ev.Timestamp.Before(start) {
				start = ev.Timestamp
			}
			if ev.Timestamp.After(last) {
				last = ev.Timestamp
			}
		}

		t, ok := tallies[ev.VariantID]
		if !ok {
			t = &tally{}
			tallies[ev.VariantID] = t
			order = append(order, ev.VariantID)
		}
		switch ev.Type {
		case EventView:
			t.views++
		case EventClick:
			t.clicks++
		case EventConversion:
			t.conversions++
		case EventRevenue:
			t.revenue += ev.Value
		}
	}

	out := &ExperimentMetrics{
		ExperimentID: experimentID,
		Variants:     make([]VariantMetrics, 0, len(order)),
		StartDate:    start,
		LastUpdated:  last,
	}
	for _, variantID := range order {
		t := tallies[variantID]
		vm := VariantMetrics{
			VariantID:    variantID,
			VariantName:  variantID,
			Visitors:     t.views,
			Conversions:  t.conversions,
			TotalRevenue: t.revenue,
			Engagement:   Engagement{Clicks: t.clicks},
		}
		if variantName != nil {
			vm.VariantName = variantName(variantID)
		}
		if t.views > 0 {
			vm.ConversionRate = float64(t.conversions) / float64(t.views) * 100
			vm.RevenuePerVisitor = t.revenue / float64(t.views)
			vm.Engagement.ClickRate = float64(t.clicks) / float64(t.views) * 100
		}
		if t.conversions > 0 {
			vm.AverageOrderValue = t.revenue / float64(t.conversions)
		}

		out.Variants = append(out.Variants, vm)
		out.TotalVisitors += vm.Visitors
		out.TotalConversions += vm.Conversions
		out.TotalRevenue += vm.TotalRevenue
	}
	if out.TotalVisitors > 0 {
		out.OverallConversionRate = float64(out.TotalConversions) / float64(out.TotalVisitors) * 100
	}
	return out, nil
}

// UserEvents returns the raw event subsequence for one subject within an
// experiment, for debugging and audit.
func (c *Collector) UserEvents(experimentID, userID string) ([]Event, error) {
	return c.store.ByUser(experimentID, userID)
}

// UniqueVisitors reports the size of the unique-visitor set for an
// experiment. Secondary bookkeeping only.
func (c *Collector) UniqueVisitors(experimentID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.visitors[experimentID])
}

// Clear resets the event log and visitor bookkeeping. Test isolation.
func (c *Collector) Clear() error {
	c.mu.Lock()
	c.visitors = make(map[string]map[string]struct{})
	c.mu.Unlock()
	return c.store.Clear()
}
