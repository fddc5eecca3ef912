package core

import (
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/benbjohnson/clock"
)

// Snapshot field names
const (
	FieldDrivingRange     = "driving_range"
	FieldDrivingRangePhev = "driving_range_phev_total"
	FieldOdometer         = "odometer"
	FieldEvSoc            = "ev_soc"
	FieldChargingState    = "charging_state"
	FieldPluggedIn        = "plugged_in"
	FieldChargeRemainTime = "charge_remain_time"
	FieldTargetSoc        = "target_soc"
	FieldWarningLamp      = "warning_lamp"
	FieldWarningLamps     = "warning_lamps"
)

// TopicUpdate is published on the event bus for every merged field
const TopicUpdate = "snapshot/update"

// Value is the last known good state of one snapshot field
type Value struct {
	Value     interface{} `json:"value"`
	Unit      string      `json:"unit,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Snapshot is the latest known-good per-field vehicle state. Fields are only
// overwritten by successful job results; a failed poll leaves prior values
// and timestamps untouched. Staleness is visible via UpdatedAt, a field that
// never succeeded is simply absent.
type Snapshot struct {
	clock clock.Clock
	bus   EventBus.Bus

	mu  sync.RWMutex
	val map[string]Value
}

// NewSnapshot creates an empty snapshot store
func NewSnapshot(clock clock.Clock, bus EventBus.Bus) *Snapshot {
	return &Snapshot{
		clock: clock,
		bus:   bus,
		val:   make(map[string]Value),
	}
}

// Merge applies all of a job's field updates as one atomic unit. Readers
// never observe a partially-applied job result.
func (s *Snapshot) Merge(job string, fields map[string]Value) {
	if len(fields) == 0 {
		return
	}

	now := s.clock.Now()

	s.mu.Lock()
	for k, v := range fields {
		if v.UpdatedAt.IsZero() {
			v.UpdatedAt = now
		}
		s.val[k] = v
		fields[k] = v
	}
	s.mu.Unlock()

	if s.bus != nil {
		for k, v := range fields {
			s.bus.Publish(TopicUpdate, k, v)
		}
	}
}

// Read returns the last known value. The second return is false if the
// field was never populated.
func (s *Snapshot) Read(field string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.val[field]
	return v, ok
}

// All returns a copy of all populated fields
func (s *Snapshot) All() map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[string]Value, len(s.val))
	for k, v := range s.val {
		res[k] = v
	}

	return res
}
