package core

import (
	"github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports numeric snapshot fields as prometheus gauges. It
// subscribes to snapshot merges on the event bus, so a failed poll leaves
// the exported values untouched along with the snapshot itself.
type Metrics struct {
	gauges  map[string]prometheus.Gauge
	updated *prometheus.GaugeVec
}

// NewMetrics creates the gauge set and subscribes it to snapshot updates
func NewMetrics(bus EventBus.Bus, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		gauges: map[string]prometheus.Gauge{
			FieldDrivingRange: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bluelink_driving_range",
				Help: "Remaining driving range",
			}),
			FieldOdometer: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bluelink_odometer",
				Help: "Odometer reading",
			}),
			FieldEvSoc: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bluelink_ev_soc",
				Help: "Traction battery state of charge",
			}),
			FieldChargingState: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bluelink_charging",
				Help: "Charging session active",
			}),
			FieldChargeRemainTime: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bluelink_charge_remain_minutes",
				Help: "Remaining charge time",
			}),
			FieldTargetSoc: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bluelink_target_soc",
				Help: "Charging target state of charge",
			}),
			FieldWarningLamp: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "bluelink_warning_lamp",
				Help: "Any warning lamp lit",
			}),
		},
		updated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluelink_updated_timestamp_seconds",
			Help: "Time of the last successful poll per field",
		}, []string{"field"}),
	}

	for _, g := range m.gauges {
		if err := reg.Register(g); err != nil {
			return nil, err
		}
	}
	if err := reg.Register(m.updated); err != nil {
		return nil, err
	}

	if err := bus.Subscribe(TopicUpdate, m.observe); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) observe(field string, val Value) {
	g, ok := m.gauges[field]
	if !ok {
		return
	}

	if f, ok := asFloat(val.Value); ok {
		g.Set(f)
		m.updated.WithLabelValues(field).Set(float64(val.UpdatedAt.Unix()))
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
