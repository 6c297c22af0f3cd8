package poller

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records what poll and info cycles did. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	cycles      *prometheus.CounterVec
	humiditySet *prometheus.CounterVec
	reference   *prometheus.GaugeVec
	target      *prometheus.GaugeVec
}

// NewMetrics creates the cycle metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nestautohumidity_cycles_total",
			Help: "Poll and info cycles run",
		}, []string{"mode"}),
		humiditySet: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nestautohumidity_humidity_set_total",
			Help: "Target humidity decisions by result (applied, dry_run, skipped, error)",
		}, []string{"result"}),
		reference: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nestautohumidity_reference_temperature",
			Help: "Last reference temperature per structure in the account's scale",
		}, []string{"structure"}),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nestautohumidity_target_humidity",
			Help: "Last calculated target humidity per thermostat (percent)",
		}, []string{"device"}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.humiditySet, m.reference, m.target)
	}
	return m
}

func (m *Metrics) cycle(mode string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(mode).Inc()
}

func (m *Metrics) result(result string) {
	if m == nil {
		return
	}
	m.humiditySet.WithLabelValues(result).Inc()
}

func (m *Metrics) referenceTemperature(structureID string, v float64) {
	if m == nil {
		return
	}
	m.reference.WithLabelValues(structureID).Set(v)
}

func (m *Metrics) targetHumidity(deviceID string, v float64) {
	if m == nil {
		return
	}
	m.target.WithLabelValues(deviceID).Set(v)
}
