package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the poller's counters and gauges, grounded on
// inhibit/metric.go's InhibitorMetrics shape (promauto.With(reg).New*,
// registered once at construction, a no-op struct when reg is nil).
type Metrics struct {
	cyclesSkippedNoInternet prometheus.Counter
	cyclesRun               prometheus.Counter
	probesTotal             *prometheus.CounterVec
	deathsAnnounced         prometheus.Counter
	recoveriesAnnounced     prometheus.Counter
	silencesGossiped        prometheus.Counter
	silencesReaped          prometheus.Counter
}

// NewMetrics registers the poller's metrics with reg. A nil reg yields a
// Metrics whose methods are safe no-ops, matching NewInhibitorMetrics's
// "reg == nil" convention.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	return &Metrics{
		cyclesSkippedNoInternet: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "freecaster_grid_cycles_skipped_no_internet_total",
			Help: "Poll cycles skipped because the internet gate did not answer 204.",
		}),
		cyclesRun: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "freecaster_grid_cycles_run_total",
			Help: "Poll cycles that ran to completion.",
		}),
		probesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "freecaster_grid_probes_total",
			Help: "Outbound peer probes by result.",
		}, []string{"result"}),
		deathsAnnounced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "freecaster_grid_deaths_announced_total",
			Help: "Death announcements this node has published.",
		}),
		recoveriesAnnounced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "freecaster_grid_recoveries_announced_total",
			Help: "Recovery announcements this node has published.",
		}),
		silencesGossiped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "freecaster_grid_silences_gossiped_total",
			Help: "Silences successfully gossiped to at least one peer.",
		}),
		silencesReaped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "freecaster_grid_silences_reaped_total",
			Help: "Expired silences removed during maintenance.",
		}),
	}
}

func (m *Metrics) incCyclesSkipped() {
	if m.cyclesSkippedNoInternet != nil {
		m.cyclesSkippedNoInternet.Inc()
	}
}

func (m *Metrics) incCyclesRun() {
	if m.cyclesRun != nil {
		m.cyclesRun.Inc()
	}
}

func (m *Metrics) incProbe(success bool) {
	if m.probesTotal == nil {
		return
	}
	if success {
		m.probesTotal.WithLabelValues("success").Inc()
	} else {
		m.probesTotal.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) incDeaths() {
	if m.deathsAnnounced != nil {
		m.deathsAnnounced.Inc()
	}
}

func (m *Metrics) incRecoveries() {
	if m.recoveriesAnnounced != nil {
		m.recoveriesAnnounced.Inc()
	}
}

func (m *Metrics) incSilencesGossiped() {
	if m.silencesGossiped != nil {
		m.silencesGossiped.Inc()
	}
}

func (m *Metrics) addSilencesReaped(n int) {
	if n > 0 && m.silencesReaped != nil {
		m.silencesReaped.Add(float64(n))
	}
}
