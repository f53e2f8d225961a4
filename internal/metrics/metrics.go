package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coinbot/internal/game"
)

// Registry owns the process metrics. It implements game.Observer and the
// scheduler's job observer.
type Registry struct {
	reg *prometheus.Registry

	operations *prometheus.CounterVec
	jobRuns    *prometheus.CounterVec
	prices     *prometheus.GaugeVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinbot_operations_total",
			Help: "Engine operations by name and result.",
		}, []string{"op", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinbot_job_runs_total",
			Help: "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
		prices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coinbot_instrument_price",
			Help: "Current instrument price.",
		}, []string{"symbol"}),
	}
	r.reg.MustRegister(
		r.operations,
		r.jobRuns,
		r.prices,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Registry) OperationDone(op string, err error) {
	r.operations.WithLabelValues(op, game.ErrorKind(err)).Inc()
}

func (r *Registry) InstrumentPrice(symbol string, price int64) {
	r.prices.WithLabelValues(symbol).Set(float64(price))
}

func (r *Registry) JobDone(job string, err error) {
	r.jobRuns.WithLabelValues(job, game.ErrorKind(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
