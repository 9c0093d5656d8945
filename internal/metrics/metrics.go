// Package metrics exposes Prometheus counters for the bot's activity.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	commands         *prometheus.CounterVec
	dailyPasses      *prometheus.CounterVec
	recordsDelivered prometheus.Counter
	sendFailures     prometheus.Counter
	submissions      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "formulabot",
			Name:      "commands_total",
			Help:      "Handled bot commands and callbacks.",
		}, []string{"command", "outcome"}),
		dailyPasses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "formulabot",
			Name:      "daily_passes_total",
			Help:      "Daily notification passes.",
		}, []string{"outcome"}),
		recordsDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: "formulabot",
			Name:      "daily_records_delivered_total",
			Help:      "Formula records delivered by daily passes.",
		}),
		sendFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "formulabot",
			Name:      "daily_send_failures_total",
			Help:      "Individual message sends that failed during delivery.",
		}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "formulabot",
			Name:      "submissions_total",
			Help:      "Submission workflow outcomes.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveCommand(cmd string, ok bool) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(cmd, outcome(ok)).Inc()
}

func (m *Metrics) ObserveDailyPass(ok bool) {
	if m == nil {
		return
	}
	m.dailyPasses.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) AddDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsDelivered.Add(float64(n))
}

func (m *Metrics) AddSendFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sendFailures.Add(float64(n))
}

// ObserveSubmission records a terminal workflow outcome: "committed",
// "cancelled", "timed_out" or "failed".
func (m *Metrics) ObserveSubmission(out string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(out).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Serve runs the /metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
