// Package metrics exposes tracker, command and supervisor counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"bosstracker/internal/tracker"
)

const namespace = "bosstracker"

// Metrics owns a private registry so tests and multiple instances never collide
// on the global one.
type Metrics struct {
	reg *prometheus.Registry

	ticks        prometheus.Counter
	statusEdits  prometheus.Counter
	alerts       prometheus.Counter
	chirps       prometheus.Counter
	kills        prometheus.Counter
	msgFailures  *prometheus.CounterVec
	commands     *prometheus.CounterVec
	commandDur   *prometheus.HistogramVec
	loopRestarts *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_total", Help: "Tracker ticks processed",
		}),
		statusEdits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_edits_total", Help: "Live status message edits",
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_sent_total", Help: "Countdown alerts sent",
		}),
		chirps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "chirps_sent_total", Help: "Overdue reminders sent",
		}),
		kills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "kills_recorded_total", Help: "Boss kills recorded",
		}),
		msgFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messaging_failures_total", Help: "Failed messaging calls by operation",
		}, []string{"op"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_total", Help: "Chat commands handled by outcome",
		}, []string{"cmd", "outcome"}),
		commandDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "command_duration_seconds", Help: "Chat command handling time",
			Buckets: prometheus.DefBuckets,
		}, []string{"cmd"}),
		loopRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "loop_restarts_total", Help: "Supervised loop restarts",
		}, []string{"loop"}),
	}
	m.reg.MustRegister(
		m.ticks, m.statusEdits, m.alerts, m.chirps, m.kills,
		m.msgFailures, m.commands, m.commandDur, m.loopRestarts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// tracker.Observer

func (m *Metrics) Tick()                     { m.ticks.Inc() }
func (m *Metrics) StatusEdited()             { m.statusEdits.Inc() }
func (m *Metrics) AlertSent()                { m.alerts.Inc() }
func (m *Metrics) ChirpSent()                { m.chirps.Inc() }
func (m *Metrics) KillRecorded()             { m.kills.Inc() }
func (m *Metrics) MessagingFailed(op string) { m.msgFailures.WithLabelValues(op).Inc() }

// CommandObserved implements router.CommandObserver.
func (m *Metrics) CommandObserved(cmd, outcome string, dur time.Duration) {
	m.commands.WithLabelValues(cmd, outcome).Inc()
	m.commandDur.WithLabelValues(cmd).Observe(dur.Seconds())
}

// LoopRestarted matches the supervisor restart hook signature.
func (m *Metrics) LoopRestarted(name string, _ error) {
	m.loopRestarts.WithLabelValues(name).Inc()
}

// WatchTracker publishes gauges read from snap at scrape time.
func (m *Metrics) WatchTracker(snap func() tracker.Snapshot) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "clan_level", Help: "Current clan level (-1 when unknown)",
		}, func() float64 {
			s := snap()
			if s.Level == nil {
				return -1
			}
			return float64(*s.Level)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "encounter_state", Help: "0 unknown, 1 armed, 2 expired",
		}, func() float64 { return float64(snap().State) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "next_encounter_timestamp_seconds", Help: "Unix time of the next encounter (0 when unknown)",
		}, func() float64 {
			s := snap()
			if s.NextEncounterAt.IsZero() {
				return 0
			}
			return float64(s.NextEncounterAt.Unix())
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_alerts", Help: "Countdown alerts still to fire",
		}, func() float64 { return float64(len(snap().PendingAlerts)) }),
	)
}

var _ tracker.Observer = (*Metrics)(nil)
