package eventloop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	skipThrottled   = "throttled"
	skipNotReady    = "not_ready"
	skipModuleError = "module_error"

	targetModule = "module"
	targetShell  = "shell"
)

// Metrics holds the event loop's Prometheus collectors.
type Metrics struct {
	Emissions     prometheus.Counter
	Backoffs      prometheus.Counter
	Skipped       *prometheus.CounterVec
	Commands      *prometheus.CounterVec
	ShellFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Emissions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "barfeed",
			Name:      "emissions_total",
			Help:      "Bar lines written to stdout.",
		}),
		Backoffs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "barfeed",
			Name:      "throttle_backoffs_total",
			Help:      "Output ticks delayed by the throttle.",
		}),
		Skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barfeed",
			Name:      "emissions_skipped_total",
			Help:      "Output ticks that produced no bar line, by reason.",
		}, []string{"reason"}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barfeed",
			Name:      "commands_total",
			Help:      "Command pipe lines dispatched, by target.",
		}, []string{"target"}),
		ShellFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "barfeed",
			Name:      "shell_command_failures_total",
			Help:      "Shell fallback commands that failed to run or exited non-zero.",
		}),
	}
}
