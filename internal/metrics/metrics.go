package metrics

import (
	"github.com/phasecraft/phaseflow/pkg/engine"
	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Emitter implements engine.Emitter and exports engine activity as
// prometheus metrics.
type Emitter struct {
	runTransitions   *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
	toolCalls        prometheus.Counter
	escalations      prometheus.Counter
	toolCallSeconds  prometheus.Histogram
}

func NewEmitter(reg prometheus.Registerer) *Emitter {
	e := &Emitter{
		runTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phaseflow_run_transitions_total",
			Help: "Pipeline run status transitions.",
		}, []string{"to"}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phaseflow_phase_transitions_total",
			Help: "Phase execution status transitions.",
		}, []string{"to"}),
		toolCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phaseflow_tool_calls_total",
			Help: "Builder agent tool calls observed.",
		}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phaseflow_escalations_total",
			Help: "Escalations published to the sink.",
		}),
		toolCallSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "phaseflow_tool_call_duration_seconds",
			Help:    "Duration of builder agent tool calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(e.runTransitions, e.phaseTransitions, e.toolCalls, e.escalations, e.toolCallSeconds)
	return e
}

func (e *Emitter) RunTransition(run models.PipelineRun, from, to models.RunStatus) {
	e.runTransitions.WithLabelValues(string(to)).Inc()
}

func (e *Emitter) PhaseTransition(runID, phaseID string, from, to models.PhaseStatus) {
	e.phaseTransitions.WithLabelValues(string(to)).Inc()
}

func (e *Emitter) ToolCallObserved(runID, phaseID string, ev engine.ToolCallEvent) {
	e.toolCalls.Inc()
	e.toolCallSeconds.Observe(ev.Duration.Seconds())
}

func (e *Emitter) Escalated(esc models.Escalation) {
	e.escalations.Inc()
}
