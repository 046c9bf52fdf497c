package telemetry

import (
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/covera-ai/covera/config"
)

// Telemetry tracks tool usage, research activity, token consumption, and
// LLM spend. Counters are exported via the prometheus /metrics endpoint;
// cost aggregation is kept in-process for the admin snapshot.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	toolCalls      *prometheus.CounterVec
	researchPhases *prometheus.CounterVec
	chatTurns      prometheus.Counter
	tokensUsed     *prometheus.CounterVec
	turnDuration   prometheus.Histogram

	costTracker *CostTracker
}

// CostTracker aggregates LLM spend by model and operation.
type CostTracker struct {
	mu             sync.RWMutex
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
	TotalCost      float64
	TotalTokens    int64
}

func New(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		toolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covera_tool_calls_total",
			Help: "Tool dispatches by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		researchPhases: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covera_research_phases_total",
			Help: "Research phase executions by phase and outcome.",
		}, []string{"phase", "outcome"}),
		chatTurns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "covera_chat_turns_total",
			Help: "Completed chat turns.",
		}),
		tokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "covera_llm_tokens_total",
			Help: "LLM tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
		turnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "covera_chat_turn_duration_seconds",
			Help:    "Wall time of a full chat turn including tool calls.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		costTracker: &CostTracker{
			ModelCosts:     make(map[string]float64),
			OperationCosts: make(map[string]float64),
		},
	}
}

func (t *Telemetry) RecordToolCall(tool string, success bool) {
	if !t.config.Enabled {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	t.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (t *Telemetry) RecordResearchPhase(phase string, success bool) {
	if !t.config.Enabled {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	t.researchPhases.WithLabelValues(phase, outcome).Inc()
}

func (t *Telemetry) RecordChatTurn(durationSeconds float64) {
	if !t.config.Enabled {
		return
	}
	t.chatTurns.Inc()
	t.turnDuration.Observe(durationSeconds)
}

// RecordLLMUsage records token counts and, when cost tracking is on, the
// spend attributed to model and operation.
func (t *Telemetry) RecordLLMUsage(model, operation string, inputTokens, outputTokens int64, cost float64) {
	if !t.config.Enabled {
		return
	}
	t.tokensUsed.WithLabelValues(model, "input").Add(float64(inputTokens))
	t.tokensUsed.WithLabelValues(model, "output").Add(float64(outputTokens))
	if !t.config.CostTracking {
		return
	}
	ct := t.costTracker
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.ModelCosts[model] += cost
	ct.OperationCosts[operation] += cost
	ct.TotalCost += cost
	ct.TotalTokens += inputTokens + outputTokens
}

// CostSnapshot is a point-in-time copy of the accumulated spend.
type CostSnapshot struct {
	ModelCosts     map[string]float64 `json:"modelCosts"`
	OperationCosts map[string]float64 `json:"operationCosts"`
	TotalCost      float64            `json:"totalCost"`
	TotalTokens    int64              `json:"totalTokens"`
}

func (t *Telemetry) Costs() CostSnapshot {
	ct := t.costTracker
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	snap := CostSnapshot{
		ModelCosts:     make(map[string]float64, len(ct.ModelCosts)),
		OperationCosts: make(map[string]float64, len(ct.OperationCosts)),
		TotalCost:      ct.TotalCost,
		TotalTokens:    ct.TotalTokens,
	}
	for k, v := range ct.ModelCosts {
		snap.ModelCosts[k] = v
	}
	for k, v := range ct.OperationCosts {
		snap.OperationCosts[k] = v
	}
	return snap
}
