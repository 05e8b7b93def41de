// Package observer aggregates duration, token usage and cost of the phase
// attempts of a run.
package observer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/adw-orchestrator/internal/domain"
)

// Observer collects phase attempts as they finish
type Observer struct {
	slowThreshold time.Duration

	attempts []domain.PhaseAttempt
	mu       sync.RWMutex
}

// PhaseMetrics holds the totals of one phase
type PhaseMetrics struct {
	Phase        domain.PhaseName
	Attempts     int
	Duration     time.Duration
	TokensInput  int
	TokensOutput int
	CostUSD      float64
}

// Metrics holds aggregated metrics
type Metrics struct {
	Phases            []PhaseMetrics // In the order phases first ran
	TotalAttempts     int
	TotalDuration     time.Duration
	TotalTokensInput  int
	TotalTokensOutput int
	TotalCostUSD      float64
	AvgDuration       time.Duration
}

// New creates an Observer. Attempts running longer than slowThreshold are
// reported by SlowAttempts; zero disables that.
func New(slowThreshold time.Duration) *Observer {
	return &Observer{slowThreshold: slowThreshold}
}

// RecordPhase records a finished attempt
func (o *Observer) RecordPhase(a domain.PhaseAttempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, a)
}

// IsSlow reports whether an attempt took longer than the threshold
func (o *Observer) IsSlow(a domain.PhaseAttempt) bool {
	return o.slowThreshold > 0 && a.Duration > o.slowThreshold
}

// SlowAttempts returns the recorded attempts that exceeded the threshold
func (o *Observer) SlowAttempts() []domain.PhaseAttempt {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var result []domain.PhaseAttempt
	for _, a := range o.attempts {
		if o.IsSlow(a) {
			result = append(result, a)
		}
	}
	return result
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var metrics Metrics
	index := make(map[domain.PhaseName]int)

	for _, a := range o.attempts {
		i, ok := index[a.Phase]
		if !ok {
			i = len(metrics.Phases)
			index[a.Phase] = i
			metrics.Phases = append(metrics.Phases, PhaseMetrics{Phase: a.Phase})
		}
		pm := &metrics.Phases[i]
		pm.Attempts++
		pm.Duration += a.Duration
		pm.TokensInput += a.InputTokens
		pm.TokensOutput += a.OutputTokens
		pm.CostUSD += a.CostUSD

		metrics.TotalAttempts++
		metrics.TotalDuration += a.Duration
		metrics.TotalTokensInput += a.InputTokens
		metrics.TotalTokensOutput += a.OutputTokens
		metrics.TotalCostUSD += a.CostUSD
	}

	if metrics.TotalAttempts > 0 {
		metrics.AvgDuration = metrics.TotalDuration / time.Duration(metrics.TotalAttempts)
	}
	return metrics
}

// Summary renders the metrics on one line, e.g.
// "3 attempts in 2m5s · 12,400 in / 3,100 out tokens · $0.4210"
func (o *Observer) Summary() string {
	m := o.GetMetrics()
	if m.TotalAttempts == 0 {
		return "no phases ran"
	}

	parts := []string{fmt.Sprintf("%d %s in %s", m.TotalAttempts, plural(m.TotalAttempts, "attempt"), m.TotalDuration.Round(time.Second))}
	if m.TotalTokensInput > 0 || m.TotalTokensOutput > 0 {
		parts = append(parts, fmt.Sprintf("%s in / %s out tokens",
			humanize.Comma(int64(m.TotalTokensInput)), humanize.Comma(int64(m.TotalTokensOutput))))
	}
	if m.TotalCostUSD > 0 {
		parts = append(parts, fmt.Sprintf("$%.4f", m.TotalCostUSD))
	}
	return strings.Join(parts, " · ")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
