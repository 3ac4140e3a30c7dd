package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ledgerWrites          *prometheus.CounterVec
	ledgerRejections      *prometheus.CounterVec
	releaseClamped        prometheus.Counter
	transferCompensations *prometheus.CounterVec
	webhookOutcomes       *prometheus.CounterVec
	rateLimitDecisions    *prometheus.CounterVec
	syncRuns              *prometheus.CounterVec
	syncLogsPruned        prometheus.Counter
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		ledgerWrites: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shelfwise_ledger_writes_total",
			Help: "Ledger entries written, by transaction type.",
		}, []string{"type"}),
		ledgerRejections: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shelfwise_ledger_rejections_total",
			Help: "Ledger writes rejected by a quantity invariant, by transaction type and error code.",
		}, []string{"type", "code"}),
		releaseClamped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shelfwise_release_clamped_total",
			Help: "Releases that asked for more than was reserved and were clamped.",
		}),
		transferCompensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shelfwise_transfer_compensations_total",
			Help: "Transfer legs undone after a later leg failed, by result.",
		}, []string{"result"}),
		webhookOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shelfwise_webhook_outcomes_total",
			Help: "Inbound webhook deliveries by platform and outcome.",
		}, []string{"platform", "outcome"}),
		rateLimitDecisions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shelfwise_rate_limit_decisions_total",
			Help: "Rate limit checks by backend and decision.",
		}, []string{"backend", "decision"}),
		syncRuns: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shelfwise_sync_runs_total",
			Help: "Integration sync runs by sync type and status.",
		}, []string{"sync_type", "status"}),
		syncLogsPruned: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shelfwise_sync_logs_pruned_total",
			Help: "Sync log rows removed by housekeeping.",
		}),
	}
}

func (m *Metrics) LedgerWrite(txType string) {
	if m == nil {
		return
	}
	m.ledgerWrites.WithLabelValues(txType).Inc()
}

func (m *Metrics) LedgerRejected(txType, code string) {
	if m == nil {
		return
	}
	m.ledgerRejections.WithLabelValues(txType, code).Inc()
}

func (m *Metrics) ReleaseClamped() {
	if m == nil {
		return
	}
	m.releaseClamped.Inc()
}

// TransferCompensation records result as one of "compensated", "failed" or "reversed".
func (m *Metrics) TransferCompensation(result string) {
	if m == nil {
		return
	}
	m.transferCompensations.WithLabelValues(result).Inc()
}

func (m *Metrics) WebhookOutcome(platform, outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) RateLimitDecision(backend string, allowed bool) {
	if m == nil {
		return
	}
	decision := "allowed"
	if !allowed {
		decision = "limited"
	}
	m.rateLimitDecisions.WithLabelValues(backend, decision).Inc()
}

func (m *Metrics) SyncRun(syncType, status string) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(syncType, status).Inc()
}

func (m *Metrics) SyncLogsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.syncLogsPruned.Add(float64(n))
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}
