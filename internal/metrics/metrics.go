// Package metrics содержит Prometheus-метрики журнала билетов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mmeshcher/raffle-ledger/internal/model"
)

// Исходы попытки участия в розыгрыше.
const (
	OutcomeCommitted = "committed"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Recorder собирает метрики операций с балансом. Нулевой указатель допустим и ничего не пишет.
type Recorder struct {
	events     *prometheus.CounterVec
	tickets    *prometheus.CounterVec
	entries    *prometheus.CounterVec
	mismatches prometheus.Counter
}

// NewRecorder регистрирует метрики в reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)

	return &Recorder{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "ledger_events_total",
			Help:      "Committed ledger events by kind.",
		}, []string{"kind"}),
		tickets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "ledger_tickets_total",
			Help:      "Tickets moved by committed ledger events, by kind.",
		}, []string{"kind"}),
		entries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "entry_attempts_total",
			Help:      "Raffle entry attempts by outcome.",
		}, []string{"outcome"}),
		mismatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle",
			Name:      "balance_mismatches_total",
			Help:      "Cached balances repaired from the ledger.",
		}),
	}
}

// EventAppended учитывает зафиксированное событие журнала.
func (r *Recorder) EventAppended(ev *model.LedgerEvent) {
	if r == nil || ev == nil {
		return
	}
	r.events.WithLabelValues(string(ev.Kind)).Inc()
	r.tickets.WithLabelValues(string(ev.Kind)).Add(float64(ev.Quantity))
}

// EntryAttempt учитывает попытку участия с указанным исходом.
func (r *Recorder) EntryAttempt(outcome string) {
	if r == nil {
		return
	}
	r.entries.WithLabelValues(outcome).Inc()
}

// BalanceMismatch учитывает восстановленный из журнала баланс.
func (r *Recorder) BalanceMismatch() {
	if r == nil {
		return
	}
	r.mismatches.Inc()
}
