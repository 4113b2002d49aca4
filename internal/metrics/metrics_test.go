package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/raffle-ledger/internal/model"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.EventAppended(&model.LedgerEvent{Kind: model.EventPurchase, Quantity: 10})
	r.EventAppended(&model.LedgerEvent{Kind: model.EventPurchase, Quantity: 5})
	r.EventAppended(&model.LedgerEvent{Kind: model.EventSpend, Quantity: 30})
	r.EntryAttempt(OutcomeCommitted)
	r.EntryAttempt(OutcomeRejected)
	r.EntryAttempt(OutcomeRejected)
	r.BalanceMismatch()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.events.WithLabelValues("purchase")))
	assert.Equal(t, 15.0, testutil.ToFloat64(r.tickets.WithLabelValues("purchase")))
	assert.Equal(t, 30.0, testutil.ToFloat64(r.tickets.WithLabelValues("spend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.entries.WithLabelValues(OutcomeCommitted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.entries.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.mismatches))
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder

	assert.NotPanics(t, func() {
		r.EventAppended(&model.LedgerEvent{Kind: model.EventSpend, Quantity: 1})
		r.EntryAttempt(OutcomeFailed)
		r.BalanceMismatch()
	})
}
