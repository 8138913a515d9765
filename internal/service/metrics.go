package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quotesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_quotes_created_total",
		Help: "Quotes persisted, by rail",
	}, []string{"rail"})

	transfersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_transfers_created_total",
		Help: "Transfers created, by rail",
	}, []string{"rail"})

	idempotentReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_idempotent_replays_total",
		Help: "Creation requests answered with an existing transfer",
	}, []string{"path"})

	referenceCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remit_reference_collisions_total",
		Help: "Reference code candidates rejected by the unique constraint",
	})

	referenceExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remit_reference_exhausted_total",
		Help: "Creations that ran out of reference code attempts",
	})

	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_transfer_transitions_total",
		Help: "Applied transfer status transitions",
	}, []string{"from", "to"})

	payoutOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_payout_outcomes_total",
		Help: "Payout adapter results, by rail and outcome",
	}, []string{"rail", "outcome"})

	sideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_side_effect_failures_total",
		Help: "Best-effort audit, notification and alert failures",
	}, []string{"kind"})
)
