// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package round

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type machineMetrics struct {
	roundNumber       prometheus.Gauge
	participants      prometheus.Gauge
	poolBalance       prometheus.Gauge
	finalizing        prometheus.Gauge
	entries           prometheus.Counter
	rejectedEntries   *prometheus.CounterVec
	requests          prometheus.Counter
	winners           prometheus.Counter
	payoutFailures    prometheus.Counter
	requestsCancelled prometheus.Counter
}

func (m *Machine) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.metrics = &machineMetrics{
		roundNumber: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "raffle_round_number",
			Help: "current round number",
		}),
		participants: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "raffle_round_participants",
			Help: "number of entries in the current round",
		}),
		poolBalance: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "raffle_round_pool_balance",
			Help: "pooled balance of the current round in base units",
		}),
		finalizing: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "raffle_round_finalizing",
			Help: "1 while the round is waiting for randomness or payout",
		}),
		entries: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_round_entries_total",
			Help: "total accepted entries",
		}),
		rejectedEntries: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_round_entries_rejected_total",
				Help: "total rejected entries by reason",
			},
			[]string{"reason"},
		),
		requests: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_round_randomness_requests_total",
			Help: "total randomness requests issued",
		}),
		winners: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_round_winners_total",
			Help: "total completed payouts",
		}),
		payoutFailures: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_round_payout_failures_total",
			Help: "total failed payout attempts",
		}),
		requestsCancelled: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_round_requests_cancelled_total",
			Help: "total stalled randomness requests cancelled",
		}),
	}
}

// updateGauges must be called with the machine lock held
func (m *Machine) updateGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.roundNumber.Set(float64(m.round.Number))
	m.metrics.participants.Set(float64(m.entries.Len()))
	m.metrics.poolBalance.Set(float64(m.entries.Balance()))
	if m.round.State == StateFinalizing {
		m.metrics.finalizing.Set(1)
	} else {
		m.metrics.finalizing.Set(0)
	}
}
