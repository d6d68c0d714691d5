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

package vrfcoord

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type coordinatorMetrics struct {
	requests     prometheus.Counter
	fulfillments prometheus.Counter
	failures     *prometheus.CounterVec
	pending      prometheus.Gauge
}

func (c *Coordinator) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	c.metrics = &coordinatorMetrics{
		requests: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_vrf_requests_total",
			Help: "total randomness requests accepted by the local coordinator",
		}),
		fulfillments: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "raffle_vrf_fulfillments_total",
			Help: "total randomness requests fulfilled",
		}),
		failures: promautoFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "raffle_vrf_failures_total",
				Help: "total fulfillment failures by stage",
			},
			[]string{"stage"},
		),
		pending: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "raffle_vrf_pending_requests",
			Help: "randomness requests waiting for fulfillment",
		}),
	}
}
