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

package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (d *Database) registerMetrics(reg prometheus.Registerer) {
	promautoFactory := promauto.With(reg)
	promautoFactory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "raffle_database_blob_lsm_bytes",
			Help: "size of the blob store LSM tree in bytes",
		},
		func() float64 {
			lsm, _ := d.blob.Size()
			return float64(lsm)
		},
	)
	promautoFactory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "raffle_database_blob_vlog_bytes",
			Help: "size of the blob store value log in bytes",
		},
		func() float64 {
			_, vlog := d.blob.Size()
			return float64(vlog)
		},
	)
	promautoFactory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "raffle_database_metadata_open_connections",
			Help: "open connections to the metadata database",
		},
		func() float64 {
			sqlDb, err := d.metadata.DB()
			if err != nil {
				return 0
			}
			return float64(sqlDb.Stats().OpenConnections)
		},
	)
}
