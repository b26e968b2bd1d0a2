// Copyright 2026 The OpenTrusty Authors
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

package rls

import "github.com/prometheus/client_golang/prometheus"

// StatsCollector exports a coordinator's Stats in the Prometheus format.
type StatsCollector struct {
	coord *Coordinator

	opened       *prometheus.Desc
	committed    *prometheus.Desc
	rolledBack   *prometheus.Desc
	released     *prometheus.Desc
	bindFailures *prometheus.Desc
	absorbed     *prometheus.Desc
	active       *prometheus.Desc
}

// NewStatsCollector returns a collector reading c's counters on each scrape.
func NewStatsCollector(c *Coordinator) *StatsCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("pulse", "rls", name), help, nil, nil)
	}
	return &StatsCollector{
		coord:        c,
		opened:       desc("scopes_opened_total", "Identity-bound request scopes opened."),
		committed:    desc("scopes_committed_total", "Request scopes committed."),
		rolledBack:   desc("scopes_rolled_back_total", "Request scopes rolled back."),
		released:     desc("scopes_released_total", "Request scope connections returned to the pool."),
		bindFailures: desc("bind_failures_total", "Transactions abandoned because the identity could not be bound."),
		absorbed:     desc("finalize_races_total", "Finalize calls absorbed because the scope was already released."),
		active:       desc("scopes_active", "Request scopes currently holding a connection."),
	}
}

func (s *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{s.opened, s.committed, s.rolledBack, s.released, s.bindFailures, s.absorbed, s.active} {
		ch <- d
	}
}

func (s *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	st := s.coord.Stats()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(s.opened, st.Opened)
	counter(s.committed, st.Committed)
	counter(s.rolledBack, st.RolledBack)
	counter(s.released, st.Released)
	counter(s.bindFailures, st.BindFailures)
	counter(s.absorbed, st.AbsorbedFinalizes)
	ch <- prometheus.MustNewConstMetric(s.active, prometheus.GaugeValue, float64(st.Active))
}
