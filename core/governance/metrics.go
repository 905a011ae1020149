// Copyright (C) 2023 Gobalsky Labs Limited
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
package governance

import (
	"time"

	"code.icreplica.io/replica/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

const errUpgradeFailed = "governance_upgrade_failed"

type engineMetrics struct {
	proposals      *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	neurons        prometheus.Gauge
	rewards        prometheus.Counter
	purged         prometheus.Counter
	upgradeFailure prometheus.Counter
	commands       *prometheus.SummaryVec
	periodicTasks  prometheus.Summary
}

var durationObjectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

func newEngineMetrics(reg *metrics.Registry) (*engineMetrics, error) {
	var (
		m   engineMetrics
		err error
	)

	h, err := reg.AddInstrument(metrics.Counter, "governance_proposals_submitted",
		metrics.Vectors("action"),
		metrics.Help("Proposals submitted by action"))
	if err != nil {
		return nil, err
	}
	if m.proposals, err = h.CounterVec(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Counter, "governance_proposals_decided",
		metrics.Vectors("status"),
		metrics.Help("Proposals decided by outcome"))
	if err != nil {
		return nil, err
	}
	if m.decisions, err = h.CounterVec(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Gauge, "governance_neurons",
		metrics.Help("Number of neurons"))
	if err != nil {
		return nil, err
	}
	if m.neurons, err = h.Gauge(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Counter, "governance_rewards_distributed_e8s",
		metrics.Help("Maturity distributed as voting rewards"))
	if err != nil {
		return nil, err
	}
	if m.rewards, err = h.Counter(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Counter, "governance_proposals_purged",
		metrics.Help("Proposals removed by garbage collection"))
	if err != nil {
		return nil, err
	}
	if m.purged, err = h.Counter(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Summary, "governance_manage_neuron_duration_seconds",
		metrics.Vectors("command"),
		metrics.Objectives(durationObjectives),
		metrics.MaxAge(10*time.Minute),
		metrics.Help("Time taken by neuron commands, ledger calls included"))
	if err != nil {
		return nil, err
	}
	if m.commands, err = h.SummaryVec(); err != nil {
		return nil, err
	}

	h, err = reg.AddInstrument(metrics.Summary, "governance_periodic_tasks_duration_seconds",
		metrics.Objectives(durationObjectives),
		metrics.MaxAge(10*time.Minute),
		metrics.Help("Time taken by one run of the periodic tasks"))
	if err != nil {
		return nil, err
	}
	if m.periodicTasks, err = h.Summary(); err != nil {
		return nil, err
	}

	if m.upgradeFailure, err = reg.ErrorCounter(errUpgradeFailed); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *engineMetrics) observeCommand(command string, start time.Time) {
	m.commands.WithLabelValues(command).Observe(time.Since(start).Seconds())
}
