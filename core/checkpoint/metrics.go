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

package checkpoint

import (
	"time"

	"code.icreplica.io/replica/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	stepSerializeToTip  = "serialize_to_tip"
	stepDefragTip       = "defrag_tip"
	stepFilterCanister  = "filter_canisters"
	stepTipToCheckpoint = "tip_to_checkpoint"
	stepLoad            = "load"
)

type engineMetrics struct {
	steps       *prometheus.HistogramVec
	defragBytes prometheus.Counter
}

func newEngineMetrics(reg *metrics.Registry) (*engineMetrics, error) {
	h, err := reg.AddInstrument(
		metrics.Histogram,
		"checkpoint_steps_duration_seconds",
		metrics.Vectors("step"),
		metrics.Buckets(metrics.DecimalBuckets(-3, 2)),
		metrics.Help("Time taken by each step of making a checkpoint"),
	)
	if err != nil {
		return nil, err
	}
	steps, err := h.HistogramVec()
	if err != nil {
		return nil, err
	}
	c, err := reg.AddInstrument(
		metrics.Counter,
		"checkpoint_defrag_bytes_total",
		metrics.Help("Bytes rewritten by tip defragmentation"),
	)
	if err != nil {
		return nil, err
	}
	defragBytes, err := c.Counter()
	if err != nil {
		return nil, err
	}
	return &engineMetrics{steps: steps, defragBytes: defragBytes}, nil
}

func (m *engineMetrics) observe(step string, since time.Time) {
	m.steps.WithLabelValues(step).Observe(time.Since(since).Seconds())
}
