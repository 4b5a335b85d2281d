// Copyright 2025 AUTHORS
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

// Package metrics is an optional Prometheus recorder for a run: hosts
// dispatched, hosts failed, and a dispatch duration histogram. Recording
// never affects dispatch outcomes, the same side-effect-only contract
// pkg/progress's sinks carry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns the counters and histogram for one process. Registering
// it twice against the same registry panics, matching
// client_golang's own MustRegister behavior, so callers should build one
// Recorder per process and share it.
type Recorder struct {
	hostsTotal      prometheus.Counter
	hostsFailed     prometheus.Counter
	dispatchSeconds prometheus.Histogram
}

// NewRecorder creates and registers a Recorder against reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		hostsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetgate_hosts_total",
			Help: "Total number of hosts dispatched to across all runs.",
		}),
		hostsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleetgate_hosts_failed_total",
			Help: "Total number of hosts whose dispatch ended in failure.",
		}),
		dispatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleetgate_dispatch_duration_seconds",
			Help:    "Wall-clock duration of one Dispatcher.Run call.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(r.hostsTotal, r.hostsFailed, r.dispatchSeconds)
	return r
}

// RecordRun updates the counters and histogram for one completed
// Dispatcher.Run: total and failed host counts, plus the call's
// duration.
func (r *Recorder) RecordRun(total, failed int, d time.Duration) {
	if r == nil {
		return
	}
	r.hostsTotal.Add(float64(total))
	r.hostsFailed.Add(float64(failed))
	r.dispatchSeconds.Observe(d.Seconds())
}
