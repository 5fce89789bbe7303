// Copyright 2026 The Warden Authors
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

package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_decisions_total",
			Help: "Total number of policy decisions by category, action and reason.",
		},
		[]string{"category", "action", "reason"},
	)

	evalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "warden_eval_duration_seconds",
			Help: "Policy evaluation duration in seconds.",
			Buckets: []float64{
				0.000001, 0.000005, 0.00001, 0.00005,
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1,
			},
		},
	)

	learnedRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_learned_rules",
			Help: "Rules learned from review approvals, pending persistence.",
		},
	)

	metricsRegistry = prometheus.NewRegistry()
)

func init() {
	metricsRegistry.MustRegister(
		decisionsTotal,
		evalDuration,
		learnedRules,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

func recordDecision(v Verdict, duration time.Duration) {
	action := "deny"
	if v.Allowed {
		action = "allow"
	}
	decisionsTotal.With(prometheus.Labels{
		"category": string(v.Op.Category),
		"action":   action,
		"reason":   v.Reason.String(),
	}).Inc()
	evalDuration.Observe(duration.Seconds())
}

// SetLearnedRules sets the pending learned rule gauge.
func SetLearnedRules(n int) {
	learnedRules.Set(float64(n))
}

// MetricsHandler returns an HTTP handler for the /metrics endpoint.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})
}
