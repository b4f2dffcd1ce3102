// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

// Package metrics exposes the handful of Prometheus collectors relcache
// updates as it mutates caches, commits/rolls back overlays, and processes
// notifications. Registration is against the default registry so a host
// binary only needs to serve /metrics; nothing here opens a listener.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PrimarySize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relcache_primary_size",
		Help: "Number of records currently held in an IndexCache's primary map.",
	}, []string{"cache"})

	CommitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relcache_commit_total",
		Help: "Number of TxnOverlay commits that applied successfully.",
	}, []string{"cache"})

	CommitFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relcache_commit_failed_total",
		Help: "Number of TxnOverlay commits that failed and left the base untouched.",
	}, []string{"cache"})

	RollbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relcache_rollback_total",
		Help: "Number of TxnOverlay rollbacks.",
	}, []string{"cache"})

	DecodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relcache_decode_errors_total",
		Help: "Number of notification payloads that failed to decode.",
	})

	HandlerErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relcache_handler_errors_total",
		Help: "Number of ChangeEvents a table handler failed to apply.",
	}, []string{"table"})

	DroppedNotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relcache_dropped_notifications_total",
		Help: "Number of decoded ChangeEvents dropped because no handler was registered for the table.",
	}, []string{"table"})
)

func init() {
	prometheus.MustRegister(
		PrimarySize,
		CommitTotal,
		CommitFailedTotal,
		RollbackTotal,
		DecodeErrorsTotal,
		HandlerErrorsTotal,
		DroppedNotificationsTotal,
	)
}
