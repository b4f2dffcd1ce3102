// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package notify

import (
	"sync"

	"github.com/couchbase/relcache/internal/logging"
	"github.com/couchbase/relcache/internal/metrics"
)

const defaultChannel = "cache_invalidation"

// Handler is the table-scoped capability a NotificationListener dispatches
// decoded ChangeEvents to. T is erased behind this interface so one
// listener's registry can hold handlers for arbitrarily different record
// types.
type Handler interface {
	TableName() string
	Handle(event ChangeEvent)
}

// NotificationListener decodes incoming pub/sub payloads and routes them
// to the handler registered for the event's table. Registration is
// synchronized with an RWMutex, so Process may be called concurrently
// from any number of producer goroutines once registration has settled —
// mirroring the lock-protected singleton registries in the teacher's
// secondary/common package (services_notifier.go, cluster_info.go).
type NotificationListener struct {
	mu       sync.RWMutex
	channel  string
	handlers map[string]Handler
}

// NewListener creates a listener with no registered handlers, bound to
// the default channel name "cache_invalidation".
func NewListener() *NotificationListener {
	return &NotificationListener{
		channel:  defaultChannel,
		handlers: make(map[string]Handler),
	}
}

// WithChannel sets the channel name this listener is documented to
// consume from. It is informational only — Process does not itself
// subscribe to anything; the caller's transport decides what channel to
// read and hands payloads to Process.
func (l *NotificationListener) WithChannel(name string) *NotificationListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channel = name
	return l
}

// Channel returns the configured channel name.
func (l *NotificationListener) Channel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.channel
}

// RegisterHandler binds h at h.TableName(), replacing any previously
// registered handler for that table.
func (l *NotificationListener) RegisterHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[h.TableName()] = h
}

// Process decodes payload and dispatches it to the handler registered for
// the decoded event's table. Decode failures and unregistered tables are
// logged and counted, never raised to the caller — Process never returns
// an error, matching the spec's propagation policy that all
// notification-path errors are recovered locally.
func (l *NotificationListener) Process(payload []byte) {
	event, err := Decode(payload)
	if err != nil {
		logging.Warnf("notify: dropping malformed payload: %v", err)
		metrics.DecodeErrorsTotal.Inc()
		return
	}

	l.mu.RLock()
	h, ok := l.handlers[event.Table]
	l.mu.RUnlock()

	if !ok {
		logging.Warnf("notify: no handler registered for table %q, dropping %s event for %s", event.Table, event.Action, event.ID)
		metrics.DroppedNotificationsTotal.WithLabelValues(event.Table).Inc()
		return
	}

	h.Handle(event)
}
