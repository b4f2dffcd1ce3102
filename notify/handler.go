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
	"errors"

	"github.com/couchbase/relcache"
	"github.com/couchbase/relcache/internal/logging"
	"github.com/couchbase/relcache/internal/metrics"
)

// ErrHandler is the sentinel logged when an IndexCacheHandler fails to
// deserialize a ChangeEvent's row data, or sees an action it does not
// recognize. Never returned to a caller — logged and dropped, per the
// spec's local-recovery policy for the notification path.
var ErrHandler = errors.New("relcache/notify: handler error")

// Decoder turns a ChangeEvent's raw row payload into T. Injected rather
// than fixed, so one IndexCacheHandler works for any record type without
// the notify package needing to know how T is serialized.
type Decoder[T relcache.Record] func(data []byte) (T, error)

// IndexCacheHandler binds a table name and a shared IndexCache, applying
// Insert/Update/Delete ChangeEvents to it. Handlers are idempotent under
// redelivery: Add is an upsert and Remove is a no-op on an absent key, so
// applying the same event twice leaves the cache unchanged the second
// time.
type IndexCacheHandler[T relcache.Record] struct {
	table  string
	cache  *relcache.IndexCache[T]
	decode Decoder[T]
}

// NewIndexCacheHandler binds table to cache, using decode to turn
// insert/update row payloads into T.
func NewIndexCacheHandler[T relcache.Record](table string, cache *relcache.IndexCache[T], decode Decoder[T]) *IndexCacheHandler[T] {
	return &IndexCacheHandler[T]{table: table, cache: cache, decode: decode}
}

// TableName implements Handler.
func (h *IndexCacheHandler[T]) TableName() string {
	return h.table
}

// Handle implements Handler: Insert/Update deserialize event.Data and
// upsert into the cache; Delete removes event.ID. A deserialization
// failure is logged and the event is dropped without touching the cache.
func (h *IndexCacheHandler[T]) Handle(event ChangeEvent) {
	switch event.Action {
	case ActionInsert, ActionUpdate:
		item, err := h.decode(event.Data)
		if err != nil {
			logging.Errorf("notify: handler for table %q failed to decode row %s: %v: %v", h.table, event.ID, ErrHandler, err)
			metrics.HandlerErrorsTotal.WithLabelValues(h.table).Inc()
			return
		}
		h.cache.Add(item)
	case ActionDelete:
		h.cache.Remove(event.ID)
	default:
		logging.Errorf("notify: handler for table %q: %v (action %q)", h.table, ErrHandler, event.Action)
		metrics.HandlerErrorsTotal.WithLabelValues(h.table).Inc()
	}
}
