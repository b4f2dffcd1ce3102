// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package relcache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/couchbase/relcache/internal/metrics"
)

// UUIDSet is a set of primary keys, as returned by secondary-index lookups.
type UUIDSet map[uuid.UUID]struct{}

// Contains reports whether pk is a member of the set.
func (s UUIDSet) Contains(pk uuid.UUID) bool {
	_, ok := s[pk]
	return ok
}

// IndexCache is the base, shared cache: a primary UUID->T map plus named
// i64 and UUID secondary indexes, each mapping a value to the set of
// primary keys whose record carries that value. Safe for concurrent use
// by any number of readers and at most one writer, via an internal
// sync.RWMutex, matching the rw-guarded cache pattern used for
// dcp_buckets_seqnos in the teacher's secondary/common package.
type IndexCache[T Record] struct {
	name string

	rw          sync.RWMutex
	primary     map[uuid.UUID]T
	i64Indexes  map[string]map[int64]UUIDSet
	uuidIndexes map[string]map[uuid.UUID]UUIDSet
}

// Option configures an IndexCache at construction time.
type Option func(*cacheOptions)

type cacheOptions struct {
	name string
}

// WithName sets the label used for this cache's metrics and log lines.
// Defaults to "default" when omitted.
func WithName(name string) Option {
	return func(o *cacheOptions) { o.name = name }
}

// New builds an IndexCache by inserting every item in items. It fails
// with a *DuplicatePrimaryError if two items share a primary key. The
// cache's declared secondary index names are whatever the union of
// inserted records happen to produce; nothing needs to be declared
// up front.
func New[T Record](items []T, opts ...Option) (*IndexCache[T], error) {
	o := cacheOptions{name: "default"}
	for _, opt := range opts {
		opt(&o)
	}

	c := &IndexCache[T]{
		name:        o.name,
		primary:     make(map[uuid.UUID]T, len(items)),
		i64Indexes:  make(map[string]map[int64]UUIDSet),
		uuidIndexes: make(map[string]map[uuid.UUID]UUIDSet),
	}

	for _, item := range items {
		pk := item.PrimaryKey()
		if _, exists := c.primary[pk]; exists {
			return nil, newDuplicatePrimaryError(pk)
		}
		c.insertLocked(item)
	}

	metrics.PrimarySize.WithLabelValues(c.name).Set(float64(len(c.primary)))
	return c, nil
}

// insertLocked adds item to the primary map and every secondary index it
// declares a non-nil value for. Caller must hold c.rw for writing.
func (c *IndexCache[T]) insertLocked(item T) {
	pk := item.PrimaryKey()
	c.primary[pk] = item

	for name, v := range item.I64Keys() {
		if v == nil {
			continue
		}
		c.addI64Locked(name, *v, pk)
	}
	for name, v := range item.UUIDKeys() {
		if v == nil {
			continue
		}
		c.addUUIDLocked(name, *v, pk)
	}
}

func (c *IndexCache[T]) addI64Locked(name string, v int64, pk uuid.UUID) {
	leaf, ok := c.i64Indexes[name]
	if !ok {
		leaf = make(map[int64]UUIDSet)
		c.i64Indexes[name] = leaf
	}
	set, ok := leaf[v]
	if !ok {
		set = make(UUIDSet)
		leaf[v] = set
	}
	set[pk] = struct{}{}
}

func (c *IndexCache[T]) addUUIDLocked(name string, v uuid.UUID, pk uuid.UUID) {
	leaf, ok := c.uuidIndexes[name]
	if !ok {
		leaf = make(map[uuid.UUID]UUIDSet)
		c.uuidIndexes[name] = leaf
	}
	set, ok := leaf[v]
	if !ok {
		set = make(UUIDSet)
		leaf[v] = set
	}
	set[pk] = struct{}{}
}

func (c *IndexCache[T]) removeI64Locked(name string, v int64, pk uuid.UUID) {
	leaf, ok := c.i64Indexes[name]
	if !ok {
		return
	}
	set, ok := leaf[v]
	if !ok {
		return
	}
	delete(set, pk)
	if len(set) == 0 {
		delete(leaf, v)
	}
}

func (c *IndexCache[T]) removeUUIDLocked(name string, v uuid.UUID, pk uuid.UUID) {
	leaf, ok := c.uuidIndexes[name]
	if !ok {
		return
	}
	set, ok := leaf[v]
	if !ok {
		return
	}
	delete(set, pk)
	if len(set) == 0 {
		delete(leaf, v)
	}
}

// removeFromIndexesLocked removes pk from every secondary index entry
// that old declares a non-nil value for.
func (c *IndexCache[T]) removeFromIndexesLocked(old T, pk uuid.UUID) {
	for name, v := range old.I64Keys() {
		if v == nil {
			continue
		}
		c.removeI64Locked(name, *v, pk)
	}
	for name, v := range old.UUIDKeys() {
		if v == nil {
			continue
		}
		c.removeUUIDLocked(name, *v, pk)
	}
}

// Add inserts item under item.PrimaryKey(). If the key already exists
// this is equivalent to Update (upsert): never an error.
func (c *IndexCache[T]) Add(item T) {
	c.rw.Lock()
	defer c.rw.Unlock()

	pk := item.PrimaryKey()
	if old, exists := c.primary[pk]; exists {
		c.removeFromIndexesLocked(old, pk)
	}
	c.insertLocked(item)
	metrics.PrimarySize.WithLabelValues(c.name).Set(float64(len(c.primary)))
}

// Update replaces the record stored under item.PrimaryKey(), shifting any
// secondary index entries whose value changed. If the key is absent this
// is equivalent to Add (upsert): never an error, per the spec's mandated
// upsert semantics.
func (c *IndexCache[T]) Update(item T) {
	c.Add(item)
}

// Remove deletes the record at pk and every secondary index entry it
// participated in. Reports whether a record was actually removed; a
// remove of an absent key is a no-op.
func (c *IndexCache[T]) Remove(pk uuid.UUID) bool {
	c.rw.Lock()
	defer c.rw.Unlock()

	old, exists := c.primary[pk]
	if !exists {
		return false
	}
	c.removeFromIndexesLocked(old, pk)
	delete(c.primary, pk)
	metrics.PrimarySize.WithLabelValues(c.name).Set(float64(len(c.primary)))
	return true
}

// GetByPrimary returns the record at pk, if any.
func (c *IndexCache[T]) GetByPrimary(pk uuid.UUID) (T, bool) {
	c.rw.RLock()
	defer c.rw.RUnlock()
	v, ok := c.primary[pk]
	return v, ok
}

// ContainsPrimary reports whether pk is present.
func (c *IndexCache[T]) ContainsPrimary(pk uuid.UUID) bool {
	c.rw.RLock()
	defer c.rw.RUnlock()
	_, ok := c.primary[pk]
	return ok
}

// GetByI64Index returns a snapshot of the primary keys whose record has
// value v under the i64 index name. An unknown name or value yields an
// empty, non-nil set. The returned set is a copy: it is safe to retain
// and does not alias cache-internal state.
func (c *IndexCache[T]) GetByI64Index(name string, v int64) UUIDSet {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return cloneSet(c.i64Indexes[name][v])
}

// GetByUUIDIndex is the UUID-keyed counterpart of GetByI64Index.
func (c *IndexCache[T]) GetByUUIDIndex(name string, v uuid.UUID) UUIDSet {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return cloneSet(c.uuidIndexes[name][v])
}

func cloneSet(src UUIDSet) UUIDSet {
	dst := make(UUIDSet, len(src))
	for k := range src {
		dst[k] = struct{}{}
	}
	return dst
}

// Len returns the number of records in the primary map.
func (c *IndexCache[T]) Len() int {
	c.rw.RLock()
	defer c.rw.RUnlock()
	return len(c.primary)
}

// IsEmpty reports whether the cache holds no records.
func (c *IndexCache[T]) IsEmpty() bool {
	return c.Len() == 0
}

// BatchOp is one staged mutation as handed to ApplyBatch by a TxnOverlay
// commit: either an upsert of Item or a delete of Key.
type BatchOp[T Record] struct {
	Key    uuid.UUID
	Delete bool
	Item   T // meaningful only when Delete is false
}

// ErrIndexNamesChanged is wrapped into the error ApplyBatch returns when a
// staged upsert's declared index names differ from the stored version's —
// unspecified behavior upstream (design note 9.a), treated here as an
// invariant violation that fails the whole commit.
var ErrIndexNamesChanged = errors.New("relcache: upsert changes declared index names for existing primary key")

// ApplyBatch applies every op to the cache under a single writer section,
// so the whole batch becomes visible to readers as one transition: no
// reader observes a partially applied batch. If any staged upsert would
// change the set of index names declared for an already-stored primary
// key, no op in the batch is applied and an error wrapping
// ErrIndexNamesChanged is returned; the base is left exactly as it was.
func (c *IndexCache[T]) ApplyBatch(ops []BatchOp[T]) error {
	c.rw.Lock()
	defer c.rw.Unlock()

	for _, op := range ops {
		if op.Delete {
			continue
		}
		old, exists := c.primary[op.Key]
		if !exists {
			continue
		}
		if !sameDeclaredNames(old, op.Item) {
			return fmt.Errorf("%w: key=%s", ErrIndexNamesChanged, op.Key)
		}
	}

	for _, op := range ops {
		if op.Delete {
			if old, exists := c.primary[op.Key]; exists {
				c.removeFromIndexesLocked(old, op.Key)
				delete(c.primary, op.Key)
			}
			continue
		}
		if old, exists := c.primary[op.Key]; exists {
			c.removeFromIndexesLocked(old, op.Key)
		}
		c.insertLocked(op.Item)
	}

	metrics.PrimarySize.WithLabelValues(c.name).Set(float64(len(c.primary)))
	return nil
}

func sameDeclaredNames[T Record](a, b T) bool {
	return sameKeySet(namesOfI64(a), namesOfI64(b)) && sameKeySet(namesOfUUID(a), namesOfUUID(b))
}

func namesOfI64[T Record](r T) map[string]struct{} {
	keys := r.I64Keys()
	names := make(map[string]struct{}, len(keys))
	for name := range keys {
		names[name] = struct{}{}
	}
	return names
}

func namesOfUUID[T Record](r T) map[string]struct{} {
	keys := r.UUIDKeys()
	names := make(map[string]struct{}, len(keys))
	for name := range keys {
		names[name] = struct{}{}
	}
	return names
}

func sameKeySet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

// Name returns the label this cache was constructed with.
func (c *IndexCache[T]) Name() string {
	return c.name
}
