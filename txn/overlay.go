// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

// Package txn implements the transaction-scoped staging overlay for a
// shared relcache.IndexCache: reads compose staged-over-base, and commit
// merges the staged mutations into the base atomically.
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/couchbase/relcache"
	"github.com/couchbase/relcache/internal/logging"
	"github.com/couchbase/relcache/internal/metrics"
)

// ErrCommitFailed is the sentinel wrapped by OnCommit when applying the
// staged mutations would violate a cache invariant, or the commit's
// context is cancelled before the write section is acquired. The base is
// left untouched in either case and the staged ops remain pending until
// an explicit rollback.
var ErrCommitFailed = errors.New("relcache/txn: commit failed")

// ErrRollbackFailed is reserved for symmetry with TxnHook; the standard
// rollback path (clearing pending) never produces it.
var ErrRollbackFailed = errors.New("relcache/txn: rollback failed")

// opKind distinguishes the two shapes a StagedOp can take. Modeled as a
// tagged union (kind + payload) rather than two parallel maps, per the
// "overlay as tagged variant" design note.
type opKind int

const (
	opUpsert opKind = iota
	opDelete
)

// StagedOp is one pending mutation against a primary key: either Upsert(T)
// or Delete, never both.
type StagedOp[T relcache.Record] struct {
	kind opKind
	item T
}

// Upsert returns the (T, true) pair if this op is an upsert, else the
// zero value and false.
func (op StagedOp[T]) Upsert() (T, bool) {
	return op.item, op.kind == opUpsert
}

// IsDelete reports whether this op stages a delete.
func (op StagedOp[T]) IsDelete() bool {
	return op.kind == opDelete
}

// TxnHook is the capability an external unit-of-work coordinator drives to
// commit or roll back a transaction-scoped resource.
type TxnHook interface {
	OnCommit(ctx context.Context) error
	OnRollback(ctx context.Context) error
}

// TxnOverlay stages add/update/remove mutations against a shared
// relcache.IndexCache, making them visible to reads performed through the
// overlay immediately, without mutating the base, until OnCommit merges
// them in one atomic batch or OnRollback discards them.
type TxnOverlay[T relcache.Record] struct {
	base *relcache.IndexCache[T]

	mu      sync.Mutex
	pending map[uuid.UUID]StagedOp[T]
}

var _ TxnHook = (*TxnOverlay[dummyRecord])(nil)

// New creates a TxnOverlay staging mutations against base. The overlay
// owns no secondary indexes of its own; every index read recomputes from
// base plus pending.
func New[T relcache.Record](base *relcache.IndexCache[T]) *TxnOverlay[T] {
	return &TxnOverlay[T]{
		base:    base,
		pending: make(map[uuid.UUID]StagedOp[T]),
	}
}

// Add stages an upsert of item, overwriting any prior staged op for its
// primary key.
func (o *TxnOverlay[T]) Add(item T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[item.PrimaryKey()] = StagedOp[T]{kind: opUpsert, item: item}
}

// Update is identical to Add: both stage an upsert, per the spec's
// mandated upsert semantics (no distinct strict-update staging).
func (o *TxnOverlay[T]) Update(item T) {
	o.Add(item)
}

// Remove stages a delete of pk, overwriting any prior staged op for pk.
func (o *TxnOverlay[T]) Remove(pk uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[pk] = StagedOp[T]{kind: opDelete}
}

// GetByPrimary resolves pk against pending first, then the base.
func (o *TxnOverlay[T]) GetByPrimary(pk uuid.UUID) (T, bool) {
	o.mu.Lock()
	op, staged := o.pending[pk]
	o.mu.Unlock()

	if staged {
		if item, ok := op.Upsert(); ok {
			return item, true
		}
		var zero T
		return zero, false
	}
	return o.base.GetByPrimary(pk)
}

// ContainsPrimary is ContainsPrimary with the same staged-over-base
// precedence as GetByPrimary.
func (o *TxnOverlay[T]) ContainsPrimary(pk uuid.UUID) bool {
	_, ok := o.GetByPrimary(pk)
	return ok
}

// GetByI64Index computes the effective set of primary keys whose record
// has value v under the i64 index name: start from the base's set, then
// apply every pending op on top (upsert adds-or-removes depending on
// whether the staged item still matches v; delete always removes).
func (o *TxnOverlay[T]) GetByI64Index(name string, v int64) relcache.UUIDSet {
	base := o.base.GetByI64Index(name, v)

	o.mu.Lock()
	defer o.mu.Unlock()
	for pk, op := range o.pending {
		if item, ok := op.Upsert(); ok {
			if matches := i64Matches(item, name, v); matches {
				base[pk] = struct{}{}
			} else {
				delete(base, pk)
			}
			continue
		}
		delete(base, pk)
	}
	return base
}

// GetByUUIDIndex is the UUID-keyed counterpart of GetByI64Index.
func (o *TxnOverlay[T]) GetByUUIDIndex(name string, v uuid.UUID) relcache.UUIDSet {
	base := o.base.GetByUUIDIndex(name, v)

	o.mu.Lock()
	defer o.mu.Unlock()
	for pk, op := range o.pending {
		if item, ok := op.Upsert(); ok {
			if uuidMatches(item, name, v) {
				base[pk] = struct{}{}
			} else {
				delete(base, pk)
			}
			continue
		}
		delete(base, pk)
	}
	return base
}

func i64Matches[T relcache.Record](item T, name string, v int64) bool {
	val, ok := item.I64Keys()[name]
	return ok && val != nil && *val == v
}

func uuidMatches[T relcache.Record](item T, name string, v uuid.UUID) bool {
	val, ok := item.UUIDKeys()[name]
	return ok && val != nil && *val == v
}

// OnCommit acquires the base's writer section and applies every staged op
// in one batch — the "last op per primary key" reduction of everything
// staged since the last commit or rollback — so other readers see either
// the pre-commit base or the fully committed post-commit state, never an
// intermediate one. On success, pending is cleared. On failure (an
// invariant violation, or ctx cancelled before the batch is applied), the
// base is left untouched and pending is left intact for a subsequent
// rollback or retry.
func (o *TxnOverlay[T]) OnCommit(ctx context.Context) error {
	o.mu.Lock()
	ops := make([]relcache.BatchOp[T], 0, len(o.pending))
	for pk, op := range o.pending {
		if item, ok := op.Upsert(); ok {
			ops = append(ops, relcache.BatchOp[T]{Key: pk, Item: item})
		} else {
			ops = append(ops, relcache.BatchOp[T]{Key: pk, Delete: true})
		}
	}
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		logging.Warnf("txn: commit cancelled on %s before applying %d staged ops", o.base.Name(), len(ops))
		metrics.CommitFailedTotal.WithLabelValues(o.base.Name()).Inc()
		return fmt.Errorf("%w: %w", ErrCommitFailed, ctx.Err())
	default:
	}

	if err := o.base.ApplyBatch(ops); err != nil {
		logging.Warnf("txn: commit failed on %s: %v", o.base.Name(), err)
		metrics.CommitFailedTotal.WithLabelValues(o.base.Name()).Inc()
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	o.mu.Lock()
	o.pending = make(map[uuid.UUID]StagedOp[T])
	o.mu.Unlock()

	metrics.CommitTotal.WithLabelValues(o.base.Name()).Inc()
	return nil
}

// OnRollback discards every staged op. Infallible: it never returns
// ErrRollbackFailed. A cancelled ctx still results in pending being
// cleared, since clearing a map cannot itself suspend.
func (o *TxnOverlay[T]) OnRollback(ctx context.Context) error {
	o.mu.Lock()
	o.pending = make(map[uuid.UUID]StagedOp[T])
	o.mu.Unlock()

	metrics.RollbackTotal.WithLabelValues(o.base.Name()).Inc()
	return nil
}

// dummyRecord only exists to let the compiler check TxnOverlay satisfies
// TxnHook without requiring a real record type at package scope.
type dummyRecord struct{}

func (dummyRecord) PrimaryKey() uuid.UUID           { return uuid.UUID{} }
func (dummyRecord) I64Keys() map[string]*int64      { return nil }
func (dummyRecord) UUIDKeys() map[string]*uuid.UUID { return nil }
