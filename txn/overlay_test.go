// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package txn

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchbase/relcache"
)

type testRow struct {
	ID       uuid.UUID
	Iso2Hash *int64
}

func (r testRow) PrimaryKey() uuid.UUID { return r.ID }

func (r testRow) I64Keys() map[string]*int64 {
	return map[string]*int64{"iso2_hash": r.Iso2Hash}
}

func (r testRow) UUIDKeys() map[string]*uuid.UUID { return nil }

func i64p(v int64) *int64 { return &v }

var u1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
var u2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")

func newBase(t *testing.T, rows ...testRow) *relcache.IndexCache[testRow] {
	t.Helper()
	c, err := relcache.New(rows, relcache.WithName(t.Name()))
	require.NoError(t, err)
	return c
}

func TestOverlayIsolationAndCommit(t *testing.T) {
	base := newBase(t, testRow{ID: u1, Iso2Hash: i64p(1)})
	overlay := New(base)

	overlay.Remove(u1)
	overlay.Add(testRow{ID: u2, Iso2Hash: i64p(2)})

	assert.False(t, overlay.ContainsPrimary(u1))
	assert.True(t, overlay.ContainsPrimary(u2))

	// base reads unchanged before commit (P5)
	assert.True(t, base.ContainsPrimary(u1))
	assert.False(t, base.ContainsPrimary(u2))

	require.NoError(t, overlay.OnCommit(context.Background()))

	assert.False(t, base.ContainsPrimary(u1))
	assert.True(t, base.ContainsPrimary(u2))
	assert.False(t, overlay.ContainsPrimary(u1)) // pending cleared
	assert.True(t, overlay.ContainsPrimary(u2))   // now delegates to base
}

func TestOverlayRollback(t *testing.T) {
	base := newBase(t, testRow{ID: u1, Iso2Hash: i64p(1)})
	overlay := New(base)

	overlay.Remove(u1)
	overlay.Add(testRow{ID: u2, Iso2Hash: i64p(2)})

	require.NoError(t, overlay.OnRollback(context.Background()))

	assert.True(t, base.ContainsPrimary(u1))
	assert.False(t, base.ContainsPrimary(u2))
	// overlay now reads straight through to base again
	assert.True(t, overlay.ContainsPrimary(u1))
	assert.False(t, overlay.ContainsPrimary(u2))
}

func TestOverlayLastOpPerKeyWins(t *testing.T) {
	base := newBase(t)
	overlay := New(base)

	overlay.Add(testRow{ID: u1, Iso2Hash: i64p(1)})
	overlay.Remove(u1)
	overlay.Add(testRow{ID: u1, Iso2Hash: i64p(2)})

	require.NoError(t, overlay.OnCommit(context.Background()))

	got, ok := base.GetByPrimary(u1)
	require.True(t, ok)
	require.NotNil(t, got.Iso2Hash)
	assert.Equal(t, int64(2), *got.Iso2Hash)
}

func TestOverlayIndexReadThrough(t *testing.T) {
	base := newBase(t, testRow{ID: u1, Iso2Hash: i64p(1)}, testRow{ID: u2, Iso2Hash: i64p(1)})
	overlay := New(base)

	overlay.Remove(u1)
	overlay.Add(testRow{ID: uuid.New(), Iso2Hash: i64p(1)})

	set := overlay.GetByI64Index("iso2_hash", 1)
	assert.False(t, set.Contains(u1))
	assert.True(t, set.Contains(u2))
	assert.Len(t, set, 2)
}

// variableRow can vary its declared index names, so a commit can be made
// to violate the "stable declared names" invariant and exercise the
// commit-fails-leaves-base-untouched path (design note 9.a).
type variableRow struct {
	ID   uuid.UUID
	Wide bool
}

func (r variableRow) PrimaryKey() uuid.UUID { return r.ID }

func (r variableRow) I64Keys() map[string]*int64 {
	v := int64(1)
	if r.Wide {
		return map[string]*int64{"a": &v, "b": &v}
	}
	return map[string]*int64{"a": &v}
}

func (r variableRow) UUIDKeys() map[string]*uuid.UUID { return nil }

func TestCommitAtomicOnIndexNameViolation(t *testing.T) {
	base, err := relcache.New([]variableRow{{ID: u1, Wide: false}}, relcache.WithName(t.Name()))
	require.NoError(t, err)
	overlay := New(base)

	// One ordinary upsert, plus one that would change u1's declared index
	// names: the whole batch must be rejected, including the otherwise
	// valid insert of u2.
	overlay.Add(variableRow{ID: u2, Wide: false})
	overlay.Add(variableRow{ID: u1, Wide: true})

	err = overlay.OnCommit(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, relcache.ErrIndexNamesChanged)

	assert.False(t, base.ContainsPrimary(u2))
	got, ok := base.GetByPrimary(u1)
	require.True(t, ok)
	assert.False(t, got.Wide)

	// staged ops remain pending for a retry or explicit rollback
	assert.True(t, overlay.ContainsPrimary(u2))
}

func TestCommitCancelledContextFailsAndLeavesBaseUntouched(t *testing.T) {
	base := newBase(t, testRow{ID: u1, Iso2Hash: i64p(1)})
	overlay := New(base)
	overlay.Add(testRow{ID: u2, Iso2Hash: i64p(2)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := overlay.OnCommit(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommitFailed)

	assert.False(t, base.ContainsPrimary(u2))
	// staged ops survive for a later retry or explicit rollback
	assert.True(t, overlay.ContainsPrimary(u2))
}

func TestRollbackNeverFails(t *testing.T) {
	base := newBase(t)
	overlay := New(base)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, overlay.OnRollback(ctx))
}
