// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

// Package relcache implements a generic, thread-safe, transaction-aware
// in-memory index cache for records fetched from a relational store. See
// SPEC_FULL.md for the full design.
package relcache

import "github.com/google/uuid"

// KeyedRecord is satisfied by any record with a stable primary UUID.
type KeyedRecord interface {
	PrimaryKey() uuid.UUID
}

// IndexedRecord exposes the secondary-index values a record participates
// in. A nil entry for a given index name means the record is not indexed
// under that name; the set of names returned must be stable across
// versions of the same primary key.
type IndexedRecord interface {
	I64Keys() map[string]*int64
	UUIDKeys() map[string]*uuid.UUID
}

// Record is the capability set IndexCache requires of T.
type Record interface {
	KeyedRecord
	IndexedRecord
}
