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

	"github.com/google/uuid"
)

// ErrDuplicatePrimary is the sentinel wrapped by New when a snapshot
// contains two records sharing a primary key.
var ErrDuplicatePrimary = errors.New("relcache: duplicate primary key")

// DuplicatePrimaryError reports the offending key and wraps ErrDuplicatePrimary.
type DuplicatePrimaryError struct {
	Key uuid.UUID
}

func (e *DuplicatePrimaryError) Error() string {
	return fmt.Sprintf("relcache: duplicate primary key %s", e.Key)
}

func (e *DuplicatePrimaryError) Unwrap() error {
	return ErrDuplicatePrimary
}

func newDuplicatePrimaryError(key uuid.UUID) error {
	return &DuplicatePrimaryError{Key: key}
}
