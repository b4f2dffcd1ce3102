// Copyright (c) 2014 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

// Package notify decodes upstream row-change notifications and dispatches
// them to per-table handlers. It never deserializes a notification's row
// payload into an application type itself — that capability is injected
// into whichever Handler is registered for the table, so one listener
// serves heterogeneous tables with heterogeneous record types.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ActionKind is the row-change action carried by a notification.
type ActionKind string

const (
	ActionInsert ActionKind = "insert"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

// ErrDecode is the sentinel wrapped by Decode on any malformed or
// unrecognized payload. Decode errors are always handled locally by
// NotificationListener (logged, counted, dropped) and never surfaced to
// the caller of Process.
var ErrDecode = errors.New("relcache/notify: decode error")

// ChangeEvent is a decoded upstream notification: a table name, an
// action, the affected row's primary key, and — for insert/update — the
// row serialized as JSON, left raw for the bound handler to interpret.
type ChangeEvent struct {
	Table  string
	Action ActionKind
	ID     uuid.UUID
	Data   json.RawMessage
}

// wireEvent mirrors the JSON wire shape from spec.md section 6:
//
//	{"table": "...", "action": "insert"|"update"|"delete", "id": "...", "data"?: {...}}
//
// Unknown top-level fields are ignored for forward compatibility — that
// falls out of encoding/json's default unmarshal behavior, so no explicit
// handling is needed here.
type wireEvent struct {
	Table  string          `json:"table"`
	Action string          `json:"action"`
	ID     string          `json:"id"`
	Data   json.RawMessage `json:"data"`
}

// Decode parses payload into a ChangeEvent. action must be exactly
// "insert", "update", or "delete"; id must be a canonical UUID string;
// data is required for insert/update and ignored for delete.
func Decode(payload []byte) (ChangeEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	id, err := uuid.Parse(w.ID)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: invalid id %q: %v", ErrDecode, w.ID, err)
	}

	switch ActionKind(w.Action) {
	case ActionInsert, ActionUpdate:
		if len(w.Data) == 0 {
			return ChangeEvent{}, fmt.Errorf("%w: action %q requires data", ErrDecode, w.Action)
		}
		return ChangeEvent{Table: w.Table, Action: ActionKind(w.Action), ID: id, Data: w.Data}, nil
	case ActionDelete:
		return ChangeEvent{Table: w.Table, Action: ActionDelete, ID: id}, nil
	default:
		return ChangeEvent{}, fmt.Errorf("%w: unrecognized action %q", ErrDecode, w.Action)
	}
}
