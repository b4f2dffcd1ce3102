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
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	table string
	mu    sync.Mutex
	seen  []ChangeEvent
}

func (h *recordingHandler) TableName() string { return h.table }

func (h *recordingHandler) Handle(event ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, event)
}

func (h *recordingHandler) events() []ChangeEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ChangeEvent(nil), h.seen...)
}

func TestListenerDefaultChannel(t *testing.T) {
	l := NewListener()
	assert.Equal(t, "cache_invalidation", l.Channel())
}

func TestListenerWithChannel(t *testing.T) {
	l := NewListener().WithChannel("row_events")
	assert.Equal(t, "row_events", l.Channel())
}

func TestListenerDispatchesToRegisteredHandler(t *testing.T) {
	l := NewListener()
	users := &recordingHandler{table: "users"}
	l.RegisterHandler(users)

	l.Process([]byte(`{"table":"users","action":"insert","id":"00000000-0000-0000-0000-000000000001","data":{}}`))

	events := users.events()
	assert.Len(t, events, 1)
	assert.Equal(t, ActionInsert, events[0].Action)
}

func TestListenerDropsUnknownTable(t *testing.T) {
	l := NewListener()
	users := &recordingHandler{table: "users"}
	l.RegisterHandler(users)

	l.Process([]byte(`{"table":"ghosts","action":"insert","id":"00000000-0000-0000-0000-000000000001","data":{}}`))

	assert.Empty(t, users.events())
}

func TestListenerDropsDecodeError(t *testing.T) {
	l := NewListener()
	users := &recordingHandler{table: "users"}
	l.RegisterHandler(users)

	l.Process([]byte(`{"table":"users","action":"wat","id":"00000000-0000-0000-0000-000000000001"}`))

	assert.Empty(t, users.events())
}

func TestListenerReRegisterReplacesHandler(t *testing.T) {
	l := NewListener()
	first := &recordingHandler{table: "users"}
	second := &recordingHandler{table: "users"}
	l.RegisterHandler(first)
	l.RegisterHandler(second)

	l.Process([]byte(`{"table":"users","action":"delete","id":"00000000-0000-0000-0000-000000000001"}`))

	assert.Empty(t, first.events())
	assert.Len(t, second.events(), 1)
}

func TestListenerConcurrentProcess(t *testing.T) {
	l := NewListener()
	users := &recordingHandler{table: "users"}
	l.RegisterHandler(users)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Process([]byte(`{"table":"users","action":"delete","id":"00000000-0000-0000-0000-000000000001"}`))
		}()
	}
	wg.Wait()

	assert.Len(t, users.events(), 50)
}
