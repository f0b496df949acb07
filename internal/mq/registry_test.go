// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mq

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTouch(t *testing.T) {
	r := NewRegistry("worker")

	assert.True(t, r.Touch("w1"))
	assert.False(t, r.Touch("w1"))

	record, ok := r.Get("w1")
	require.True(t, ok)
	assert.Equal(t, PeerReady, record.Status)
	assert.Equal(t, 0, record.ConnectionAttempts)
	assert.Equal(t, 2, record.Frames)
	assert.False(t, record.LastValidated.IsZero())
	assert.Equal(t, "worker", r.Role())
}

func TestRegistryTouchResetsAttempts(t *testing.T) {
	r := NewRegistry("worker")
	r.Touch("w1")

	for i := 0; i < 3; i++ {
		_, evicted, ok := r.Probe("w1", DefaultMaxRetries)
		require.True(t, ok)
		require.False(t, evicted)
	}
	r.SetStatus("w1", PeerBusy)

	record, _ := r.Get("w1")
	assert.Equal(t, 3, record.ConnectionAttempts)

	r.Touch("w1")
	record, _ = r.Get("w1")
	assert.Equal(t, 0, record.ConnectionAttempts)
	assert.Equal(t, PeerReady, record.Status)
}

func TestRegistryProbeEvictsAfterMaxRetries(t *testing.T) {
	r := NewRegistry("worker")
	r.Touch("w1")

	maxRetries := 2
	for i := 0; i <= maxRetries; i++ {
		attempts, evicted, ok := r.Probe("w1", maxRetries)
		require.True(t, ok)
		require.False(t, evicted, "probe %d must not evict", i)
		assert.Equal(t, i, attempts)
	}

	attempts, evicted, ok := r.Probe("w1", maxRetries)
	require.True(t, ok)
	assert.True(t, evicted)
	assert.Equal(t, maxRetries+1, attempts)
	assert.False(t, r.Known("w1"))

	_, _, ok = r.Probe("w1", maxRetries)
	assert.False(t, ok)
}

func TestRegistrySelectOnlyReady(t *testing.T) {
	r := NewRegistry("worker")
	for i := 0; i < 5; i++ {
		r.Touch(fmt.Sprintf("w%d", i))
	}
	r.SetStatus("w0", PeerBusy)
	r.SetStatus("w2", PeerOnBroker)
	r.SetStatus("w4", PeerBusy)

	for i := 0; i < 200; i++ {
		id, err := r.Select()
		require.NoError(t, err)
		record, _ := r.Get(id)
		assert.Equal(t, PeerReady, record.Status)
	}
}

func TestRegistrySelectUsesDiscoveryOrder(t *testing.T) {
	r := NewRegistry("worker")
	r.Touch("a")
	r.Touch("b")
	r.Touch("c")
	r.SetStatus("b", PeerBusy)

	r.intn = func(n int) int {
		assert.Equal(t, 2, n)
		return n - 1
	}

	id, err := r.Select()
	require.NoError(t, err)
	assert.Equal(t, "c", id)
}

func TestRegistrySelectEmpty(t *testing.T) {
	r := NewRegistry("worker")
	_, err := r.Select()
	assert.ErrorIs(t, err, ErrNoReadyPeer)

	r.Touch("w1")
	r.SetStatus("w1", PeerBusy)
	_, err = r.Select()
	assert.ErrorIs(t, err, ErrNoReadyPeer)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry("client")
	r.Touch("c1")
	r.Touch("c2")
	r.Touch("c3")

	assert.True(t, r.Remove("c2"))
	assert.False(t, r.Remove("c2"))
	assert.Equal(t, []string{"c1", "c3"}, r.Identities())
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, r.ReadyCount())

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "c1", snapshot[0].Identity)
}
