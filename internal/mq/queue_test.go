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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueueFIFO(t *testing.T) {
	q := NewEventQueue[string]("test", time.Second, 0)

	require.NoError(t, q.Push("a"))
	require.NoError(t, q.Push("b"))
	assert.Equal(t, 2, q.Len())

	first, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "a", first)

	second, err := q.Pop()
	require.NoError(t, err)
	assert.Equal(t, "b", second)

	_, err = q.Pop()
	assert.ErrorIs(t, err, ErrQueueEmpty)
	assert.Equal(t, 0, q.Len())
}

func TestEventQueuePushNotifies(t *testing.T) {
	q := NewEventQueue[int]("test", time.Hour, 0)

	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))

	select {
	case <-q.Updates():
	default:
		t.Fatal("expected an update notification after push")
	}

	// Notifications coalesce; the second push does not queue another signal
	select {
	case <-q.Updates():
		t.Fatal("expected notifications to coalesce")
	default:
	}

	assert.Equal(t, 2, q.Len())
}

func TestEventQueueTickerNotifies(t *testing.T) {
	q := NewEventQueue[int]("test", 5*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case <-q.Updates():
	case <-time.After(time.Second):
		t.Fatal("expected a timer driven notification")
	}
}

func TestEventQueueBounded(t *testing.T) {
	q := NewEventQueue[int]("bounded", time.Second, 2)

	require.NoError(t, q.Push(1))
	assert.False(t, q.Full())
	require.NoError(t, q.Push(2))
	assert.True(t, q.Full())
	assert.ErrorIs(t, q.Push(3), ErrQueueFull)

	_, err := q.Pop()
	require.NoError(t, err)
	assert.NoError(t, q.Push(3))
}

func TestEventQueueDuplicatesAllowed(t *testing.T) {
	q := NewEventQueue[*JobEnvelope]("jobs", time.Second, 0)

	require.NoError(t, q.Push(&JobEnvelope{JobID: "J1"}))
	require.NoError(t, q.Push(&JobEnvelope{JobID: "J1"}))
	assert.Equal(t, 2, q.Len())
}

func TestEventQueueDefaultInterval(t *testing.T) {
	q := NewEventQueue[int]("defaults", 0, 0)
	assert.Equal(t, DefaultPollInterval, q.interval)
	assert.Equal(t, "defaults", q.Name())
}

func TestEventQueuePeek(t *testing.T) {
	q := NewEventQueue[string]("peek", time.Second, 0)

	_, err := q.Peek()
	assert.ErrorIs(t, err, ErrQueueEmpty)

	require.NoError(t, q.Push("head"))
	require.NoError(t, q.Push("tail"))

	head, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, "head", head)
	assert.Equal(t, 2, q.Len())
}
