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
	"sync"
	"time"
)

// EventQueue is an in-memory FIFO mailbox. Every Push and every poll tick
// raises an update notification on Updates(). Notifications coalesce, so a
// subscriber must drain until Len() reports zero and must tolerate Pop on an
// empty queue.
type EventQueue[T any] struct {
	name      string
	items     []T
	maxLength int
	interval  time.Duration
	updates   chan struct{}
	mutex     sync.Mutex
}

// NewEventQueue creates a queue that also notifies every interval.
// maxLength <= 0 means unbounded.
func NewEventQueue[T any](name string, interval time.Duration, maxLength int) *EventQueue[T] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &EventQueue[T]{
		name:      name,
		maxLength: maxLength,
		interval:  interval,
		updates:   make(chan struct{}, 1),
	}
}

// Name returns the queue name used in logs
func (q *EventQueue[T]) Name() string {
	return q.name
}

// Push appends item to the tail and signals an update
func (q *EventQueue[T]) Push(item T) error {
	q.mutex.Lock()
	if q.maxLength > 0 && len(q.items) >= q.maxLength {
		q.mutex.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.mutex.Unlock()

	q.Notify()
	return nil
}

// Pop removes and returns the head, or ErrQueueEmpty
func (q *EventQueue[T]) Pop() (T, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, ErrQueueEmpty
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, nil
}

// Peek returns the head without removing it, or ErrQueueEmpty
func (q *EventQueue[T]) Peek() (T, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, ErrQueueEmpty
	}
	return q.items[0], nil
}

// Full reports whether a bounded queue is at capacity
func (q *EventQueue[T]) Full() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.maxLength > 0 && len(q.items) >= q.maxLength
}

// Len returns the number of queued items
func (q *EventQueue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// Updates delivers a notification after pushes and on every poll tick
func (q *EventQueue[T]) Updates() <-chan struct{} {
	return q.updates
}

// Notify raises an update without pushing
func (q *EventQueue[T]) Notify() {
	select {
	case q.updates <- struct{}{}:
	default:
	}
}

// Run raises a notification every poll interval until ctx is done, so that
// items left behind by a failed drain attempt are retried without a new push
func (q *EventQueue[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.Notify()
		case <-ctx.Done():
			return
		}
	}
}
