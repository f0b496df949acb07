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
	"errors"
	"time"
)

// LifeCycle is the state of a job as it moves through the broker
type LifeCycle string

const (
	LifeCycleNotStarted LifeCycle = "Not Started"
	LifeCycleInQueue    LifeCycle = "In Queue"
	LifeCycleInProgress LifeCycle = "In Progress"
	LifeCycleFinished   LifeCycle = "Finished"
	LifeCycleFailed     LifeCycle = "Failed"
)

// rank orders the lifecycle; both terminal states share the last rank
var lifeCycleRank = map[LifeCycle]int{
	LifeCycleNotStarted: 0,
	LifeCycleInQueue:    1,
	LifeCycleInProgress: 2,
	LifeCycleFinished:   3,
	LifeCycleFailed:     3,
}

// Valid reports whether l is one of the known lifecycle states
func (l LifeCycle) Valid() bool {
	_, ok := lifeCycleRank[l]
	return ok
}

// IsTerminal reports whether no further transition may follow l
func (l LifeCycle) IsTerminal() bool {
	return l == LifeCycleFinished || l == LifeCycleFailed
}

// CanAdvance reports whether moving from l to next respects
// Not Started -> In Queue -> In Progress -> Finished|Failed.
// In Progress may not be reached without passing In Queue, and a job that
// never started may still fail (a rejected submission).
func (l LifeCycle) CanAdvance(next LifeCycle) bool {
	if !l.Valid() || !next.Valid() || l.IsTerminal() {
		return false
	}
	if next == LifeCycleFailed {
		return true
	}
	if l == LifeCycleNotStarted {
		return next == LifeCycleInQueue
	}
	return lifeCycleRank[next] > lifeCycleRank[l]
}

// PeerStatus is the availability of a peer as seen by the broker
type PeerStatus string

const (
	PeerReady    PeerStatus = "Ready"
	PeerBusy     PeerStatus = "Busy"
	PeerOnBroker PeerStatus = "On Broker"
)

// Defaults for the heartbeat supervisor and event queues
const (
	DefaultMaxRetries   = 5
	DefaultInterval     = 30 * time.Second
	DefaultBaseTimeout  = 5 * time.Second
	DefaultGracePeriod  = 5 * time.Second
	DefaultPollInterval = 200 * time.Millisecond

	DefaultClientPort = 8765
	DefaultWorkerPort = 8766
)

var (
	// ErrQueueEmpty is returned by Pop on an empty queue
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrQueueFull is returned by Push on a bounded queue at capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrNoReadyPeer is returned when selection finds no Ready peer
	ErrNoReadyPeer = errors.New("no ready peer")

	// ErrUnknownMessage is returned when a frame matches no message variant
	ErrUnknownMessage = errors.New("unknown message format")

	// ErrNotStarted is returned by node agents used before Start
	ErrNotStarted = errors.New("agent not started")
)
