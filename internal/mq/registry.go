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
	"math/rand"
	"sync"
	"time"
)

// PeerRecord is the broker's health entry for one routing identity
type PeerRecord struct {
	Identity           string     `json:"identity"`
	Status             PeerStatus `json:"status"`
	LastValidated      time.Time  `json:"last_validated"`
	ConnectionAttempts int        `json:"connection_attempts"`
	FirstSeen          time.Time  `json:"first_seen"`
	Frames             int        `json:"frames"`
}

// Registry tracks the known peers of one socket in discovery order
type Registry struct {
	role    string
	order   []string
	records map[string]*PeerRecord
	intn    func(n int) int
	mutex   sync.RWMutex
}

// NewRegistry creates an empty registry for peers of the given role
func NewRegistry(role string) *Registry {
	return &Registry{
		role:    role,
		records: make(map[string]*PeerRecord),
		intn:    rand.Intn,
	}
}

// Role returns the peer role name ("client" or "worker")
func (r *Registry) Role() string {
	return r.role
}

// Touch records an accepted inbound frame from identity. It creates the
// record on first contact and otherwise resets it to Ready with zero
// attempts. It reports whether the identity was new.
func (r *Registry) Touch(identity string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	record, exists := r.records[identity]
	if !exists {
		record = &PeerRecord{
			Identity:  identity,
			Status:    PeerOnBroker,
			FirstSeen: now,
		}
		r.records[identity] = record
		r.order = append(r.order, identity)
	}

	record.Status = PeerReady
	record.ConnectionAttempts = 0
	record.LastValidated = now
	record.Frames++
	return !exists
}

// Known reports whether identity has a record
func (r *Registry) Known(identity string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.records[identity]
	return ok
}

// Get returns a copy of the record for identity
func (r *Registry) Get(identity string) (PeerRecord, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, ok := r.records[identity]
	if !ok {
		return PeerRecord{}, false
	}
	return *record, true
}

// SetStatus changes the availability of a known peer
func (r *Registry) SetStatus(identity string, status PeerStatus) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	record, ok := r.records[identity]
	if !ok {
		return false
	}
	record.Status = status
	return true
}

// Probe accounts for one heartbeat probe about to be sent to identity.
// It returns the attempt count before this probe. When that count already
// exceeds maxRetries the record is removed and evicted is true instead.
func (r *Registry) Probe(identity string, maxRetries int) (attempts int, evicted bool, ok bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	record, exists := r.records[identity]
	if !exists {
		return 0, false, false
	}

	attempts = record.ConnectionAttempts
	if attempts > maxRetries {
		r.removeLocked(identity)
		return attempts, true, true
	}
	record.ConnectionAttempts++
	return attempts, false, true
}

// Remove deletes identity from the registry
func (r *Registry) Remove(identity string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.removeLocked(identity)
}

func (r *Registry) removeLocked(identity string) bool {
	if _, ok := r.records[identity]; !ok {
		return false
	}
	delete(r.records, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Select draws uniformly among the Ready peers, walking identities in
// discovery order. It never returns a peer whose status is not Ready.
func (r *Registry) Select() (string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ready := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.records[id].Status == PeerReady {
			ready = append(ready, id)
		}
	}
	if len(ready) == 0 {
		return "", ErrNoReadyPeer
	}
	return ready[r.intn(len(ready))], nil
}

// Identities returns every known identity in discovery order
func (r *Registry) Identities() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]string(nil), r.order...)
}

// Snapshot returns a copy of every record in discovery order
func (r *Registry) Snapshot() []PeerRecord {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	records := make([]PeerRecord, 0, len(r.order))
	for _, id := range r.order {
		records = append(records, *r.records[id])
	}
	return records
}

// Len returns the number of known peers
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.records)
}

// ReadyCount returns the number of Ready peers
func (r *Registry) ReadyCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	count := 0
	for _, record := range r.records {
		if record.Status == PeerReady {
			count++
		}
	}
	return count
}
