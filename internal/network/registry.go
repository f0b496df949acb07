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
package network

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"joblb/internal/logger"
)

// Registry holds the transports a process can choose from by name
type Registry struct {
	transports map[string]Transport
	logger     zerolog.Logger
	mutex      sync.RWMutex
}

// NewRegistry creates an empty transport registry
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]Transport),
		logger:     logger.GetLogger("network.registry"),
	}
}

// Register adds a transport under its name
func (r *Registry) Register(transport Transport) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	name := transport.Name()
	if _, exists := r.transports[name]; exists {
		return fmt.Errorf("transport %s already registered", name)
	}

	r.transports[name] = transport
	r.logger.Debug().Str("transport", name).Msg("Transport registered")
	return nil
}

// Lookup returns the transport registered as name
func (r *Registry) Lookup(name string) (Transport, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	transport, exists := r.transports[name]
	if !exists {
		return nil, fmt.Errorf("transport %s not available (have %v)", name, r.namesLocked())
	}
	return transport, nil
}

// Names returns the registered transport names, sorted
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
