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

	"github.com/rs/zerolog"
	"joblb/internal/logger"
)

// HeartbeatConfig controls probing and eviction of silent peers
type HeartbeatConfig struct {
	Interval    time.Duration // wait after a probe to a healthy peer
	BaseTimeout time.Duration // backoff unit once probes go unanswered
	GracePeriod time.Duration // wait before the first probe
	MaxRetries  int           // unanswered probes tolerated before eviction
}

// DefaultHeartbeatConfig returns the production heartbeat settings
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:    DefaultInterval,
		BaseTimeout: DefaultBaseTimeout,
		GracePeriod: DefaultGracePeriod,
		MaxRetries:  DefaultMaxRetries,
	}
}

// Timeout returns how long to wait after a probe sent while the peer had
// attempts unanswered probes: Interval for a healthy peer, then
// 2 * attempts * BaseTimeout.
func (c HeartbeatConfig) Timeout(attempts int) time.Duration {
	if attempts <= 0 {
		return c.Interval
	}
	return time.Duration(2*attempts) * c.BaseTimeout
}

type heartbeatLoop struct {
	cancel context.CancelFunc
}

// Supervisor runs one heartbeat loop per peer of a registry. A loop ends
// when its peer is evicted, removed elsewhere, or the supervisor stops.
type Supervisor struct {
	registry *Registry
	config   HeartbeatConfig
	probe    func(identity string) error
	onEvict  func(identity string)
	loops    map[string]*heartbeatLoop
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger
	wg       sync.WaitGroup
	mutex    sync.Mutex
}

// NewSupervisor creates a supervisor that sends probes through probe and
// reports evictions to onEvict (which may be nil)
func NewSupervisor(registry *Registry, config HeartbeatConfig, probe func(identity string) error, onEvict func(identity string)) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		registry: registry,
		config:   config,
		probe:    probe,
		onEvict:  onEvict,
		loops:    make(map[string]*heartbeatLoop),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.GetLogger("mq.heartbeat").With().Str("role", registry.Role()).Logger(),
	}
}

// Watch starts the heartbeat loop for identity unless one is running
func (s *Supervisor) Watch(identity string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if _, running := s.loops[identity]; running {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	loop := &heartbeatLoop{cancel: cancel}
	s.loops[identity] = loop

	s.wg.Add(1)
	go s.run(ctx, identity, loop)
}

// Unwatch stops the heartbeat loop for identity
func (s *Supervisor) Unwatch(identity string) {
	s.mutex.Lock()
	loop, ok := s.loops[identity]
	if ok {
		delete(s.loops, identity)
	}
	s.mutex.Unlock()

	if ok {
		loop.cancel()
	}
}

// Watching reports whether a heartbeat loop runs for identity
func (s *Supervisor) Watching(identity string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.loops[identity]
	return ok
}

// Stop cancels every loop and waits for them to exit
func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, identity string, loop *heartbeatLoop) {
	defer s.wg.Done()
	defer s.release(identity, loop)

	log := s.logger.With().Str("identity", identity).Logger()
	log.Debug().Dur("grace", s.config.GracePeriod).Msg("Heartbeat loop started")

	timer := time.NewTimer(s.config.GracePeriod)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}

		attempts, evicted, ok := s.account(identity, loop)
		if !ok {
			log.Debug().Msg("Peer no longer registered, heartbeat loop ending")
			return
		}
		if evicted {
			log.Warn().
				Int("attempts", attempts).
				Int("max_retries", s.config.MaxRetries).
				Msg("Peer missed too many heartbeats - evicted")
			if s.onEvict != nil {
				s.onEvict(identity)
			}
			return
		}

		if err := s.probe(identity); err != nil {
			log.Warn().Err(err).Int("attempts", attempts+1).Msg("Failed to send heartbeat")
		} else {
			log.Debug().Int("attempts", attempts+1).Msg("Heartbeat sent")
		}

		timer.Reset(s.config.Timeout(attempts))
	}
}

// account charges one probe to identity. When that removes the peer, the
// loop slot is freed under the same lock, so a Watch arriving after the
// removal always starts a fresh loop.
func (s *Supervisor) account(identity string, loop *heartbeatLoop) (attempts int, evicted bool, ok bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	attempts, evicted, ok = s.registry.Probe(identity, s.config.MaxRetries)
	if (evicted || !ok) && s.loops[identity] == loop {
		delete(s.loops, identity)
	}
	return attempts, evicted, ok
}

func (s *Supervisor) release(identity string, loop *heartbeatLoop) {
	s.mutex.Lock()
	if s.loops[identity] == loop {
		delete(s.loops, identity)
	}
	s.mutex.Unlock()
	loop.cancel()
}
