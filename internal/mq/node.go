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
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"joblb/internal/logger"
	"joblb/internal/network"
)

// NodeConfig configures a client or worker agent
type NodeConfig struct {
	Endpoint     string        // broker endpoint for this agent's role
	Identity     string        // routing identity; generated when empty
	Node         string        // name reported in lifecycle frames; hostname when empty
	PollInterval time.Duration // worker queue drain retry interval
}

// agent is the part shared by both roles: one dealer socket, the liveness
// answer to broker probes and the goroutine bookkeeping
type agent struct {
	role      string
	config    NodeConfig
	transport network.Transport
	sock      network.Dealer
	status    PeerStatus
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    zerolog.Logger
	mutex     sync.RWMutex
}

func newAgent(role string, transport network.Transport, config NodeConfig) *agent {
	if config.Identity == "" {
		config.Identity = GenerateIdentity(role)
	}
	if config.Node == "" {
		if host, err := os.Hostname(); err == nil {
			config.Node = host
		} else {
			config.Node = config.Identity
		}
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	return &agent{
		role:      role,
		config:    config,
		transport: transport,
		status:    PeerReady,
		logger: logger.GetLogger("mq."+role).With().
			Str("identity", config.Identity).
			Logger(),
	}
}

// connect opens the dealer and announces this node with a liveness frame
func (a *agent) connect(ctx context.Context) error {
	a.logger.Info().
		Str("broker", a.config.Endpoint).
		Msg("Connecting to job broker")

	sock, err := a.transport.NewDealer(a.config.Identity)
	if err != nil {
		return fmt.Errorf("failed to create dealer: %w", err)
	}
	if err := sock.Connect(a.config.Endpoint); err != nil {
		sock.Close()
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	a.mutex.Lock()
	a.sock = sock
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mutex.Unlock()

	if err := a.sendLiveness(); err != nil {
		sock.Close()
		return fmt.Errorf("failed to announce to broker: %w", err)
	}

	a.logger.Info().Msg("Connected to job broker")
	return nil
}

func (a *agent) spawn(fn func(ctx context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(a.ctx)
	}()
}

func (a *agent) stop() error {
	a.mutex.RLock()
	cancel := a.cancel
	sock := a.sock
	a.mutex.RUnlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if sock != nil {
		if err = sock.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Error closing agent socket")
		}
	}
	a.wg.Wait()
	return err
}

func (a *agent) setStatus(status PeerStatus) {
	a.mutex.Lock()
	a.status = status
	a.mutex.Unlock()
}

func (a *agent) currentStatus() PeerStatus {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.status
}

func (a *agent) send(msg Message) error {
	a.mutex.RLock()
	sock := a.sock
	a.mutex.RUnlock()
	if sock == nil {
		return ErrNotStarted
	}

	body, err := Encode(msg)
	if err != nil {
		return err
	}
	return sock.Send(body)
}

func (a *agent) sendLiveness() error {
	return a.send(&Heartbeat{
		Heartbeat: true,
		RouterID:  a.config.Identity,
		Status:    a.currentStatus(),
	})
}

// receive decodes frames from the broker. Heartbeat probes are answered on
// the spot; everything else goes to handle.
func (a *agent) receive(ctx context.Context, handle func(Message)) {
	for {
		body, err := a.sock.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, network.ErrSocketClosed) {
				return
			}
			a.logger.Error().Err(err).Msg("Failed to receive frame from broker")
			continue
		}

		msg, err := Decode(body)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Dropping undecodable frame from broker")
			continue
		}

		if _, ok := msg.(*Heartbeat); ok {
			if err := a.sendLiveness(); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to answer heartbeat")
			}
			continue
		}
		handle(msg)
	}
}

// Identity returns the agent's routing identity
func (a *agent) Identity() string {
	return a.config.Identity
}

// Node returns the node name reported in lifecycle frames
func (a *agent) Node() string {
	return a.config.Node
}
