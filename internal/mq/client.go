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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"joblb/internal/network"
)

const trackedJobs = 4096

// ResultHandler receives the lifecycle notifications for submitted jobs.
// Delivery is at-least-once across reconnects, so implementations should be
// idempotent.
type ResultHandler interface {
	OnResult(ctx context.Context, result *ResultEnvelope) error
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(ctx context.Context, result *ResultEnvelope) error

// OnResult calls f
func (f ResultHandlerFunc) OnResult(ctx context.Context, result *ResultEnvelope) error {
	return f(ctx, result)
}

// ClientStats represents client statistics
type ClientStats struct {
	Submitted    int       `json:"submitted"`
	Acknowledged int       `json:"acknowledged"`
	Results      int       `json:"results"`
	Dropped      int       `json:"dropped"`
	LastSubmit   time.Time `json:"last_submit"`
	LastResult   time.Time `json:"last_result"`
	StartTime    time.Time `json:"start_time"`
}

// Client is the node agent used by job producers. It submits jobs to the
// broker and hands every lifecycle transition it observes to a ResultHandler,
// dropping transitions that arrive out of order or after a terminal state.
type Client struct {
	*agent
	handler  ResultHandler
	pending  *lru.Cache[string, LifeCycle]
	finished *lru.Cache[string, LifeCycle]
	stats    ClientStats
}

// NewClient creates a client agent; handler may be nil
func NewClient(transport network.Transport, config NodeConfig, handler ResultHandler) *Client {
	pending, _ := lru.New[string, LifeCycle](trackedJobs)
	finished, _ := lru.New[string, LifeCycle](trackedJobs)

	return &Client{
		agent:    newAgent("client", transport, config),
		handler:  handler,
		pending:  pending,
		finished: finished,
		stats: ClientStats{
			StartTime: time.Now(),
		},
	}
}

// Start connects to the broker's client endpoint and starts the result loop
func (c *Client) Start(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	c.spawn(func(ctx context.Context) {
		c.receive(ctx, func(msg Message) { c.handleMessage(ctx, msg) })
	})
	return nil
}

// Stop closes the client socket
func (c *Client) Stop() error {
	c.logger.Info().Msg("Stopping job client")
	return c.stop()
}

// Submit sends payload to the broker under jobID, generating an id when
// jobID is empty. It returns once the transport accepted the frame.
func (c *Client) Submit(ctx context.Context, jobID string, payload interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}
	if jobID == "" {
		jobID = GenerateJobID()
	}

	c.pending.Add(jobID, LifeCycleNotStarted)
	if err := c.send(&Submit{Job: jobID, Message: raw}); err != nil {
		c.pending.Remove(jobID)
		return "", fmt.Errorf("failed to submit job %s: %w", jobID, err)
	}

	c.mutex.Lock()
	c.stats.Submitted++
	c.stats.LastSubmit = time.Now()
	c.mutex.Unlock()

	c.logger.Info().Str("job_id", jobID).Msg("Pushing new job through dealer to broker")
	return jobID, nil
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		if string(bytes.TrimSpace(p)) == "null" {
			return nil, fmt.Errorf("payload is required")
		}
		return p, nil
	case nil:
		return nil, fmt.Errorf("payload is required")
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		if string(raw) == "null" {
			return nil, fmt.Errorf("payload is required")
		}
		return raw, nil
	}
}

// Status returns the last lifecycle state observed for jobID
func (c *Client) Status(jobID string) (LifeCycle, bool) {
	if lc, ok := c.pending.Get(jobID); ok {
		return lc, true
	}
	return c.finished.Get(jobID)
}

// Stats returns client statistics
func (c *Client) Stats() ClientStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stats
}

func (c *Client) handleMessage(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case *Submit:
		c.handleAck(m)
	case *Lifecycle:
		c.handleLifecycle(ctx, m)
	}
}

// handleAck records the broker's echo of a submission as In Queue
func (c *Client) handleAck(msg *Submit) {
	c.mutex.Lock()
	c.stats.Acknowledged++
	c.mutex.Unlock()

	if msg.Job == "" {
		return
	}
	if current, ok := c.pending.Get(msg.Job); ok && current == LifeCycleNotStarted {
		c.pending.Add(msg.Job, LifeCycleInQueue)
	}
	c.logger.Debug().Str("job_id", msg.Job).Msg("Job acknowledged by broker")
}

func (c *Client) handleLifecycle(ctx context.Context, msg *Lifecycle) {
	result := &ResultEnvelope{
		Node:      msg.Node,
		Job:       msg.Job,
		Message:   msg.Message,
		Status:    msg.Status,
		LifeCycle: msg.LifeCycle,
	}

	if msg.LifeCycle != "" && !c.advance(msg.Job, msg.LifeCycle) {
		c.mutex.Lock()
		c.stats.Dropped++
		c.mutex.Unlock()

		c.logger.Debug().
			Str("job_id", msg.Job).
			Str("life_cycle", string(msg.LifeCycle)).
			Msg("Ignoring out of order lifecycle update")
		return
	}

	c.mutex.Lock()
	c.stats.Results++
	c.stats.LastResult = time.Now()
	c.mutex.Unlock()

	if c.handler == nil {
		return
	}
	if err := c.handler.OnResult(ctx, result); err != nil {
		c.logger.Error().
			Err(err).
			Str("job_id", msg.Job).
			Str("life_cycle", string(msg.LifeCycle)).
			Msg("Result handler failed")
	}
}

// advance moves jobID to next if the transition is legal
func (c *Client) advance(jobID string, next LifeCycle) bool {
	if _, done := c.finished.Get(jobID); done {
		return false
	}

	current, ok := c.pending.Get(jobID)
	if !ok {
		// Submitted elsewhere or forgotten; the broker only relays queued jobs
		current = LifeCycleInQueue
	}
	if current == LifeCycleNotStarted && next == LifeCycleInProgress {
		// The acknowledgement was lost; the job must have been queued
		current = LifeCycleInQueue
	}
	if !current.CanAdvance(next) {
		return false
	}

	if next.IsTerminal() {
		c.pending.Remove(jobID)
		c.finished.Add(jobID, next)
	} else {
		c.pending.Add(jobID, next)
	}
	return true
}
