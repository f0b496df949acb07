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
	"sync"
	"time"

	"github.com/rs/zerolog"
	"joblb/internal/logger"
	"joblb/internal/network"
)

// BrokerConfig holds the broker's endpoints and timing
type BrokerConfig struct {
	ClientEndpoint string // bind address for client agents
	WorkerEndpoint string // bind address for worker agents
	Heartbeat      HeartbeatConfig
	PollInterval   time.Duration // queue drain retry interval
	MaxQueueLength int           // 0 = unbounded job queue
}

// DefaultBrokerConfig returns a config bound to the default ports
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		ClientEndpoint: network.BindEndpoint("tcp", DefaultClientPort),
		WorkerEndpoint: network.BindEndpoint("tcp", DefaultWorkerPort),
		Heartbeat:      DefaultHeartbeatConfig(),
		PollInterval:   DefaultPollInterval,
	}
}

// BrokerStats represents broker statistics
type BrokerStats struct {
	Clients            int       `json:"clients"`
	Workers            int       `json:"workers"`
	JobsQueued         int       `json:"jobs_queued"`
	ResultsQueued      int       `json:"results_queued"`
	InFlight           int       `json:"in_flight"`
	Submissions        int       `json:"submissions"`
	Rejected           int       `json:"rejected"`
	Dispatched         int       `json:"dispatched"`
	DispatchErrors     int       `json:"dispatch_errors"`
	Results            int       `json:"results"`
	Relayed            int       `json:"relayed"`
	RelayErrors        int       `json:"relay_errors"`
	DecodeErrors       int       `json:"decode_errors"`
	HeartbeatsReceived int       `json:"heartbeats_received"`
	Evictions          int       `json:"evictions"`
	StartTime          time.Time `json:"start_time"`
	LastSubmission     time.Time `json:"last_submission"`
	LastResult         time.Time `json:"last_result"`
}

// inflightJob remembers where a queued or dispatched job came from so the
// results can be routed back to it
type inflightJob struct {
	origin string
	worker string
}

// Broker sits between client agents and worker agents. It owns one router
// per side, the inbound job and result queues, and a peer registry with a
// heartbeat supervisor per side.
type Broker struct {
	config      BrokerConfig
	transport   network.Transport
	clientSock  network.Router
	workerSock  network.Router
	jobQueue    *EventQueue[*JobEnvelope]
	resultQueue *EventQueue[*ResultEnvelope]
	clients     *Registry
	workers     *Registry
	clientBeats *Supervisor
	workerBeats *Supervisor
	inflight    map[string]*inflightJob
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      zerolog.Logger
	stats       *BrokerStats
	mutex       sync.RWMutex
}

// NewBroker creates a broker that opens its sockets on transport
func NewBroker(transport network.Transport, config BrokerConfig) *Broker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	b := &Broker{
		config:      config,
		transport:   transport,
		jobQueue:    NewEventQueue[*JobEnvelope]("jobs", config.PollInterval, config.MaxQueueLength),
		resultQueue: NewEventQueue[*ResultEnvelope]("results", config.PollInterval, 0),
		clients:     NewRegistry("client"),
		workers:     NewRegistry("worker"),
		inflight:    make(map[string]*inflightJob),
		logger:      logger.GetLogger("mq.broker"),
		stats: &BrokerStats{
			StartTime: time.Now(),
		},
	}
	b.clientBeats = NewSupervisor(b.clients, config.Heartbeat, b.probeClient, b.evictClient)
	b.workerBeats = NewSupervisor(b.workers, config.Heartbeat, b.probeWorker, b.evictWorker)
	return b
}

// Start binds both routers and starts the receive, drain and queue loops.
// Bind failures are returned to the caller.
func (b *Broker) Start(ctx context.Context) error {
	b.logger.Info().
		Str("client_endpoint", b.config.ClientEndpoint).
		Str("worker_endpoint", b.config.WorkerEndpoint).
		Str("transport", b.transport.Name()).
		Msg("Starting job broker")

	clientSock, err := b.bind(b.config.ClientEndpoint)
	if err != nil {
		return fmt.Errorf("failed to start client router: %w", err)
	}
	workerSock, err := b.bind(b.config.WorkerEndpoint)
	if err != nil {
		clientSock.Close()
		return fmt.Errorf("failed to start worker router: %w", err)
	}

	b.clientSock = clientSock
	b.workerSock = workerSock
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.spawn(b.clientLoop)
	b.spawn(b.workerLoop)
	b.spawn(b.jobLoop)
	b.spawn(b.resultLoop)
	b.spawn(b.jobQueue.Run)
	b.spawn(b.resultQueue.Run)

	b.logger.Info().Msg("Job broker started successfully")
	return nil
}

func (b *Broker) bind(endpoint string) (network.Router, error) {
	sock, err := b.transport.NewRouter()
	if err != nil {
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, err
	}
	return sock, nil
}

func (b *Broker) spawn(fn func(ctx context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// Stop closes both routers and waits for every loop to exit
func (b *Broker) Stop() error {
	b.logger.Info().Msg("Stopping job broker")

	if b.cancel != nil {
		b.cancel()
	}
	b.clientBeats.Stop()
	b.workerBeats.Stop()

	var lastErr error
	for _, sock := range []network.Router{b.clientSock, b.workerSock} {
		if sock == nil {
			continue
		}
		if err := sock.Close(); err != nil {
			b.logger.Error().Err(err).Msg("Error closing broker socket")
			lastErr = err
		}
	}
	b.wg.Wait()

	b.logger.Info().Msg("Job broker stopped")
	return lastErr
}

func (b *Broker) clientLoop(ctx context.Context) {
	b.receive(ctx, b.clientSock, b.handleClientFrame)
}

func (b *Broker) workerLoop(ctx context.Context) {
	b.receive(ctx, b.workerSock, b.handleWorkerFrame)
}

func (b *Broker) receive(ctx context.Context, sock network.Router, handle func(network.Frame)) {
	for {
		frame, err := sock.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, network.ErrSocketClosed) {
				return
			}
			b.logger.Error().Err(err).Msg("Failed to receive frame")
			continue
		}
		handle(frame)
	}
}

// admit decodes a frame and refreshes the sender's record. Frames that do
// not decode still refresh a peer that is already known.
func (b *Broker) admit(frame network.Frame, registry *Registry, beats *Supervisor) (Message, bool) {
	msg, err := Decode(frame.Body)
	if err != nil {
		b.mutex.Lock()
		b.stats.DecodeErrors++
		b.mutex.Unlock()

		if registry.Known(frame.Identity) {
			registry.Touch(frame.Identity)
		}
		b.logger.Warn().
			Err(err).
			Str("identity", frame.Identity).
			Str("role", registry.Role()).
			Msg("Dropping undecodable frame")
		return nil, false
	}

	if registry.Touch(frame.Identity) {
		b.logger.Info().
			Str("identity", frame.Identity).
			Str("role", registry.Role()).
			Int("known", registry.Len()).
			Msg("Discovered peer")
		beats.Watch(frame.Identity)
	}

	if _, ok := msg.(*Heartbeat); ok {
		b.mutex.Lock()
		b.stats.HeartbeatsReceived++
		b.mutex.Unlock()
	}
	return msg, true
}

func (b *Broker) handleClientFrame(frame network.Frame) {
	msg, ok := b.admit(frame, b.clients, b.clientBeats)
	if !ok {
		return
	}

	switch m := msg.(type) {
	case *Heartbeat:
		b.logger.Debug().Str("client_id", frame.Identity).Msg("Client heartbeat received")
	case *Submit:
		b.handleSubmit(frame.Identity, m)
	default:
		b.logger.Warn().
			Str("client_id", frame.Identity).
			Str("type", fmt.Sprintf("%T", msg)).
			Msg("Unexpected message from client")
	}
}

func (b *Broker) handleSubmit(clientID string, msg *Submit) {
	job := NewJobEnvelope(clientID, msg)

	b.mutex.Lock()
	b.stats.Submissions++
	b.stats.LastSubmission = time.Now()
	b.mutex.Unlock()

	if b.jobQueue.Full() {
		b.reject(clientID, job, "job queue full")
		return
	}

	// The acknowledgement goes out before the job can reach a worker, so a
	// client always sees it ahead of any lifecycle frame for the job
	ack, err := Encode(&Submit{Job: job.JobID, Message: job.Payload})
	if err == nil {
		err = b.clientSock.Send(clientID, ack)
	}
	if err != nil {
		b.logger.Warn().
			Err(err).
			Str("client_id", clientID).
			Str("job_id", job.JobID).
			Msg("Failed to acknowledge submission")
	}

	b.mutex.Lock()
	b.inflight[job.JobID] = &inflightJob{origin: clientID}
	b.mutex.Unlock()

	if err := b.jobQueue.Push(job); err != nil {
		b.forget(job.JobID)
		b.reject(clientID, job, err.Error())
		return
	}

	b.logger.Debug().
		Str("client_id", clientID).
		Str("job_id", job.JobID).
		Int("queue_length", b.jobQueue.Len()).
		Msg("Job queued")
}

// reject answers a submission that could not be queued with a Failed frame
func (b *Broker) reject(clientID string, job *JobEnvelope, reason string) {
	b.mutex.Lock()
	b.stats.Rejected++
	b.mutex.Unlock()

	b.logger.Warn().
		Str("client_id", clientID).
		Str("job_id", job.JobID).
		Str("reason", reason).
		Msg("Job rejected")

	failed, err := FormattedReturn("broker", job.JobID, ErrorBody{Error: reason}, PeerBusy, LifeCycleFailed)
	if err != nil {
		return
	}
	body, err := Encode(failed)
	if err != nil {
		return
	}
	if err := b.clientSock.Send(clientID, body); err != nil {
		b.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to send rejection")
	}
}

func (b *Broker) handleWorkerFrame(frame network.Frame) {
	msg, ok := b.admit(frame, b.workers, b.workerBeats)
	if !ok {
		return
	}

	switch m := msg.(type) {
	case *Heartbeat:
		b.logger.Debug().Str("worker_id", frame.Identity).Msg("Worker heartbeat received")
	case *Lifecycle:
		result := ResultFromLifecycle(frame.Identity, m)

		b.mutex.Lock()
		b.stats.Results++
		b.stats.LastResult = time.Now()
		b.mutex.Unlock()

		b.logger.Debug().
			Str("worker_id", frame.Identity).
			Str("job_id", m.Job).
			Str("life_cycle", string(m.LifeCycle)).
			Msg("Worker result received")

		if err := b.resultQueue.Push(result); err != nil {
			b.logger.Error().Err(err).Str("job_id", m.Job).Msg("Failed to queue result")
		}
	default:
		b.logger.Warn().
			Str("worker_id", frame.Identity).
			Str("type", fmt.Sprintf("%T", msg)).
			Msg("Unexpected message from worker")
	}
}

func (b *Broker) jobLoop(ctx context.Context) {
	for {
		select {
		case <-b.jobQueue.Updates():
			b.drainJobs()
		case <-ctx.Done():
			return
		}
	}
}

// drainJobs dispatches queued jobs while Ready workers exist. A job only
// leaves the queue once a worker has been chosen for it.
func (b *Broker) drainJobs() {
	for b.jobQueue.Len() > 0 {
		workerID, err := b.workers.Select()
		if err != nil {
			b.logger.Debug().
				Int("queue_length", b.jobQueue.Len()).
				Msg("No ready workers - jobs stay queued")
			return
		}

		job, err := b.jobQueue.Pop()
		if err != nil {
			return
		}
		b.dispatch(workerID, job)
	}
}

func (b *Broker) dispatch(workerID string, job *JobEnvelope) {
	body, err := Encode(&Submit{Job: job.JobID, Message: job.Payload})
	if err == nil {
		err = b.workerSock.Send(workerID, body)
	}
	if err != nil {
		// Known limitation: a job whose send fails is dropped, not re-queued
		b.mutex.Lock()
		b.stats.DispatchErrors++
		b.mutex.Unlock()
		b.forget(job.JobID)

		b.logger.Error().
			Err(err).
			Str("worker_id", workerID).
			Str("job_id", job.JobID).
			Msg("Job failed to dispatch")
		return
	}

	b.workers.SetStatus(workerID, PeerBusy)

	b.mutex.Lock()
	b.stats.Dispatched++
	if entry, ok := b.inflight[job.JobID]; ok {
		entry.worker = workerID
	}
	b.mutex.Unlock()

	b.logger.Debug().
		Str("worker_id", workerID).
		Str("job_id", job.JobID).
		Msg("Job dispatched to worker")
}

func (b *Broker) resultLoop(ctx context.Context) {
	for {
		select {
		case <-b.resultQueue.Updates():
			b.drainResults()
		case <-ctx.Done():
			return
		}
	}
}

// drainResults relays queued results while some client can take them
func (b *Broker) drainResults() {
	for b.resultQueue.Len() > 0 {
		result, err := b.resultQueue.Peek()
		if err != nil {
			return
		}

		clientID, err := b.resultTarget(result.Job)
		if err != nil {
			b.logger.Debug().
				Str("job_id", result.Job).
				Msg("No ready clients - results stay queued")
			return
		}

		if _, err := b.resultQueue.Pop(); err != nil {
			return
		}
		b.relay(clientID, result)
	}
}

// resultTarget prefers the submitting client and falls back to a random
// Ready client when the origin is unknown or gone
func (b *Broker) resultTarget(jobID string) (string, error) {
	b.mutex.RLock()
	entry, ok := b.inflight[jobID]
	b.mutex.RUnlock()

	if ok && entry.origin != "" && b.clients.Known(entry.origin) {
		return entry.origin, nil
	}
	return b.clients.Select()
}

func (b *Broker) relay(clientID string, result *ResultEnvelope) {
	if result.LifeCycle.IsTerminal() {
		b.forget(result.Job)
	}

	body, err := Encode(result.Lifecycle())
	if err == nil {
		err = b.clientSock.Send(clientID, body)
	}
	if err != nil {
		b.mutex.Lock()
		b.stats.RelayErrors++
		b.mutex.Unlock()

		b.logger.Error().
			Err(err).
			Str("client_id", clientID).
			Str("job_id", result.Job).
			Msg("Failed to relay result to client")
		return
	}

	b.mutex.Lock()
	b.stats.Relayed++
	b.mutex.Unlock()

	b.logger.Debug().
		Str("client_id", clientID).
		Str("job_id", result.Job).
		Str("life_cycle", string(result.LifeCycle)).
		Msg("Result relayed to client")
}

func (b *Broker) forget(jobID string) {
	b.mutex.Lock()
	delete(b.inflight, jobID)
	b.mutex.Unlock()
}

var probeBody = []byte(`{"heartbeat":true}`)

func (b *Broker) probeClient(identity string) error {
	return b.clientSock.Send(identity, probeBody)
}

func (b *Broker) probeWorker(identity string) error {
	return b.workerSock.Send(identity, probeBody)
}

func (b *Broker) evictClient(identity string) {
	b.mutex.Lock()
	b.stats.Evictions++
	b.mutex.Unlock()

	b.logger.Info().Str("client_id", identity).Msg("Client removed")
}

// evictWorker fails every job the evicted worker was running, so their
// clients see a terminal state instead of silence
func (b *Broker) evictWorker(identity string) {
	b.mutex.Lock()
	b.stats.Evictions++
	lost := make([]string, 0)
	for jobID, entry := range b.inflight {
		if entry.worker == identity {
			lost = append(lost, jobID)
		}
	}
	b.mutex.Unlock()

	b.logger.Info().
		Str("worker_id", identity).
		Int("lost_jobs", len(lost)).
		Msg("Worker removed")

	for _, jobID := range lost {
		failed, err := FormattedReturn("broker", jobID, ErrorBody{Error: "worker evicted: " + identity}, PeerBusy, LifeCycleFailed)
		if err != nil {
			continue
		}
		if err := b.resultQueue.Push(ResultFromLifecycle(identity, failed)); err != nil {
			b.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to queue eviction result")
		}
	}
}

// Stats returns broker statistics
func (b *Broker) Stats() *BrokerStats {
	b.mutex.RLock()
	stats := *b.stats
	stats.InFlight = len(b.inflight)
	b.mutex.RUnlock()

	stats.Clients = b.clients.Len()
	stats.Workers = b.workers.Len()
	stats.JobsQueued = b.jobQueue.Len()
	stats.ResultsQueued = b.resultQueue.Len()
	return &stats
}

// Clients returns the client registry in discovery order
func (b *Broker) Clients() []PeerRecord {
	return b.clients.Snapshot()
}

// Workers returns the worker registry in discovery order
func (b *Broker) Workers() []PeerRecord {
	return b.workers.Snapshot()
}

// JobQueueLen returns the number of jobs waiting for a worker
func (b *Broker) JobQueueLen() int {
	return b.jobQueue.Len()
}

// ResultQueueLen returns the number of results waiting for a client
func (b *Broker) ResultQueueLen() int {
	return b.resultQueue.Len()
}

// Config returns the broker configuration
func (b *Broker) Config() BrokerConfig {
	return b.config
}
