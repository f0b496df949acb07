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
	"encoding/json"
	"fmt"
	"time"

	"joblb/internal/network"
)

// JobFunc executes one job payload and returns its result. A returned error
// is reported to the client as a Failed lifecycle.
type JobFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// WorkerStats represents worker statistics
type WorkerStats struct {
	JobsHandled int        `json:"jobs_handled"`
	JobsFailed  int        `json:"jobs_failed"`
	LastJob     time.Time  `json:"last_job"`
	StartTime   time.Time  `json:"start_time"`
	State       PeerStatus `json:"state"`
}

// Worker is the node agent that executes jobs. Jobs are buffered in a local
// queue and run one at a time; heartbeat probes are answered by the receive
// loop even while a job is running.
type Worker struct {
	*agent
	exec  JobFunc
	queue *EventQueue[*JobEnvelope]
	stats WorkerStats
}

// NewWorker creates a worker agent that runs every job through exec
func NewWorker(transport network.Transport, config NodeConfig, exec JobFunc) *Worker {
	a := newAgent("worker", transport, config)
	return &Worker{
		agent: a,
		exec:  exec,
		queue: NewEventQueue[*JobEnvelope]("worker-jobs", a.config.PollInterval, 0),
		stats: WorkerStats{
			StartTime: time.Now(),
			State:     PeerReady,
		},
	}
}

// Start connects to the broker's worker endpoint and starts processing
func (w *Worker) Start(ctx context.Context) error {
	if w.exec == nil {
		return fmt.Errorf("worker has no job function")
	}
	if err := w.connect(ctx); err != nil {
		return err
	}

	w.spawn(func(ctx context.Context) {
		w.receive(ctx, w.handleMessage)
	})
	w.spawn(w.queue.Run)
	w.spawn(w.processLoop)

	w.logger.Info().Str("node", w.config.Node).Msg("Worker ready for jobs")
	return nil
}

// Stop closes the worker socket. A job that is running sees its context
// cancelled; queued jobs are abandoned.
func (w *Worker) Stop() error {
	w.logger.Info().Int("abandoned", w.queue.Len()).Msg("Stopping worker")
	return w.stop()
}

// Stats returns worker statistics
func (w *Worker) Stats() WorkerStats {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	stats := w.stats
	stats.State = w.status
	return stats
}

// QueueLen returns the number of jobs buffered locally
func (w *Worker) QueueLen() int {
	return w.queue.Len()
}

func (w *Worker) handleMessage(msg Message) {
	submit, ok := msg.(*Submit)
	if !ok {
		w.logger.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("Unexpected message from broker")
		return
	}

	job := NewJobEnvelope("", submit)
	w.logger.Info().Str("job_id", job.JobID).Msg("Received job")
	if err := w.queue.Push(job); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.JobID).Msg("Failed to buffer job")
	}
}

func (w *Worker) processLoop(ctx context.Context) {
	for {
		select {
		case <-w.queue.Updates():
			for ctx.Err() == nil {
				job, err := w.queue.Pop()
				if err != nil {
					break
				}
				w.process(ctx, job)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, job *JobEnvelope) {
	w.setStatus(PeerBusy)
	w.report(&Lifecycle{
		Node:      w.config.Node,
		Job:       job.JobID,
		Status:    PeerBusy,
		LifeCycle: LifeCycleInProgress,
	})

	result, err := w.execute(ctx, job.Payload)

	w.mutex.Lock()
	w.stats.JobsHandled++
	w.stats.LastJob = time.Now()
	if err != nil {
		w.stats.JobsFailed++
	}
	w.mutex.Unlock()
	w.setStatus(PeerReady)

	var frame *Lifecycle
	var ferr error
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Job failed")
		frame, ferr = FormattedReturn(w.config.Node, job.JobID, ErrorBody{Error: err.Error()}, PeerReady, LifeCycleFailed)
	} else {
		w.logger.Info().Str("job_id", job.JobID).Msg("Job finished")
		frame, ferr = FormattedReturn(w.config.Node, job.JobID, result, PeerReady, LifeCycleFinished)
	}
	if ferr != nil {
		// Unmarshalable result
		frame, _ = FormattedReturn(w.config.Node, job.JobID, ErrorBody{Error: ferr.Error()}, PeerReady, LifeCycleFailed)
	}
	w.report(frame)
}

// execute runs the job function, turning a panic into a job failure
func (w *Worker) execute(ctx context.Context, payload json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.exec(ctx, payload)
}

func (w *Worker) report(frame *Lifecycle) {
	if frame == nil {
		return
	}
	if err := w.send(frame); err != nil {
		w.logger.Error().
			Err(err).
			Str("job_id", frame.Job).
			Str("life_cycle", string(frame.LifeCycle)).
			Msg("Failed to report job state")
	}
}
