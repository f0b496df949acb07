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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one decoded frame body. The set of implementations is closed:
// *Heartbeat, *Submit and *Lifecycle.
type Message interface {
	isMessage()
}

// Heartbeat is both the broker's probe ({"heartbeat":true}) and the node's
// liveness answer, which also carries its routing id and status.
type Heartbeat struct {
	Heartbeat bool       `json:"heartbeat"`
	RouterID  string     `json:"routerId,omitempty"`
	Status    PeerStatus `json:"status,omitempty"`
}

// Submit carries a job payload from a client. The broker echoes it back to
// the client, with Job filled in, as the submission acknowledgement.
type Submit struct {
	Job     string          `json:"job,omitempty"`
	Message json.RawMessage `json:"message"`
}

// Lifecycle reports a job state change, with the job output once finished
type Lifecycle struct {
	Node      string          `json:"node"`
	Job       string          `json:"job"`
	Message   json.RawMessage `json:"message,omitempty"`
	Status    PeerStatus      `json:"status"`
	LifeCycle LifeCycle       `json:"lifeCycle,omitempty"`
}

func (*Heartbeat) isMessage() {}
func (*Submit) isMessage()    {}
func (*Lifecycle) isMessage() {}

// wireShape is the union of every field any variant may carry
type wireShape struct {
	Heartbeat bool            `json:"heartbeat"`
	RouterID  string          `json:"routerId"`
	Node      *string         `json:"node"`
	Job       string          `json:"job"`
	Message   json.RawMessage `json:"message"`
	Status    PeerStatus      `json:"status"`
	LifeCycle LifeCycle       `json:"lifeCycle"`
}

// Encode serializes a message to its single-line JSON frame body
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Heartbeat:
		out := *m
		out.Heartbeat = true
		return json.Marshal(&out)
	case *Submit:
		if len(m.Message) == 0 {
			return nil, fmt.Errorf("submit message requires a payload")
		}
		return json.Marshal(m)
	case *Lifecycle:
		if m.Job == "" {
			return nil, fmt.Errorf("lifecycle message requires a job id")
		}
		return json.Marshal(m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}
}

// Decode classifies a frame body into exactly one message variant
func Decode(data []byte) (Message, error) {
	var shape wireShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	switch {
	case shape.Heartbeat:
		return &Heartbeat{Heartbeat: true, RouterID: shape.RouterID, Status: shape.Status}, nil
	case shape.LifeCycle != "" || shape.Node != nil:
		if shape.Job == "" {
			return nil, fmt.Errorf("%w: lifecycle frame without job id", ErrUnknownMessage)
		}
		if shape.LifeCycle != "" && !shape.LifeCycle.Valid() {
			return nil, fmt.Errorf("%w: unknown lifecycle %q", ErrUnknownMessage, shape.LifeCycle)
		}
		node := ""
		if shape.Node != nil {
			node = *shape.Node
		}
		return &Lifecycle{
			Node:      node,
			Job:       shape.Job,
			Message:   shape.Message,
			Status:    shape.Status,
			LifeCycle: shape.LifeCycle,
		}, nil
	case len(shape.Message) > 0 && !bytes.Equal(shape.Message, []byte("null")):
		return &Submit{Job: shape.Job, Message: shape.Message}, nil
	default:
		return nil, ErrUnknownMessage
	}
}

// JobEnvelope is one unit of work held by the broker
type JobEnvelope struct {
	JobID          string
	OriginIdentity string
	Payload        json.RawMessage
	LifeCycle      LifeCycle
	EnqueuedAt     time.Time
}

// ResultEnvelope carries a job outcome back towards the client that submitted it
type ResultEnvelope struct {
	Node           string          `json:"node"`
	Job            string          `json:"job"`
	Message        json.RawMessage `json:"message,omitempty"`
	Status         PeerStatus      `json:"status"`
	LifeCycle      LifeCycle       `json:"lifeCycle,omitempty"`
	WorkerIdentity string          `json:"-"`
}

// NewJobEnvelope wraps a decoded submission from origin, assigning a job id
// when the client did not supply one
func NewJobEnvelope(origin string, msg *Submit) *JobEnvelope {
	jobID := msg.Job
	if jobID == "" {
		jobID = GenerateJobID()
	}
	return &JobEnvelope{
		JobID:          jobID,
		OriginIdentity: origin,
		Payload:        msg.Message,
		LifeCycle:      LifeCycleInQueue,
		EnqueuedAt:     time.Now(),
	}
}

// ResultFromLifecycle wraps a worker's lifecycle frame for the return trip
func ResultFromLifecycle(worker string, msg *Lifecycle) *ResultEnvelope {
	return &ResultEnvelope{
		Node:           msg.Node,
		Job:            msg.Job,
		Message:        msg.Message,
		Status:         msg.Status,
		LifeCycle:      msg.LifeCycle,
		WorkerIdentity: worker,
	}
}

// Lifecycle converts the envelope back into its wire form
func (r *ResultEnvelope) Lifecycle() *Lifecycle {
	return &Lifecycle{
		Node:      r.Node,
		Job:       r.Job,
		Message:   r.Message,
		Status:    r.Status,
		LifeCycle: r.LifeCycle,
	}
}

// FormattedReturn builds the lifecycle frame a worker sends for a job
func FormattedReturn(node, job string, body interface{}, status PeerStatus, lifeCycle LifeCycle) (*Lifecycle, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job output: %w", err)
	}
	return &Lifecycle{
		Node:      node,
		Job:       job,
		Message:   raw,
		Status:    status,
		LifeCycle: lifeCycle,
	}, nil
}

// ErrorBody is the message carried by a Failed lifecycle frame
type ErrorBody struct {
	Error string `json:"error"`
}

// GenerateJobID generates a broker-unique job id
func GenerateJobID() string {
	return uuid.NewString()
}

// GenerateIdentity generates a routing identity for a node agent
func GenerateIdentity(role string) string {
	return fmt.Sprintf("%s-%s", role, uuid.NewString())
}
