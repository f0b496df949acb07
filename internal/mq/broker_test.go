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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"joblb/internal/network"
	"joblb/internal/network/memory"
)

const (
	testClientBind    = "tcp://*:8765"
	testWorkerBind    = "tcp://*:8766"
	testClientConnect = "tcp://localhost:8765"
	testWorkerConnect = "tcp://localhost:8766"
)

// quietHeartbeat never probes within a test's lifetime
func quietHeartbeat() HeartbeatConfig {
	return HeartbeatConfig{
		Interval:    time.Minute,
		BaseTimeout: time.Minute,
		GracePeriod: time.Minute,
		MaxRetries:  DefaultMaxRetries,
	}
}

func testBrokerConfig(hb HeartbeatConfig) BrokerConfig {
	return BrokerConfig{
		ClientEndpoint: testClientBind,
		WorkerEndpoint: testWorkerBind,
		Heartbeat:      hb,
		PollInterval:   10 * time.Millisecond,
	}
}

func startBroker(t *testing.T, net *memory.Network, config BrokerConfig) *Broker {
	t.Helper()
	b := NewBroker(net, config)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Stop() })
	return b
}

func rawDealer(t *testing.T, net *memory.Network, identity, endpoint string) network.Dealer {
	t.Helper()
	d, err := net.NewDealer(identity)
	require.NoError(t, err)
	require.NoError(t, d.Connect(endpoint))
	t.Cleanup(func() { d.Close() })
	return d
}

func sendMessage(t *testing.T, d network.Dealer, msg Message) {
	t.Helper()
	body, err := Encode(msg)
	require.NoError(t, err)
	require.NoError(t, d.Send(body))
}

func recvMessage(t *testing.T, d network.Dealer) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	body, err := d.Recv(ctx)
	require.NoError(t, err)
	msg, err := Decode(body)
	require.NoError(t, err)
	return msg
}

// recvNonHeartbeat skips probes until a job or lifecycle frame arrives
func recvNonHeartbeat(t *testing.T, d network.Dealer) Message {
	t.Helper()
	for {
		msg := recvMessage(t, d)
		if _, ok := msg.(*Heartbeat); !ok {
			return msg
		}
	}
}

func TestBrokerStartFailsWhenEndpointTaken(t *testing.T) {
	net := memory.NewNetwork()
	startBroker(t, net, testBrokerConfig(quietHeartbeat()))

	second := NewBroker(net, testBrokerConfig(quietHeartbeat()))
	assert.Error(t, second.Start(context.Background()))
}

func TestBrokerStopWithoutStart(t *testing.T) {
	b := NewBroker(memory.NewNetwork(), testBrokerConfig(quietHeartbeat()))
	assert.NoError(t, b.Stop())
}

func TestBrokerDiscoversPeers(t *testing.T) {
	net := memory.NewNetwork()
	b := startBroker(t, net, testBrokerConfig(quietHeartbeat()))

	client := rawDealer(t, net, "client-a", testClientConnect)
	worker := rawDealer(t, net, "worker-a", testWorkerConnect)
	sendMessage(t, client, &Heartbeat{RouterID: "client-a"})
	sendMessage(t, worker, &Heartbeat{RouterID: "worker-a"})

	require.Eventually(t, func() bool {
		return len(b.Clients()) == 1 && len(b.Workers()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "client-a", b.Clients()[0].Identity)
	assert.Equal(t, "worker-a", b.Workers()[0].Identity)
	assert.Equal(t, PeerReady, b.Workers()[0].Status)
	assert.Equal(t, 2, b.Stats().HeartbeatsReceived)
}

func TestBrokerAcksAndDispatches(t *testing.T) {
	net := memory.NewNetwork()
	b := startBroker(t, net, testBrokerConfig(quietHeartbeat()))

	worker := rawDealer(t, net, "worker-a", testWorkerConnect)
	sendMessage(t, worker, &Heartbeat{RouterID: "worker-a"})
	require.Eventually(t, func() bool { return len(b.Workers()) == 1 }, time.Second, 5*time.Millisecond)

	client := rawDealer(t, net, "client-a", testClientConnect)
	sendMessage(t, client, &Submit{Job: "J1", Message: json.RawMessage(`"Q1"`)})

	ack, ok := recvMessage(t, client).(*Submit)
	require.True(t, ok, "expected submission echo")
	assert.Equal(t, "J1", ack.Job)
	assert.Equal(t, `"Q1"`, string(ack.Message))

	job, ok := recvNonHeartbeat(t, worker).(*Submit)
	require.True(t, ok)
	assert.Equal(t, "J1", job.Job)
	assert.Equal(t, `"Q1"`, string(job.Message))

	require.Eventually(t, func() bool { return b.Workers()[0].Status == PeerBusy }, time.Second, 5*time.Millisecond)

	// Worker reports back and the result is routed to the submitting client
	sendMessage(t, worker, &Lifecycle{Node: "n1", Job: "J1", Status: PeerBusy, LifeCycle: LifeCycleInProgress})
	sendMessage(t, worker, &Lifecycle{Node: "n1", Job: "J1", Message: json.RawMessage(`"R1"`), Status: PeerReady, LifeCycle: LifeCycleFinished})

	first, ok := recvNonHeartbeat(t, client).(*Lifecycle)
	require.True(t, ok)
	assert.Equal(t, LifeCycleInProgress, first.LifeCycle)

	second, ok := recvNonHeartbeat(t, client).(*Lifecycle)
	require.True(t, ok)
	assert.Equal(t, LifeCycleFinished, second.LifeCycle)
	assert.Equal(t, "n1", second.Node)
	assert.Equal(t, `"R1"`, string(second.Message))

	require.Eventually(t, func() bool { return b.Stats().InFlight == 0 }, time.Second, 5*time.Millisecond)
	stats := b.Stats()
	assert.Equal(t, 1, stats.Submissions)
	assert.Equal(t, 1, stats.Dispatched)
	assert.Equal(t, 2, stats.Relayed)
}

func TestBrokerAssignsJobID(t *testing.T) {
	net := memory.NewNetwork()
	startBroker(t, net, testBrokerConfig(quietHeartbeat()))

	client := rawDealer(t, net, "client-a", testClientConnect)
	sendMessage(t, client, &Submit{Message: json.RawMessage(`{"kind":"echo"}`)})

	ack, ok := recvMessage(t, client).(*Submit)
	require.True(t, ok)
	assert.NotEmpty(t, ack.Job)
}

func TestBrokerHoldsJobsWithoutWorkers(t *testing.T) {
	net := memory.NewNetwork()
	b := startBroker(t, net, testBrokerConfig(quietHeartbeat()))

	client := rawDealer(t, net, "client-a", testClientConnect)
	sendMessage(t, client, &Submit{Job: "J1", Message: json.RawMessage(`"Q1"`)})
	recvMessage(t, client)

	require.Eventually(t, func() bool { return b.JobQueueLen() == 1 }, time.Second, 5*time.Millisecond)

	// Several poll ticks later the job is still waiting
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, b.JobQueueLen())

	worker := rawDealer(t, net, "worker-late", testWorkerConnect)
	sendMessage(t, worker, &Heartbeat{RouterID: "worker-late"})

	job, ok := recvNonHeartbeat(t, worker).(*Submit)
	require.True(t, ok)
	assert.Equal(t, "J1", job.Job)
	assert.Equal(t, 0, b.JobQueueLen())
}

func TestBrokerRejectsWhenQueueFull(t *testing.T) {
	net := memory.NewNetwork()
	config := testBrokerConfig(quietHeartbeat())
	config.MaxQueueLength = 1
	b := startBroker(t, net, config)

	client := rawDealer(t, net, "client-a", testClientConnect)
	sendMessage(t, client, &Submit{Job: "J1", Message: json.RawMessage(`"Q1"`)})
	_, ok := recvMessage(t, client).(*Submit)
	require.True(t, ok)

	sendMessage(t, client, &Submit{Job: "J2", Message: json.RawMessage(`"Q2"`)})
	failed, ok := recvMessage(t, client).(*Lifecycle)
	require.True(t, ok)
	assert.Equal(t, "J2", failed.Job)
	assert.Equal(t, LifeCycleFailed, failed.LifeCycle)
	assert.JSONEq(t, `{"error":"job queue full"}`, string(failed.Message))

	assert.Equal(t, 1, b.JobQueueLen())
	assert.Equal(t, 1, b.Stats().Rejected)
}

func TestBrokerDropsUndecodableFrames(t *testing.T) {
	net := memory.NewNetwork()
	b := startBroker(t, net, testBrokerConfig(quietHeartbeat()))

	client := rawDealer(t, net, "client-a", testClientConnect)
	require.NoError(t, client.Send([]byte("not json")))

	require.Eventually(t, func() bool { return b.Stats().DecodeErrors == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, b.Clients(), "undecodable frame must not register a new peer")

	sendMessage(t, client, &Heartbeat{})
	require.Eventually(t, func() bool { return len(b.Clients()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Send([]byte(`{"unrelated":1}`)))
	require.Eventually(t, func() bool { return b.Stats().DecodeErrors == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, b.Clients()[0].Frames)
}

func TestBrokerRoutesOrphanResultToReadyClient(t *testing.T) {
	net := memory.NewNetwork()
	startBroker(t, net, testBrokerConfig(quietHeartbeat()))

	client := rawDealer(t, net, "client-a", testClientConnect)
	sendMessage(t, client, &Heartbeat{})

	worker := rawDealer(t, net, "worker-a", testWorkerConnect)
	sendMessage(t, worker, &Lifecycle{Node: "n1", Job: "unknown", Message: json.RawMessage(`"R"`), Status: PeerReady, LifeCycle: LifeCycleFinished})

	result, ok := recvNonHeartbeat(t, client).(*Lifecycle)
	require.True(t, ok)
	assert.Equal(t, "unknown", result.Job)
}

func TestBrokerHoldsResultsWithoutClients(t *testing.T) {
	net := memory.NewNetwork()
	b := startBroker(t, net, testBrokerConfig(quietHeartbeat()))

	worker := rawDealer(t, net, "worker-a", testWorkerConnect)
	sendMessage(t, worker, &Lifecycle{Node: "n1", Job: "J9", Status: PeerReady, LifeCycle: LifeCycleFinished})
	require.Eventually(t, func() bool { return b.ResultQueueLen() == 1 }, time.Second, 5*time.Millisecond)

	client := rawDealer(t, net, "client-a", testClientConnect)
	sendMessage(t, client, &Heartbeat{})

	result, ok := recvNonHeartbeat(t, client).(*Lifecycle)
	require.True(t, ok)
	assert.Equal(t, "J9", result.Job)
}

func TestBrokerEvictsSilentWorker(t *testing.T) {
	net := memory.NewNetwork()
	hb := HeartbeatConfig{
		Interval:    10 * time.Millisecond,
		BaseTimeout: 2 * time.Millisecond,
		GracePeriod: 2 * time.Millisecond,
		MaxRetries:  2,
	}
	b := startBroker(t, net, testBrokerConfig(hb))

	worker := rawDealer(t, net, "worker-silent", testWorkerConnect)
	sendMessage(t, worker, &Heartbeat{RouterID: "worker-silent"})

	require.Eventually(t, func() bool { return b.Stats().Evictions == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, b.Workers())

	probes := 0
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		body, err := worker.Recv(ctx)
		cancel()
		if err != nil {
			break
		}
		msg, err := Decode(body)
		require.NoError(t, err)
		require.IsType(t, &Heartbeat{}, msg)
		probes++
	}
	assert.Equal(t, hb.MaxRetries+1, probes)

	// Jobs submitted after the eviction are never routed to the old identity
	client := rawDealer(t, net, "client-after", testClientConnect)
	sendMessage(t, client, &Submit{Job: "J-after", Message: json.RawMessage(`"Q"`)})
	require.Eventually(t, func() bool { return b.Stats().Submissions == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := worker.Recv(ctx)
	assert.Error(t, err, "evicted worker must receive nothing")
	assert.Equal(t, 1, b.JobQueueLen())
	assert.Zero(t, b.Stats().Dispatched)
}

func TestBrokerFailsJobsOfEvictedWorker(t *testing.T) {
	net := memory.NewNetwork()
	hb := HeartbeatConfig{
		Interval:    20 * time.Millisecond,
		BaseTimeout: 5 * time.Millisecond,
		GracePeriod: 5 * time.Millisecond,
		MaxRetries:  2,
	}
	b := startBroker(t, net, testBrokerConfig(hb))

	worker := rawDealer(t, net, "worker-silent", testWorkerConnect)
	sendMessage(t, worker, &Heartbeat{RouterID: "worker-silent"})
	require.Eventually(t, func() bool { return len(b.Workers()) == 1 }, time.Second, time.Millisecond)

	failed := make(chan *ResultEnvelope, 1)
	c := NewClient(net, NodeConfig{Endpoint: testClientConnect, Node: "producer"},
		ResultHandlerFunc(func(ctx context.Context, result *ResultEnvelope) error {
			if result.LifeCycle == LifeCycleFailed {
				failed <- result
			}
			return nil
		}))
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	_, err := c.Submit(context.Background(), "J1", "Q1")
	require.NoError(t, err)

	select {
	case result := <-failed:
		assert.Equal(t, "J1", result.Job)
		assert.Contains(t, string(result.Message), "worker evicted")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a Failed lifecycle for the evicted worker's job")
	}

	st, ok := c.Status("J1")
	require.True(t, ok)
	assert.Equal(t, LifeCycleFailed, st)
	assert.Empty(t, b.Workers())
	assert.Len(t, b.Clients(), 1, "answering client stays registered")
}
