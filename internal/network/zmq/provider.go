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

package zmq

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
	"joblb/internal/logger"
	"joblb/internal/network"
)

const (
	defaultPollInterval = 10 * time.Millisecond
	defaultHighWater    = 1000
	inboundBuffer       = 1024
)

// Transport creates ZeroMQ ROUTER (bind) and DEALER (connect) sockets
type Transport struct {
	PollInterval time.Duration
	HighWater    int
}

// NewTransport creates a ZeroMQ transport with default socket options
func NewTransport() *Transport {
	return &Transport{
		PollInterval: defaultPollInterval,
		HighWater:    defaultHighWater,
	}
}

// Name returns the transport name
func (t *Transport) Name() string {
	return "zmq"
}

// NewRouter creates an unbound ROUTER socket wrapper
func (t *Transport) NewRouter() (network.Router, error) {
	return &Router{
		transport: t,
		logger:    logger.GetLogger("network.zmq.router"),
	}, nil
}

// NewDealer creates an unconnected DEALER socket wrapper
func (t *Transport) NewDealer(identity string) (network.Dealer, error) {
	if identity == "" {
		return nil, fmt.Errorf("dealer identity is required")
	}
	return &Dealer{
		transport: t,
		identity:  identity,
		logger:    logger.GetLogger("network.zmq.dealer"),
	}, nil
}

type sendRequest struct {
	parts  []interface{}
	result chan error
}

// owner serializes every operation on one ZeroMQ socket through a single
// goroutine; zmq4 sockets must not be used concurrently.
type owner struct {
	socket   *zmq4.Socket
	interval time.Duration
	sends    chan sendRequest
	inbound  chan [][]byte
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	logger   zerolog.Logger
}

func newOwner(socket *zmq4.Socket, interval time.Duration, log zerolog.Logger) *owner {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &owner{
		socket:   socket,
		interval: interval,
		sends:    make(chan sendRequest),
		inbound:  make(chan [][]byte, inboundBuffer),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   log,
	}
}

func (o *owner) run() {
	defer close(o.stopped)
	defer func() {
		if err := o.socket.Close(); err != nil {
			o.logger.Error().Err(err).Msg("Error closing socket")
		}
	}()

	poller := zmq4.NewPoller()
	poller.Add(o.socket, zmq4.POLLIN)

	for {
		select {
		case <-o.done:
			return
		default:
		}

		o.drainSends()

		polled, err := poller.Poll(o.interval)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EINTR) {
				continue
			}
			o.logger.Error().Err(err).Msg("Failed to poll socket")
			return
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := o.socket.RecvMessageBytes(zmq4.DONTWAIT)
		if err != nil {
			if zmq4.AsErrno(err) != zmq4.Errno(syscall.EAGAIN) {
				o.logger.Error().Err(err).Msg("Failed to receive message")
			}
			continue
		}

		if !o.deliver(msg) {
			return
		}
	}
}

// deliver hands msg to the reader while still serving sends, so a reader
// that replies from its receive loop cannot deadlock the socket.
func (o *owner) deliver(msg [][]byte) bool {
	for {
		select {
		case o.inbound <- msg:
			return true
		case req := <-o.sends:
			req.result <- o.sendNow(req.parts)
		case <-o.done:
			return false
		}
	}
}

func (o *owner) drainSends() {
	for {
		select {
		case req := <-o.sends:
			req.result <- o.sendNow(req.parts)
		default:
			return
		}
	}
}

func (o *owner) sendNow(parts []interface{}) error {
	if _, err := o.socket.SendMessageDontwait(parts...); err != nil {
		switch zmq4.AsErrno(err) {
		case zmq4.Errno(syscall.EHOSTUNREACH):
			return network.ErrUnknownPeer
		case zmq4.Errno(syscall.EAGAIN):
			return network.ErrSendBusy
		}
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (o *owner) send(parts ...interface{}) error {
	req := sendRequest{parts: parts, result: make(chan error, 1)}
	select {
	case o.sends <- req:
	case <-o.done:
		return network.ErrSocketClosed
	case <-o.stopped:
		return network.ErrSocketClosed
	}
	select {
	case err := <-req.result:
		return err
	case <-o.stopped:
		return network.ErrSocketClosed
	}
}

func (o *owner) recv(ctx context.Context) ([][]byte, error) {
	select {
	case msg := <-o.inbound:
		return msg, nil
	case <-o.stopped:
		return nil, network.ErrSocketClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *owner) close() {
	o.once.Do(func() {
		close(o.done)
	})
	<-o.stopped
}

func applyCommonOptions(socket *zmq4.Socket, highWater int) error {
	if err := socket.SetLinger(time.Second); err != nil {
		return fmt.Errorf("failed to set linger: %w", err)
	}
	if err := socket.SetRcvhwm(highWater); err != nil {
		return fmt.Errorf("failed to set receive high watermark: %w", err)
	}
	if err := socket.SetSndhwm(highWater); err != nil {
		return fmt.Errorf("failed to set send high watermark: %w", err)
	}
	return nil
}

// Router wraps a ZeroMQ ROUTER socket
type Router struct {
	transport *Transport
	owner     *owner
	logger    zerolog.Logger
}

// Bind creates the ROUTER socket and binds it to endpoint
func (r *Router) Bind(endpoint string) error {
	if r.owner != nil {
		return fmt.Errorf("router already bound")
	}

	socket, err := zmq4.NewSocket(zmq4.ROUTER)
	if err != nil {
		return fmt.Errorf("failed to create ROUTER socket: %w", err)
	}

	defer func() {
		if err != nil {
			socket.Close()
		}
	}()

	if err = applyCommonOptions(socket, r.transport.HighWater); err != nil {
		return err
	}

	// Fail sends to unknown identities instead of dropping them
	if err = socket.SetRouterMandatory(1); err != nil {
		return fmt.Errorf("failed to set router mandatory: %w", err)
	}

	if err = socket.Bind(endpoint); err != nil {
		return fmt.Errorf("failed to bind to address: %w", err)
	}

	r.owner = newOwner(socket, r.transport.PollInterval, r.logger)
	go r.owner.run()

	r.logger.Info().Str("endpoint", endpoint).Msg("ROUTER socket bound")
	return nil
}

// Recv returns the next (identity, body) frame pair
func (r *Router) Recv(ctx context.Context) (network.Frame, error) {
	if r.owner == nil {
		return network.Frame{}, network.ErrSocketClosed
	}

	for {
		msg, err := r.owner.recv(ctx)
		if err != nil {
			return network.Frame{}, err
		}
		if len(msg) < 2 {
			r.logger.Warn().
				Int("parts_count", len(msg)).
				Msg("Received malformed message (insufficient parts)")
			continue
		}
		// Payload is the last part; REQ-style peers insert an empty delimiter
		return network.Frame{Identity: string(msg[0]), Body: msg[len(msg)-1]}, nil
	}
}

// Send routes body to identity
func (r *Router) Send(identity string, body []byte) error {
	if r.owner == nil {
		return network.ErrSocketClosed
	}
	if err := r.owner.send(identity, body); err != nil {
		return fmt.Errorf("send to %s: %w", identity, err)
	}
	return nil
}

// Close closes the ROUTER socket
func (r *Router) Close() error {
	if r.owner != nil {
		r.owner.close()
	}
	return nil
}

// Dealer wraps a ZeroMQ DEALER socket
type Dealer struct {
	transport *Transport
	identity  string
	owner     *owner
	logger    zerolog.Logger
}

// Identity returns the routing identity set on the socket
func (d *Dealer) Identity() string {
	return d.identity
}

// Connect creates the DEALER socket and connects it to endpoint
func (d *Dealer) Connect(endpoint string) error {
	if d.owner != nil {
		return fmt.Errorf("dealer already connected")
	}

	socket, err := zmq4.NewSocket(zmq4.DEALER)
	if err != nil {
		return fmt.Errorf("failed to create DEALER socket: %w", err)
	}

	defer func() {
		if err != nil {
			socket.Close()
		}
	}()

	if err = socket.SetIdentity(d.identity); err != nil {
		return fmt.Errorf("failed to set socket identity: %w", err)
	}

	if err = applyCommonOptions(socket, d.transport.HighWater); err != nil {
		return err
	}

	if err = socket.Connect(endpoint); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	d.owner = newOwner(socket, d.transport.PollInterval, d.logger)
	go d.owner.run()

	d.logger.Info().
		Str("endpoint", endpoint).
		Str("identity", d.identity).
		Msg("DEALER socket connected")
	return nil
}

// Recv returns the next frame body from the router
func (d *Dealer) Recv(ctx context.Context) ([]byte, error) {
	if d.owner == nil {
		return nil, network.ErrSocketClosed
	}

	for {
		msg, err := d.owner.recv(ctx)
		if err != nil {
			return nil, err
		}
		if len(msg) == 0 {
			continue
		}
		return msg[len(msg)-1], nil
	}
}

// Send hands body to the socket for delivery to the router
func (d *Dealer) Send(body []byte) error {
	if d.owner == nil {
		return network.ErrSocketClosed
	}
	return d.owner.send(body)
}

// Close closes the DEALER socket
func (d *Dealer) Close() error {
	if d.owner != nil {
		d.owner.close()
	}
	return nil
}

var (
	_ network.Transport = (*Transport)(nil)
	_ network.Router    = (*Router)(nil)
	_ network.Dealer    = (*Dealer)(nil)
)
