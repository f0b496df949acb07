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

// Package memory is an in-process transport with the same identity-addressed
// semantics as the ZeroMQ transport. Routers and dealers created from the
// same Network find each other by endpoint.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"joblb/internal/network"
)

const defaultBuffer = 1024

// Network is an in-process switchboard connecting routers and dealers
type Network struct {
	routers map[string]*Router
	buffer  int
	mutex   sync.RWMutex
}

// NewNetwork creates an empty in-process network
func NewNetwork() *Network {
	return &Network{
		routers: make(map[string]*Router),
		buffer:  defaultBuffer,
	}
}

// Name returns the transport name
func (n *Network) Name() string {
	return "memory"
}

// NewRouter creates an unbound router
func (n *Network) NewRouter() (network.Router, error) {
	return &Router{
		net:     n,
		inbound: make(chan network.Frame, n.buffer),
		peers:   make(map[string]*Dealer),
		done:    make(chan struct{}),
	}, nil
}

// NewDealer creates an unconnected dealer with the given identity
func (n *Network) NewDealer(identity string) (network.Dealer, error) {
	if identity == "" {
		return nil, fmt.Errorf("dealer identity is required")
	}
	return &Dealer{
		net:      n,
		identity: identity,
		inbound:  make(chan []byte, n.buffer),
		done:     make(chan struct{}),
	}, nil
}

// endpointKey ignores the host part so that "tcp://*:8765" and
// "tcp://localhost:8765" name the same router.
func endpointKey(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Port() == "" {
		return "", fmt.Errorf("invalid endpoint %q: protocol and port are required", endpoint)
	}
	return u.Scheme + ":" + u.Port(), nil
}

func (n *Network) lookup(key string) (*Router, bool) {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	r, ok := n.routers[key]
	return r, ok
}

// Router is the bind side of the in-process transport
type Router struct {
	net     *Network
	key     string
	inbound chan network.Frame
	peers   map[string]*Dealer
	done    chan struct{}
	once    sync.Once
	mutex   sync.RWMutex
}

// Bind registers the router under endpoint
func (r *Router) Bind(endpoint string) error {
	key, err := endpointKey(endpoint)
	if err != nil {
		return err
	}

	r.net.mutex.Lock()
	defer r.net.mutex.Unlock()

	if _, exists := r.net.routers[key]; exists {
		return fmt.Errorf("address already in use: %s", endpoint)
	}
	r.net.routers[key] = r
	r.key = key
	return nil
}

// Recv waits for the next frame from any connected dealer
func (r *Router) Recv(ctx context.Context) (network.Frame, error) {
	select {
	case frame := <-r.inbound:
		return frame, nil
	case <-r.done:
		return network.Frame{}, network.ErrSocketClosed
	case <-ctx.Done():
		return network.Frame{}, ctx.Err()
	}
}

// Send delivers body to the dealer registered under identity
func (r *Router) Send(identity string, body []byte) error {
	select {
	case <-r.done:
		return network.ErrSocketClosed
	default:
	}

	r.mutex.RLock()
	peer, ok := r.peers[identity]
	r.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", network.ErrUnknownPeer, identity)
	}
	return peer.deliver(body)
}

// Close unregisters the router and wakes pending receivers
func (r *Router) Close() error {
	r.once.Do(func() {
		close(r.done)
		r.net.mutex.Lock()
		if r.key != "" && r.net.routers[r.key] == r {
			delete(r.net.routers, r.key)
		}
		r.net.mutex.Unlock()
	})
	return nil
}

func (r *Router) attach(d *Dealer) {
	r.mutex.Lock()
	r.peers[d.identity] = d
	r.mutex.Unlock()
}

func (r *Router) detach(d *Dealer) {
	r.mutex.Lock()
	if r.peers[d.identity] == d {
		delete(r.peers, d.identity)
	}
	r.mutex.Unlock()
}

func (r *Router) deliver(frame network.Frame) error {
	select {
	case <-r.done:
		return network.ErrSocketClosed
	case r.inbound <- frame:
		return nil
	default:
		return network.ErrSendBusy
	}
}

// Dealer is the connect side of the in-process transport
type Dealer struct {
	net      *Network
	identity string
	router   *Router
	inbound  chan []byte
	done     chan struct{}
	once     sync.Once
	mutex    sync.RWMutex
}

// Identity returns the dealer's routing identity
func (d *Dealer) Identity() string {
	return d.identity
}

// Connect attaches the dealer to the router bound at endpoint
func (d *Dealer) Connect(endpoint string) error {
	key, err := endpointKey(endpoint)
	if err != nil {
		return err
	}

	r, ok := d.net.lookup(key)
	if !ok {
		return fmt.Errorf("connection refused: %s", endpoint)
	}

	d.mutex.Lock()
	d.router = r
	d.mutex.Unlock()

	r.attach(d)
	return nil
}

// Recv waits for the next frame from the router
func (d *Dealer) Recv(ctx context.Context) ([]byte, error) {
	select {
	case body := <-d.inbound:
		return body, nil
	case <-d.done:
		return nil, network.ErrSocketClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send delivers body to the connected router, tagged with this dealer's identity
func (d *Dealer) Send(body []byte) error {
	select {
	case <-d.done:
		return network.ErrSocketClosed
	default:
	}

	d.mutex.RLock()
	r := d.router
	d.mutex.RUnlock()
	if r == nil {
		return fmt.Errorf("dealer %s is not connected", d.identity)
	}

	frame := network.Frame{Identity: d.identity, Body: append([]byte(nil), body...)}
	return r.deliver(frame)
}

// Close detaches the dealer; the router can no longer address it
func (d *Dealer) Close() error {
	d.once.Do(func() {
		close(d.done)
		d.mutex.RLock()
		r := d.router
		d.mutex.RUnlock()
		if r != nil {
			r.detach(d)
		}
	})
	return nil
}

func (d *Dealer) deliver(body []byte) error {
	select {
	case <-d.done:
		return fmt.Errorf("%w: %s", network.ErrUnknownPeer, d.identity)
	case d.inbound <- append([]byte(nil), body...):
		return nil
	default:
		return network.ErrSendBusy
	}
}

var (
	_ network.Transport = (*Network)(nil)
	_ network.Router    = (*Router)(nil)
	_ network.Dealer    = (*Dealer)(nil)
)
