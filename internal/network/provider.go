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
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSocketClosed is returned by operations on a closed socket
	ErrSocketClosed = errors.New("socket closed")

	// ErrUnknownPeer is returned when a router sends to an identity that is not connected
	ErrUnknownPeer = errors.New("unknown peer identity")

	// ErrSendBusy is returned when the transport cannot accept a frame right now
	ErrSendBusy = errors.New("socket busy")
)

// Frame is one inbound message on a bind-mode socket: the sender's routing
// identity plus the frame body.
type Frame struct {
	Identity string
	Body     []byte
}

// Router is the bind-mode side of an identity-addressed socket. One Router
// accepts many peers and addresses each of them by identity.
type Router interface {
	// Bind starts accepting peers on endpoint (protocol://*:port)
	Bind(endpoint string) error

	// Recv blocks until a frame arrives, the socket closes or ctx is done
	Recv(ctx context.Context) (Frame, error)

	// Send hands body to the transport for delivery to identity. It returns
	// once the transport accepted the frame, not when the peer received it.
	Send(identity string, body []byte) error

	// Close releases the socket; pending Recv calls return ErrSocketClosed
	Close() error
}

// Dealer is the connect-mode side of an identity-addressed socket. The
// broker addresses a Dealer by the identity it was created with.
type Dealer interface {
	// Identity returns the routing identity announced to the router
	Identity() string

	// Connect attaches the socket to a router endpoint (protocol://host:port)
	Connect(endpoint string) error

	// Recv blocks until a frame arrives, the socket closes or ctx is done
	Recv(ctx context.Context) ([]byte, error)

	// Send hands body to the transport for delivery to the router
	Send(body []byte) error

	// Close releases the socket
	Close() error
}

// Transport creates sockets for one transport implementation
type Transport interface {
	// Name returns the transport name (e.g., "zmq", "memory")
	Name() string

	NewRouter() (Router, error)
	NewDealer(identity string) (Dealer, error)
}

// Endpoint builds the address a dealer connects to
func Endpoint(protocol, host string, port int) string {
	if protocol == "" {
		protocol = "tcp"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, host, port)
}

// BindEndpoint builds the address a router binds to on all interfaces
func BindEndpoint(protocol string, port int) string {
	return Endpoint(protocol, "*", port)
}
