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
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"joblb/internal/jobstore"
	"joblb/internal/logger"
	"joblb/internal/mq"
	"joblb/internal/network"
)

// ServiceConfig configures the gateway service
type ServiceConfig struct {
	Address   string
	StorePath string
	Node      mq.NodeConfig // client agent settings
	Auth      *JWTService   // nil disables authentication
}

// Service runs the HTTP API in front of a client agent. Job records live in
// the store, which is also the agent's result handler.
type Service struct {
	config ServiceConfig
	store  *jobstore.Store
	client *mq.Client
	api    *APIServer
	errs   chan error
	logger zerolog.Logger
}

// NewService opens the job store and prepares the client agent
func NewService(transport network.Transport, config ServiceConfig) (*Service, error) {
	store, err := jobstore.Open(config.StorePath)
	if err != nil {
		return nil, err
	}

	client := mq.NewClient(transport, config.Node, store)
	api := NewAPIServer(store, client, config.Auth)
	if config.Auth != nil {
		api.EnableLogin(store, NewPasswordService())
	}

	return &Service{
		config: config,
		store:  store,
		client: client,
		api:    api,
		errs:   make(chan error, 1),
		logger: logger.GetLogger("gateway.service"),
	}, nil
}

// Handler returns the API routes without listening
func (s *Service) Handler() http.Handler {
	return s.api.Router()
}

// Connect starts the client agent
func (s *Service) Connect(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway client: %w", err)
	}
	return nil
}

// Start connects to the broker and serves the API in the background.
// Serve errors are reported on Errors.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	go func() {
		if err := s.api.Start(s.config.Address); err != nil {
			s.errs <- err
		}
	}()

	s.logger.Info().Str("address", s.config.Address).Msg("Gateway service started")
	return nil
}

// Errors reports a failure of the HTTP listener
func (s *Service) Errors() <-chan error {
	return s.errs
}

// Stop shuts the API down, then the agent and the store
func (s *Service) Stop(ctx context.Context) error {
	if err := s.api.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down API server")
	}
	if err := s.client.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Error stopping gateway client")
	}
	return s.store.Close()
}

// Store returns the job store
func (s *Service) Store() *jobstore.Store {
	return s.store
}
