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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"joblb/internal/jobstore"
	"joblb/internal/logger"
	"joblb/internal/mq"
)

// JobStore is the record keeping the API needs
type JobStore interface {
	Create(ctx context.Context, jobID string, payload json.RawMessage) (*jobstore.Job, error)
	MarkQueued(ctx context.Context, jobID string) error
	Get(ctx context.Context, jobID string) (*jobstore.Job, error)
	List(ctx context.Context, limit int) ([]*jobstore.Job, error)
	Counts(ctx context.Context) (map[mq.LifeCycle]int, error)
	OnResult(ctx context.Context, result *mq.ResultEnvelope) error
}

// UserStore looks up the accounts allowed to log in
type UserStore interface {
	GetUser(ctx context.Context, username string) (*jobstore.User, error)
}

// Submitter hands jobs to the broker
type Submitter interface {
	Submit(ctx context.Context, jobID string, payload interface{}) (string, error)
}

// SubmitRequest is the body of POST /api/v1/jobs
type SubmitRequest struct {
	JobID   string          `json:"jobId,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitResponse is returned once a job was handed to the broker
type SubmitResponse struct {
	JobID     string       `json:"jobId"`
	LifeCycle mq.LifeCycle `json:"lifeCycle"`
}

// APIServer handles REST API requests
type APIServer struct {
	store     JobStore
	submitter Submitter
	auth      *JWTService // nil disables authentication
	users     UserStore
	passwords *PasswordService
	logger    zerolog.Logger
	server    *http.Server
	started   time.Time
	mutex     sync.Mutex
}

// NewAPIServer creates a new API server. auth may be nil.
func NewAPIServer(store JobStore, submitter Submitter, auth *JWTService) *APIServer {
	return &APIServer{
		store:     store,
		submitter: submitter,
		auth:      auth,
		logger:    logger.GetLogger("gateway"),
		started:   time.Now(),
	}
}

// EnableLogin serves POST /api/v1/auth/login, which trades a username and
// password for a bearer token. It has no effect without auth.
func (api *APIServer) EnableLogin(users UserStore, passwords *PasswordService) {
	api.users = users
	api.passwords = passwords
}

// Router builds the HTTP routes
func (api *APIServer) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(api.loggingMiddleware)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/health", api.handleHealth).Methods("GET")
	if api.auth != nil && api.users != nil {
		apiRouter.HandleFunc("/auth/login", api.handleLogin).Methods("POST")
	}

	jobs := apiRouter.PathPrefix("/jobs").Subrouter()
	if api.auth != nil {
		jobs.Use(api.auth.RequireAuth)
	}
	jobs.HandleFunc("", api.handleSubmit).Methods("POST")
	jobs.HandleFunc("", api.handleListJobs).Methods("GET")
	jobs.HandleFunc("/{id}", api.handleGetJob).Methods("GET")

	return router
}

// Start serves the API on address until Shutdown
func (api *APIServer) Start(address string) error {
	server := &http.Server{
		Addr:         address,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	api.mutex.Lock()
	api.server = server
	api.mutex.Unlock()

	api.logger.Info().
		Str("address", address).
		Bool("auth", api.auth != nil).
		Msg("Starting API server")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (api *APIServer) Shutdown(ctx context.Context) error {
	api.mutex.Lock()
	server := api.server
	api.mutex.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (api *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		api.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func (api *APIServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Payload) == 0 || string(req.Payload) == "null" {
		sendError(w, http.StatusBadRequest, "payload is required")
		return
	}
	if req.JobID == "" {
		req.JobID = mq.GenerateJobID()
	}

	ctx := r.Context()
	if _, err := api.store.Create(ctx, req.JobID, req.Payload); err != nil {
		api.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("Failed to create job record")
		sendError(w, http.StatusConflict, "Job could not be created")
		return
	}

	if _, err := api.submitter.Submit(ctx, req.JobID, req.Payload); err != nil {
		api.logger.Error().Err(err).Str("job_id", req.JobID).Msg("Failed to submit job")
		failed, ferr := mq.FormattedReturn("gateway", req.JobID, mq.ErrorBody{Error: err.Error()}, mq.PeerOnBroker, mq.LifeCycleFailed)
		if ferr == nil {
			api.store.OnResult(ctx, mq.ResultFromLifecycle("", failed))
		}
		sendError(w, http.StatusServiceUnavailable, "Broker unavailable")
		return
	}

	if err := api.store.MarkQueued(ctx, req.JobID); err != nil {
		api.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("Failed to mark job queued")
	}

	sendJSON(w, http.StatusAccepted, SubmitResponse{JobID: req.JobID, LifeCycle: mq.LifeCycleInQueue})
}

func (api *APIServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := api.store.Get(r.Context(), id)
	if errors.Is(err, jobstore.ErrJobNotFound) {
		sendError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		api.logger.Error().Err(err).Str("job_id", id).Msg("Failed to get job")
		sendError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	sendJSON(w, http.StatusOK, job)
}

func (api *APIServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs, err := api.store.List(r.Context(), limit)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to list jobs")
		sendError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// LoginRequest is the body of POST /api/v1/auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (api *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		sendError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := api.users.GetUser(r.Context(), req.Username)
	if err != nil {
		api.logger.Debug().Err(err).Str("username", req.Username).Msg("User not found during login attempt")
		sendError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	valid, err := api.passwords.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil {
		api.logger.Error().Err(err).Str("username", user.Username).Msg("Failed to verify password")
		sendError(w, http.StatusInternalServerError, "Authentication failed")
		return
	}
	if !valid {
		api.logger.Debug().Str("username", user.Username).Msg("Invalid password during login attempt")
		sendError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, err := api.auth.GenerateToken(user.Username)
	if err != nil {
		api.logger.Error().Err(err).Str("username", user.Username).Msg("Failed to generate token")
		sendError(w, http.StatusInternalServerError, "Failed to generate authentication token")
		return
	}

	api.logger.Info().Str("username", user.Username).Msg("User logged in successfully")
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"user":      user,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (api *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(api.started).Round(time.Second).String(),
	}

	counts, err := api.store.Counts(r.Context())
	if err != nil {
		health["status"] = "degraded"
		health["error"] = "job store unavailable"
		sendJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	health["jobs"] = counts

	sendJSON(w, http.StatusOK, health)
}

// Response helpers
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
