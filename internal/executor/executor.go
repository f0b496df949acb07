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
// Package executor provides the job functions run by worker agents
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"joblb/internal/logger"
	"joblb/internal/mq"
	_ "modernc.org/sqlite"
)

var (
	// ErrUnknownKind is returned for payloads naming no registered handler
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrReadOnly is returned for sql jobs that are not plain queries
	ErrReadOnly = errors.New("only read queries are allowed")
)

// Request is the payload shape understood by the registry
type Request struct {
	Kind  string          `json:"kind"`
	Input json.RawMessage `json:"input,omitempty"`
	Query string          `json:"query,omitempty"`
	Args  []interface{}   `json:"args,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Handler executes one kind of job
type Handler func(ctx context.Context, req *Request) (interface{}, error)

// Registry dispatches payloads to handlers by their kind. Payloads that are
// not JSON objects are echoed back unchanged.
type Registry struct {
	handlers map[string]Handler
	db       *sqlx.DB
	logger   zerolog.Logger
	mutex    sync.RWMutex
}

// NewRegistry creates a registry with the echo and fail kinds registered
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.GetLogger("executor"),
	}
	r.Register("echo", echo)
	r.Register("fail", fail)
	return r
}

// Register adds or replaces the handler for kind
func (r *Registry) Register(kind string, handler Handler) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.handlers[kind] = handler
}

// Kinds returns the registered kinds, sorted
func (r *Registry) Kinds() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// OpenSQL enables the sql kind against the SQLite database at path
func (r *Registry) OpenSQL(path string) error {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open query database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to query database: %w", err)
	}

	r.mutex.Lock()
	r.db = db
	r.mutex.Unlock()

	r.Register("sql", r.query)
	r.logger.Info().Str("path", path).Msg("SQL job execution enabled")
	return nil
}

// Close releases the query database, if any
func (r *Registry) Close() error {
	r.mutex.Lock()
	db := r.db
	r.db = nil
	r.mutex.Unlock()

	if db != nil {
		return db.Close()
	}
	return nil
}

// Execute runs payload; it has the mq.JobFunc signature
func (r *Registry) Execute(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	trimmed := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(trimmed, "{") {
		return payload, nil
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}
	if req.Kind == "" {
		return payload, nil
	}

	r.mutex.RLock()
	handler, ok := r.handlers[req.Kind]
	r.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, req.Kind)
	}

	r.logger.Debug().Str("kind", req.Kind).Msg("Executing job")
	return handler(ctx, &req)
}

func echo(ctx context.Context, req *Request) (interface{}, error) {
	if len(req.Input) == 0 {
		return nil, nil
	}
	return req.Input, nil
}

func fail(ctx context.Context, req *Request) (interface{}, error) {
	if req.Error != "" {
		return nil, errors.New(req.Error)
	}
	return nil, errors.New("job failed on request")
}

func (r *Registry) query(ctx context.Context, req *Request) (interface{}, error) {
	if !readOnly(req.Query) {
		return nil, ErrReadOnly
	}

	r.mutex.RLock()
	db := r.db
	r.mutex.RUnlock()
	if db == nil {
		return nil, fmt.Errorf("sql jobs are not enabled")
	}

	rows, err := db.QueryxContext(ctx, req.Query, req.Args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return out, nil
}

func readOnly(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	if strings.Contains(strings.TrimSuffix(q, ";"), ";") {
		return false
	}
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH")
}

var _ mq.JobFunc = (*Registry)(nil).Execute
