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

package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"joblb/internal/jobstore"
	"joblb/internal/mq"
)

func sampleJobs() []*jobstore.Job {
	now := time.Now()
	return []*jobstore.Job{
		{JobID: "job-1", LifeCycle: mq.LifeCycleFinished, Node: "node-1", UpdatedAt: now},
		{JobID: "job-2", LifeCycle: mq.LifeCycleInQueue, UpdatedAt: now},
	}
}

func TestFetcherDecodesJobList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]interface{}{"jobs": sampleJobs(), "count": 2})
	}))
	defer server.Close()

	jobs, err := NewFetcher(server.URL+"/", "secret-token", 5).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-1", jobs[0].JobID)
	assert.Equal(t, mq.LifeCycleFinished, jobs[0].LifeCycle)
	assert.Equal(t, "node-1", jobs[0].Node)
}

func TestFetcherReportsGatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": true, "message": "missing bearer token"})
	}))
	defer server.Close()

	_, err := NewFetcher(server.URL, "", 0).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "missing bearer token")
}

func TestModelRefreshAndRender(t *testing.T) {
	fetch := func(ctx context.Context) ([]*jobstore.Job, error) {
		return sampleJobs(), nil
	}
	m := NewModel(fetch, "http://gateway", time.Second)
	assert.Contains(t, m.View(), "Loading")

	msg := m.Init()()
	updated, cmd := m.Update(msg)
	require.NotNil(t, cmd)

	view := updated.View()
	assert.Contains(t, view, "job-1")
	assert.Contains(t, view, "job-2")
	assert.Contains(t, view, "node-1")
	assert.Contains(t, view, string(mq.LifeCycleFinished))
}

func TestModelKeepsJobsOnFetchError(t *testing.T) {
	m := NewModel(func(ctx context.Context) ([]*jobstore.Job, error) { return nil, nil }, "gw", time.Second)

	next, _ := m.Update(jobsMsg{jobs: sampleJobs(), at: time.Now()})
	next, _ = next.Update(jobsMsg{err: errors.New("connection refused")})

	view := next.View()
	assert.Contains(t, view, "job-1")
	assert.Contains(t, view, "connection refused")
}

func TestModelEmptyList(t *testing.T) {
	m := NewModel(func(ctx context.Context) ([]*jobstore.Job, error) { return nil, nil }, "gw", 0)
	next, _ := m.Update(jobsMsg{at: time.Now()})
	assert.Contains(t, next.View(), "No jobs yet")
}

func TestModelQuit(t *testing.T) {
	m := NewModel(func(ctx context.Context) ([]*jobstore.Job, error) { return nil, nil }, "gw", time.Second)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, next.View())
}
