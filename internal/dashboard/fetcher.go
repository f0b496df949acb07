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
	"fmt"
	"net/http"
	"strings"
	"time"

	"joblb/internal/jobstore"
)

// Fetcher reads the recent job list from a gateway
type Fetcher struct {
	baseURL string
	token   string
	limit   int
	client  *http.Client
}

func NewFetcher(baseURL, token string, limit int) *Fetcher {
	if limit <= 0 {
		limit = 20
	}
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		limit:   limit,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type listResponse struct {
	Jobs  []*jobstore.Job `json:"jobs"`
	Count int             `json:"count"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (f *Fetcher) Fetch(ctx context.Context) ([]*jobstore.Job, error) {
	url := fmt.Sprintf("%s/api/v1/jobs?limit=%d", f.baseURL, f.limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body errorResponse
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Message != "" {
			return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, body.Message)
		}
		return nil, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var list listResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode job list: %w", err)
	}
	return list.Jobs, nil
}
