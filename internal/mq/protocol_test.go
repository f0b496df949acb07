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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifeCycleCanAdvance(t *testing.T) {
	tests := []struct {
		from, to LifeCycle
		want     bool
	}{
		{LifeCycleNotStarted, LifeCycleInQueue, true},
		{LifeCycleNotStarted, LifeCycleInProgress, false},
		{LifeCycleNotStarted, LifeCycleFinished, false},
		{LifeCycleNotStarted, LifeCycleFailed, true},
		{LifeCycleInQueue, LifeCycleInProgress, true},
		{LifeCycleInQueue, LifeCycleFinished, true},
		{LifeCycleInQueue, LifeCycleInQueue, false},
		{LifeCycleInProgress, LifeCycleInQueue, false},
		{LifeCycleInProgress, LifeCycleFinished, true},
		{LifeCycleInProgress, LifeCycleFailed, true},
		{LifeCycleFinished, LifeCycleFailed, false},
		{LifeCycleFailed, LifeCycleFinished, false},
		{LifeCycleFinished, LifeCycleInProgress, false},
		{LifeCycle("Paused"), LifeCycleFinished, false},
		{LifeCycleInQueue, LifeCycle("Paused"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvance(tt.to))
		})
	}
}

func TestLifeCycleIsTerminal(t *testing.T) {
	assert.True(t, LifeCycleFinished.IsTerminal())
	assert.True(t, LifeCycleFailed.IsTerminal())
	assert.False(t, LifeCycleInProgress.IsTerminal())
	assert.False(t, LifeCycleNotStarted.IsTerminal())
}
