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
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"joblb/internal/jobstore"
	"joblb/internal/mq"
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#BD93F9")).Bold(true)
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4")).Bold(true)
	jobStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1FA8C"))
	finishedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
)

// FetchFunc returns the jobs to display
type FetchFunc func(ctx context.Context) ([]*jobstore.Job, error)

type tickMsg time.Time

type jobsMsg struct {
	jobs []*jobstore.Job
	err  error
	at   time.Time
}

// Model polls the job list and renders it as a table
type Model struct {
	fetch    FetchFunc
	interval time.Duration
	source   string

	jobs      []*jobstore.Job
	err       error
	updatedAt time.Time
	loading   bool
	width     int
	quitting  bool
}

func NewModel(fetch FetchFunc, source string, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		fetch:    fetch,
		interval: interval,
		source:   source,
		loading:  true,
	}
}

func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) refresh() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jobs, err := fetch(ctx)
		return jobsMsg{jobs: jobs, err: err, at: time.Now()}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.refresh()
		}

	case tickMsg:
		return m, m.refresh()

	case jobsMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.jobs = msg.jobs
			m.updatedAt = msg.at
		}
		return m, m.tick()
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("joblb jobs") + " " + helpStyle.Render(m.source) + "\n\n")

	switch {
	case m.loading && m.jobs == nil:
		b.WriteString("Loading...\n")
	case len(m.jobs) == 0:
		b.WriteString("No jobs yet\n")
	default:
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-38s %-12s %-12s %s", "JOB", "STATE", "NODE", "UPDATED")) + "\n")
		for _, job := range m.jobs {
			b.WriteString(renderRow(job) + "\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n" + failedStyle.Render("Error: "+m.err.Error()) + "\n")
	}

	b.WriteString("\n")
	if !m.updatedAt.IsZero() {
		b.WriteString(helpStyle.Render("updated "+m.updatedAt.Format("15:04:05")) + "  ")
	}
	b.WriteString(helpStyle.Render("r refresh • q quit"))
	return b.String()
}

func renderRow(job *jobstore.Job) string {
	state := fmt.Sprintf("%-12s", job.LifeCycle)
	switch job.LifeCycle {
	case mq.LifeCycleFinished:
		state = finishedStyle.Render(state)
	case mq.LifeCycleFailed:
		state = failedStyle.Render(state)
	default:
		state = progressStyle.Render(state)
	}

	node := job.Node
	if node == "" {
		node = "-"
	}
	return fmt.Sprintf("%s %s %-12s %s",
		jobStyle.Render(fmt.Sprintf("%-38s", job.JobID)),
		state,
		node,
		job.UpdatedAt.Local().Format("15:04:05"),
	)
}

// Run opens the dashboard in the alternate screen until the user quits
func Run(fetch FetchFunc, source string, interval time.Duration) error {
	p := tea.NewProgram(NewModel(fetch, source, interval), tea.WithAltScreen())

	defer func() {
		if r := recover(); r != nil {
			p.Kill()
		}
	}()

	_, err := p.Run()
	return err
}
