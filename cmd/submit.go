package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"joblb/internal/mq"
)

var (
	submitJobID   string
	submitTimeout time.Duration
	submitNoWait  bool
)

var (
	jobStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")).Bold(true)
	nodeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1FA8C"))
	finishedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
)

var submitCmd = &cobra.Command{
	Use:   "submit <payload>",
	Short: "Submit a job and follow its lifecycle",
	Long: `Submit a job to the broker as a client and print every lifecycle update
until the job finishes or fails. The payload is sent as JSON when it parses as
JSON and as a JSON string otherwise, e.g.

  joblb submit '{"kind":"echo","input":"hello"}'
  joblb submit '{"kind":"sql","query":"SELECT count(*) AS n FROM users"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		payload := json.RawMessage(args[0])
		if !json.Valid(payload) {
			payload, _ = json.Marshal(args[0])
		}

		done := make(chan *mq.ResultEnvelope, 1)
		handler := mq.ResultHandlerFunc(func(ctx context.Context, result *mq.ResultEnvelope) error {
			cmd.Println(renderResult(result))
			if result.LifeCycle.IsTerminal() {
				select {
				case done <- result:
				default:
				}
			}
			return nil
		})

		ctx, stop := signalContext()
		defer stop()

		client := mq.NewClient(newTransport(), cfg.ClientSettings(), handler)
		if err := client.Start(ctx); err != nil {
			return err
		}
		defer client.Stop()

		jobID, err := client.Submit(ctx, submitJobID, payload)
		if err != nil {
			return err
		}
		cmd.Printf("%s %s\n", jobStyle.Render(jobID), progressStyle.Render(string(mq.LifeCycleNotStarted)))
		if submitNoWait {
			return nil
		}

		select {
		case result := <-done:
			if result.LifeCycle == mq.LifeCycleFailed {
				return fmt.Errorf("job %s failed", jobID)
			}
			return nil
		case <-time.After(submitTimeout):
			status, _ := client.Status(jobID)
			return fmt.Errorf("timed out waiting for job %s (last state: %s)", jobID, status)
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

func renderResult(result *mq.ResultEnvelope) string {
	var state string
	switch result.LifeCycle {
	case mq.LifeCycleFinished:
		state = finishedStyle.Render(string(result.LifeCycle))
	case mq.LifeCycleFailed:
		state = failedStyle.Render(string(result.LifeCycle))
	default:
		state = progressStyle.Render(string(result.LifeCycle))
	}

	line := fmt.Sprintf("%s %s %s", jobStyle.Render(result.Job), state, nodeStyle.Render("@"+result.Node))
	if len(result.Message) > 0 {
		line += " " + string(result.Message)
	}
	return line
}

func init() {
	submitCmd.Flags().StringVar(&submitJobID, "job-id", "", "Job id (generated when empty)")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 2*time.Minute, "How long to wait for a terminal state")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "Return once the job was handed to the broker")
}
