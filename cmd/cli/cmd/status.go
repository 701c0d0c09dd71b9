package cmd

import (
	"fmt"
	"time"

	"jobrunner/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve detailed status information for a job, including its current state (READY, RUNNING, STOPPING, STOPPED, FAILED, COMPLETED), error and timestamps.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := newClient().GetJob(args[0])
		if err != nil {
			return fmt.Errorf("%s", describeError("Status", err))
		}
		if done, err := printStructured(cmd, j); done || err != nil {
			return err
		}
		printStatus(cmd, *j)
		return nil
	},
}

func printStatus(cmd *cobra.Command, j api.JobResponse) {
	// Header with status icon
	cmd.Printf("%s %sJob Details%s\n", statusIcon(j.State), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %d\n", colorDim, colorReset, j.ID)
	cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, j.Name)
	cmd.Printf("%sState:%s       %s\n", colorDim, colorReset, colorizeState(j.State))

	if j.ParentJobID != nil {
		cmd.Printf("%sParent:%s      %d\n", colorDim, colorReset, *j.ParentJobID)
	}
	if len(j.Arguments) > 0 {
		cmd.Printf("%sArguments:%s   %v\n", colorDim, colorReset, j.Arguments)
	}

	// Error (if present)
	if j.Error != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *j.Error, colorReset)
	}

	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&j.CreatedAt))
	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(j.StartedAt))

	if j.CompletedAt != nil && j.DurationMs != nil {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(j.CompletedAt),
			colorCyan, formatDuration(time.Duration(*j.DurationMs)*time.Millisecond), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(j.CompletedAt))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func stateColor(state string) string {
	switch state {
	case "COMPLETED":
		return colorGreen
	case "FAILED":
		return colorRed
	case "RUNNING", "STOPPING":
		return colorYellow
	case "READY", "CREATED":
		return colorCyan
	default:
		return ""
	}
}

func statusIcon(state string) string {
	switch state {
	case "COMPLETED":
		return colorGreen + "✓" + colorReset
	case "FAILED":
		return colorRed + "✗" + colorReset
	case "RUNNING":
		return colorYellow + "⏳" + colorReset
	case "STOPPING":
		return colorYellow + "◼" + colorReset
	case "READY":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeState(state string) string {
	c := stateColor(state)
	if c == "" {
		return statusIcon(state) + " " + state
	}
	return statusIcon(state) + " " + c + state + colorReset
}

// colorizeDescription renders a submit outcome (CREATED, RUNNING or COMPLETED).
func colorizeDescription(desc string) string {
	if c := stateColor(desc); c != "" {
		return c + desc + colorReset
	}
	return desc
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(*t), colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
