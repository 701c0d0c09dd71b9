package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"jobrunner/pkg/api"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job or a tree of jobs",
	Long: `Submit a job to the controller. The response says whether the job was
CREATED, is already RUNNING under the same name, or was COMPLETED earlier
with the same arguments.

Arguments are given as repeated --arg key=value pairs (values that parse as
JSON keep their type), as a JSON object with --args, or together with child
jobs in a YAML or JSON file with --file:

  name: empty
  jobs:
    - name: sleep
      arguments:
        duration: 2s

Example:
  jobctl submit --name sleep --arg duration=2s
  jobctl submit --name command --args '{"command":["echo","hello"]}'
  jobctl submit --file pipeline.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		pairs, _ := flags.GetStringArray("arg")
		rawArgs, _ := flags.GetString("args")
		file, _ := flags.GetString("file")

		req, err := buildSubmitRequest(name, pairs, rawArgs, file)
		if err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("invalid submission: %w", err)
		}

		result, err := newClient().SubmitJob(req)
		if err != nil {
			return fmt.Errorf("%s", describeError("Submit", err))
		}

		if done, err := printStructured(cmd, result); done || err != nil {
			return err
		}
		cmd.Printf("%s %s\n", colorizeDescription(result.Description), colorBold+"Job submitted"+colorReset)
		cmd.Printf("  Job ID:   %d\n", result.Job.ID)
		cmd.Printf("  Name:     %s\n", result.Job.Name)
		cmd.Printf("  State:    %s\n", colorizeState(result.Job.State))
		cmd.Printf("\nCheck status with: jobctl status %d\n", result.Job.ID)
		return nil
	},
}

func buildSubmitRequest(name string, pairs []string, rawArgs, file string) (api.SubmitJobRequest, error) {
	var req api.SubmitJobRequest

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return req, fmt.Errorf("failed to read %s: %w", file, err)
		}
		// YAML is a superset of JSON, so one decoder covers both.
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("failed to parse %s: %w", file, err)
		}
	}

	if name != "" {
		req.Name = name
	}
	if req.Name == "" {
		return req, fmt.Errorf("--name or --file is required")
	}

	if rawArgs != "" {
		args, err := decodeJSONObject(rawArgs)
		if err != nil {
			return req, fmt.Errorf("invalid --args: %w", err)
		}
		req.Arguments = args
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return req, fmt.Errorf("invalid --arg %q: expected key=value", pair)
		}
		if req.Arguments == nil {
			req.Arguments = map[string]any{}
		}
		req.Arguments[key] = parseArgValue(value)
	}
	return req, nil
}

func decodeJSONObject(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseArgValue keeps numbers, booleans, lists and objects typed and falls
// back to the raw string.
func parseArgValue(s string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return v
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringP("name", "n", "", "job name (a registered processor)")
	submitCmd.Flags().StringArrayP("arg", "a", nil, "job argument as key=value, repeatable")
	submitCmd.Flags().String("args", "", "job arguments as a JSON object")
	submitCmd.Flags().StringP("file", "f", "", "YAML or JSON file with the job tree")
}
