package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"jobrunner/internal/job"
)

// outputTail is how much of a failed command's output is kept in its error.
const outputTail = 4096

// Command runs a local process. Arguments:
//
//	command  list of argv entries, or a single string run through "sh -c"
//	dir      working directory (defaults to the processor's WorkDir)
//	env      map of extra environment variables
//	timeout  Go duration bounding the run
type Command struct {
	WorkDir string
	// KillGrace is how long a cancelled process gets between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

// NewCommand creates a command processor running in workDir, or in a
// directory under the system temp dir when workDir is empty.
func NewCommand(workDir string) *Command {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "jobrunner", "command")
	}
	return &Command{WorkDir: workDir, KillGrace: 5 * time.Second}
}

func (c *Command) Name() string { return "command" }

// ExitError is returned when the process exits with a non-zero code.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("command exited with code %d", e.Code)
	}
	return fmt.Sprintf("command exited with code %d: %s", e.Code, e.Output)
}

func (c *Command) Execute(ctx context.Context, args job.Arguments) error {
	argv := args.StringList("command")
	if len(argv) == 0 {
		return errors.New("command is required")
	}
	if _, isString := args["command"].(string); isString {
		argv = []string{"sh", "-c", argv[0]}
	}

	if raw := args.StringValue("timeout"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dir := args.StringValue("dir")
	if dir == "" {
		dir = c.WorkDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range args.StringMap("env") {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = c.KillGrace

	out := &tailBuffer{limit: outputTail}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	err := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("command interrupted: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Output: string(bytes.TrimSpace(out.Bytes()))}
	}
	if err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf...)
}
