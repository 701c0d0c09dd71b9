package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"jobrunner/internal/job"
)

// containerEngine is the part of the Docker API the processor drives.
type containerEngine interface {
	EnsureImage(ctx context.Context, ref string) error
	Start(ctx context.Context, cfg *container.Config) (string, error)
	Wait(ctx context.Context, id string) (int64, error)
	Logs(ctx context.Context, id string, w io.Writer) error
	Stop(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// Docker runs a job in a local container. Arguments:
//
//	image    container image (required)
//	command  container command, list or single string
//	env      map of environment variables
//
// The container is removed once it exits and stopped first when the
// execution context is cancelled.
type Docker struct {
	engine containerEngine
	logger *slog.Logger
}

// NewDocker connects using the standard environment (DOCKER_HOST etc.).
func NewDocker(logger *slog.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Docker{engine: &dockerEngine{client: cli}, logger: logger}, nil
}

func (d *Docker) Name() string { return "docker" }

func (d *Docker) Execute(ctx context.Context, args job.Arguments) error {
	cfg, err := containerConfig(args)
	if err != nil {
		return err
	}

	if err := d.engine.EnsureImage(ctx, cfg.Image); err != nil {
		return err
	}
	id, err := d.engine.Start(ctx, cfg)
	if err != nil {
		return err
	}
	d.logger.Info("started container", "container_id", id, "image", cfg.Image)

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	defer func() {
		if err := d.engine.Remove(cleanupCtx, id); err != nil {
			d.logger.Warn("failed to remove container", "container_id", id, "error", err)
		}
	}()

	code, err := d.engine.Wait(ctx, id)
	if ctx.Err() != nil {
		if stopErr := d.engine.Stop(cleanupCtx, id); stopErr != nil {
			d.logger.Error("failed to stop cancelled container", "container_id", id, "error", stopErr)
		}
		return fmt.Errorf("container interrupted: %w", ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("failed waiting for container: %w", err)
	}
	if code == 0 {
		return nil
	}

	out := &tailBuffer{limit: outputTail}
	if err := d.engine.Logs(cleanupCtx, id, out); err != nil {
		d.logger.Warn("failed to read container logs", "container_id", id, "error", err)
	}
	return &ExitError{Code: int(code), Output: string(bytes.TrimSpace(out.Bytes()))}
}

func containerConfig(args job.Arguments) (*container.Config, error) {
	img := args.StringValue("image")
	if img == "" {
		return nil, errors.New("image is required")
	}

	cmd := args.StringList("command")
	if _, isString := args["command"].(string); isString {
		cmd = []string{"sh", "-c", cmd[0]}
	}

	env := args.StringMap("env")
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	sort.Strings(envList)

	return &container.Config{
		Image:  img,
		Cmd:    cmd,
		Env:    envList,
		Tty:    true,
		Labels: map[string]string{managedByLabel: "jobrunner"},
	}, nil
}

// dockerEngine is containerEngine over the Docker SDK.
type dockerEngine struct {
	client *client.Client
}

func (e *dockerEngine) EnsureImage(ctx context.Context, ref string) error {
	// Check if it exists locally first to save time.
	if _, err := e.client.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	reader, err := e.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (e *dockerEngine) Start(ctx context.Context, cfg *container.Config) (string, error) {
	resp, err := e.client.ContainerCreate(ctx, cfg, nil, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return resp.ID, nil
}

func (e *dockerEngine) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := e.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, errors.New(status.Error.Message)
		}
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (e *dockerEngine) Logs(ctx context.Context, id string, w io.Writer) error {
	rc, err := e.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

func (e *dockerEngine) Stop(ctx context.Context, id string) error {
	timeout := 5
	return e.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
}

func (e *dockerEngine) Remove(ctx context.Context, id string) error {
	return e.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}
