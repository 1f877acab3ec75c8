// Package sandbox implements the Docker-backed Dispatcher: every tool
// invocation runs in a fresh, resource-capped container so a compromised or
// malfunctioning scanning tool cannot touch the host or other missions'
// state.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/CharanRayudu/SentryAI/internal/telemetry"
	"github.com/CharanRayudu/SentryAI/internal/tools"
)

const (
	maxCapturedBytes = 4 << 20 // 4 MiB per stream, bounds memory per invocation
	defaultImage     = "sentryai/toolbox:latest"
)

// Options configures a Dispatcher.
type Options struct {
	// Client is a pre-built Docker client. If nil, one is created from the
	// environment (DOCKER_HOST etc.).
	Client *client.Client
	// Image names the container image every tool runs inside. Tools invoke
	// their binary_path inside this image, so the image must provide every
	// registered tool's binary.
	Image string
	// CPUQuota/MemoryLimitBytes cap per-invocation resource usage. Zero means
	// the Docker daemon default (unbounded).
	CPUQuota         int64
	MemoryLimitBytes int64
	// NetworkMode restricts container networking ("none" disables it
	// entirely; most recon/scanning tools need "bridge").
	NetworkMode string

	Logger telemetry.Logger
}

// Dispatcher runs tool.Invocation values as one-shot containers.
type Dispatcher struct {
	cli         *client.Client
	closeClient bool
	image       string
	cpuQuota    int64
	memLimit    int64
	networkMode string
	logger      telemetry.Logger
}

var _ tools.Dispatcher = (*Dispatcher)(nil)

// New builds a Dispatcher. If opts.Client is nil, a client is created from
// the environment (no daemon connection is made until first use) and closed when the caller no longer needs the Dispatcher
// (callers should not close opts.Client themselves in that case).
func New(opts Options) (*Dispatcher, error) {
	cli := opts.Client
	closeClient := false
	if cli == nil {
		c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("sandbox: create docker client: %w", err)
		}
		cli = c
		closeClient = true
	}
	image := opts.Image
	if image == "" {
		image = defaultImage
	}
	networkMode := opts.NetworkMode
	if networkMode == "" {
		networkMode = "bridge"
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Dispatcher{
		cli:         cli,
		closeClient: closeClient,
		image:       image,
		cpuQuota:    opts.CPUQuota,
		memLimit:    opts.MemoryLimitBytes,
		networkMode: networkMode,
		logger:      logger,
	}, nil
}

// Close releases the underlying Docker client if this Dispatcher created it.
func (d *Dispatcher) Close() error {
	if d.closeClient {
		return d.cli.Close()
	}
	return nil
}

// Dispatch runs inv in a fresh container, capturing stdout/stderr up to
// maxCapturedBytes each, enforcing inv.EffectiveTimeout as a wall-clock
// ceiling, and parsing stdout per the schema's declared output format.
func (d *Dispatcher) Dispatch(ctx context.Context, inv tools.Invocation) (tools.Result, error) {
	start := time.Now()
	timeout := inv.EffectiveTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append([]string{inv.Schema.BinaryPath}, tools.BuildArgv(inv.Schema, inv.Arguments)...)

	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(d.networkMode),
		AutoRemove:  false, // removed explicitly below so logs can be captured first
		Resources: container.Resources{
			NanoCPUs: d.cpuQuota,
			Memory:   d.memLimit,
		},
		Privileged: inv.Schema.RequiresRoot,
	}

	resp, err := d.cli.ContainerCreate(runCtx, &container.Config{
		Image:      d.image,
		Cmd:        argv,
		Tty:        false,
		WorkingDir: "/work",
	}, hostCfg, nil, nil, "")
	if err != nil {
		return tools.Result{
			Duration: time.Since(start),
			Failure:  tools.FailureTransient,
		}, fmt.Errorf("sandbox: create container: %w", err)
	}
	defer func() {
		_ = d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := d.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		class, cause := tools.ClassifyExit(0, false, err, nil)
		return tools.Result{Duration: time.Since(start), Failure: class, FailureCause: cause}, nil
	}

	statusCh, errCh := d.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	var timedOut bool
	select {
	case err := <-errCh:
		if err != nil && runCtx.Err() != nil {
			timedOut = true
		} else if err != nil {
			return tools.Result{Duration: time.Since(start), Failure: tools.FailureTransient}, fmt.Errorf("sandbox: wait container: %w", err)
		}
	case st := <-statusCh:
		exitCode = int(st.StatusCode)
	case <-runCtx.Done():
		timedOut = true
	}

	stdout, stderr := d.captureOutput(context.Background(), resp.ID)

	class, cause := tools.ClassifyExit(exitCode, timedOut, nil, stderr)
	result := tools.Result{
		ExitCode:     exitCode,
		Stdout:       stdout,
		Stderr:       stderr,
		Duration:     time.Since(start),
		Failure:      class,
		FailureCause: cause,
	}
	if class == tools.FailureNone || class == tools.FailureTerminal {
		parsed := tools.ParseOutput(inv.Schema.OutputFormat, stdout)
		if m, ok := parsed.(map[string]any); ok {
			if e, ok := m["error"].(string); ok {
				result.ParseError = e
			}
		}
		result.Parsed = parsed
	}
	return result, nil
}

// captureOutput reads the container's combined log stream and demultiplexes
// stdout/stderr, bounding each to maxCapturedBytes.
func (d *Dispatcher) captureOutput(ctx context.Context, containerID string) (stdout, stderr []byte) {
	logs, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		d.logger.Error(ctx, "sandbox: fetch container logs failed", "container_id", containerID, "error", err)
		return nil, nil
	}
	defer logs.Close()

	var outBuf, errBuf bytes.Buffer
	boundedOut := &boundedWriter{buf: &outBuf, limit: maxCapturedBytes}
	boundedErr := &boundedWriter{buf: &errBuf, limit: maxCapturedBytes}
	if _, err := stdcopy.StdCopy(boundedOut, boundedErr, logs); err != nil && err != io.EOF {
		d.logger.Error(ctx, "sandbox: demultiplex container logs failed", "container_id", containerID, "error", err)
	}
	return outBuf.Bytes(), errBuf.Bytes()
}

// boundedWriter discards writes past limit so a runaway tool cannot exhaust
// process memory with pathological output.
type boundedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	return w.buf.Write(p)
}
