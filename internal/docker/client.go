package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"krypton/internal/domain"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// Client is a thin capability surface over the Docker Engine. It does
// not demultiplex log streams; callers own that. Only the one-shot
// stats JSON is decoded here.
type Client struct {
	cli *client.Client
}

func NewClient() (*Client, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("could not create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// ContainerState is the subset of inspect output the daemon acts on.
type ContainerState struct {
	Status     string
	Running    bool
	StartedAt  string
	FinishedAt string
	ExitCode   int
	Error      string
}

// StatsSnapshot is a one-shot decode of the engine's stats JSON.
type StatsSnapshot struct {
	CPUTotalUsage  uint64
	SystemCPUUsage uint64
	OnlineCPUs     uint32
	MemoryUsage    uint64
	MemoryLimit    uint64
	RxBytes        uint64
	TxBytes        uint64
}

// Pull fetches an image and drains the progress stream to completion;
// the engine only guarantees the image is present once the stream ends.
func (c *Client) Pull(ctx context.Context, image string) error {
	reader, err := c.cli.ImagePull(ctx, image, client.ImagePullOptions{})
	if err != nil {
		return &domain.ImagePullError{Image: image, Err: err}
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return &domain.ImagePullError{Image: image, Err: err}
	}
	return nil
}

func (c *Client) Create(ctx context.Context, name string, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     cfg,
		HostConfig: hostCfg,
		Name:       name,
	})
	if err != nil {
		return "", &domain.ContainerOpError{Op: "create", Err: err}
	}
	return resp.ID, nil
}

func (c *Client) Start(ctx context.Context, id string) error {
	if _, err := c.cli.ContainerStart(ctx, id, client.ContainerStartOptions{}); err != nil {
		return &domain.ContainerOpError{Op: "start", Err: err}
	}
	return nil
}

func (c *Client) Stop(ctx context.Context, id string, graceSeconds int) error {
	if _, err := c.cli.ContainerStop(ctx, id, client.ContainerStopOptions{Timeout: &graceSeconds}); err != nil {
		return &domain.ContainerOpError{Op: "stop", Err: err}
	}
	return nil
}

func (c *Client) Kill(ctx context.Context, id string) error {
	if _, err := c.cli.ContainerKill(ctx, id, client.ContainerKillOptions{Signal: "SIGKILL"}); err != nil {
		return &domain.ContainerOpError{Op: "kill", Err: err}
	}
	return nil
}

func (c *Client) Restart(ctx context.Context, id string, graceSeconds int) error {
	if _, err := c.cli.ContainerRestart(ctx, id, client.ContainerRestartOptions{Timeout: &graceSeconds}); err != nil {
		return &domain.ContainerOpError{Op: "restart", Err: err}
	}
	return nil
}

// Remove force-removes a container. A missing container is not an
// error; delete and update paths depend on that.
func (c *Client) Remove(ctx context.Context, id string, removeVolumes bool) error {
	_, err := c.cli.ContainerRemove(ctx, id, client.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: removeVolumes,
	})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return &domain.ContainerOpError{Op: "remove", Err: err}
	}
	return nil
}

func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	_, err := c.cli.ContainerInspect(ctx, id, client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, &domain.ContainerOpError{Op: "inspect", Err: err}
	}
	return true, nil
}

func (c *Client) Inspect(ctx context.Context, id string) (*ContainerState, error) {
	resp, err := c.cli.ContainerInspect(ctx, id, client.ContainerInspectOptions{})
	if err != nil {
		return nil, &domain.ContainerOpError{Op: "inspect", Err: err}
	}

	state := &ContainerState{}
	if resp.Container.State != nil {
		state.Status = string(resp.Container.State.Status)
		state.Running = resp.Container.State.Running
		state.StartedAt = resp.Container.State.StartedAt
		state.FinishedAt = resp.Container.State.FinishedAt
		state.ExitCode = resp.Container.State.ExitCode
		state.Error = resp.Container.State.Error
	}
	return state, nil
}

// Wait blocks until the container exits and returns its exit code.
func (c *Client) Wait(ctx context.Context, id string) (int64, error) {
	waitResult := c.cli.ContainerWait(ctx, id, client.ContainerWaitOptions{})
	waitCh, errCh := waitResult.Result, waitResult.Error
	select {
	case result := <-waitCh:
		if result.Error != nil {
			return result.StatusCode, &domain.ContainerOpError{Op: "wait", Err: fmt.Errorf("%s", result.Error.Message)}
		}
		return result.StatusCode, nil
	case err := <-errCh:
		return 0, &domain.ContainerOpError{Op: "wait", Err: err}
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// FollowLogs returns the engine's multiplexed log stream. The 8-byte
// stream framing is left for the caller to parse.
func (c *Client) FollowLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	reader, err := c.cli.ContainerLogs(ctx, id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, &domain.ContainerOpError{Op: "logs", Err: err}
	}
	return reader, nil
}

// statsBody mirrors the engine's stats JSON; only the fields the
// sampler consumes are decoded.
type statsBody struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs  uint32 `json:"online_cpus"`
	} `json:"cpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
}

func (c *Client) StatsOnce(ctx context.Context, id string) (*StatsSnapshot, error) {
	resp, err := c.cli.ContainerStats(ctx, id, client.ContainerStatsOptions{})
	if err != nil {
		return nil, &domain.ContainerOpError{Op: "stats", Err: err}
	}
	defer resp.Body.Close()

	var body statsBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &domain.ContainerOpError{Op: "stats", Err: err}
	}

	snapshot := &StatsSnapshot{
		CPUTotalUsage:  body.CPUStats.CPUUsage.TotalUsage,
		SystemCPUUsage: body.CPUStats.SystemUsage,
		OnlineCPUs:     body.CPUStats.OnlineCPUs,
		MemoryUsage:    body.MemoryStats.Usage,
		MemoryLimit:    body.MemoryStats.Limit,
	}
	for _, iface := range body.Networks {
		snapshot.RxBytes += iface.RxBytes
		snapshot.TxBytes += iface.TxBytes
	}
	return snapshot, nil
}

// StdinConn is a hijacked attach used for command forwarding.
type StdinConn struct {
	Conn net.Conn

	close func()
}

func (s *StdinConn) Write(p []byte) (int, error) { return s.Conn.Write(p) }

func (s *StdinConn) Close() error {
	s.close()
	return nil
}

// AttachStdin opens a stdin-only attach without signal proxying, for
// writing console commands into the server process.
func (c *Client) AttachStdin(ctx context.Context, id string) (*StdinConn, error) {
	resp, err := c.cli.ContainerAttach(ctx, id, client.ContainerAttachOptions{
		Stream: true,
		Stdin:  true,
	})
	if err != nil {
		return nil, &domain.ContainerOpError{Op: "attach", Err: err}
	}
	return &StdinConn{Conn: resp.Conn, close: resp.Close}, nil
}
