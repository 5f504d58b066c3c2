package agentrt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// containerRuntime runs a stage's script inside a short-lived container
// bound to the stage's working directory via a mounted volume, per §4.8.
// One Docker client is shared across stages; containers themselves are
// created and removed per stage run.
type containerRuntime struct {
	cli *client.Client
}

func newContainerRuntime() *containerRuntime {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		// Deferred: surfaced on first run() call instead of at agent startup,
		// so an agent with no containerized stages never needs a daemon.
		return &containerRuntime{cli: nil}
	}
	return &containerRuntime{cli: cli}
}

const containerWorkdir = "/workspace"

// run creates a container from image, mounts workdir at containerWorkdir,
// runs script as a single shell invocation, streams combined stdout/stderr
// to onLine, and removes the container in every exit path.
func (r *containerRuntime) run(ctx context.Context, image string, script []string, env map[string]string, workdir string, onLine func(string)) error {
	if r.cli == nil {
		return fmt.Errorf("docker client unavailable: no daemon reachable")
	}

	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	cmd := []string{"sh", "-c", strings.Join(script, " && ")}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      image,
		Cmd:        cmd,
		Env:        envList,
		WorkingDir: containerWorkdir,
		Tty:        false,
	}, &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: workdir,
				Target: containerWorkdir,
			},
		},
		AutoRemove: false,
	}, nil, nil, "")
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID
	defer func() {
		_ = r.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	if err := r.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	logs, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		return fmt.Errorf("attach container logs: %w", err)
	}
	defer logs.Close()
	streamDemuxedLines(logs, onLine)

	statusCh, errCh := r.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("wait container: %w", err)
		}
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("container exited with status %d", status.StatusCode)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// streamDemuxedLines splits the Docker multiplexed stdout/stderr stream
// into lines, handing each to onLine as it arrives.
func streamDemuxedLines(r io.Reader, onLine func(string)) {
	pr, pw := io.Pipe()
	go func() {
		_, _ = stdcopy.StdCopy(pw, pw, r)
		_ = pw.Close()
	}()
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
}
