package main

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
)

// dockerConsole attaches to a server container's stdio, the way the panel's
// own web console does. Commands are written to the container's stdin.
type dockerConsole struct {
	docker    *client.Client
	container string

	mu    sync.Mutex
	stdin net.Conn
}

func newDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "docker client")
	}
	return cli, nil
}

func newDockerConsole(docker *client.Client, containerID string) *dockerConsole {
	return &dockerConsole{docker: docker, container: containerID}
}

func (c *dockerConsole) Attach(ctx context.Context) (io.ReadCloser, error) {
	info, err := c.docker.ContainerInspect(ctx, c.container)
	if err != nil {
		return nil, errors.Wrapf(err, "inspect container %s", c.container)
	}

	resp, err := c.docker.ContainerAttach(ctx, c.container, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "attach container %s", c.container)
	}

	c.mu.Lock()
	c.stdin = resp.Conn
	c.mu.Unlock()

	detach := func() {
		c.mu.Lock()
		c.stdin = nil
		c.mu.Unlock()
		resp.Close()
	}

	if info.Config != nil && info.Config.Tty {
		return &consoleOutput{Reader: resp.Reader, close: detach}, nil
	}

	// Without a TTY stdout and stderr arrive multiplexed.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, resp.Reader)
		pw.CloseWithError(err)
	}()
	return &consoleOutput{Reader: pr, close: func() {
		detach()
		_ = pr.Close()
	}}, nil
}

func (c *dockerConsole) Exec(ctx context.Context, command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdin == nil {
		return errors.Errorf("container %s: console not attached", c.container)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.stdin.SetWriteDeadline(deadline)
	}
	if _, err := io.WriteString(c.stdin, command+"\n"); err != nil {
		return errors.Wrapf(err, "write to container %s", c.container)
	}
	return nil
}
