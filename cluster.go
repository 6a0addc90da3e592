package main

import (
	"context"
	"io"

	"github.com/gorcon/rcon"
	"github.com/pkg/errors"
)

// clusterConsole reads a server's output from its Kubernetes pod log and
// runs commands over RCON, for servers that aren't reachable through Docker.
type clusterConsole struct {
	k8s       *K8sClient
	namespace string
	podLabel  string
	rcon      *RCONPool
}

func newClusterConsole(k8s *K8sClient, namespace, podLabel string, rcon *RCONPool) *clusterConsole {
	return &clusterConsole{k8s: k8s, namespace: namespace, podLabel: podLabel, rcon: rcon}
}

func (c *clusterConsole) Attach(ctx context.Context) (io.ReadCloser, error) {
	pod, err := c.k8s.FindPod(ctx, c.namespace, c.podLabel)
	if err != nil {
		return nil, errors.Wrap(err, "find pod")
	}
	body, err := c.k8s.StreamLogs(ctx, c.namespace, pod)
	if err != nil {
		return nil, errors.Wrapf(err, "stream logs %s/%s", c.namespace, pod)
	}
	return &consoleOutput{Reader: body, close: func() { _ = body.Close() }}, nil
}

// Exec sends command over RCON. RCON takes commands without the leading
// slash and without a trailing newline, which is what renderTellraw yields.
func (c *clusterConsole) Exec(_ context.Context, command string) error {
	if _, err := c.rcon.Execute(command); err != nil {
		return errors.Wrap(err, "rcon")
	}
	return nil
}

func (c *clusterConsole) maxCommandLen() int { return rcon.MaxCommandLen }
