package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon serves container inspect and attach for container "mc". Attach
// writes output, multiplexed unless tty, then reports stdin lines on stdin.
type fakeDaemon struct {
	tty    bool
	output map[stdcopy.StdType][]string
	stdin  chan string
}

func (d *fakeDaemon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/containers/mc/json"):
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"Id":     "mc",
			"Config": map[string]any{"Tty": d.tty},
		})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/containers/mc/attach"):
		d.attach(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (d *fakeDaemon) attach(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stdin") != "1" || r.URL.Query().Get("stream") != "1" {
		http.Error(w, "expected a streaming stdin attach", http.StatusBadRequest)
		return
	}
	conn, rw, err := w.(http.Hijacker).Hijack()
	if err != nil {
		return
	}
	defer conn.Close()

	mediaType := "application/vnd.docker.multiplexed-stream"
	if d.tty {
		mediaType = "application/vnd.docker.raw-stream"
	}
	fmt.Fprintf(rw, "HTTP/1.1 101 UPGRADED\r\nContent-Type: %s\r\nConnection: Upgrade\r\nUpgrade: tcp\r\n\r\n", mediaType)
	for _, stream := range []stdcopy.StdType{stdcopy.Stdout, stdcopy.Stderr} {
		for _, line := range d.output[stream] {
			if d.tty {
				_, _ = rw.WriteString(line + "\n")
				continue
			}
			_, _ = stdcopy.NewStdWriter(rw, stream).Write([]byte(line + "\n"))
		}
	}
	_ = rw.Flush()

	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		d.stdin <- scanner.Text()
	}
}

func newFakeDaemon(t *testing.T, d *fakeDaemon) *client.Client {
	t.Helper()
	d.stdin = make(chan string, 16)
	ts := httptest.NewServer(d)
	t.Cleanup(ts.Close)

	docker, err := client.NewClientWithOpts(
		client.WithHost("tcp://"+ts.Listener.Addr().String()),
		client.WithHTTPClient(ts.Client()),
		client.WithVersion("1.45"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = docker.Close() })
	return docker
}

func TestDockerConsole_Multiplexed(t *testing.T) {
	d := &fakeDaemon{output: map[stdcopy.StdType][]string{
		stdcopy.Stdout: {"[12:00:00] [Server thread/INFO]: Alice joined the game"},
		stdcopy.Stderr: {"[12:00:01] [Server thread/INFO]: <Alice> from stderr"},
	}}
	s := NewServerAdapter("ServerA", mustBuiltin(t, "vanilla"), newDockerConsole(newFakeDaemon(t, d), "mc"), slogt.New(t))
	require.NoError(t, s.Open(t.Context()))
	t.Cleanup(func() { _ = s.Close() })

	events := make(chan Event, 4)
	go func() { _ = s.Listen(t.Context(), func(e Event) { events <- e }) }()

	assert.Equal(t, NewJoin("ServerA", "Alice"), recvEvent(t, events))
	assert.Equal(t, NewMessage("ServerA", "Alice", "from stderr"), recvEvent(t, events))

	require.NoError(t, s.Send(t.Context(), NewMessage(discordSource, "bob", "hi")))
	assert.Equal(t, renderTellraw(NewMessage(discordSource, "bob", "hi")), recvLine(t, d.stdin))
}

func TestDockerConsole_TTY(t *testing.T) {
	d := &fakeDaemon{tty: true, output: map[stdcopy.StdType][]string{
		stdcopy.Stdout: {"[12:00:00] [Server thread/INFO]: Bob left the game"},
	}}
	s := NewServerAdapter("ServerA", mustBuiltin(t, "vanilla"), newDockerConsole(newFakeDaemon(t, d), "mc"), slogt.New(t))
	require.NoError(t, s.Open(t.Context()))
	t.Cleanup(func() { _ = s.Close() })

	events := make(chan Event, 4)
	go func() { _ = s.Listen(t.Context(), func(e Event) { events <- e }) }()
	assert.Equal(t, NewPart("ServerA", "Bob"), recvEvent(t, events))
}

func TestDockerConsole_ExecAfterDetach(t *testing.T) {
	console := newDockerConsole(newFakeDaemon(t, &fakeDaemon{}), "mc")
	require.Error(t, console.Exec(t.Context(), "list"), "not attached yet")

	output, err := console.Attach(t.Context())
	require.NoError(t, err)
	require.NoError(t, console.Exec(t.Context(), "list"))
	require.NoError(t, output.Close())

	err = console.Exec(t.Context(), "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not attached")
}

func TestDockerConsole_UnknownContainer(t *testing.T) {
	console := newDockerConsole(newFakeDaemon(t, &fakeDaemon{}), "missing")
	_, err := console.Attach(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inspect container missing")
}

func recvEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func recvLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case l := <-lines:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("no stdin line")
		return ""
	}
}
