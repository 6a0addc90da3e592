package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/docker/docker/client"
	"github.com/pkg/errors"
)

type CLI struct {
	Config string       `help:"Path to the YAML config file." default:"/etc/mc-relay/config.yaml" env:"CONFIG_PATH"`
	Debug  bool         `help:"Enable debug logging."`
	Logger *slog.Logger `kong:"-"`

	Run      RunCmd      `cmd:"" default:"1" help:"Relay chat between the game servers and Discord."`
	Classify ClassifyCmd `cmd:"" help:"Classify console lines read from stdin and print the events."`
	Dialects DialectsCmd `cmd:"" help:"List the known dialects and the server table."`
}

func (c *CLI) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}
	c.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	return c.Logger
}

// registry loads the config file and builds the dialect registry from it.
func (c *CLI) registry() (Config, *Registry, error) {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return cfg, nil, err
	}
	reg, err := BuildRegistry(cfg.Dialects, cfg.dialectOverrides())
	if err != nil {
		return cfg, nil, errors.Wrap(err, "dialects")
	}
	return cfg, reg, nil
}

type RunCmd struct{}

func (r *RunCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := cli.logger()

	cfg, registry, err := cli.registry()
	if err != nil {
		return err
	}
	if err := parseEnv(&cfg.Env); err != nil {
		return err
	}

	tel, err := setupTelemetry(ctx, cfg.OTel)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	metrics, err := newRelayMetrics(tel.meterProvider.Meter(cfg.OTel.ServiceName))
	if err != nil {
		return err
	}

	panel, err := NewPanelClient(cfg.Env.ServerAPI, cfg.Env.ServerKey).Servers(ctx)
	if err != nil {
		return errors.Wrap(err, "server discovery")
	}
	targets, duplicates := planServers(panel, cfg.Servers)
	for _, name := range duplicates {
		// Echo suppression keys on the name, so these servers won't hear each other.
		logger.Warn("several endpoints share a name", "name", name)
	}

	resources := &adapterResources{}
	defer resources.Close()
	adapters, err := buildAdapters(cfg, registry, targets, resources, logger)
	if err != nil {
		return err
	}

	bus := NewBus(cfg.Relay.Capacity)
	defer bus.Close()
	bridge := NewBridge(bus, logger, metrics)
	policy := RestartPolicy{Enabled: cfg.Relay.Restart, Delay: cfg.Relay.RestartDelay}

	var wg sync.WaitGroup
	if cfg.Audit.Enabled {
		kinds, _ := newKindFilter(cfg.Audit.Kinds) // validated by loadConfig
		audit := NewAuditLog(tel.loggerProvider.Logger(cfg.OTel.ServiceName), kinds)
		sub := bus.Subscribe("audit")
		wg.Go(func() {
			if err := audit.Run(ctx, sub); err != nil {
				logger.Error("audit log stopped", "error", err)
			}
		})
	}
	for _, a := range adapters {
		wg.Go(func() { bridge.Supervise(ctx, a, policy) })
	}

	names := make([]string, len(adapters))
	for i, a := range adapters {
		names[i] = a.Name()
	}
	logger.Info("mc-relay started", "adapters", names, "capacity", cfg.Relay.Capacity)

	<-ctx.Done()
	wg.Wait()
	logger.Info("shutting down")
	return nil
}

// relayTarget is a game server that gets a ServerAdapter.
type relayTarget struct {
	Name      string
	Container string
	Config    ServerConfig
}

// planServers merges the panel listing with the config file: panel servers
// run over Docker unless configured otherwise, and cluster servers only
// present in the config are added. It also reports names used more than once.
func planServers(panel []ServerInfo, configured map[string]ServerConfig) ([]relayTarget, []string) {
	var targets []relayTarget
	seen := map[string]int{}
	for _, s := range panel {
		sc := configured[s.Name]
		seen[s.Name]++
		if sc.transport() == transportDisabled {
			continue
		}
		container := sc.Container
		if container == "" {
			container = s.UUID
		}
		targets = append(targets, relayTarget{Name: s.Name, Container: container, Config: sc})
	}

	extra := make([]string, 0, len(configured))
	for name, sc := range configured {
		if sc.transport() == transportCluster && seen[name] == 0 {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		seen[name]++
		targets = append(targets, relayTarget{Name: name, Config: configured[name]})
	}

	var duplicates []string
	if seen[discordSource] > 0 {
		duplicates = append(duplicates, discordSource)
	}
	for name, n := range seen {
		if n > 1 && name != discordSource {
			duplicates = append(duplicates, name)
		}
	}
	sort.Strings(duplicates)
	return targets, duplicates
}

// adapterResources owns the clients shared by adapters across restarts.
type adapterResources struct {
	docker *client.Client
	k8s    *K8sClient
	rcon   []*RCONPool
}

func (r *adapterResources) dockerClient() (*client.Client, error) {
	if r.docker == nil {
		cli, err := newDockerClient()
		if err != nil {
			return nil, err
		}
		r.docker = cli
	}
	return r.docker, nil
}

func (r *adapterResources) k8sClient() *K8sClient {
	if r.k8s == nil {
		r.k8s = NewK8sClient()
	}
	return r.k8s
}

func (r *adapterResources) Close() {
	for _, p := range r.rcon {
		_ = p.Close()
	}
	if r.docker != nil {
		_ = r.docker.Close()
	}
}

func buildAdapters(cfg Config, registry *Registry, targets []relayTarget, res *adapterResources, logger *slog.Logger) ([]Adapter, error) {
	var adapters []Adapter
	for _, t := range targets {
		var console Console
		switch t.Config.transport() {
		case transportCluster:
			pool := NewRCONPool(t.Config.RCON.Host, t.Config.rconPort(), t.Config.rconPassword(cfg.Env.RCONPassword))
			res.rcon = append(res.rcon, pool)
			console = newClusterConsole(res.k8sClient(), t.Config.Kubernetes.Namespace, t.Config.Kubernetes.PodLabel, pool)
		default:
			docker, err := res.dockerClient()
			if err != nil {
				return nil, err
			}
			console = newDockerConsole(docker, t.Container)
		}
		adapters = append(adapters, NewServerAdapter(t.Name, registry.Resolve(t.Name), console, logger))
	}

	kinds, _ := newKindFilter(cfg.Discord.Kinds) // validated by loadConfig
	dc, err := NewDiscordAdapter(cfg.Env.DiscordToken, cfg.Env.DiscordChannel, kinds, logger)
	if err != nil {
		return nil, err
	}
	return append(adapters, dc), nil
}

type ClassifyCmd struct {
	Dialect string `help:"Dialect to classify with." default:"vanilla"`
	Server  string `help:"Resolve the dialect from this server name instead."`
	Source  string `help:"Source stamped on the printed events." default:"console"`

	in  io.Reader `kong:"-"`
	out io.Writer `kong:"-"`
}

func (c *ClassifyCmd) Run(cli *CLI) error {
	_, registry, err := cli.registry()
	if err != nil {
		return err
	}

	dialect, ok := registry.Lookup(c.Dialect)
	if c.Server != "" {
		dialect, ok = registry.Resolve(c.Server), true
	}
	if !ok {
		return errors.Errorf("unknown dialect %q", c.Dialect)
	}

	in, out := c.in, c.out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		event, ok := dialect.Classify(strings.TrimSpace(scanner.Text()), c.Source)
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(out, "%s\t%s\t%q\t%q\n", event.Source, event.Kind, event.Actor, event.Body); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(scanner.Err())
}

type DialectsCmd struct {
	out io.Writer `kong:"-"`
}

func (d *DialectsCmd) Run(cli *CLI) error {
	_, registry, err := cli.registry()
	if err != nil {
		return err
	}
	out := d.out
	if out == nil {
		out = os.Stdout
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DIALECTS\t")
	for _, name := range registry.Dialects() {
		fmt.Fprintf(w, "%s\t\n", name)
	}
	fmt.Fprintln(w, "\nSERVER\tDIALECT")
	table := registry.Table()
	servers := make([]string, 0, len(table))
	for s := range table {
		servers = append(servers, s)
	}
	sort.Strings(servers)
	for _, s := range servers {
		fmt.Fprintf(w, "%s\t%s\n", s, table[s])
	}
	fmt.Fprintf(w, "*\t%s\n", defaultDialect)
	return errors.WithStack(w.Flush())
}
