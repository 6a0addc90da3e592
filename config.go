package main

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Relay    RelayConfig                `yaml:"relay"`
	Discord  DiscordConfig              `yaml:"discord"`
	Audit    AuditConfig                `yaml:"audit"`
	OTel     OTelConfig                 `yaml:"otel"`
	Dialects map[string]DialectPatterns `yaml:"dialects"` // custom pattern triples
	Servers  map[string]ServerConfig    `yaml:"servers"`  // keyed by display name
	Env      EnvConfig                  `yaml:"-"`
}

// EnvConfig holds credentials; they are read from the environment only.
type EnvConfig struct {
	DiscordToken   string `env:"DISCORD_TOKEN,required,notEmpty"`
	DiscordChannel string `env:"DISCORD_CHANNEL,required,notEmpty"`
	ServerAPI      string `env:"SERVER_API,required,notEmpty"`
	ServerKey      string `env:"SERVER_KEY,required,notEmpty"`
	RCONPassword   string `env:"RCON_PASSWORD"`
}

type RelayConfig struct {
	Capacity     int           `yaml:"capacity"`
	Restart      bool          `yaml:"restart"`
	RestartDelay time.Duration `yaml:"restart_delay"`
}

type DiscordConfig struct {
	Kinds []string `yaml:"kinds"` // event kinds posted to the channel, or ["all"]
}

type AuditConfig struct {
	Enabled bool     `yaml:"enabled"`
	Kinds   []string `yaml:"kinds"`
}

type OTelConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ServiceName     string        `yaml:"service_name"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

const (
	transportDocker   = "docker"
	transportCluster  = "cluster"
	transportDisabled = "disabled"
)

type ServerConfig struct {
	Dialect    string           `yaml:"dialect"`
	Transport  string           `yaml:"transport"` // docker (default), cluster or disabled
	Container  string           `yaml:"container"` // defaults to the panel uuid
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	RCON       RCONConfig       `yaml:"rcon"`
}

type KubernetesConfig struct {
	Namespace string `yaml:"namespace"`
	PodLabel  string `yaml:"pod_label"`
}

type RCONConfig struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	PasswordEnv string `yaml:"password_env"` // env var holding this server's password
}

func defaultConfig() Config {
	return Config{
		Relay: RelayConfig{
			Capacity:     64,
			Restart:      true,
			RestartDelay: 10 * time.Second,
		},
		Discord: DiscordConfig{
			Kinds: []string{"all"},
		},
		Audit: AuditConfig{
			Enabled: true,
			Kinds:   []string{"all"},
		},
		OTel: OTelConfig{
			ServiceName:     "mc-relay",
			MetricsInterval: 15 * time.Second,
		},
	}
}

// loadConfig reads the YAML file at path over the defaults. The file is
// optional; credentials are parsed separately by parseEnv.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	case !os.IsNotExist(err):
		return cfg, errors.Wrapf(err, "read config %s", path)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Relay.Capacity < 1 {
		return errors.Errorf("relay.capacity must be positive, got %d", c.Relay.Capacity)
	}
	if c.Relay.Restart && c.Relay.RestartDelay <= 0 {
		return errors.New("relay.restart_delay must be positive when relay.restart is set")
	}
	if _, err := newKindFilter(c.Discord.Kinds); err != nil {
		return errors.Wrap(err, "discord.kinds")
	}
	if _, err := newKindFilter(c.Audit.Kinds); err != nil {
		return errors.Wrap(err, "audit.kinds")
	}
	for name, s := range c.Servers {
		switch s.transport() {
		case transportDocker, transportDisabled:
		case transportCluster:
			if s.Kubernetes.Namespace == "" || s.Kubernetes.PodLabel == "" {
				return errors.Errorf("server %q: cluster transport needs kubernetes.namespace and kubernetes.pod_label", name)
			}
			if s.RCON.Host == "" {
				return errors.Errorf("server %q: cluster transport needs rcon.host", name)
			}
		default:
			return errors.Errorf("server %q: unknown transport %q", name, s.Transport)
		}
	}
	return nil
}

// parseEnv loads credentials. A missing required variable is fatal at startup.
func parseEnv(target *EnvConfig) error {
	if err := env.Parse(target); err != nil {
		return errors.Wrap(err, "parse env")
	}
	return nil
}

// dialectOverrides returns the server -> dialect rows set in the config file.
func (c *Config) dialectOverrides() map[string]string {
	out := make(map[string]string, len(c.Servers))
	for name, s := range c.Servers {
		if s.Dialect != "" {
			out[name] = s.Dialect
		}
	}
	return out
}

func (s ServerConfig) transport() string {
	if s.Transport == "" {
		return transportDocker
	}
	return s.Transport
}

func (s ServerConfig) rconPassword(fallback string) string {
	if s.RCON.PasswordEnv != "" {
		if v := os.Getenv(s.RCON.PasswordEnv); v != "" {
			return v
		}
	}
	return fallback
}

func (s ServerConfig) rconPort() string {
	if s.RCON.Port == "" {
		return "25575"
	}
	return s.RCON.Port
}
