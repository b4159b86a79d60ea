// Copyright 2024-2026 Aiku AI

// Package config loads and validates the relay configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-irc-relay/pkg/relay"
	"github.com/aiku/mattermost-irc-relay/pkg/telemetry"
)

//go:embed example-config.yaml
var ExampleConfig string

// Network kinds.
const (
	KindIRC    = "irc"
	KindTwitch = "twitch"
)

const (
	defaultTwitchAddress = "irc.chat.twitch.tv"
	defaultWebhookName   = "IRC Relay"
)

// Config is the full relay configuration.
type Config struct {
	Mattermost MattermostConfig        `yaml:"mattermost"`
	Networks   []NetworkConfig         `yaml:"networks"`
	Relay      RelayConfig             `yaml:"relay"`
	API        APIConfig               `yaml:"api"`
	Tracing    telemetry.TracingConfig `yaml:"tracing"`
	Logging    zeroconfig.Config       `yaml:"logging"`
}

// MattermostConfig configures the platform side.
type MattermostConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
	// BotPrefix is a username prefix for echo prevention. Any Mattermost
	// username starting with this prefix is treated as a bot and its posts
	// are not relayed to IRC. Leave empty to disable prefix-based filtering.
	BotPrefix      string        `yaml:"bot_prefix"`
	WebhookID      string        `yaml:"webhook_id"`
	WebhookName    string        `yaml:"webhook_name"`
	IconURL        string        `yaml:"icon_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// NetworkConfig configures one IRC-style network. It is immutable once the
// relay has started.
type NetworkConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Address  string `yaml:"address"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	Channel  string `yaml:"channel"`
	Nick     string `yaml:"nick"`
	Password string `yaml:"password"`
	RealName string `yaml:"realname"`
}

// HostPort returns the address:port pair to dial.
func (n NetworkConfig) HostPort() string {
	return fmt.Sprintf("%s:%d", n.Address, n.Port)
}

// RelayConfig tunes the coordinator and network hosts.
type RelayConfig struct {
	RestartDelay    time.Duration `yaml:"restart_delay"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RelayQuits      bool          `yaml:"relay_quits"`
	OnlineNotice    string        `yaml:"online_notice"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Token      string `yaml:"token"`
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "channel_id")
	helper.Copy(up.Str, "mattermost", "bot_prefix")
	helper.Copy(up.Str, "mattermost", "webhook_id")
	helper.Copy(up.Str, "mattermost", "webhook_name")
	helper.Copy(up.Str, "mattermost", "icon_url")
	helper.Copy(up.Str|up.Int, "mattermost", "reconnect_delay")
	helper.Copy(up.Str|up.Int, "mattermost", "request_timeout")
	helper.Copy(up.List, "networks")
	helper.Copy(up.Str|up.Int, "relay", "restart_delay")
	helper.Copy(up.Str|up.Int, "relay", "send_timeout")
	helper.Copy(up.Str|up.Int, "relay", "shutdown_timeout")
	helper.Copy(up.Bool, "relay", "relay_quits")
	helper.Copy(up.Str, "relay", "online_notice")
	helper.Copy(up.Str, "api", "listen_addr")
	helper.Copy(up.Str, "api", "token")
	helper.Copy(up.Str, "tracing", "endpoint")
	helper.Copy(up.Bool, "tracing", "insecure")
	helper.Copy(up.Map, "logging")
}

// Upgrader merges a user config over the embedded example config.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"networks"},
		{"relay"},
		{"api"},
		{"tracing"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// Load reads the config file at path, fills in missing fields from the
// example config, applies environment overrides and validates the result.
// When save is true, the merged config is written back to path.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", relay.ErrConfiguration, err)
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes a YAML config, applies environment overrides from lookup and
// validates the result.
func Parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", relay.ErrConfiguration, err)
	}
	if lookup != nil {
		cfg.ApplyEnv(lookup)
	}
	cfg.PostProcess()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnvName returns the environment variable holding the password of the
// named network, e.g. IRC_LIBERA_PASSWORD.
func EnvName(network string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(network) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return "IRC_" + b.String() + "_PASSWORD"
}

// ApplyEnv overrides secrets and connection settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("MATTERMOST_URL"); ok && v != "" {
		c.Mattermost.ServerURL = v
	}
	if v, ok := lookup("MATTERMOST_TOKEN"); ok && v != "" {
		c.Mattermost.Token = v
	}
	if v, ok := lookup("MATTERMOST_CHANNEL_ID"); ok && v != "" {
		c.Mattermost.ChannelID = v
	}
	if v, ok := lookup("RELAY_API_TOKEN"); ok && v != "" {
		c.API.Token = v
	}
	for i := range c.Networks {
		name := c.Networks[i].Name
		if name == "" {
			name = c.Networks[i].Address
		}
		if v, ok := lookup(EnvName(name)); ok && v != "" {
			c.Networks[i].Password = v
		}
	}
}

// PostProcess fills in defaults and normalizes values.
func (c *Config) PostProcess() {
	mm := &c.Mattermost
	mm.ServerURL = strings.TrimRight(strings.TrimSpace(mm.ServerURL), "/")
	if mm.WebhookName == "" {
		mm.WebhookName = defaultWebhookName
	}
	if mm.ReconnectDelay == 0 {
		mm.ReconnectDelay = 5 * time.Second
	}
	if mm.RequestTimeout == 0 {
		mm.RequestTimeout = 30 * time.Second
	}

	for i := range c.Networks {
		n := &c.Networks[i]
		n.Kind = strings.ToLower(strings.TrimSpace(n.Kind))
		if n.Kind == "" {
			n.Kind = KindIRC
		}
		if n.Kind == KindTwitch {
			if n.Address == "" {
				n.Address = defaultTwitchAddress
				n.TLS = true
			}
			n.Channel = strings.ToLower(n.Channel)
			n.Nick = strings.ToLower(n.Nick)
			if n.Password != "" && !strings.HasPrefix(n.Password, "oauth:") {
				n.Password = "oauth:" + n.Password
			}
		}
		if n.Name == "" {
			n.Name = n.Address
		}
		if n.Port == 0 {
			if n.TLS {
				n.Port = 6697
			} else {
				n.Port = 6667
			}
		}
		n.Channel = strings.TrimSpace(n.Channel)
		if n.Channel != "" && !strings.ContainsRune("#&+!", rune(n.Channel[0])) {
			n.Channel = "#" + n.Channel
		}
		if n.RealName == "" {
			n.RealName = n.Nick
		}
	}

	if c.Relay.RestartDelay == 0 {
		c.Relay.RestartDelay = 5 * time.Second
	}
	if c.Relay.SendTimeout == 0 {
		c.Relay.SendTimeout = relay.DefaultSendTimeout
	}
	if c.Relay.ShutdownTimeout == 0 {
		c.Relay.ShutdownTimeout = 10 * time.Second
	}
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{relay.ErrConfiguration}, args...)...)
}

// Validate reports every problem found, each wrapping relay.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []error
	mm := c.Mattermost
	if mm.ServerURL == "" {
		errs = append(errs, configErr("mattermost.server_url is required"))
	} else if u, err := url.Parse(mm.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, configErr("mattermost.server_url %q must be an http(s) URL", mm.ServerURL))
	}
	if mm.Token == "" {
		errs = append(errs, configErr("mattermost.token is required"))
	}
	if mm.ChannelID == "" {
		errs = append(errs, configErr("mattermost.channel_id is required"))
	}
	if mm.ReconnectDelay < 0 || mm.RequestTimeout < 0 {
		errs = append(errs, configErr("mattermost delays must be positive"))
	}

	if len(c.Networks) == 0 {
		errs = append(errs, configErr("at least one IRC network must be configured"))
	}
	seen := make(map[string]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.Kind != KindIRC && n.Kind != KindTwitch {
			errs = append(errs, configErr("networks[%d]: unknown kind %q", i, n.Kind))
		}
		if n.Address == "" {
			errs = append(errs, configErr("networks[%d]: address is required", i))
		}
		if n.Port < 1 || n.Port > 65535 {
			errs = append(errs, configErr("networks[%d]: port %d out of range", i, n.Port))
		}
		if n.Channel == "" {
			errs = append(errs, configErr("networks[%d]: channel is required", i))
		}
		if n.Nick == "" {
			errs = append(errs, configErr("networks[%d]: nick is required", i))
		}
		if n.Name != "" && seen[n.Name] {
			errs = append(errs, configErr("networks[%d]: duplicate network name %q", i, n.Name))
		}
		seen[n.Name] = true
	}

	if c.Relay.RestartDelay < 0 || c.Relay.SendTimeout < 0 || c.Relay.ShutdownTimeout < 0 {
		errs = append(errs, configErr("relay delays must be positive"))
	}
	return errors.Join(errs...)
}
