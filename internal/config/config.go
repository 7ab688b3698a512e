// Package config loads the grid's startup configuration (spec §6:
// "Configuration (consumed, not designed here)"). It is explicitly outside
// the protocol core, but — per this module's ambient-stack requirement —
// still a complete, working YAML loader, grounded on the teacher's
// config/notifiers.go struct-per-integration shape and parsed with
// gopkg.in/yaml.v3, the direct dependency the teacher's own go.mod
// declares for its newer config surfaces.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/common/model"
	"gopkg.in/yaml.v3"
)

// AnnounceMode selects the Announcer backend (spec §6).
type AnnounceMode string

const (
	AnnounceTelegram AnnounceMode = "telegram"
	AnnounceLog      AnnounceMode = "log"
)

// NodeConfig is one roster entry (spec §3 "Node identity").
type NodeConfig struct {
	Name           string `yaml:"name"`
	Address        string `yaml:"address"`
	TelegramHandle string `yaml:"telegram_handle,omitempty"`
}

// TLSConfig names the optional certificate material (spec §6 "TLS
// cert/key paths"). CertFile/KeyFile serve the HTTP endpoint surface;
// RootCAFile is the optional custom root trusted for outbound peer calls
// (spec §4.3).
type TLSConfig struct {
	CertFile   string `yaml:"cert_file,omitempty"`
	KeyFile    string `yaml:"key_file,omitempty"`
	RootCAFile string `yaml:"root_ca_file,omitempty"`
}

// TelegramConfig names the bot credentials used when Announce is
// "telegram" (spec §6 "optional chat-service credentials"). Grounded on
// config/notifiers.go's TelegramConfig (BotToken/ChatID/APIUrl/ParseMode).
type TelegramConfig struct {
	BotToken string `yaml:"bot_token,omitempty"`
	ChatID   int64  `yaml:"chat_id,omitempty"`
	APIURL   string `yaml:"api_url,omitempty"`
}

// Config is the grid node's full startup configuration.
type Config struct {
	Self            string         `yaml:"self"`
	Secret          string         `yaml:"secret"`
	PollPeriod      model.Duration `yaml:"poll_period"`
	Announce        AnnounceMode   `yaml:"announce"`
	ListenAddr      string         `yaml:"listen_addr"`
	InternetGateURL string         `yaml:"internet_gate_url,omitempty"`
	TLS             TLSConfig      `yaml:"tls,omitempty"`
	Telegram        TelegramConfig `yaml:"telegram,omitempty"`
	LogFile         string         `yaml:"log_file,omitempty"`
	Roster          []NodeConfig   `yaml:"roster"`
}

// defaultPollPeriod is spec §6's default poll period.
const defaultPollPeriod = model.Duration(10 * time.Second)

// defaultInternetGateURL is a well-known captive-portal sentinel endpoint
// that answers 204 when the network path out is healthy (spec §4.5 step 1).
const defaultInternetGateURL = "http://connectivitycheck.gstatic.com/generate_204"

// Load reads and validates a YAML config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}

	if cfg.PollPeriod <= 0 {
		cfg.PollPeriod = defaultPollPeriod
	}
	if cfg.InternetGateURL == "" {
		cfg.InternetGateURL = defaultInternetGateURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Self == "" {
		return fmt.Errorf("config: self is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("config: secret is required")
	}
	switch c.Announce {
	case AnnounceTelegram, AnnounceLog:
	default:
		return fmt.Errorf("config: announce must be %q or %q, got %q", AnnounceTelegram, AnnounceLog, c.Announce)
	}

	selfKnown := false
	seen := make(map[string]bool, len(c.Roster))
	for _, n := range c.Roster {
		if n.Name == "" || n.Address == "" {
			return fmt.Errorf("config: roster entries require name and address")
		}
		if seen[n.Name] {
			return fmt.Errorf("config: duplicate roster name %q", n.Name)
		}
		seen[n.Name] = true
		if n.Name == c.Self {
			selfKnown = true
		}
	}
	if !selfKnown {
		return fmt.Errorf("config: self %q must appear in roster", c.Self)
	}
	return nil
}

// Period returns PollPeriod as a time.Duration for poller use.
func (c *Config) Period() time.Duration {
	return time.Duration(c.PollPeriod)
}

// Peers returns the roster with self removed (spec §4.6 "Node Registry":
// "immediately remove any entry whose name equals self's name").
func (c *Config) Peers() []NodeConfig {
	out := make([]NodeConfig, 0, len(c.Roster))
	for _, n := range c.Roster {
		if n.Name != c.Self {
			out = append(out, n)
		}
	}
	return out
}
