package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RelayConfig is the complete configuration for the onion-relay service.
type RelayConfig struct {
	Relay     RelayIdentityConfig `yaml:"relay"`
	Transport TransportConfig     `yaml:"transport"`
	TLS       CertConfig          `yaml:"tls"`
	Directory DirectoryConfig     `yaml:"directory"`
	Bridge    BridgeConfig        `yaml:"bridge"`
	RateLimit RateLimitConfig     `yaml:"rate_limit"`
	Metrics   MetricsConfig       `yaml:"metrics"`
	Log       LogConfig           `yaml:"log"`
}

// RelayIdentityConfig carries the relay's long-term identity and listener
// address. At least one of Seed/SeedFile must be set; when both are set,
// SeedFile is used. The value must decode to 32 bytes of hex.
type RelayIdentityConfig struct {
	Seed       string `yaml:"seed"`      // hex-encoded 32-byte seed
	SeedFile   string `yaml:"seed_file"` // path to a file containing the hex seed
	SelfURL    string `yaml:"self_url"`  // this relay's public https base URL
	ListenAddr string `yaml:"listen_addr"`
}

// TransportConfig selects the hop-to-hop outbound transport (C8).
type TransportConfig struct {
	Kind string `yaml:"kind"` // "tls" (default) or "http3"
}

// CertConfig is the file-or-PEM dual config for the relay's TLS listener.
type CertConfig struct {
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
	CertPEM string `yaml:"cert_pem"`
	KeyPEM  string `yaml:"key_pem"`
}

// GetCertPEM returns certificate PEM bytes, reading from file if necessary.
func (c *CertConfig) GetCertPEM() ([]byte, error) {
	if c.CertPEM != "" {
		return []byte(c.CertPEM), nil
	}
	if c.Cert != "" {
		return os.ReadFile(c.Cert)
	}
	return nil, nil
}

// GetKeyPEM returns key PEM bytes, reading from file if necessary.
func (c *CertConfig) GetKeyPEM() ([]byte, error) {
	if c.KeyPEM != "" {
		return []byte(c.KeyPEM), nil
	}
	if c.Key != "" {
		return os.ReadFile(c.Key)
	}
	return nil, nil
}

// DirectoryConfig controls the periodic directory publisher (C9). This is
// the relay's own identity-publication endpoint (spec §6), distinct from
// BridgeConfig's sync service endpoint.
type DirectoryConfig struct {
	PublishURL      string        `yaml:"publish_url"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// BridgeConfig points the relay's terminal delivery bridge (C7) at a sync
// service's POST /deliver endpoint (spec §4.7). Left empty, a standalone
// relay has no bridge configured and any Deliver payload fails with 502.
type BridgeConfig struct {
	DeliverURL string        `yaml:"deliver_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RateLimitConfig controls the per-source token bucket on POST /hop (C10).
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// MetricsConfig controls the Prometheus exposition endpoint (C11).
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig controls the structured logger (C12).
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultRelayConfig returns a RelayConfig with every field populated with
// its reference default value.
func DefaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		Relay: RelayIdentityConfig{
			ListenAddr: ":8443",
		},
		Transport: TransportConfig{Kind: "tls"},
		Directory: DirectoryConfig{
			PublishInterval: 5 * time.Minute,
		},
		Bridge:    BridgeConfig{Timeout: 10 * time.Second},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		Metrics:   MetricsConfig{Enabled: true, ListenAddr: ":9100"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// LoadRelayConfig reads and parses a relay config file from path.
func LoadRelayConfig(path string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read relay config: %w", err)
	}
	return ParseRelayConfig(data)
}

// ParseRelayConfig parses relay configuration YAML, expanding environment
// variable references, applying defaults, then validating.
func ParseRelayConfig(data []byte) (*RelayConfig, error) {
	expanded := expandRelayEnvVars(string(data))

	cfg := DefaultRelayConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse relay config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("relay config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the relay configuration for errors.
func (c *RelayConfig) Validate() error {
	var errs []string

	if c.Relay.Seed == "" && c.Relay.SeedFile == "" {
		errs = append(errs, "relay.seed or relay.seed_file is required")
	}
	if c.Relay.SelfURL == "" {
		errs = append(errs, "relay.self_url is required")
	} else if !strings.HasPrefix(c.Relay.SelfURL, "https://") {
		errs = append(errs, "relay.self_url must use the https scheme")
	}
	if c.Relay.ListenAddr == "" {
		errs = append(errs, "relay.listen_addr is required")
	}

	if !isValidTransportKind(c.Transport.Kind) {
		errs = append(errs, fmt.Sprintf("invalid transport.kind: %s (must be tls or http3)", c.Transport.Kind))
	}

	if c.RateLimit.RPS <= 0 {
		errs = append(errs, "rate_limit.rps must be positive")
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, "rate_limit.burst must be positive")
	}

	if !isValidRelayLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s", c.Log.Level))
	}
	if !isValidRelayLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func isValidTransportKind(kind string) bool {
	switch kind {
	case "tls", "http3":
		return true
	default:
		return false
	}
}

func isValidRelayLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidRelayLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}

var relayEnvVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandRelayEnvVars replaces environment variable references ($VAR, ${VAR},
// ${VAR:-default}) with their resolved values, shared by both config files.
func expandRelayEnvVars(s string) string {
	return relayEnvVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
