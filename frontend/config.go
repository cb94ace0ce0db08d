package frontend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tcassar-diss/tetheroffload/bpf"
	"github.com/tcassar-diss/tetheroffload/tethering/coordinator"
)

var ErrInvalidConfig = errors.New("invalid config")

// DefaultMetricsListen is where metrics are served unless configured
// otherwise.
const DefaultMetricsListen = "localhost:9464"

type BPFConfig struct {
	PinDir string `toml:"pin_dir"`
}

type LimitConfig struct {
	Iface string `toml:"iface"`
	Bytes uint64 `toml:"bytes"`
}

type CoordinatorConfig struct {
	PollInterval time.Duration `toml:"poll_interval"`
	DefaultLimit uint64        `toml:"default_limit"`
	Limits       []LimitConfig `toml:"limits"`
}

// DownstreamConfig names an interface tethered clients sit behind and the
// pinned programs to attach to it. An empty IngressProg is picked from the
// interface's link type; an empty EgressProg attaches nothing.
type DownstreamConfig struct {
	Iface       string `toml:"iface"`
	IngressProg string `toml:"ingress_prog"`
	EgressProg  string `toml:"egress_prog"`
}

type MetricsConfig struct {
	// Listen is the metrics address; empty disables the endpoint.
	Listen string `toml:"listen"`
}

type Config struct {
	Verbose     bool               `toml:"verbose"`
	BPF         BPFConfig          `toml:"bpf"`
	Coordinator CoordinatorConfig  `toml:"coordinator"`
	Downstreams []DownstreamConfig `toml:"downstream"`
	Metrics     MetricsConfig      `toml:"metrics"`
}

func DefaultConfig() *Config {
	return &Config{
		BPF: BPFConfig{
			PinDir: bpf.PinDir,
		},
		Coordinator: CoordinatorConfig{
			PollInterval: coordinator.DefaultPollInterval,
		},
		Metrics: MetricsConfig{
			Listen: DefaultMetricsListen,
		},
	}
}

// ParseConfig reads the TOML config at path on top of DefaultConfig.
func ParseConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	return DecodeConfig(file)
}

// DecodeConfig reads a TOML config from r on top of DefaultConfig.
func DecodeConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}

		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BPF.PinDir == "" {
		return fmt.Errorf("%w: bpf.pin_dir is empty", ErrInvalidConfig)
	}

	if c.Coordinator.PollInterval <= 0 {
		return fmt.Errorf("%w: coordinator.poll_interval must be positive", ErrInvalidConfig)
	}

	seen := make(map[string]bool)

	for _, l := range c.Coordinator.Limits {
		if l.Iface == "" {
			return fmt.Errorf("%w: coordinator.limits entry without iface", ErrInvalidConfig)
		}

		if seen[l.Iface] {
			return fmt.Errorf("%w: duplicate limit for %s", ErrInvalidConfig, l.Iface)
		}

		seen[l.Iface] = true
	}

	seen = make(map[string]bool)

	for _, d := range c.Downstreams {
		if d.Iface == "" {
			return fmt.Errorf("%w: downstream entry without iface", ErrInvalidConfig)
		}

		if seen[d.Iface] {
			return fmt.Errorf("%w: downstream %s listed twice", ErrInvalidConfig, d.Iface)
		}

		seen[d.Iface] = true
	}

	return nil
}
