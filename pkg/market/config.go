package market

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"equityfeed/pkg/confkit"
)

// Config describes the upstream sources and the priority order used per data kind.
type Config struct {
	Sources map[string]*SourceConfig `yaml:"sources"`
	Routes  map[string][]string      `yaml:"routes"`
}

// SourceConfig represents configuration for a single upstream source.
type SourceConfig struct {
	Type string `yaml:"type"`

	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Format  string `yaml:"format"`

	TimeoutRaw     string        `yaml:"timeout"`
	Timeout        time.Duration `yaml:"-"`
	HTTPTimeoutRaw string        `yaml:"http_timeout"`
	HTTPTimeout    time.Duration `yaml:"-"`

	// RateLimit is the sustained requests per second allowed against the source; zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	Headers map[string]string `yaml:"headers"`
	// Paths maps a kind to a URL path template for template-driven sources.
	Paths map[string]string `yaml:"paths"`
	// Units maps a kind to canonical field multipliers.
	Units map[string]map[string]float64 `yaml:"units"`
	// CompactDates renders {start} and {end} as YYYYMMDD in path templates.
	CompactDates bool `yaml:"compact_dates"`
}

// SourceBuilder constructs a Source from configuration.
type SourceBuilder func(name string, cfg *SourceConfig) (Source, error)

var (
	sourceRegistry   = make(map[string]SourceBuilder)
	sourceRegistryMu sync.RWMutex
)

// RegisterSourceType registers a source constructor under a type name.
func RegisterSourceType(typeName string, builder SourceBuilder) {
	sourceRegistryMu.Lock()
	defer sourceRegistryMu.Unlock()
	sourceRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupSourceBuilder(typeName string) (SourceBuilder, bool) {
	sourceRegistryMu.RLock()
	defer sourceRegistryMu.RUnlock()
	builder, ok := sourceRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// LoadConfig reads configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open market config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads market configuration from the default project location and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/market.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read market config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal market config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Sources == nil {
		c.Sources = make(map[string]*SourceConfig)
	}
	if c.Routes == nil {
		c.Routes = make(map[string][]string)
	}
	for name, source := range c.Sources {
		if source == nil {
			source = &SourceConfig{}
			c.Sources[name] = source
		}
		source.expandEnv()
		if err := source.parseDurations(name); err != nil {
			return err
		}
	}
	routes := make(map[string][]string, len(c.Routes))
	for rawKind, names := range c.Routes {
		kind, err := ParseKind(rawKind)
		if err != nil {
			return fmt.Errorf("market config: route %q: %w", rawKind, err)
		}
		cleaned := make([]string, 0, len(names))
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				cleaned = append(cleaned, n)
			}
		}
		routes[string(kind)] = cleaned
	}
	c.Routes = routes
	return nil
}

func (s *SourceConfig) expandEnv() {
	s.Type = strings.TrimSpace(os.ExpandEnv(s.Type))
	s.BaseURL = strings.TrimSpace(os.ExpandEnv(s.BaseURL))
	s.APIKey = strings.TrimSpace(os.ExpandEnv(s.APIKey))
	s.Format = strings.ToLower(strings.TrimSpace(os.ExpandEnv(s.Format)))
	s.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(s.TimeoutRaw))
	s.HTTPTimeoutRaw = strings.TrimSpace(os.ExpandEnv(s.HTTPTimeoutRaw))
	for k, v := range s.Headers {
		s.Headers[k] = os.ExpandEnv(v)
	}
	for k, v := range s.Paths {
		s.Paths[k] = strings.TrimSpace(os.ExpandEnv(v))
	}
}

func (s *SourceConfig) parseDurations(name string) error {
	if s.TimeoutRaw != "" {
		d, err := time.ParseDuration(s.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("market source %s: invalid timeout %q: %w", name, s.TimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("market source %s: timeout must be positive, got %s", name, d)
		}
		s.Timeout = d
	}
	if s.HTTPTimeoutRaw != "" {
		d, err := time.ParseDuration(s.HTTPTimeoutRaw)
		if err != nil {
			return fmt.Errorf("market source %s: invalid http_timeout %q: %w", name, s.HTTPTimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("market source %s: http_timeout must be positive, got %s", name, d)
		}
		s.HTTPTimeout = d
	}
	return nil
}

// Path returns the configured path template for kind.
func (s *SourceConfig) Path(kind Kind) string {
	if s == nil || s.Paths == nil {
		return ""
	}
	return s.Paths[string(kind)]
}

// UnitsFor returns the configured unit multipliers for kind.
func (s *SourceConfig) UnitsFor(kind Kind) map[string]float64 {
	if s == nil || s.Units == nil {
		return nil
	}
	return s.Units[string(kind)]
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("market config: sources cannot be empty")
	}
	for name, source := range c.Sources {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("market config: source name cannot be empty")
		}
		if err := source.validate(name); err != nil {
			return err
		}
	}
	for kind, names := range c.Routes {
		if len(names) == 0 {
			return fmt.Errorf("market config: route %s lists no sources", kind)
		}
		seen := make(map[string]struct{}, len(names))
		for _, n := range names {
			if _, ok := c.Sources[n]; !ok {
				return fmt.Errorf("market config: route %s references undefined source %q", kind, n)
			}
			if _, dup := seen[n]; dup {
				return fmt.Errorf("market config: route %s lists source %q twice", kind, n)
			}
			seen[n] = struct{}{}
		}
	}
	return nil
}

func (s *SourceConfig) validate(name string) error {
	if s == nil {
		return fmt.Errorf("market config: source %s is nil", name)
	}
	if strings.TrimSpace(s.Type) == "" {
		return fmt.Errorf("market config: source %s must specify type", name)
	}
	if _, ok := lookupSourceBuilder(s.Type); !ok {
		return fmt.Errorf("market config: source %s has unsupported type %q", name, s.Type)
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("market config: source %s rate_limit must not be negative", name)
	}
	return nil
}

// BuildSources instantiates every configured source.
func (c *Config) BuildSources() (map[string]Source, error) {
	result := make(map[string]Source, len(c.Sources))
	for name, sourceCfg := range c.Sources {
		builder, ok := lookupSourceBuilder(sourceCfg.Type)
		if !ok {
			return nil, fmt.Errorf("market source %s: unsupported type %q", name, sourceCfg.Type)
		}
		source, err := builder(name, sourceCfg)
		if err != nil {
			return nil, fmt.Errorf("market source %s: %w", name, err)
		}
		result[name] = source
	}
	return result, nil
}

// BuildRegistry instantiates sources and arranges them per kind in route order.
func (c *Config) BuildRegistry() (*Registry, error) {
	sources, err := c.BuildSources()
	if err != nil {
		return nil, err
	}
	registry := NewRegistry()
	kinds := make([]string, 0, len(c.Routes))
	for k := range c.Routes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		kind := Kind(k)
		for _, name := range c.Routes[k] {
			src := sources[name]
			if !src.Supports(kind) {
				return nil, fmt.Errorf("market source %s: does not support %s", name, kind)
			}
			registry.Register(kind, name, src.Fetch)
		}
	}
	return registry, nil
}
