// Package config loads the process-wide server configuration. The document
// is a single YAML file describing the server, its metadata, and the
// datasets and processes it exposes. Configuration is read once at startup
// and treated as read-only afterwards.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       Server                      `yaml:"server"`
	Metadata     Metadata                    `yaml:"metadata"`
	Datasets     map[string]*Collection      `yaml:"datasets"`
	Processes    map[string]*Process         `yaml:"processes"`
	Cache        Cache                       `yaml:"cache"`
	Invalidation Invalidation                `yaml:"invalidation"`
}

type Server struct {
	Bind      string `yaml:"bind"`
	URL       string `yaml:"url"`
	Language  string `yaml:"language"`
	Encoding  string `yaml:"encoding"`
	Limit     int    `yaml:"limit"`
	Templates string `yaml:"templates"`
	LogLevel  string `yaml:"log_level"`
}

type Metadata struct {
	Identification Identification `yaml:"identification"`
	License        NamedURL       `yaml:"license"`
	Provider       NamedURL       `yaml:"provider"`
	Contact        Contact        `yaml:"contact"`
}

type Identification struct {
	Title          string   `yaml:"title"`
	Description    string   `yaml:"description"`
	Keywords       []string `yaml:"keywords"`
	TermsOfService string   `yaml:"terms_of_service"`
	URL            string   `yaml:"url"`
}

type NamedURL struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type Contact struct {
	Name            string `yaml:"name"`
	Position        string `yaml:"position"`
	Address         string `yaml:"address"`
	City            string `yaml:"city"`
	StateOrProvince string `yaml:"stateorprovince"`
	PostalCode      string `yaml:"postalcode"`
	Country         string `yaml:"country"`
	Phone           string `yaml:"phone"`
	Fax             string `yaml:"fax"`
	Email           string `yaml:"email"`
	URL             string `yaml:"url"`
	Hours           string `yaml:"hours"`
	Instructions    string `yaml:"instructions"`
	Role            string `yaml:"role"`
}

// Collection describes one queryable dataset. Read-only after load.
type Collection struct {
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	Keywords    []string    `yaml:"keywords"`
	Context     []any       `yaml:"context"`
	Links       []Link      `yaml:"links"`
	Extents     Extents     `yaml:"extents"`
	Provider    ProviderDef `yaml:"provider"`
}

type Link struct {
	Type     string `yaml:"type"`
	Rel      string `yaml:"rel"`
	Title    string `yaml:"title"`
	Href     string `yaml:"href"`
	Hreflang string `yaml:"hreflang"`
}

type Extents struct {
	Spatial  SpatialExtent  `yaml:"spatial"`
	Temporal TemporalExtent `yaml:"temporal"`
}

type SpatialExtent struct {
	BBox []float64 `yaml:"bbox"`
	CRS  string    `yaml:"crs"`
}

type TemporalExtent struct {
	Begin TemporalBound `yaml:"begin"`
	End   TemporalBound `yaml:"end"`
	TRS   string        `yaml:"trs"`
}

// TemporalBound is one side of a temporal extent. The YAML values "now",
// "..", null and absence all mean unbounded.
type TemporalBound struct {
	t *time.Time
}

func Bound(t time.Time) TemporalBound { return TemporalBound{t: &t} }

// Time returns the bound instant, or nil when unbounded.
func (b TemporalBound) Time() *time.Time { return b.t }

// String renders the bound for extent documents: ".." when unbounded.
func (b TemporalBound) String() string {
	if b.t == nil {
		return ".."
	}
	return b.t.UTC().Format(time.RFC3339)
}

func (b *TemporalBound) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if value.Tag == "!!null" || s == "" || s == ".." || strings.EqualFold(s, "now") {
		b.t = nil
		return nil
	}
	t, err := ParseTime(s)
	if err != nil {
		return fmt.Errorf("temporal bound %q: %w", s, err)
	}
	b.t = &t
	return nil
}

// ProviderDef selects and parameterizes the backing store of a collection.
// Options carries any driver-specific keys beyond the common ones.
type ProviderDef struct {
	Name    string         `yaml:"name"`
	Data    string         `yaml:"data"`
	IDField string         `yaml:"id_field"`
	Options map[string]any `yaml:",inline"`
}

type Process struct {
	Processor ProcessorDef `yaml:"processor"`
}

type ProcessorDef struct {
	Name string `yaml:"name"`
}

type Cache struct {
	Enabled   bool          `yaml:"enabled"`
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
	LRUSize   int           `yaml:"lru_size"`
}

type Invalidation struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Load reads and validates the configuration file, then applies environment
// overrides for the deployment-variable fields.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Server.URL = strings.TrimRight(c.Server.URL, "/")
	if c.Server.Language == "" {
		c.Server.Language = "en-US"
	}
	if c.Server.Encoding == "" {
		c.Server.Encoding = "utf-8"
	}
	if c.Server.Limit <= 0 {
		c.Server.Limit = 10
	}
	if c.Server.Bind == "" {
		c.Server.Bind = ":5000"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Minute
	}
	if c.Cache.LRUSize <= 0 {
		c.Cache.LRUSize = 256
	}
}

func (c *Config) validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("config: server.url is required")
	}
	for name, ds := range c.Datasets {
		if ds == nil {
			return fmt.Errorf("config: dataset %q is empty", name)
		}
		if ds.Provider.Name == "" {
			return fmt.Errorf("config: dataset %q has no provider name", name)
		}
		if n := len(ds.Extents.Spatial.BBox); n != 0 && n != 4 {
			return fmt.Errorf("config: dataset %q spatial bbox must have 4 values, got %d", name, n)
		}
	}
	for name, p := range c.Processes {
		if p == nil || p.Processor.Name == "" {
			return fmt.Errorf("config: process %q has no processor name", name)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Bind = getenv("FEATURESERV_BIND", c.Server.Bind)
	c.Server.URL = strings.TrimRight(getenv("FEATURESERV_URL", c.Server.URL), "/")
	c.Server.LogLevel = getenv("LOG_LEVEL", c.Server.LogLevel)
	c.Server.Limit = getint("FEATURESERV_LIMIT", c.Server.Limit)
	c.Cache.RedisAddr = getenv("REDIS_ADDR", c.Cache.RedisAddr)
	if v := getenv("KAFKA_BROKERS", ""); v != "" {
		c.Invalidation.Brokers = splitList(v)
	}
}

// DatasetNames returns the configured collection names in stable order.
func (c *Config) DatasetNames() []string {
	names := make([]string, 0, len(c.Datasets))
	for k := range c.Datasets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ProcessNames returns the configured process names in stable order.
func (c *Config) ProcessNames() []string {
	names := make([]string, 0, len(c.Processes))
	for k := range c.Processes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// timeLayouts are tried in order when parsing timestamps from configuration
// or the datetime query parameter.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseTime parses a timestamp in any of the accepted layouts. Date-only
// forms resolve to midnight UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
