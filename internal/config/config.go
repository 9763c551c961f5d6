package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/task-viewer/internal/domain"
)

// LocalConfigName is the project-local config file searched for upward from
// the working directory
const LocalConfigName = ".task-viewer.toml"

// Config holds all application configuration
type Config struct {
	Web     WebConfig     `toml:"web"`
	Paths   PathsConfig   `toml:"paths"`
	Sites   SitesConfig   `toml:"sites"`
	Trace   TraceConfig   `toml:"trace"`
	Review  ReviewConfig  `toml:"review"`
	Catalog CatalogConfig `toml:"catalog"`
	Log     LogConfig     `toml:"log"`
}

// WebConfig holds HTTP server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
	// PublicURL is the address external viewers use to fetch traces from us
	PublicURL string `toml:"public_url"`
}

// PathsConfig holds task source and trace artifact locations
type PathsConfig struct {
	SourceMode domain.SourceMode `toml:"source_mode"`
	TaskDir    string            `toml:"task_dir"`
	TaskFile   string            `toml:"task_file"`
	TraceDir   string            `toml:"trace_dir"`
}

// SitesConfig holds the site URL table
type SitesConfig struct {
	Mode domain.URLMode `toml:"mode"`
	// URLs are base URLs substituted for __SITE__ placeholders
	URLs map[string]string `toml:"urls"`
	// Fixed are landing pages per primary site, used in fixed mode
	Fixed map[string]string `toml:"fixed"`
}

// TraceMode selects how trace viewers are reached
type TraceMode string

const (
	TraceModeLink   TraceMode = "link"
	TraceModeLaunch TraceMode = "launch"
)

// TraceConfig holds trace viewer settings
type TraceConfig struct {
	Mode            TraceMode `toml:"mode"`
	Command         []string  `toml:"command"`
	ViewerHost      string    `toml:"viewer_host"`
	BasePort        int       `toml:"base_port"`
	MaxPortAttempts int       `toml:"max_port_attempts"`
	ReadyTimeout    Duration  `toml:"ready_timeout"`
	SettleDelay     Duration  `toml:"settle_delay"`
	ViewerURL       string    `toml:"viewer_url"`
}

// ReviewConfig holds review store settings
type ReviewConfig struct {
	Backend      string `toml:"backend"`
	DatabasePath string `toml:"database_path"`
}

// CatalogConfig holds task loading settings
type CatalogConfig struct {
	CacheSize  int  `toml:"cache_size"`
	LiveReload bool `toml:"live_reload"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as "10s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Web: WebConfig{
			Port: 5000,
			Host: "127.0.0.1",
		},
		Paths: PathsConfig{
			SourceMode: domain.SourceModeDirectory,
			TaskDir:    "tasks",
			TaskFile:   "webarena_tasks.json",
			TraceDir:   "traces",
		},
		Sites: SitesConfig{
			Mode: domain.URLModePlaceholder,
			URLs: map[string]string{
				"shopping":       "http://localhost:7770",
				"shopping_admin": "http://localhost:7780/admin",
				"reddit":         "http://localhost:9999",
				"gitlab":         "http://localhost:8023",
				"map":            "http://localhost:3000",
				"wikipedia":      "http://localhost:8888",
				"homepage":       "http://localhost:4399",
			},
			Fixed: map[string]string{
				"shopping_admin": "http://localhost:7780/admin",
				"map":            "http://localhost:3000",
				"reddit":         "http://localhost:9999/forums/all",
				"gitlab":         "http://localhost:8023/explore",
				"wikipedia":      "http://localhost:8888/wikipedia_en_all_maxi_2022-05/A/User:The_other_Kiwix_guy/Landing",
			},
		},
		Trace: TraceConfig{
			Mode:            TraceModeLaunch,
			Command:         []string{"playwright", "show-trace", "--port", "{port}", "{trace}"},
			ViewerHost:      "localhost",
			BasePort:        9322,
			MaxPortAttempts: 20,
			ReadyTimeout:    Duration{10 * time.Second},
			SettleDelay:     Duration{2 * time.Second},
			ViewerURL:       "https://trace.playwright.dev",
		},
		Review: ReviewConfig{
			Backend:      "json",
			DatabasePath: filepath.Join(home, ".task-viewer", "reviews.db"),
		},
		Catalog: CatalogConfig{
			CacheSize: 8,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults, then
// applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.Paths.TaskDir = ExpandPath(cfg.Paths.TaskDir)
	cfg.Paths.TaskFile = ExpandPath(cfg.Paths.TaskFile)
	cfg.Paths.TraceDir = ExpandPath(cfg.Paths.TraceDir)
	cfg.Review.DatabasePath = ExpandPath(cfg.Review.DatabasePath)

	return cfg, cfg.Validate()
}

// LoadWithLocalFallback loads the explicit path if given, else the nearest
// local config, else the user config
func LoadWithLocalFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// siteEnv names the environment variables that override site URLs
var siteEnv = map[string]string{
	"shopping":       "SHOPPING_URL",
	"shopping_admin": "SHOPPING_ADMIN_URL",
	"reddit":         "REDDIT_URL",
	"gitlab":         "GITLAB_URL",
	"map":            "MAP_URL",
	"wikipedia":      "WIKIPEDIA_URL",
	"homepage":       "HOMEPAGE_URL",
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("TASK_VIEWER_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TASK_VIEWER_PORT: %w", err)
		}
		c.Web.Port = port
	}
	if v, ok := lookup("TASK_JSON_PATH"); ok {
		c.Paths.TaskFile = v
		c.Paths.SourceMode = domain.SourceModeFile
	}
	if v, ok := lookup("TASK_DIR"); ok {
		c.Paths.TaskDir = v
		c.Paths.SourceMode = domain.SourceModeDirectory
	}
	if v, ok := lookup("TRACE_DIR"); ok {
		c.Paths.TraceDir = v
	}

	for site, env := range siteEnv {
		v, ok := lookup(env)
		if !ok {
			continue
		}
		if c.Sites.Mode == domain.URLModeFixed {
			if c.Sites.Fixed == nil {
				c.Sites.Fixed = make(map[string]string)
			}
			c.Sites.Fixed[site] = v
		} else {
			if c.Sites.URLs == nil {
				c.Sites.URLs = make(map[string]string)
			}
			c.Sites.URLs[site] = v
		}
	}
	return nil
}

// Validate checks enumerated settings
func (c *Config) Validate() error {
	switch c.Paths.SourceMode {
	case domain.SourceModeDirectory, domain.SourceModeFile:
	default:
		return fmt.Errorf("paths.source_mode: unknown mode %q", c.Paths.SourceMode)
	}
	switch c.Sites.Mode {
	case domain.URLModePlaceholder, domain.URLModeFixed:
	default:
		return fmt.Errorf("sites.mode: unknown mode %q", c.Sites.Mode)
	}
	switch c.Trace.Mode {
	case TraceModeLink, TraceModeLaunch:
	default:
		return fmt.Errorf("trace.mode: unknown mode %q", c.Trace.Mode)
	}
	switch c.Review.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("review.backend: unknown backend %q", c.Review.Backend)
	}
	if c.Trace.Mode == TraceModeLaunch && len(c.Trace.Command) == 0 {
		return fmt.Errorf("trace.command must not be empty in launch mode")
	}
	return nil
}

// SiteTable returns the URL table used by the configured resolution mode
func (c *Config) SiteTable() map[string]string {
	if c.Sites.Mode == domain.URLModeFixed {
		return c.Sites.Fixed
	}
	return c.Sites.URLs
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// BaseURL returns the URL under which this service is reachable
func (c *Config) BaseURL() string {
	if c.Web.PublicURL != "" {
		return strings.TrimRight(c.Web.PublicURL, "/")
	}
	host := c.Web.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Web.Port)
}

// Save writes the config as TOML
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "task-viewer", "config.toml")
}

// FindLocalConfig searches for LocalConfigName from the working directory up
// to the filesystem root
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
