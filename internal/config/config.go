package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort          = 8080
	defaultDataDir       = "storage/data"
	defaultLogLevel      = "info"
	defaultDownloader    = "elib2ebook"
	defaultFileLimit     = 49_000_000
	defaultAttempts      = 5
	defaultStatusRate    = 20
	defaultRedeliverCron = "@every 5m"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port       int              `yaml:"port" toml:"port"`
	DataDir    string           `yaml:"data_dir" toml:"data_dir"`
	LogLevel   string           `yaml:"log_level" toml:"log_level"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage"`
	Callbacks  CallbackConfig   `yaml:"callbacks" toml:"callbacks"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" toml:"scheduler"`
	Downloader DownloaderConfig `yaml:"downloader" toml:"downloader"`
	Groups     map[string]Group `yaml:"groups" toml:"groups"`
	Sites      map[string]Site  `yaml:"sites" toml:"sites"`
}

type StorageConfig struct {
	Path    string   `yaml:"path" toml:"path"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
	Backoff Duration `yaml:"backoff" toml:"backoff"`
}

type CallbackConfig struct {
	BotHost    string   `yaml:"bot_host" toml:"bot_host"`
	Attempts   int      `yaml:"attempts" toml:"attempts"`
	Pause      Duration `yaml:"pause" toml:"pause"`
	Timeout    Duration `yaml:"timeout" toml:"timeout"`
	StatusRate int      `yaml:"status_rate" toml:"status_rate"`
}

type SchedulerConfig struct {
	PollInterval       Duration `yaml:"poll_interval" toml:"poll_interval"`
	PulseInterval      Duration `yaml:"pulse_interval" toml:"pulse_interval"`
	LastRunTTL         Duration `yaml:"last_run_ttl" toml:"last_run_ttl"`
	RedeliverySchedule string   `yaml:"redelivery_schedule" toml:"redelivery_schedule"`
}

type DownloaderConfig struct {
	SaveFolder  string                `yaml:"save_folder" toml:"save_folder"`
	ExecFolder  string                `yaml:"exec_folder" toml:"exec_folder"`
	TempFolder  string                `yaml:"temp_folder" toml:"temp_folder"`
	FileLimit   int64                 `yaml:"file_limit" toml:"file_limit"`
	Compression map[string]string     `yaml:"compression" toml:"compression"`
	Downloaders map[string]Executable `yaml:"downloaders" toml:"downloaders"`
}

// Executable locates one downloader variant under ExecFolder.
type Executable struct {
	Folder string `yaml:"folder" toml:"folder"`
	Exec   string `yaml:"exec" toml:"exec"`
}

type Group struct {
	PerUser        int      `yaml:"per_user" toml:"per_user"`
	Simultaneously int      `yaml:"simultaneously" toml:"simultaneously"`
	Delay          int      `yaml:"delay" toml:"delay"`
	Formats        []string `yaml:"formats" toml:"formats"`
}

type Site struct {
	Parameters     []string `yaml:"parameters" toml:"parameters"`
	Formats        []string `yaml:"formats" toml:"formats"`
	Active         *bool    `yaml:"active" toml:"active"`
	Proxy          string   `yaml:"proxy" toml:"proxy"`
	Login          string   `yaml:"login" toml:"login"`
	Password       string   `yaml:"password" toml:"password"`
	Simultaneously int      `yaml:"simultaneously" toml:"simultaneously"`
	PerUser        int      `yaml:"per_user" toml:"per_user"`
	Group          string   `yaml:"group" toml:"group"`
	Delay          int      `yaml:"delay" toml:"delay"`
	PauseByUser    int      `yaml:"pause_by_user" toml:"pause_by_user"`
	Downloader     string   `yaml:"downloader" toml:"downloader"`
}

// IsActive defaults to true when the flag is omitted.
func (s Site) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Default returns a config that runs without a file: no groups or sites.
func Default() Config {
	return Config{
		Port:     defaultPort,
		DataDir:  defaultDataDir,
		LogLevel: defaultLogLevel,
		Storage: StorageConfig{
			Path:    filepath.Join(defaultDataDir, "db"),
			Timeout: Duration(5 * time.Second),
			Backoff: Duration(time.Second),
		},
		Callbacks: CallbackConfig{
			Attempts:   defaultAttempts,
			Pause:      Duration(time.Second),
			Timeout:    Duration(5 * time.Second),
			StatusRate: defaultStatusRate,
		},
		Scheduler: SchedulerConfig{
			PollInterval:       Duration(500 * time.Millisecond),
			PulseInterval:      Duration(5 * time.Second),
			LastRunTTL:         Duration(time.Hour),
			RedeliverySchedule: defaultRedeliverCron,
		},
		Downloader: DownloaderConfig{
			SaveFolder: filepath.Join(defaultDataDir, "downloads"),
			FileLimit:  defaultFileLimit,
		},
		Groups: map[string]Group{},
		Sites:  map[string]Site{},
	}
}

// Load reads YAML or TOML config from the provided path, picked by extension.
// If the file does not exist or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	def := Default()
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "db")
	}
	if c.Storage.Timeout <= 0 {
		c.Storage.Timeout = def.Storage.Timeout
	}
	if c.Storage.Backoff <= 0 {
		c.Storage.Backoff = def.Storage.Backoff
	}
	if c.Callbacks.Attempts < 1 {
		c.Callbacks.Attempts = defaultAttempts
	}
	if c.Callbacks.Pause <= 0 {
		c.Callbacks.Pause = def.Callbacks.Pause
	}
	if c.Callbacks.Timeout <= 0 {
		c.Callbacks.Timeout = def.Callbacks.Timeout
	}
	if c.Callbacks.StatusRate <= 0 {
		c.Callbacks.StatusRate = defaultStatusRate
	}
	if c.Callbacks.BotHost != "" && !strings.HasSuffix(c.Callbacks.BotHost, "/") {
		c.Callbacks.BotHost += "/"
	}
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = def.Scheduler.PollInterval
	}
	if c.Scheduler.PulseInterval <= 0 {
		c.Scheduler.PulseInterval = def.Scheduler.PulseInterval
	}
	if c.Scheduler.LastRunTTL <= 0 {
		c.Scheduler.LastRunTTL = def.Scheduler.LastRunTTL
	}
	if c.Scheduler.RedeliverySchedule == "" {
		c.Scheduler.RedeliverySchedule = defaultRedeliverCron
	}
	if _, err := cron.ParseStandard(c.Scheduler.RedeliverySchedule); err != nil {
		return fmt.Errorf("invalid redelivery_schedule %q: %w", c.Scheduler.RedeliverySchedule, err)
	}
	if c.Downloader.FileLimit <= 0 {
		c.Downloader.FileLimit = defaultFileLimit
	}
	if c.Downloader.SaveFolder == "" {
		c.Downloader.SaveFolder = filepath.Join(c.DataDir, "downloads")
	}
	if c.Groups == nil {
		c.Groups = map[string]Group{}
	}
	if c.Sites == nil {
		c.Sites = map[string]Site{}
	}

	for name, group := range c.Groups {
		if group.Simultaneously < 0 {
			return fmt.Errorf("invalid simultaneously for group %q: %d (must be >= 0)", name, group.Simultaneously)
		}
		if group.Delay < 0 {
			return fmt.Errorf("invalid delay for group %q: %d (must be >= 0)", name, group.Delay)
		}
		group.Formats = normalizeList(group.Formats)
		c.Groups[name] = group
	}
	for name, site := range c.Sites {
		if site.Simultaneously < 0 {
			return fmt.Errorf("invalid simultaneously for site %q: %d (must be >= 0)", name, site.Simultaneously)
		}
		if site.Delay < 0 {
			return fmt.Errorf("invalid delay for site %q: %d (must be >= 0)", name, site.Delay)
		}
		if _, ok := c.Groups[site.Group]; !ok {
			return fmt.Errorf("site %q references unknown group %q", name, site.Group)
		}
		if site.Downloader == "" {
			site.Downloader = defaultDownloader
		}
		if len(c.Downloader.Downloaders) > 0 {
			if _, ok := c.Downloader.Downloaders[site.Downloader]; !ok {
				return fmt.Errorf("site %q references unknown downloader %q", name, site.Downloader)
			}
		}
		site.Formats = normalizeList(site.Formats)
		site.Parameters = normalizeList(site.Parameters)
		c.Sites[name] = site
	}
	return nil
}

// GroupNames returns configured group names in a stable order.
func (c Config) GroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for name := range c.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, raw := range in {
		v := strings.ToLower(strings.TrimSpace(raw))
		v = strings.TrimPrefix(v, ".")
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		normalized = append(normalized, v)
	}
	return normalized
}
