// Package config loads the bridge configuration from a YAML file with
// environment variable overrides, and can watch the file for changes so the
// daemon picks up tuning adjustments without a restart.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TrelloConfig holds the Trello application credentials.
type TrelloConfig struct {
	// APIKey is the application key paired with each user's token.
	APIKey string `yaml:"api_key"`
}

// GoogleConfig holds the OAuth client pair used for token refresh.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// SchedulerConfig holds the daemon tuning knobs.
type SchedulerConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	Concurrency    int           `yaml:"concurrency"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// DashboardConfig holds the monitor server settings.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// Config is the full bridge configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Trello    TrelloConfig    `yaml:"trello"`
	Google    GoogleConfig    `yaml:"google"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath: "boardsync.db",
		Scheduler: SchedulerConfig{
			TickInterval:   10 * time.Second,
			Concurrency:    4,
			JobTimeout:     2 * time.Minute,
			MaxRetries:     3,
			RetryBaseDelay: 2 * time.Second,
		},
		Dashboard: DashboardConfig{Port: 8090},
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides. A missing file is not an error; the defaults plus environment
// stand alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges on the tuning knobs.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be positive")
	}
	if c.Scheduler.MaxRetries <= 0 {
		return fmt.Errorf("scheduler.max_retries must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BOARDSYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BOARDSYNC_TRELLO_API_KEY"); v != "" {
		cfg.Trello.APIKey = v
	}
	if v := os.Getenv("BOARDSYNC_GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("BOARDSYNC_GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("BOARDSYNC_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.TickInterval = d
		}
	}
	if v := os.Getenv("BOARDSYNC_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Concurrency = n
		}
	}
	if v := os.Getenv("BOARDSYNC_DASHBOARD_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dashboard.Port = n
		}
	}
}

// Watch reloads the config whenever the file changes and hands the result to
// onChange. It returns a stop function. Reload errors are logged and the
// previous configuration stays in effect.
func Watch(path string, logger *log.Logger, onChange func(*Config)) (func(), error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		base := filepath.Base(path)
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Printf("warning: config reload failed: %v", err)
					continue
				}
				logger.Printf("config reloaded from %s", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("warning: config watcher: %v", err)
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}
