package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"`
	Portal      PortalConfig  `toml:"portal"`
	Scraper     ScraperConfig `toml:"scraper"`
	Storage     StorageConfig `toml:"storage"`
	Queue       QueueConfig   `toml:"queue"`
	PDF         PDFConfig     `toml:"pdf"`
	Jobs        JobsConfig    `toml:"jobs"`
	Logging     LoggingConfig `toml:"logging"`
}

// PortalConfig holds the fixed origin-site endpoints
type PortalConfig struct {
	BaseURL        string        `toml:"base_url" validate:"required,url"`
	LoginPath      string        `toml:"login_path" validate:"required"`
	ListPath       string        `toml:"list_path" validate:"required"`
	AjaxPath       string        `toml:"ajax_path" validate:"required"`
	UserAgent      string        `toml:"user_agent"`
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// LoginURL returns the absolute login POST endpoint
func (p PortalConfig) LoginURL() string { return p.BaseURL + p.LoginPath }

// ListURL returns the absolute paginated case-search endpoint
func (p PortalConfig) ListURL() string { return p.BaseURL + p.ListPath }

// AjaxURL returns the absolute movement-listing AJAX endpoint
func (p PortalConfig) AjaxURL() string { return p.BaseURL + p.AjaxPath }

// ScraperConfig tunes pacing and termination heuristics
type ScraperConfig struct {
	RequestDelay     time.Duration `toml:"request_delay"`       // minimum delay between portal requests
	DownloadDelay    time.Duration `toml:"download_delay"`      // extra delay after each file download
	AjaxMinBodyBytes int           `toml:"ajax_min_body_bytes"` // fast-path termination threshold
	AjaxPageStride   int           `toml:"ajax_page_stride"`    // offset advance per AJAX page
	RefetchDocuments bool          `toml:"refetch_documents"`   // force bulk phases to re-fetch cached PDFs
}

type StorageConfig struct {
	DataRoot string       `toml:"data_root" validate:"required"` // per-user trees live under here
	Badger   BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type QueueConfig struct {
	PollInterval      time.Duration `toml:"poll_interval"`
	Concurrency       int           `toml:"concurrency" validate:"min=1"`
	VisibilityTimeout time.Duration `toml:"visibility_timeout"`
	MaxReceive        int           `toml:"max_receive"`
}

type PDFConfig struct {
	CoverSheet bool `toml:"cover_sheet"` // prepend a generated index sheet to consolidations
}

// JobsConfig controls job-record retention
type JobsConfig struct {
	StaleAfter    time.Duration `toml:"stale_after"`    // terminal/abandoned records older than this are purged
	PurgeSchedule string        `toml:"purge_schedule"` // cron expression for the maintenance pass
}

type LoggingConfig struct {
	Level  string   `toml:"level"`
	Format string   `toml:"format"`
	Output []string `toml:"output"`
}

// NewDefaultConfig returns the configuration defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Portal: PortalConfig{
			BaseURL:        "https://intranet.jussantacruz.gob.ar",
			LoginPath:      "/servicios/controli2.php",
			ListPath:       "/siped/expediente/buscar/submit_buscar_abogado.php",
			AjaxPath:       "/siped/expediente/buscar/ver_mas_escritosAjax.php",
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36",
			RequestTimeout: 30 * time.Second,
		},
		Scraper: ScraperConfig{
			RequestDelay:     250 * time.Millisecond,
			DownloadDelay:    200 * time.Millisecond,
			AjaxMinBodyBytes: 200,
			AjaxPageStride:   10,
		},
		Storage: StorageConfig{
			DataRoot: "./datos_usuarios",
			Badger: BadgerConfig{
				Path: "./data/siped.db",
			},
		},
		Queue: QueueConfig{
			PollInterval:      time.Second,
			Concurrency:       2,
			VisibilityTimeout: 30 * time.Minute,
			MaxReceive:        3,
		},
		PDF: PDFConfig{
			CoverSheet: true,
		},
		Jobs: JobsConfig{
			StaleAfter:    24 * time.Hour,
			PurgeSchedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFile loads configuration from a TOML file over the defaults,
// applies environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration with struct tags plus cross-field rules
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Scraper.AjaxPageStride <= 0 {
		return fmt.Errorf("invalid configuration: scraper.ajax_page_stride must be positive")
	}
	return nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SIPED_ENV"); env != "" {
		config.Environment = env
	}
	if baseURL := os.Getenv("SIPED_PORTAL_BASE_URL"); baseURL != "" {
		config.Portal.BaseURL = baseURL
	}
	if dataRoot := os.Getenv("SIPED_DATA_ROOT"); dataRoot != "" {
		config.Storage.DataRoot = dataRoot
	}
	if badgerPath := os.Getenv("SIPED_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if concurrency := os.Getenv("SIPED_QUEUE_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil && n > 0 {
			config.Queue.Concurrency = n
		}
	}
	if pollInterval := os.Getenv("SIPED_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		if d, err := time.ParseDuration(pollInterval); err == nil {
			config.Queue.PollInterval = d
		}
	}
	if level := os.Getenv("SIPED_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if delay := os.Getenv("SIPED_REQUEST_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Scraper.RequestDelay = d
		}
	}
}
