package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is built once per process and treated as read-only afterwards.
type Config struct {
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`
	Export   ExportConfig   `mapstructure:"export"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
}

type ScraperConfig struct {
	CategoryURL string `mapstructure:"category_url"`
	// CategoryID feeds the catalog API; 0 derives it from CategoryURL.
	CategoryID   int           `mapstructure:"category_id"`
	MaxPages     int           `mapstructure:"max_pages"`
	PageTimeout  time.Duration `mapstructure:"page_timeout"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	PageDelayMin time.Duration `mapstructure:"page_delay_min"`
	PageDelayMax time.Duration `mapstructure:"page_delay_max"`
	// SnapshotDir keeps the HTML of challenge pages; empty disables it.
	SnapshotDir string `mapstructure:"snapshot_dir"`
}

type BrowserConfig struct {
	Headless bool `mapstructure:"headless"`
	// TimeoutMS is the per-navigation timeout in milliseconds.
	TimeoutMS      int    `mapstructure:"timeout_ms"`
	UserAgent      string `mapstructure:"user_agent"`
	Locale         string `mapstructure:"locale"`
	TimezoneID     string `mapstructure:"timezone"`
	AcceptLanguage string `mapstructure:"accept_language"`
	ViewportWidth  int    `mapstructure:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height"`
	BlockResources bool   `mapstructure:"block_resources"`
	ProxyServer    string `mapstructure:"proxy_server"`
}

func (b BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(b.TimeoutMS) * time.Millisecond
}

type CatalogConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PerPage  int           `mapstructure:"per_page"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver     string         `mapstructure:"driver"`
	SQLitePath string         `mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnLife time.Duration `mapstructure:"max_conn_life"`
	MaxConnIdle time.Duration `mapstructure:"max_conn_idle"`
}

// RedisConfig enables the outbox relay when Addr is set.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Stream       string        `mapstructure:"stream"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Dir receives a rotated log file when set.
	Dir string `mapstructure:"dir"`
}

// ScheduleConfig drives periodic runs in serve mode. Zero disables it.
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func Default() *Config {
	return &Config{
		Scraper: ScraperConfig{
			CategoryURL:  "https://silpo.ua/category/molochni-produkty-ta-iaitsia-234",
			MaxPages:     10,
			PageTimeout:  90 * time.Second,
			SettleDelay:  1500 * time.Millisecond,
			PageDelayMin: 1200 * time.Millisecond,
			PageDelayMax: 3 * time.Second,
			SnapshotDir:  "data/html_snapshots",
		},
		Browser: BrowserConfig{
			Headless:       true,
			TimeoutMS:      45000,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Locale:         "uk-UA",
			TimezoneID:     "Europe/Kyiv",
			AcceptLanguage: "uk-UA,uk;q=0.9,en;q=0.8",
			ViewportWidth:  1366,
			ViewportHeight: 900,
			BlockResources: true,
		},
		Catalog: CatalogConfig{
			Enabled:  true,
			Endpoint: "https://api.catalog.ecom.silpo.ua/api/2.0/exec/EcomCatalogGlobal",
			Timeout:  15 * time.Second,
			PerPage:  24,
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "data/silpo.sqlite",
			Postgres: PostgresConfig{
				Host:        "localhost",
				Port:        5432,
				User:        "postgres",
				Database:    "silpo_prices",
				MaxConns:    10,
				MinConns:    1,
				MaxConnLife: time.Hour,
				MaxConnIdle: 30 * time.Minute,
			},
		},
		Redis: RedisConfig{
			Stream:       "stream:price_snapshots",
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		},
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Export: ExportConfig{
			Dir: "data/exports",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Dir:    "data/logs",
		},
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Scraper.CategoryURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("scraper.category_url must be an absolute URL, got %q", c.Scraper.CategoryURL)
	}

	if c.Scraper.MaxPages < 1 {
		return fmt.Errorf("scraper.max_pages must be at least 1")
	}

	if c.Scraper.PageDelayMin > c.Scraper.PageDelayMax {
		return fmt.Errorf("scraper.page_delay_min cannot be greater than scraper.page_delay_max")
	}

	if c.Browser.TimeoutMS <= 0 {
		return fmt.Errorf("browser.timeout_ms must be positive")
	}

	if c.Catalog.PerPage < 1 {
		return fmt.Errorf("catalog.per_page must be at least 1")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "" {
			return fmt.Errorf("storage.postgres host and database are required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}

	if c.Redis.Enabled() && c.Storage.Driver != "postgres" {
		return fmt.Errorf("redis relay requires the postgres storage driver")
	}

	if c.Schedule.Interval < 0 {
		return fmt.Errorf("schedule.interval cannot be negative")
	}

	return nil
}
