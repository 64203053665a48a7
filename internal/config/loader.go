package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/maltedev/silpo-price-scraper/internal/catalog"
)

const envPrefix = "SILPO"

// legacyEnv maps flat variable names still used by existing deployments
// onto their nested keys.
var legacyEnv = map[string]string{
	"scraper.category_url": "SILPO_CATEGORY_URL",
	"scraper.max_pages":    "SILPO_MAX_PAGES",
	"scraper.snapshot_dir": "SILPO_SNAPSHOTS_DIR",
	"catalog.per_page":     "SILPO_PER_PAGE",
	"catalog.enabled":      "SILPO_USE_ALT_API",
	"browser.headless":     "SILPO_HEADLESS",
	"browser.timeout_ms":   "SILPO_TIMEOUT_MS",
	"browser.user_agent":   "SILPO_USER_AGENT",
	"storage.sqlite_path":  "SILPO_DB_PATH",
	"export.dir":           "SILPO_EXPORTS_DIR",
	"logging.dir":          "SILPO_LOGS_DIR",
}

// Load reads defaults, then the optional YAML file at path, then the
// environment. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(envPrefix+"_"+strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.Scraper.CategoryID == 0 {
		cfg.Scraper.CategoryID = catalog.CategoryIDFromURL(cfg.Scraper.CategoryURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("scraper.category_url", cfg.Scraper.CategoryURL)
	v.SetDefault("scraper.category_id", cfg.Scraper.CategoryID)
	v.SetDefault("scraper.max_pages", cfg.Scraper.MaxPages)
	v.SetDefault("scraper.page_timeout", cfg.Scraper.PageTimeout)
	v.SetDefault("scraper.settle_delay", cfg.Scraper.SettleDelay)
	v.SetDefault("scraper.page_delay_min", cfg.Scraper.PageDelayMin)
	v.SetDefault("scraper.page_delay_max", cfg.Scraper.PageDelayMax)
	v.SetDefault("scraper.snapshot_dir", cfg.Scraper.SnapshotDir)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.timeout_ms", cfg.Browser.TimeoutMS)
	v.SetDefault("browser.user_agent", cfg.Browser.UserAgent)
	v.SetDefault("browser.locale", cfg.Browser.Locale)
	v.SetDefault("browser.timezone", cfg.Browser.TimezoneID)
	v.SetDefault("browser.accept_language", cfg.Browser.AcceptLanguage)
	v.SetDefault("browser.viewport_width", cfg.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", cfg.Browser.ViewportHeight)
	v.SetDefault("browser.block_resources", cfg.Browser.BlockResources)
	v.SetDefault("browser.proxy_server", cfg.Browser.ProxyServer)

	v.SetDefault("catalog.enabled", cfg.Catalog.Enabled)
	v.SetDefault("catalog.endpoint", cfg.Catalog.Endpoint)
	v.SetDefault("catalog.timeout", cfg.Catalog.Timeout)
	v.SetDefault("catalog.per_page", cfg.Catalog.PerPage)

	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.sqlite_path", cfg.Storage.SQLitePath)
	v.SetDefault("storage.postgres.host", cfg.Storage.Postgres.Host)
	v.SetDefault("storage.postgres.port", cfg.Storage.Postgres.Port)
	v.SetDefault("storage.postgres.user", cfg.Storage.Postgres.User)
	v.SetDefault("storage.postgres.password", cfg.Storage.Postgres.Password)
	v.SetDefault("storage.postgres.database", cfg.Storage.Postgres.Database)
	v.SetDefault("storage.postgres.max_conns", cfg.Storage.Postgres.MaxConns)
	v.SetDefault("storage.postgres.min_conns", cfg.Storage.Postgres.MinConns)
	v.SetDefault("storage.postgres.max_conn_life", cfg.Storage.Postgres.MaxConnLife)
	v.SetDefault("storage.postgres.max_conn_idle", cfg.Storage.Postgres.MaxConnIdle)

	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.stream", cfg.Redis.Stream)
	v.SetDefault("redis.poll_interval", cfg.Redis.PollInterval)
	v.SetDefault("redis.batch_size", cfg.Redis.BatchSize)

	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("export.dir", cfg.Export.Dir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.dir", cfg.Logging.Dir)

	v.SetDefault("schedule.interval", cfg.Schedule.Interval)
}
