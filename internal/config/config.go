// Package config loads the repricer configuration from defaults, an optional
// YAML file and REPRICER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/repricer/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g. REPRICER_SERVER_PORT.
const EnvPrefix = "REPRICER"

// Profiles select the base defaults before the file and environment are applied.
const (
	ProfileDefault = "default"
	ProfileScaled  = "scaled"
)

// Load builds the configuration. An empty path looks for repricer.yaml in ./config
// and the working directory; a missing file is not an error.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("repricer")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetDefault("profile", ProfileDefault)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	base := domain.DefaultConfig()
	switch profile := v.GetString("profile"); profile {
	case ProfileDefault:
	case ProfileScaled:
		base = domain.ScaledConfig()
	default:
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
	setDefaults(v, base)

	cfg := base
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *domain.Config) {
	v.SetDefault("debug", false)
	v.SetDefault("default_seller_id", d.DefaultSellerID)

	// Server
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	// Repository
	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", d.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", d.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", d.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", d.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", d.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", d.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", d.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", d.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", d.Repository.ConnMaxLifetime)
	v.SetDefault("repository.breaker_failures", d.Repository.BreakerFailures)

	// Cache
	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", d.Cache.EnableTwoPhase)
	v.SetDefault("cache.feed_ttl", d.Cache.FeedTTL)

	// Event bus
	v.SetDefault("event_bus.type", d.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", d.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", d.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", d.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", d.EventBus.NATSReconnectWait)
	v.SetDefault("event_bus.nats_queue_group", d.EventBus.NATSQueueGroup)

	// Worker
	v.SetDefault("worker.enabled", d.Worker.Enabled)
	v.SetDefault("worker.seller_ids", d.Worker.SellerIDs)

	// Engine
	v.SetDefault("engine.max_workers", d.Engine.MaxWorkers)
	v.SetDefault("engine.variance_tolerance", d.Engine.VarianceTolerance)
	v.SetDefault("engine.buybox_policy", d.Engine.BuyboxPolicy)
	v.SetDefault("engine.commissions", d.Engine.Commissions)
	v.SetDefault("engine.tax_percent", d.Engine.TaxPercent)
	v.SetDefault("engine.default_freight", d.Engine.DefaultFreight)
	v.SetDefault("engine.run_timeout", d.Engine.RunTimeout)

	// Observability
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// Validate rejects settings the components would fail on later.
func Validate(cfg *domain.Config) error {
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unsupported cache type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type)
	}
	switch cfg.Engine.BuyboxPolicy {
	case domain.BuyboxLowest, domain.BuyboxUndercutCent:
	default:
		return fmt.Errorf("unsupported buybox policy %q", cfg.Engine.BuyboxPolicy)
	}
	if cfg.Engine.VarianceTolerance < 0 {
		return fmt.Errorf("engine.variance_tolerance must not be negative")
	}
	if cfg.Engine.TaxPercent < 0 || cfg.Engine.TaxPercent >= 100 {
		return fmt.Errorf("engine.tax_percent must be in [0, 100)")
	}
	for m, pct := range cfg.Engine.Commissions {
		if !domain.Marketplace(m).Valid() {
			return fmt.Errorf("commission for unknown marketplace %q", m)
		}
		if pct < 0 || pct >= 100 {
			return fmt.Errorf("commission for %s must be in [0, 100)", m)
		}
	}
	if cfg.Worker.Enabled && len(cfg.Worker.SellerIDs) == 0 && cfg.DefaultSellerID == "" {
		return fmt.Errorf("worker.seller_ids is required when the worker is enabled")
	}
	return nil
}
