package domain

import "time"

// Config holds the complete repricer configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server" json:"server"`

	// DefaultSellerID is used when a request carries no X-Seller-ID header.
	// Empty means the header is required.
	DefaultSellerID string `mapstructure:"default_seller_id" json:"defaultSellerId"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	Cache      CacheConfig      `mapstructure:"cache" json:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus" json:"eventBus"`
	Worker     WorkerConfig     `mapstructure:"worker" json:"worker"`

	// Engine holds the pricing inputs not owned by any collaborator.
	Engine EngineConfig `mapstructure:"engine" json:"engine"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host" json:"host"`
	Port         int    `mapstructure:"port" json:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `mapstructure:"write_timeout" json:"writeTimeout"` // seconds
}

// WorkerConfig controls the trigger consumer.
type WorkerConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// SellerIDs whose execute and batch triggers are consumed.
	SellerIDs []string `mapstructure:"seller_ids" json:"sellerIds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName string `mapstructure:"service_name" json:"serviceName"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
}

// Buybox price policies.
const (
	// BuyboxLowest treats the lowest competitor offer as the winning price.
	BuyboxLowest = "lowest"
	// BuyboxUndercutCent bids one cent below the lowest competitor offer.
	BuyboxUndercutCent = "undercut_cent"
)

// EngineConfig holds evaluation settings.
type EngineConfig struct {
	// MaxWorkers bounds per-product and per-rule parallelism.
	MaxWorkers int `mapstructure:"max_workers" json:"maxWorkers"`

	// VarianceTolerance is the relative difference under which a price counts as unchanged.
	VarianceTolerance float64 `mapstructure:"variance_tolerance" json:"varianceTolerance"`

	// BuyboxPolicy is one of BuyboxLowest or BuyboxUndercutCent.
	BuyboxPolicy string `mapstructure:"buybox_policy" json:"buyboxPolicy"`

	// Commissions maps marketplace to commission percent.
	Commissions map[string]float64 `mapstructure:"commissions" json:"commissions"`

	// TaxPercent is the combined tax burden (ICMS + PIS + COFINS).
	TaxPercent float64 `mapstructure:"tax_percent" json:"taxPercent"`

	// DefaultFreight is the per-unit freight cost applied when a rule includes freight.
	DefaultFreight float64 `mapstructure:"default_freight" json:"defaultFreight"`

	// RunTimeout caps a single simulate or execute. Zero means no limit.
	RunTimeout time.Duration `mapstructure:"run_timeout" json:"runTimeout"`
}

// CommissionFor returns the configured commission for a marketplace, zero if unknown.
func (c EngineConfig) CommissionFor(m Marketplace) float64 {
	return c.Commissions[string(m)]
}

// DefaultCommissions returns the marketplace fee table sellers start from.
func DefaultCommissions() map[string]float64 {
	return map[string]float64{
		string(MarketplaceMLClassico): 15,
		string(MarketplaceMLPremium):  18,
		string(MarketplaceMagalu):     12.5,
		string(MarketplaceAmazon):     15,
		string(MarketplaceShopee):     14,
	}
}

// Tax components, percent of price.
const (
	TaxICMS   = 18.0
	TaxPIS    = 1.65
	TaxCOFINS = 7.6
)

// DefaultConfig returns a single-node configuration: SQLite, in-memory cache, channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:          "sqlite",
			SQLitePath:      "./repricer.db",
			BreakerFailures: 5,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			FeedTTL:      time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			MaxWorkers:        8,
			VarianceTolerance: 1e-6,
			BuyboxPolicy:      BuyboxLowest,
			Commissions:       DefaultCommissions(),
			TaxPercent:        TaxICMS + TaxPIS + TaxCOFINS,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "repricer",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ScaledConfig returns a multi-node configuration: PostgreSQL, Redis two-phase cache, NATS.
func ScaledConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "repricer",
		PostgresSSLMode: "disable",
		BreakerFailures: 5,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		FeedTTL:        time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "repricer-workers",
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
