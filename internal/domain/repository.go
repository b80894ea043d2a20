// Package domain defines the core interfaces and types for the repricer.
package domain

import (
	"context"
	"time"
)

// ProductCatalog is the read side of the product catalog.
// FindBySku returns nil, nil when the SKU is not in the catalog.
type ProductCatalog interface {
	ListProducts(ctx context.Context, sellerID string) ([]*Product, error)
	FindBySku(ctx context.Context, sellerID string, sku string) (*Product, error)
}

// CompetitorFeed serves competitor price observations keyed by SKU.
type CompetitorFeed interface {
	PricesForSku(ctx context.Context, sellerID string, sku string) ([]CompetitorPrice, error)
}

// RuleStore persists pricing rules.
type RuleStore interface {
	SaveRule(ctx context.Context, sellerID string, rule *PricingRule) error
	GetRule(ctx context.Context, sellerID string, ruleID string) (*PricingRule, error)
	ListRules(ctx context.Context, sellerID string) ([]*PricingRule, error)
	DeleteRule(ctx context.Context, sellerID string, ruleID string) error
	MarkExecuted(ctx context.Context, sellerID string, ruleID string, at time.Time) error
}

// LogStore is the append-only execution history.
type LogStore interface {
	AppendLog(ctx context.Context, sellerID string, log *ExecutionLog) error

	// AppendLogs writes a batch atomically: on error no log of the batch is stored.
	AppendLogs(ctx context.Context, sellerID string, logs []*ExecutionLog) error
	GetLog(ctx context.Context, sellerID string, logID string) (*ExecutionLog, error)
	ListLogs(ctx context.Context, sellerID string, q LogQuery) ([]*ExecutionLog, error)
}

// Repository is the persistence layer backing every collaborator interface.
// All methods require sellerID for strict seller isolation.
type Repository interface {
	ProductCatalog
	CompetitorFeed
	RuleStore
	LogStore

	SaveProduct(ctx context.Context, sellerID string, product *Product) error
	SaveCompetitorPrices(ctx context.Context, sellerID string, prices []CompetitorPrice) error
	ClearCompetitorPrices(ctx context.Context, sellerID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Catalog circuit breaker; zero disables it.
	BreakerFailures int `mapstructure:"breaker_failures"`
}
