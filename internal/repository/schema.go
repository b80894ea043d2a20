package repository

// Schema definitions for the repricer database.
// Compatible with both SQLite and PostgreSQL.

const schemaProducts = `
CREATE TABLE IF NOT EXISTS products (
    sku TEXT NOT NULL,
    seller_id TEXT NOT NULL,
    name TEXT NOT NULL,
    brand TEXT NOT NULL DEFAULT '',
    stock INTEGER NOT NULL DEFAULT 0,
    cost REAL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (seller_id, sku)
);

CREATE INDEX IF NOT EXISTS idx_products_brand ON products(seller_id, brand);
`

const schemaListings = `
CREATE TABLE IF NOT EXISTS listings (
    seller_id TEXT NOT NULL,
    sku TEXT NOT NULL,
    marketplace TEXT NOT NULL,
    price REAL NOT NULL,
    margin REAL,
    PRIMARY KEY (seller_id, sku, marketplace)
);
`

const schemaCompetitorPrices = `
CREATE TABLE IF NOT EXISTS competitor_prices (
    id TEXT PRIMARY KEY,
    seller_id TEXT NOT NULL,
    sku TEXT NOT NULL,
    competitor_name TEXT NOT NULL,
    price REAL NOT NULL,
    marketplace TEXT NOT NULL,
    captured_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_competitor_prices_sku ON competitor_prices(seller_id, sku);
`

// schemaPricingRules stores the nested rule blocks as JSON text.
const schemaPricingRules = `
CREATE TABLE IF NOT EXISTS pricing_rules (
    id TEXT NOT NULL,
    seller_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL,
    priority INTEGER NOT NULL,
    rule_type TEXT NOT NULL,
    sku_selection TEXT NOT NULL,
    rule_parameters TEXT NOT NULL,
    safeguards TEXT NOT NULL,
    schedule TEXT NOT NULL,
    created_by TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    last_executed_at TIMESTAMP,
    PRIMARY KEY (seller_id, id)
);

CREATE INDEX IF NOT EXISTS idx_pricing_rules_status ON pricing_rules(seller_id, status);
`

const schemaExecutionLogs = `
CREATE TABLE IF NOT EXISTS execution_logs (
    id TEXT PRIMARY KEY,
    seller_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    executed_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    summary TEXT NOT NULL,
    changes TEXT NOT NULL,
    errors TEXT NOT NULL,
    duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_logs_rule ON execution_logs(seller_id, rule_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_execution_logs_time ON execution_logs(seller_id, executed_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaProducts,
		schemaListings,
		schemaCompetitorPrices,
		schemaPricingRules,
		schemaExecutionLogs,
	}
}
