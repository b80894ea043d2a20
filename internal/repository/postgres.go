package repository

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/lib/pq"

	"github.com/opensource-finance/repricer/internal/domain"
)

// postgresDSN renders the connection settings as a URL so credentials with
// reserved characters survive.
func postgresDSN(cfg domain.RepositoryConfig) string {
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cmp.Or(cfg.PostgresHost, "localhost"), strconv.Itoa(port)),
		Path:   "/" + cmp.Or(cfg.PostgresDB, "repricer"),
	}
	switch {
	case cfg.PostgresUser != "" && cfg.PostgresPassword != "":
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	case cfg.PostgresUser != "":
		u.User = url.User(cfg.PostgresUser)
	}

	q := url.Values{}
	q.Set("sslmode", cmp.Or(cfg.PostgresSSLMode, "disable"))
	q.Set("application_name", "repricer")
	q.Set("connect_timeout", "10")
	u.RawQuery = q.Encode()

	return u.String()
}

func openPostgres(ctx context.Context, cfg domain.RepositoryConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres settings: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres at %s:%d unreachable: %w", cmp.Or(cfg.PostgresHost, "localhost"), cfg.PostgresPort, err)
	}
	return db, nil
}
