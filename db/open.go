package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/tqwops/vigia/cfg"
)

// pingTimeout bounds the startup connectivity check
const pingTimeout = 5 * time.Second

// DSN returns the data source name for the configured driver
func DSN(c cfg.DatabaseConfiguration) string {
	if c.DSN != "" {
		return c.DSN
	}

	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Database
	mc.Timeout = time.Duration(c.QueryTimeoutMS) * time.Millisecond
	mc.ReadTimeout = time.Duration(c.QueryTimeoutMS) * time.Millisecond
	return mc.FormatDSN()
}

// Open opens a pooled connection to the upstream store.
// An unreachable store is logged, not returned: watchers retry on every tick.
func Open(c cfg.DatabaseConfiguration) (*sql.DB, error) {
	conn, err := sql.Open(c.Driver, DSN(c))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", c.Driver, err)
	}

	conn.SetMaxOpenConns(c.PoolSize)
	conn.SetMaxIdleConns(c.PoolSize)
	conn.SetConnMaxIdleTime(time.Duration(c.MaxIdleTimeSeconds) * time.Second)
	conn.SetConnMaxLifetime(time.Duration(c.MaxLifetimeSeconds) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("driver", c.Driver).
			Msg("Upstream store not reachable yet, watchers will keep retrying")
	}

	return conn, nil
}
