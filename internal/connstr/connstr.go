// SPDX-License-Identifier: Apache-2.0

// Package connstr builds Postgres connection strings from the
// ConnectionConfig shape the core accepts, by parsing/editing a
// net/url.URL's query parameters rather than string-concatenating a DSN.
package connstr

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Config is the connection shape the core consumes.
type Config struct {
	Host       string
	Port       int
	Database   string
	Username   string
	Password   string
	SSL        bool
	CompatMode string // "auto" | "9.3" | "16"
}

// Build renders a Config into a postgres:// URL suitable for sql.Open with
// lib/pq, or for pgconn.ParseConfig on the pgx side.
func Build(cfg Config) string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/" + cfg.Database,
	}
	if cfg.Username != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.Username, cfg.Password)
		} else {
			u.User = url.User(cfg.Username)
		}
	}

	q := u.Query()
	if cfg.SSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = encodeOptionsQuery(q)

	return u.String()
}

// Parse reconstructs a Config from a postgres:// URL, the inverse of
// Build, so CLI callers can accept a single --source-url/--target-url
// flag instead of discrete host/port/database flags.
func Parse(rawURL string) (Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Config{}, fmt.Errorf("connstr: failed to parse connection url: %w", err)
	}

	host := u.Hostname()
	portStr := u.Port()
	port := 5432
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("connstr: invalid port %q: %w", portStr, err)
		}
	}

	cfg := Config{
		Host:     host,
		Port:     port,
		Database: strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}

	sslmode := u.Query().Get("sslmode")
	cfg.SSL = sslmode != "" && sslmode != "disable"

	return cfg, nil
}

// AppendStatementTimeoutZero appends an `-c statement_timeout=0` libpq
// options parameter: COPY operations have no intrinsic
// timeout and clients should disable the server's statement timeout on
// both connections.
func AppendStatementTimeoutZero(connStr string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("connstr: failed to parse connection string: %w", err)
	}

	q := u.Query()
	existing := q.Get("options")
	if existing != "" {
		q.Set("options", existing+" -c statement_timeout=0")
	} else {
		q.Set("options", "-c statement_timeout=0")
	}
	u.RawQuery = encodeOptionsQuery(q)

	return u.String(), nil
}

// encodeOptionsQuery encodes q the way url.Values.Encode does, except it
// leaves spaces in the `options` parameter as %20 instead of '+', which is
// what libpq's options parser expects.
func encodeOptionsQuery(q url.Values) string {
	encoded := q.Encode()
	return strings.ReplaceAll(encoded, "+", "%20")
}
