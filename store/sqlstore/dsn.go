package sqlstore

import (
	"fmt"
	"net/url"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption describes a PostgreSQL connection when no DSN is configured.
type PostgresOption struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	Params   map[string]string
}

// DSN renders the option as a postgres:// URL.
func (opt PostgresOption) DSN() string {
	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// MySQLOption describes a MySQL connection when no DSN is configured.
type MySQLOption struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// DSN renders the option in go-sql-driver format. parseTime is required for
// created_at columns to scan into time.Time.
func (opt MySQLOption) DSN() string {
	host, port := opt.Host, opt.Port
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "3306"
	}
	return opt.User + ":" + opt.Password + "@tcp(" + host + ":" + port + ")/" + opt.Database +
		"?charset=utf8mb4&parseTime=True&loc=UTC"
}
