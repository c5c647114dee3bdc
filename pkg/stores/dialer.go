package stores

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	// SQLite driver
	_ "modernc.org/sqlite"
)

// Dialer opens a *sql.DB for the given parameters. It must not block on
// the network; OpenHandle performs the liveness probe itself.
type Dialer func(cfg ConnectionConfig) (*sql.DB, error)

// DefaultDialer builds a DSN for the configured driver and calls sql.Open.
func DefaultDialer(cfg ConnectionConfig) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func driverName(driver string) string {
	if driver == "" {
		return DriverMySQL
	}
	return driver
}

func buildDSN(cfg ConnectionConfig) (string, error) {
	switch driverName(cfg.Driver) {
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Secret
		mc.Net = "tcp"
		mc.Addr = cfg.address()
		if cfg.Port == 0 && !strings.Contains(cfg.Host, ":") {
			mc.Addr = cfg.Host + ":3306"
		}
		mc.DBName = cfg.Database
		mc.ParseTime = true
		mc.Timeout = 5 * time.Second
		mc.ReadTimeout = 30 * time.Second
		mc.WriteTimeout = 30 * time.Second
		return mc.FormatDSN(), nil
	case DriverSQLite:
		if cfg.Database == "" {
			return "", fmt.Errorf("sqlite database path is required")
		}
		// WAL with a busy timeout lets the mirror goroutines share the file.
		q := url.Values{}
		q.Add("_pragma", "foreign_keys(1)")
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "busy_timeout(5000)")
		q.Add("_pragma", "synchronous(NORMAL)")
		q.Set("_txlock", "immediate")
		return "file:" + cfg.Database + "?" + q.Encode(), nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}
