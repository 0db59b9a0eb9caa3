// Package geoip resolves client addresses to countries with an optional
// GeoLite2 database.
package geoip

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"

	"pulse/internal/config"
)

// ErrInvalidIP is returned for addresses that cannot be parsed.
var ErrInvalidIP = errors.New("invalid ip address")

var (
	geoDB    *geoip2.Reader
	loadedAt time.Time
	once     sync.Once
	mu       sync.RWMutex
	logger   *slog.Logger
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

func logf() *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.New(slog.DiscardHandler)
}

// open loads the configured database. A missing or unconfigured file
// disables lookups.
func open() *geoip2.Reader {
	path := config.GetConfig().GeoDBPath
	if path == "" {
		logf().Debug("GeoIP database path not configured - country lookups disabled")
		return nil
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logf().Info("GeoLite2 database not found - country lookups disabled", slog.String("path", path))
		return nil
	}
	if err != nil {
		logf().Warn("Error checking GeoLite2 database file", slog.String("path", path), slog.Any("error", err))
		return nil
	}

	db, err := geoip2.Open(path)
	if err != nil {
		logf().Error("Failed to open GeoLite2 database", slog.String("path", path), slog.Any("error", err))
		return nil
	}

	loadedAt = info.ModTime()
	logf().Info("GeoLite2 database loaded",
		slog.String("path", path),
		slog.Int64("size_bytes", info.Size()),
		slog.Time("mod_time", loadedAt))
	return db
}

// GetGeoDB returns the GeoLite2 reader, loading it on first use. It returns
// nil when lookups are disabled.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = open()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// Stale reports whether the database file changed since it was loaded.
func Stale() bool {
	path := config.GetConfig().GeoDBPath
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	mu.RLock()
	defer mu.RUnlock()
	return geoDB == nil || info.ModTime().After(loadedAt)
}

// ReloadGeoDB reopens the database from disk.
func ReloadGeoDB() {
	GetGeoDB()

	mu.Lock()
	defer mu.Unlock()
	if geoDB != nil {
		geoDB.Close()
	}
	geoDB = open()
}

// CountryCode returns the upper-case ISO code for ipAddress, or "" when
// lookups are disabled or the address has no country.
func CountryCode(ipAddress string) (string, error) {
	if GetGeoDB() == nil {
		return "", nil
	}

	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIP, ipAddress)
	}

	mu.RLock()
	defer mu.RUnlock()
	if geoDB == nil {
		return "", nil
	}
	record, err := geoDB.Country(ip)
	if err != nil {
		return "", fmt.Errorf("country lookup failed: %w", err)
	}
	code := record.Country.IsoCode
	if code == "" || code == "--" {
		return "", nil
	}
	return strings.ToUpper(code), nil
}
