// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

const defaultPrivateKey = "88888888888888888888888888888888"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName               string   `mapstructure:"appname"`
	AppPort               string   `mapstructure:"appport"`
	Environment           string   `mapstructure:"environment"`
	LogLevel              LogLevel `mapstructure:"loglevel"`
	PrivateKey            string   `mapstructure:"privatekey"`
	SessionTimeoutSeconds int      `mapstructure:"sessiontimeoutseconds"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`
	FunnelsFile           string `mapstructure:"funnelsfile"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Job scheduling settings
	JobIntervalSeconds       int    `mapstructure:"jobintervalseconds"`
	AggregationLookbackDays  int    `mapstructure:"aggregationlookbackdays"`
	AggregationWorkers       int    `mapstructure:"aggregationworkers"`
	DailyPassSchedule        string `mapstructure:"dailypassschedule"`
	WeeklyPassSchedule       string `mapstructure:"weeklypassschedule"`
	MonthlyPassSchedule      string `mapstructure:"monthlypassschedule"`
	PassHistoryRetentionDays int    `mapstructure:"passhistoryretentiondays"`

	// Metrics settings
	RetentionMaxDays        int  `mapstructure:"retentionmaxdays"`
	SessionGrainAggregation bool `mapstructure:"sessiongrainaggregation"`
	AnonymousFingerprinting bool `mapstructure:"anonymousfingerprinting"`
	QueryCacheSize          int  `mapstructure:"querycachesize"`
	QueryCacheTTLSeconds    int  `mapstructure:"querycachettlseconds"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "pulse")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", defaultPrivateKey)
		v.SetDefault("sessiontimeoutseconds", 1800)
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("funnelsfile", "")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("jobintervalseconds", 300)
		v.SetDefault("aggregationlookbackdays", 2)
		v.SetDefault("aggregationworkers", 4)
		v.SetDefault("dailypassschedule", "15 0 * * *")
		v.SetDefault("weeklypassschedule", "30 0 * * 1")
		v.SetDefault("monthlypassschedule", "45 0 1 * *")
		v.SetDefault("passhistoryretentiondays", 90)
		v.SetDefault("retentionmaxdays", 30)
		v.SetDefault("sessiongrainaggregation", true)
		v.SetDefault("anonymousfingerprinting", false)
		v.SetDefault("querycachesize", 256)
		v.SetDefault("querycachettlseconds", 30)

		v.BindEnv("appname", "PULSE_APP_NAME")
		v.BindEnv("appport", "PULSE_APP_PORT")
		v.BindEnv("environment", "PULSE_ENV")
		v.BindEnv("loglevel", "PULSE_LOG_LEVEL")
		v.BindEnv("privatekey", "PULSE_PRIVATE_KEY")
		v.BindEnv("sessiontimeoutseconds", "PULSE_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("storagepath", "PULSE_STORAGE_PATH")
		v.BindEnv("geodbpath", "PULSE_GEO_DB_PATH")
		v.BindEnv("publicdir", "PULSE_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "PULSE_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("funnelsfile", "PULSE_FUNNELS_FILE")
		v.BindEnv("logsdir", "PULSE_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "PULSE_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "PULSE_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "PULSE_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "PULSE_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "PULSE_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "PULSE_DB_MAX_IDLE_CONNS")
		v.BindEnv("jobintervalseconds", "PULSE_JOB_INTERVAL_SECONDS")
		v.BindEnv("aggregationlookbackdays", "PULSE_AGGREGATION_LOOKBACK_DAYS")
		v.BindEnv("aggregationworkers", "PULSE_AGGREGATION_WORKERS")
		v.BindEnv("dailypassschedule", "PULSE_DAILY_PASS_SCHEDULE")
		v.BindEnv("weeklypassschedule", "PULSE_WEEKLY_PASS_SCHEDULE")
		v.BindEnv("monthlypassschedule", "PULSE_MONTHLY_PASS_SCHEDULE")
		v.BindEnv("passhistoryretentiondays", "PULSE_PASS_HISTORY_RETENTION_DAYS")
		v.BindEnv("retentionmaxdays", "PULSE_RETENTION_MAX_DAYS")
		v.BindEnv("sessiongrainaggregation", "PULSE_SESSION_GRAIN_AGGREGATION")
		v.BindEnv("anonymousfingerprinting", "PULSE_ANONYMOUS_FINGERPRINTING")
		v.BindEnv("querycachesize", "PULSE_QUERY_CACHE_SIZE")
		v.BindEnv("querycachettlseconds", "PULSE_QUERY_CACHE_TTL_SECONDS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if c.IsProduction() && c.PrivateKey == defaultPrivateKey {
		return fmt.Errorf("production requires a unique PULSE_PRIVATE_KEY (cannot use default)")
	}

	if c.SessionTimeoutSeconds <= 0 {
		return fmt.Errorf("session timeout must be positive: %d", c.SessionTimeoutSeconds)
	}
	if c.RetentionMaxDays < 0 {
		return fmt.Errorf("retention max days must not be negative: %d", c.RetentionMaxDays)
	}
	if c.AggregationLookbackDays < 1 {
		return fmt.Errorf("aggregation lookback days must be at least 1: %d", c.AggregationLookbackDays)
	}
	if c.PassHistoryRetentionDays < 1 {
		return fmt.Errorf("pass history retention days must be at least 1: %d", c.PassHistoryRetentionDays)
	}
	if c.AggregationWorkers < 1 {
		return fmt.Errorf("aggregation workers must be at least 1: %d", c.AggregationWorkers)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// SessionTimeout is the inactivity gap after which a session can no longer grow.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// QueryCacheTTL is how long a cached query result stays valid.
func (c *Config) QueryCacheTTL() time.Duration {
	return time.Duration(c.QueryCacheTTLSeconds) * time.Second
}

// FingerprintSalt returns the salt for anonymous fingerprints, or "" when
// fingerprinting is disabled.
func (c *Config) FingerprintSalt() string {
	if !c.AnonymousFingerprinting {
		return ""
	}
	return c.PrivateKey
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
// If explicitly set via env var, uses that value. Otherwise:
// - Test: 1
// - Development/Production: 10 (concurrent reads for parallel metric queries)
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
