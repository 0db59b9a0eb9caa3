package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pulse/internal"
	"pulse/internal/config"
	"pulse/internal/database"
	"pulse/internal/events"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// UseTestConfig points the configuration at the test environment for the
// duration of t.
func UseTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("PULSE_ENV", config.Test)
	t.Setenv("PULSE_GEO_DB_PATH", "")
	config.Reset()
	t.Cleanup(config.Reset)
	return config.GetConfig()
}

// SetupTestDB creates a test database with the event log and aggregate
// tables migrated. Uses a named in-memory database with cache=shared so
// every connection of the pool sees the same data. Cached by root test name
// so multiple calls within the same test return the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA busy_timeout = 5000")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	cfg := UseTestConfig(t)

	// SAFETY CHECK: Ensure we're in test environment
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set PULSE_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)
	CleanTables(db, tableNames)
}

// CleanTables deletes every row of the given tables.
func CleanTables(db *gorm.DB, tables []string) {
	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// CleanAllAggregates clears the published aggregate tables.
func CleanAllAggregates(db *gorm.DB) {
	CleanTables(db, []string{
		"active_user_stats", "session_facts", "retention_cohorts",
		"funnel_step_stats", "ranking_stats", "aggregation_passes",
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// At returns the given UTC day at hour:min.
func At(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

var eventCounter atomic.Int64

// EventBuilder builds raw events for tests.
type EventBuilder struct {
	event events.RawEvent
}

// NewEvent starts a raw event named name at ts.
func NewEvent(name string, ts time.Time) *EventBuilder {
	return &EventBuilder{event: events.RawEvent{
		EventID:        uuid.NewString(),
		EventName:      name,
		EventTimestamp: ts.UTC(),
		Properties:     "{}",
		UserProperties: "{}",
		ReceivedAt:     ts.UTC(),
	}}
}

// PageView starts a page_view event for path at ts.
func PageView(path string, ts time.Time) *EventBuilder {
	return NewEvent(events.PageViewEvent, ts).Page(path)
}

// User sets the user id.
func (b *EventBuilder) User(id string) *EventBuilder {
	b.event.UserID = &id
	return b
}

// Anonymous sets the anonymous id.
func (b *EventBuilder) Anonymous(id string) *EventBuilder {
	b.event.AnonymousID = &id
	return b
}

// Session sets the session id.
func (b *EventBuilder) Session(id string) *EventBuilder {
	b.event.SessionID = &id
	return b
}

// Page sets the page url and path.
func (b *EventBuilder) Page(path string) *EventBuilder {
	url := "https://example.com" + path
	b.event.PageURL = &url
	b.event.PagePath = &path
	return b
}

// Country sets the country code.
func (b *EventBuilder) Country(code string) *EventBuilder {
	b.event.Country = &code
	return b
}

// Referrer sets the referrer URL.
func (b *EventBuilder) Referrer(url string) *EventBuilder {
	b.event.Referrer = &url
	return b
}

// Seq forces the ingestion sequence number.
func (b *EventBuilder) Seq(seq uint) *EventBuilder {
	b.event.Seq = seq
	return b
}

// Build returns the event. Events without a forced sequence number get a
// unique, increasing one.
func (b *EventBuilder) Build() events.RawEvent {
	e := b.event
	if e.Seq == 0 {
		e.Seq = uint(eventCounter.Add(1))
	}
	return e
}

// InsertEvents writes the given events to the raw log in order, letting the
// database assign sequence numbers.
func InsertEvents(t *testing.T, db *gorm.DB, builders ...*EventBuilder) []events.RawEvent {
	t.Helper()
	rows := make([]events.RawEvent, len(builders))
	for i, b := range builders {
		rows[i] = b.event
		rows[i].Seq = 0
		require.NoError(t, db.Create(&rows[i]).Error)
	}
	return rows
}

// CreateMinimalTestApp creates a test Fiber app with all routes
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := UseTestConfig(t)

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	cfg.StaticDirectory = appConfig.PublicDirectory
	cfg.StaticPrefix = appConfig.PublicAssetsUrlPrefix
	cfg.TemplatesDirectory = appConfig.PublicDirectory
	cfg.EnableSecFetchSite = true
	cfg.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin"}

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}
