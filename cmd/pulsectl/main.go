// main.go - Admin control tool for Pulse
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pulse/internal"
	"pulse/internal/aggregator"
	"pulse/internal/analytics"
	"pulse/internal/config"
	"pulse/internal/events"
	"pulse/internal/seeder"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command is one pulsectl subcommand.
type Command interface {
	Name() string
	Description() string
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&StatusCommand{},
	&FunnelsCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()
	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand fills the event log with synthetic sessions
type SeedCommand struct{}

func (c *SeedCommand) Name() string { return "seed" }
func (c *SeedCommand) Description() string {
	return "Seeds the event log with synthetic sessions (--events, --days, --seed)"
}

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("events", 10000, "number of events to generate")
	days := fs.Int("days", 30, "how many days back sessions are spread")
	seed := fs.Uint64("seed", 0, "random seed, 0 for a random run")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}
	if config.GetConfig().IsProduction() {
		return fmt.Errorf("refusing to seed a production database")
	}
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	s := seeder.NewSeeder(app.DBManager.GetConnection(), slog.Default(), seeder.Options{
		EventCount: *count,
		Days:       *days,
		Seed:       *seed,
	})
	stored, err := s.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("Seeded %d events", stored)
	return nil
}

// StatusCommand shows the event log and the latest aggregation pass
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	db := app.DBManager.GetConnection()
	count, err := events.CountEvents(db.WithContext(ctx), time.Time{}, time.Time{})
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	first, err := events.FirstEventTime(ctx, db)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Events: %d", count)
	if !first.IsZero() {
		log.Printf("- First event: %s", first.Format(time.RFC3339))
	}

	pass, found, err := analytics.NewStore(db, slog.Default()).LatestPass()
	if err != nil {
		return fmt.Errorf("failed to read pass history: %w", err)
	}
	if found {
		log.Printf("- Last pass: %s at %s (%s, %d events, %d rows)",
			pass.PassID, pass.CreatedAt.Format(time.RFC3339), pass.Families, pass.EventsRead, pass.RowsWritten)
	} else {
		log.Println("- Last pass: never")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	stats := sqlDB.Stats()
	log.Printf("- Open Connections: %d (in use %d, idle %d)", stats.OpenConnections, stats.InUse, stats.Idle)
	return nil
}

// FunnelsCommand prints the configured funnel definitions
type FunnelsCommand struct{}

func (c *FunnelsCommand) Name() string        { return "funnels" }
func (c *FunnelsCommand) Description() string { return "Lists the configured funnels" }

func (c *FunnelsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	funnels, err := aggregator.LoadFunnelDefinitions(config.GetConfig().FunnelsFile)
	if err != nil {
		return err
	}
	for _, f := range funnels {
		steps := make([]string, len(f.Steps))
		for i, step := range f.Steps {
			steps[i] = fmt.Sprintf("%s (%s)", step.Name, step.EventName)
		}
		fmt.Printf("%s: %s\n", f.Name, strings.Join(steps, " -> "))
	}
	return nil
}

// HelpCommand shows usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: pulsectl [command] [args...]")
	fmt.Println("Available commands:")
	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
