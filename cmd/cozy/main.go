// cmd/cozy/main.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"cozy/internal/config"
	"cozy/internal/controller"
	"cozy/internal/logging"
	"cozy/internal/store"
)

const programName = "cozy"

// app carries what every subcommand needs once the root pre-run has loaded
// the configuration.
type app struct {
	configFile string
	home       string
	staff      string
	debug      bool

	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		}
	}
	a.closers = nil
}

func (a *app) load() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.home != "" {
		cfg.Home = a.home
	}
	if a.debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := logging.New(logging.Config{
		Home:   cfg.Home,
		ToFile: cfg.LogFile,
		Debug:  cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	a.cfg, a.logger = cfg, logger
	a.closers = append(a.closers, closeLog)
	return nil
}

// openStore builds the store backend the configuration names.
func (a *app) openStore() (store.Store, error) {
	switch a.cfg.Storage {
	case config.StoragePostgres:
		db, err := sql.Open("postgres", a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return store.NewPostgresStore(db, a.cfg.SiteName), nil
	default:
		return store.NewFileStore(a.cfg.Home, store.WithLogger(a.logger)), nil
	}
}

// openController opens the site and selects the --staff member, if any.
func (a *app) openController(ctx context.Context) (*controller.Controller, error) {
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}
	capacity := a.cfg.DefaultCapacity
	c, err := controller.New(ctx, st, controller.Options{
		SiteName:        a.cfg.SiteName,
		DefaultCapacity: &capacity,
		MaxCapacity:     a.cfg.MaxCapacity,
		Logger:          a.logger,
	})
	if err != nil {
		return nil, err
	}
	if a.staff != "" {
		if err := c.SelectStaff(a.staff); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Track chair occupancy and staff at a site",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&a.home, "home", "", "site home directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&a.staff, "staff", "", "staff member recorded as acting for this command")
	rootCmd.PersistentFlags().BoolVarP(&a.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(
		serveCommand(a),
		statusCommand(a),
		occupyCommand(a),
		freeCommand(a),
		staffCommand(a),
		resizeCommand(a),
		eventsCommand(a),
		verifyCommand(a),
	)
	return rootCmd
}

// run executes one command line. Resources opened on the way are released
// before it returns.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()

	rootCmd := newRootCommand(a)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.ExecuteContext(ctx)
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
