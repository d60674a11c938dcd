package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slotfinder/internal/availability"
	"slotfinder/internal/config"
	"slotfinder/internal/ics"
	appLog "slotfinder/internal/log"
)

// version is set at build time.
var version = "0.1.0-dev"

const defaultConfigPath = "./config.yaml"

// rootOptions holds persistent flag values.
type rootOptions struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "slotfinder",
		Short: "Find free time slots in ICS calendars",
		Long: `slotfinder reads busy time from iCalendar feeds and reports the gaps
long enough to meet in.

It can run as:
  - a one-shot CLI lookup (find)
  - an HTTP API with background refresh (serve)
  - an MCP server for AI assistants (mcp)`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			appLog.Init(opts.debug)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			appLog.Sync()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (default $"+config.EnvConfigPath+" or "+defaultConfigPath+")")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(newFindCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newMCPCmd(opts))
	return root
}

// app bundles the wired components shared by every subcommand.
type app struct {
	cfg      *config.Config
	calendar *ics.Calendar
	finder   *availability.Finder
}

func loadApp(opts *rootOptions) (*app, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", path)
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appLog.Info("effective config",
		"config_path", path,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"days_to_search", cfg.DaysToSearch,
		"minimum_duration", cfg.MinimumDuration().String(),
		"refresh", cfg.RefreshCron,
		"ics_count", len(cfg.ICS),
	)

	sources := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		sources = append(sources, ics.Source{ID: c.SourceID(), URL: c.URL})
	}

	cal := ics.NewCalendar(ics.NewFetcher(cfg.CacheDir, cfg.FetchTimeout()), sources)
	cal.AllowRawURL = cfg.AllowRawURL
	cal.Floating = cfg.Location()

	finder := availability.NewFinder(cal, availability.WithFetchTimeout(cfg.FetchTimeout()))

	return &app{cfg: cfg, calendar: cal, finder: finder}, nil
}

// defaultSource is the first configured calendar, or "" when none is.
func (a *app) defaultSource() string {
	if len(a.cfg.ICS) == 0 {
		return ""
	}
	return a.cfg.ICS[0].SourceID()
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

var errNoSource = errors.New("no calendar source: configure ics in the config file, set " + config.EnvICSURL + ", or pass --source/--url")
