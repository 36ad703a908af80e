package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/config"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/log"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/store"
)

// Annotation keys read by the root pre-run hook.
const (
	annotationDB = "db"
	dbRequired   = "required"
	dbOptional   = "optional"
)

var (
	// DB is the global database connection shared by subcommands that need it
	DB *store.Store
	// cfg is the effective configuration after env and flags are applied
	cfg config.Config

	envFile  string
	noColors bool
	// flagCfg receives flag values; only flags the user set are copied into cfg
	flagCfg = config.Default()
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "bodytrack",
	Short:   "Body tracking pose streamer for game engines",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		applyFlagOverrides(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		if _, err := log.New(log.Options{Level: cfg.LogLevel, File: cfg.LogFile, NoColors: noColors}); err != nil {
			return err
		}

		switch cmd.Annotations[annotationDB] {
		case dbRequired:
			if cfg.DatabaseURL == "" {
				cfg.DatabaseURL = "postgres://localhost:5432/bodytrack"
			}
		case dbOptional:
			if cfg.DatabaseURL == "" {
				return nil
			}
		default:
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		releaseDB()
	},
}

// releaseDB closes the shared connection. Cobra skips PersistentPostRun when
// RunE fails, so execute calls it again on the way out.
func releaseDB() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		// and we still need to send the "Close" command to the DB.
		DB.Close(context.Background())
		DB = nil
	}
}

// execute runs the command tree with args and always releases the database.
func execute(ctx context.Context, args []string) error {
	defer releaseDB()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// overrides copies a flag value from flagCfg into the effective config.
var overrides = map[string]func(c *config.Config){
	"host":           func(c *config.Config) { c.Host = flagCfg.Host },
	"port":           func(c *config.Config) { c.Port = flagCfg.Port },
	"log-level":      func(c *config.Config) { c.LogLevel = flagCfg.LogLevel },
	"log-file":       func(c *config.Config) { c.LogFile = flagCfg.LogFile },
	"db":             func(c *config.Config) { c.DatabaseURL = flagCfg.DatabaseURL },
	"metrics-addr":   func(c *config.Config) { c.MetricsAddr = flagCfg.MetricsAddr },
	"width":          func(c *config.Config) { c.CanvasWidth = flagCfg.CanvasWidth },
	"height":         func(c *config.Config) { c.CanvasHeight = flagCfg.CanvasHeight },
	"shoulder-width": func(c *config.Config) { c.ReferenceShoulderWidth = flagCfg.ReferenceShoulderWidth },
	"body-height":    func(c *config.Config) { c.ReferenceBodyHeight = flagCfg.ReferenceBodyHeight },
	"raw-visibility": func(c *config.Config) { c.RawVisibility = flagCfg.RawVisibility },
	"worker-cmd":     func(c *config.Config) { c.WorkerCommand = flagCfg.WorkerCommand },
	"worker-timeout": func(c *config.Config) { c.WorkerTimeout = flagCfg.WorkerTimeout },
	"listen-port":    func(c *config.Config) { c.ListenPort = flagCfg.ListenPort },
}

func applyFlagOverrides(cmd *cobra.Command, c *config.Config) {
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if apply, ok := overrides[f.Name]; ok {
			apply(c)
		}
	})
}

// addPipelineFlags registers the settings shared by stream and replay.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagCfg.CanvasWidth, "width", 0, "Canvas width in pixels (0: take from first frame)")
	cmd.Flags().IntVar(&flagCfg.CanvasHeight, "height", 0, "Canvas height in pixels (0: take from first frame)")
	cmd.Flags().Float64Var(&flagCfg.ReferenceShoulderWidth, "shoulder-width", flagCfg.ReferenceShoulderWidth, "Reference shoulder width in pixels")
	cmd.Flags().Float64Var(&flagCfg.ReferenceBodyHeight, "body-height", flagCfg.ReferenceBodyHeight, "Reference shoulder-to-hip height in pixels")
	cmd.Flags().BoolVar(&flagCfg.RawVisibility, "raw-visibility", false, "Export detector visibility instead of the depth estimate in the visibility field")
	cmd.Flags().StringVar(&flagCfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	rootCmd.PersistentFlags().StringVar(&flagCfg.Host, "host", flagCfg.Host, "Consumer host to stream to")
	rootCmd.PersistentFlags().IntVarP(&flagCfg.Port, "port", "p", flagCfg.Port, "Consumer UDP port")
	rootCmd.PersistentFlags().StringVar(&flagCfg.LogLevel, "log-level", flagCfg.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagCfg.LogFile, "log-file", "", "Also write logs to this rotating file")
	rootCmd.PersistentFlags().BoolVar(&noColors, "no-color", false, "Disable colored log output")
	rootCmd.PersistentFlags().StringVar(&flagCfg.DatabaseURL, "db", "", "PostgreSQL connection string (default: from DATABASE_URL or POSTGRES_* env)")
}
