package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/FluidXR/droidtail/internal/adb"
	"github.com/FluidXR/droidtail/internal/config"
	"github.com/FluidXR/droidtail/internal/logging"
)

// Version of droidtail.
const Version = "0.1.0"

var (
	flagConfig   string
	flagHost     string
	flagPort     int
	flagTLS      bool
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:     "droidtail",
	Short:   "Follow Android devices through a local ADB server",
	Version: Version,
	Long: `droidtail talks the ADB server protocol directly. It tracks devices
(probing network devices for real reachability), follows logcat across
reconnects, lists packages with their display labels, and runs shell commands.`,
	SilenceUsage: true,
}

// serverFlags are shared by every command that reaches the ADB server.
func serverFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.StringVar(&flagConfig, "config", "", "Config file (default: "+config.ConfigPath()+")")
	fs.StringVarP(&flagHost, "host", "H", "", "ADB server host")
	fs.IntVarP(&flagPort, "port", "P", 0, "ADB server port (also "+config.PortEnv+")")
	fs.BoolVar(&flagTLS, "tls", false, "Connect to the ADB server over TLS")
	fs.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error, off")
	return fs
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = flagHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = flagPort
	}
	if flags.Changed("tls") {
		cfg.Server.TLS = flagTLS
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// env is what a command needs to talk to the server.
type env struct {
	cfg    *config.Config
	log    zerolog.Logger
	client *adb.Client
}

func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, os.Stderr)
	if err != nil {
		return nil, err
	}
	client := adb.NewClient(cfg.Client(), adb.WithLogger(log))
	return &env{cfg: cfg, log: log, client: client}, nil
}

func (e *env) Close() {
	e.client.Close()
}

func init() {
	rootCmd.PersistentFlags().AddFlagSet(serverFlags())
}

// Execute runs the root command. Interrupts cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
