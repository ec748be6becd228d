// Package cmd provides the CLI entry point.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ghermez/ariabridge/internal/config"
	"github.com/ghermez/ariabridge/internal/rpc"
)

// Version information - set at build time via ldflags.
//
//nolint:gochecknoglobals // build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
	BuiltBy   = "unknown"
)

// rootOptions holds the persistent flags and the configuration they load.
type rootOptions struct {
	cfgFile   string
	logLevel  string
	logPretty bool
	port      int
	rpcURL    string

	showVersion bool
	cfg         config.Config
}

// Execute runs the root command.
func Execute() {
	// Check for version flag early to avoid config loading
	for _, arg := range os.Args[1:] {
		if arg == "-V" || arg == "--version" {
			printVersion(os.Stdout)
			return
		}
	}

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "ariabridge",
		Short: "Run and control an aria2 download daemon",
		Long: `ariabridge launches aria2c with JSON-RPC enabled and exposes its
downloads through a small HTTP API and this command line.

Completed downloads are moved out of the daemon's working directory and
sorted into Audios, Videos, Documents, Compressed and Other folders.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.load()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.ariabridge.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logPretty, "log-pretty", stderrIsTerminal(), "enable pretty (human-readable) logging")
	flags.IntVar(&opts.port, "port", 0, "aria2 RPC port (default 6800)")
	flags.StringVar(&opts.rpcURL, "rpc-url", "", "aria2 RPC address, e.g. ws://127.0.0.1:6800/jsonrpc")
	root.Flags().BoolVarP(&opts.showVersion, "version", "V", false, "print version information and exit")

	root.AddCommand(
		newServeCommand(opts),
		newVersionCommand(opts),
		newListCommand(opts),
		newGIDsCommand(opts),
		newStatusCommand(opts),
		newAddCommand(opts),
		newPauseCommand(opts),
		newResumeCommand(opts),
		newRemoveCommand(opts),
		newLimitCommand(opts),
		newShutdownCommand(opts),
		newDestinationCommand(opts),
	)

	return root
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "ariabridge %s\n", Version)
	fmt.Fprintf(w, "  commit:   %s\n", Commit)
	fmt.Fprintf(w, "  built:    %s\n", BuildDate)
	fmt.Fprintf(w, "  built by: %s\n", BuiltBy)
}

// load reads the config file and environment, then applies flag overrides.
func (o *rootOptions) load() error {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: o.cfgFile,
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply CLI flag overrides
	if o.port != 0 {
		cfg.Daemon.Port = o.port
	}

	o.cfg = cfg

	setupLogging(o.logLevel, o.logPretty)
	return nil
}

// rpcAddr returns the daemon address the client commands talk to.
func (o *rootOptions) rpcAddr() string {
	if o.rpcURL != "" {
		return o.rpcURL
	}
	return rpc.LoopbackURL(o.cfg.Daemon.Port)
}

func setupLogging(level string, pretty bool) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}) //nolint:reassign // standard zerolog pattern
	}
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
