package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"evalgo.org/anchor/internal/config"
	"evalgo.org/anchor/internal/logging"
	"evalgo.org/anchor/internal/version"
)

var (
	cfgFile      string
	manifestFlag string
	logLevel     string
	logFormat    string

	cfg       *config.Config
	logger    *log.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "anchor",
	Short: "Declarative container orchestration for a single engine",
	Long: `anchor brings a set of containers to the lifecycle stage declared for each
of them in a manifest: downloaded, built or running.

Every engine operation is a scheduled task with timeouts and bounded retry,
and progress is streamed as structured events to the log, the terminal and
the API's WebSocket endpoint.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.Version = version.Version
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./anchor.yaml)")
	rootCmd.PersistentFlags().StringVarP(&manifestFlag, "manifest", "m", "", "manifest file (default: manifest.path from config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json, logfmt)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(engineCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(containerCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger, logCloser, err = logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT, SIGTERM or SIGQUIT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		info := version.Get()
		fmt.Fprintln(out, info.Short())

		if cmd.Flag("verbose").Changed {
			fmt.Fprintf(out, "\nDetails:\n")
			fmt.Fprintf(out, "  Version:    %s\n", info.Version)
			fmt.Fprintf(out, "  Git Commit: %s\n", info.GitCommit)
			fmt.Fprintf(out, "  Built:      %s\n", info.BuildTime)
			fmt.Fprintf(out, "  Go Version: %s\n", info.GoVersion)
			fmt.Fprintf(out, "  Platform:   %s\n", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "verbose version output")
}
