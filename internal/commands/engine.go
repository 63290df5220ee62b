package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/anchor/internal/engine"
	"evalgo.org/anchor/internal/retry"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Check and start the container engine",
}

var pingEngineCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the engine answers",
	RunE:  runPingEngine,
}

var platformEngineCmd = &cobra.Command{
	Use:   "platform",
	Short: "Print the engine's os/architecture",
	RunE:  runPlatformEngine,
}

var startEngineCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the engine daemon and wait until it answers",
	Long: `Start the container engine daemon using the host's service manager
and wait until it answers a ping.

On Linux systemctl, service and dockerd are tried in order. On macOS and
Windows Docker Desktop is launched.`,
	RunE: runStartEngine,
}

var engineWait time.Duration

func init() {
	startEngineCmd.Flags().DurationVar(&engineWait, "wait", daemonWait, "how long to wait for the daemon to answer")

	engineCmd.AddCommand(pingEngineCmd)
	engineCmd.AddCommand(platformEngineCmd)
	engineCmd.AddCommand(startEngineCmd)
}

func runPingEngine(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := engine.NewDocker(cfg.DockerOptions())
	if err != nil {
		return err
	}
	defer client.Close()

	started := time.Now()
	if err := retry.Probe(ctx, cfg.RetryPolicy().WithDefaults(), "ping", client.Ping); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "✗ Engine is not reachable")
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Engine is reachable (%s)\n", time.Since(started).Round(time.Millisecond))
	return nil
}

func runPlatformEngine(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	platform, err := retry.Execute(ctx, cfg.RetryPolicy().WithDefaults(), "platform", client.Platform)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), platform)
	return nil
}

func runStartEngine(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := engine.NewDocker(cfg.DockerOptions())
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Ping(ctx); err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Engine is already running")
		return nil
	}

	b := engine.NewBootstrapper()
	logger.Info("starting engine daemon")
	if err := b.Start(ctx); err != nil {
		return err
	}
	if err := b.WaitReady(ctx, client.Ping, engineWait); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Engine started")
	return nil
}
