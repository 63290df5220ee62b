package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/anchor/internal/cluster"
	"evalgo.org/anchor/internal/logging"
	"evalgo.org/anchor/models"
	"evalgo.org/anchor/pkg/anchor/client"
)

// remotePoll is how often a remote start is polled for progress.
const remotePoll = 500 * time.Millisecond

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Drive the containers of the manifest",
}

var startClusterCmd = &cobra.Command{
	Use:   "start",
	Short: "Bring every container to its declared stage",
	Long: `Bring every container of the manifest to the stage its command names.

Download pulls the image, Build also creates the container and Run also
starts it. Containers progress concurrently; Ready is printed once every
container has reached its target.

Examples:
  anchor cluster start
  anchor cluster start -m cluster.yaml`,
	RunE: runStartCluster,
}

var stopClusterCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop and remove every managed container",
	RunE:  runStopCluster,
}

var removeClusterCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove every managed container, and optionally its image",
	RunE:  runRemoveCluster,
}

var statusClusterCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the observed stage of every container",
	RunE:  runStatusCluster,
}

var eventsClusterCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream progress events from an API server",
	Long: `Stream progress events from a running API server to the log until
interrupted.

Examples:
  anchor cluster events --server http://localhost:8095`,
	RunE: runClusterEvents,
}

var (
	removeImages bool
	serverURL    string
	serverToken  string
)

func init() {
	removeClusterCmd.Flags().BoolVar(&removeImages, "images", false, "also remove the images of managed containers")

	clusterCmd.PersistentFlags().StringVar(&serverURL, "server", "", "drive the cluster through an API server at this URL instead of the local engine")
	clusterCmd.PersistentFlags().StringVar(&serverToken, "token", os.Getenv("ANCHOR_TOKEN"), "API token for --server (default: $ANCHOR_TOKEN)")

	clusterCmd.AddCommand(startClusterCmd)
	clusterCmd.AddCommand(stopClusterCmd)
	clusterCmd.AddCommand(removeClusterCmd)
	clusterCmd.AddCommand(statusClusterCmd)
	clusterCmd.AddCommand(eventsClusterCmd)
}

// withCluster runs fn against a cluster built from the configured manifest,
// logging bus events while it runs.
func withCluster(fn func(ctx context.Context, cl *cluster.Cluster) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	cl, eng, err := newCluster(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	stop := follow(cl.Bus())
	err = fn(ctx, cl)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if cerr := cl.Close(closeCtx); cerr != nil {
		logger.Warn("scheduler did not drain", "error", cerr)
	}
	stop()

	return err
}

// remote returns an API client when --server is set.
func remote() (*client.Client, bool, error) {
	if serverURL == "" {
		return nil, false, nil
	}
	c, err := client.New(serverURL, client.WithToken(serverToken))
	return c, true, err
}

func runStartCluster(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	started := time.Now()
	printStatus := func(s models.ClusterStatus) {
		if s.Kind == models.ClusterReady {
			fmt.Fprintf(out, "\n✓ Cluster ready in %s\n", time.Since(started).Round(time.Millisecond))
			return
		}
		fmt.Fprintf(out, "  %-10s %s\n", s.Kind, s.Container)
	}

	if c, ok, err := remote(); ok {
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		if err := c.StartCluster(ctx); err != nil {
			return err
		}
		if _, err := c.WaitStarted(ctx, remotePoll, printStatus); err != nil {
			fmt.Fprintln(out, "\n✗ Cluster start failed")
			return err
		}
		return nil
	}

	return withCluster(func(ctx context.Context, cl *cluster.Cluster) error {
		err := cl.Start(ctx, printStatus)
		if err != nil {
			fmt.Fprintln(out, "\n✗ Cluster start failed")
		}
		return err
	})
}

func runStopCluster(cmd *cobra.Command, args []string) error {
	if c, ok, err := remote(); ok {
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		if err := c.StopCluster(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Cluster stopped")
		return nil
	}

	return withCluster(func(ctx context.Context, cl *cluster.Cluster) error {
		if err := cl.Stop(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Stopped %d container(s)\n", len(cl.Manifest().Active()))
		return nil
	})
}

func runRemoveCluster(cmd *cobra.Command, args []string) error {
	if c, ok, err := remote(); ok {
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		if err := c.RemoveCluster(ctx, removeImages); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Cluster removed")
		return nil
	}

	return withCluster(func(ctx context.Context, cl *cluster.Cluster) error {
		if err := cl.Remove(ctx, removeImages); err != nil {
			return err
		}
		what := "container(s)"
		if removeImages {
			what = "container(s) and their images"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %d %s\n", len(cl.Manifest().Active()), what)
		return nil
	})
}

func runStatusCluster(cmd *cobra.Command, args []string) error {
	if c, ok, err := remote(); ok {
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		resp, err := c.Cluster(ctx)
		if err != nil {
			return err
		}
		printStatuses(cmd.OutOrStdout(), resp.Containers)
		if resp.Starting {
			fmt.Fprintln(cmd.OutOrStdout(), "start in progress")
		}
		return nil
	}

	return withCluster(func(ctx context.Context, cl *cluster.Cluster) error {
		statuses, err := cl.Status(ctx)
		if err != nil {
			return err
		}
		printStatuses(cmd.OutOrStdout(), statuses)
		return nil
	})
}

func printStatuses(out io.Writer, statuses []cluster.ContainerStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURI\tCOMMAND\tSTAGE\tREADY")
	ready := 0
	for _, s := range statuses {
		mark := "✗"
		if s.Ready {
			mark = "✓"
			ready++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, s.URI, s.Command, s.Stage, mark)
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d/%d ready\n", ready, len(statuses))
}

func runClusterEvents(cmd *cobra.Command, args []string) error {
	c, ok, err := remote()
	if !ok {
		return fmt.Errorf("--server is required")
	}
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return c.Events(ctx, func(_ time.Time, e models.ProgressEvent) {
		logging.LogEvent(logger, e)
	})
}
