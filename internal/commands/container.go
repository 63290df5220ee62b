package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgo.org/anchor/internal/retry"
	"evalgo.org/anchor/models"
)

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Inspect and remove containers",
}

var listContainersCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List containers known to the engine",
	RunE:    runListContainers,
}

var metricsContainerCmd = &cobra.Command{
	Use:   "metrics NAME",
	Short: "Show a one-shot resource usage sample",
	Args:  cobra.ExactArgs(1),
	RunE:  runContainerMetrics,
}

var removeContainerEngineCmd = &cobra.Command{
	Use:     "rm NAME",
	Aliases: []string{"remove"},
	Short:   "Stop and remove a container",
	Args:    cobra.ExactArgs(1),
	RunE:    runRemoveContainerEngine,
}

func init() {
	containerCmd.AddCommand(listContainersCmd)
	containerCmd.AddCommand(metricsContainerCmd)
	containerCmd.AddCommand(removeContainerEngineCmd)
}

func runListContainers(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	containers, err := retry.Execute(ctx, cfg.RetryPolicy().WithDefaults(), "list containers", client.ListContainers)
	if err != nil {
		return err
	}
	sort.Slice(containers, func(i, j int) bool { return containerName(containers[i]) < containerName(containers[j]) })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tIMAGE\tSTATE\tSTATUS")
	for _, c := range containers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", containerName(c), shortID(c.ID), c.Image, c.State, dash(c.Status))
	}
	w.Flush()
	return nil
}

func runContainerMetrics(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	name := args[0]
	m, err := retry.Execute(ctx, cfg.RetryPolicy().WithDefaults(), "metrics", func(ctx context.Context) (models.ContainerMetrics, error) {
		return client.Metrics(ctx, name)
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Container:\t%s\n", m.Container)
	fmt.Fprintf(w, "Uptime:\t%s\n", m.UptimeString())
	fmt.Fprintf(w, "CPU:\t%.2f%%\n", m.CPUPercent)
	fmt.Fprintf(w, "Memory:\t%s\n", m.MemoryString())
	fmt.Fprintf(w, "Net I/O:\t%s\n", m.NetworkString())
	fmt.Fprintf(w, "Block I/O:\t%s\n", m.BlockIOString())
	fmt.Fprintf(w, "PIDs:\t%d\n", m.PIDs)
	fmt.Fprintf(w, "Restarts:\t%d\n", m.RestartCount)
	fmt.Fprintf(w, "Health:\t%s\n", m.Health)
	w.Flush()
	return nil
}

func runRemoveContainerEngine(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	name := args[0]
	err = runTasks(ctx, client, models.RegistryCredentials{},
		models.ContainerStop{Name: name},
		models.ContainerRemove{Name: name},
	)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed container %s\n", name)
	return nil
}

func containerName(c models.ContainerSummary) string {
	if len(c.Names) == 0 {
		return shortID(c.ID)
	}
	return strings.TrimPrefix(c.Names[0], "/")
}
