package commands

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"evalgo.org/anchor/internal/retry"
	"evalgo.org/anchor/models"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage local images",
}

var listImagesCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List local images",
	RunE:    runListImages,
}

var pullImageCmd = &cobra.Command{
	Use:   "pull URI",
	Short: "Pull an image using the configured registry credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runPullImage,
}

var removeImageCmd = &cobra.Command{
	Use:     "rm URI",
	Aliases: []string{"remove"},
	Short:   "Remove a local image",
	Args:    cobra.ExactArgs(1),
	RunE:    runRemoveImage,
}

func init() {
	imageCmd.AddCommand(listImagesCmd)
	imageCmd.AddCommand(pullImageCmd)
	imageCmd.AddCommand(removeImageCmd)
}

func runListImages(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	images, err := retry.Execute(ctx, cfg.RetryPolicy().WithDefaults(), "list images", client.ListImages)
	if err != nil {
		return err
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Created.After(images[j].Created) })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TAGS\tID\tCREATED\tSIZE")
	for _, img := range images {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			dash(strings.Join(img.RepoTags, ",")),
			shortID(img.ID),
			imageAge(img.Created),
			units.HumanSize(float64(img.Size)))
	}
	w.Flush()
	return nil
}

func runPullImage(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	creds, err := registryCredentials(ctx)
	if err != nil {
		return err
	}

	client, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := runTasks(ctx, client, creds, models.ImageDownload{Image: args[0]}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pulled %s\n", args[0])
	return nil
}

func runRemoveImage(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := runTasks(ctx, client, models.RegistryCredentials{}, models.ImageRemove{Image: args[0]}); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s\n", args[0])
	return nil
}

// shortID trims the digest algorithm and truncates to 12 characters.
func shortID(id string) string {
	if _, hex, ok := strings.Cut(id, ":"); ok {
		id = hex
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func imageAge(created time.Time) string {
	if created.IsZero() {
		return "-"
	}
	return units.HumanDuration(time.Since(created)) + " ago"
}
