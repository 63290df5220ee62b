package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evalgo.org/anchor/internal/manifest"
	"evalgo.org/anchor/internal/validation"
	"evalgo.org/anchor/models"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect and edit the cluster manifest",
}

var validateManifestCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a manifest and report every problem",
	Long: `Validate a manifest document.

Every problem is reported, not only the first one. The format is picked
from the file extension (.yaml/.yml for YAML, JSON otherwise).

Examples:
  anchor manifest validate
  anchor manifest validate cluster.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidateManifest,
}

var showManifestCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the manifest",
	RunE:  runShowManifest,
}

var addContainerCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add a container to the manifest",
	Long: `Add a container to the manifest. The manifest file is created when missing.

Examples:
  anchor manifest add web --uri nginx:1.27 --port 8080:80 --command run
  anchor manifest add db --uri postgres:16 --env POSTGRES_PASSWORD=secret \
    --mount volume:pgdata:/var/lib/postgresql/data
  anchor manifest add tools --uri alpine:3 --command download`,
	Args: cobra.ExactArgs(1),
	RunE: runAddContainer,
}

var removeContainerCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a container from the manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemoveContainer,
}

var (
	showFormat string
	addURI     string
	addCommand string
	addPorts   []string
	addEnv     []string
	addMounts  []string
)

func init() {
	showManifestCmd.Flags().StringVar(&showFormat, "format", "", "output format: json or yaml (default: from file extension)")

	addContainerCmd.Flags().StringVar(&addURI, "uri", "", "image reference")
	addContainerCmd.Flags().StringVar(&addCommand, "command", string(models.CommandRun), "target stage: ignore, download, build or run")
	addContainerCmd.Flags().StringArrayVarP(&addPorts, "port", "p", nil, "port mapping HOST:CONTAINER (repeatable)")
	addContainerCmd.Flags().StringArrayVarP(&addEnv, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	addContainerCmd.Flags().StringArrayVar(&addMounts, "mount", nil, "mount TYPE:SOURCE:TARGET[:ro] or anonymous_volume:TARGET[:ro] (repeatable)")
	_ = addContainerCmd.MarkFlagRequired("uri")

	manifestCmd.AddCommand(validateManifestCmd)
	manifestCmd.AddCommand(showManifestCmd)
	manifestCmd.AddCommand(addContainerCmd)
	manifestCmd.AddCommand(removeContainerCmd)
}

func runValidateManifest(cmd *cobra.Command, args []string) error {
	path := manifestPath()
	if len(args) == 1 {
		path = args[0]
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	result, err := validation.New().ValidateManifest(data, manifest.FormatFor(path))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	out := cmd.OutOrStdout()
	if result.Valid {
		fmt.Fprintln(out, "✓ Manifest is valid")
		return nil
	}

	fmt.Fprintln(out, "✗ Validation failed:")
	for _, e := range result.Errors {
		if e.Value != nil {
			fmt.Fprintf(out, "  - %s: %s (value: %v)\n", e.Field, e.Message, e.Value)
		} else {
			fmt.Fprintf(out, "  - %s: %s\n", e.Field, e.Message)
		}
	}

	return fmt.Errorf("validation failed")
}

func runShowManifest(cmd *cobra.Command, args []string) error {
	path := manifestPath()
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}

	format := manifest.FormatFor(path)
	switch strings.ToLower(showFormat) {
	case "":
	case "json":
		format = manifest.FormatJSON
	case "yaml", "yml":
		format = manifest.FormatYAML
	case "table":
		printManifestTable(cmd.OutOrStdout(), m)
		return nil
	default:
		return fmt.Errorf("unknown format %q (use json, yaml or table)", showFormat)
	}

	data, err := manifest.Marshal(m, format)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func printManifestTable(out io.Writer, m *models.Manifest) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURI\tCOMMAND\tPORTS\tMOUNTS")
	for _, name := range m.Names() {
		spec := m.Containers[name]
		ports := make([]string, 0, len(spec.PortMappings))
		for _, pm := range spec.PortMappings {
			ports = append(ports, pm.String())
		}
		mounts := make([]string, 0, len(spec.Mounts))
		for _, md := range spec.Mounts {
			mounts = append(mounts, md.String())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, spec.URI, spec.Command, dash(strings.Join(ports, ",")), dash(strings.Join(mounts, ",")))
	}
	w.Flush()
}

func runAddContainer(cmd *cobra.Command, args []string) error {
	name := args[0]

	command, err := models.ParseCommand(addCommand)
	if err != nil {
		return err
	}

	spec := models.ContainerSpec{URI: addURI, Command: command}
	for _, p := range addPorts {
		pm, err := parsePortMapping(p)
		if err != nil {
			return err
		}
		spec.PortMappings = append(spec.PortMappings, pm)
	}
	if spec.Env, err = parseEnv(addEnv); err != nil {
		return err
	}
	for _, s := range addMounts {
		md, err := parseMount(s)
		if err != nil {
			return err
		}
		spec.Mounts = append(spec.Mounts, md)
	}

	if errs := validation.New().ValidateSpec(name, spec); len(errs) > 0 {
		return fmt.Errorf("invalid container '%s': %s: %s", name, errs[0].Field, errs[0].Message)
	}

	path := manifestPath()
	m, err := manifest.LoadOrEmpty(path)
	if err != nil {
		return err
	}
	if err := m.AddContainer(name, spec); err != nil {
		return err
	}
	if err := manifest.Save(path, m); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Added container '%s' (%s, %s) to %s\n", name, spec.URI, spec.Command, path)
	return nil
}

func runRemoveContainer(cmd *cobra.Command, args []string) error {
	name := args[0]
	path := manifestPath()

	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	if err := m.RemoveContainer(name); err != nil {
		return err
	}
	if err := manifest.Save(path, m); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed container '%s' from %s\n", name, path)
	return nil
}

// parsePortMapping parses "HOST:CONTAINER", the order docker run -p uses.
func parsePortMapping(s string) (models.PortMapping, error) {
	h, c, ok := strings.Cut(s, ":")
	if !ok {
		return models.PortMapping{}, fmt.Errorf("invalid port mapping %q (expected HOST:CONTAINER)", s)
	}
	containerPort, err := strconv.ParseUint(strings.TrimSpace(c), 10, 16)
	if err != nil || containerPort == 0 {
		return models.PortMapping{}, fmt.Errorf("invalid container port in %q", s)
	}
	hostPort, err := strconv.ParseUint(strings.TrimSpace(h), 10, 16)
	if err != nil || hostPort == 0 {
		return models.PortMapping{}, fmt.Errorf("invalid host port in %q", s)
	}
	return models.PortMapping{ContainerPort: uint16(containerPort), HostPort: uint16(hostPort)}, nil
}

// parseEnv parses KEY=VALUE pairs. Values may contain '='.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid environment variable %q (expected KEY=VALUE)", p)
		}
		env[k] = v
	}
	return env, nil
}

// parseMount parses TYPE:SOURCE:TARGET[:ro|rw], or anonymous_volume:TARGET[:ro|rw].
func parseMount(s string) (models.MountDescriptor, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return models.MountDescriptor{}, fmt.Errorf("invalid mount %q", s)
	}

	readOnly := false
	if last := parts[len(parts)-1]; last == "ro" || last == "rw" {
		readOnly = last == "ro"
		parts = parts[:len(parts)-1]
	}

	var md models.MountDescriptor
	switch models.MountType(parts[0]) {
	case models.MountAnonymousVolume:
		if len(parts) != 2 {
			return md, fmt.Errorf("invalid anonymous volume %q (expected anonymous_volume:TARGET[:ro])", s)
		}
		md = models.AnonymousVolume(parts[1], readOnly)
	case models.MountBind:
		if len(parts) != 3 {
			return md, fmt.Errorf("invalid bind mount %q (expected bind:SOURCE:TARGET[:ro])", s)
		}
		md = models.BindMount(parts[1], parts[2], readOnly)
	case models.MountVolume:
		if len(parts) != 3 {
			return md, fmt.Errorf("invalid volume mount %q (expected volume:NAME:TARGET[:ro])", s)
		}
		md = models.NamedVolume(parts[1], parts[2], readOnly)
	default:
		return md, fmt.Errorf("unknown mount type %q (use bind, volume or anonymous_volume)", parts[0])
	}

	if err := md.Validate(); err != nil {
		return models.MountDescriptor{}, err
	}
	return md, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
