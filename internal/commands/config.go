package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"evalgo.org/anchor/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration (secrets masked)",
	RunE:  runShowConfig,
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	RunE:  runInitConfig,
}

func init() {
	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(initConfigCmd)
}

// masked returns a copy of c with credentials and signing secrets hidden.
func masked(c config.Config) config.Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Registry.Password = mask(c.Registry.Password)
	c.Security.JWTSecret = mask(c.Security.JWTSecret)
	return c
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(masked(*cfg))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

const defaultConfig = `# anchor configuration

engine:
  host: ""
  operation_timeout: 300s
  connection_timeout: 10s
  retry_attempts: 3
  retry_delay: 1s
  retry_multiplier: 2.0
  retry_max_delay: 30s
  max_concurrent_tasks: 5
  task_retention: 10m
  stop_timeout: 10s
  auto_start: false

events:
  buffer_size: 64

manifest:
  path: anchor.json

registry:
  provider: none   # none, static or ecr
  region: ""
  profile: ""

server:
  host: 0.0.0.0
  port: 8095
  read_timeout: 30s
  write_timeout: 30s
  shutdown_timeout: 10s

logging:
  level: info
  format: text
  output: stderr

security:
  auth_enabled: false
  jwt_expiration: 24h
  rate_limit: 100
  allowed_origins:
    - "*"
`

func runInitConfig(cmd *cobra.Command, args []string) error {
	const path = "anchor.yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0644); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Created "+path)
	return nil
}
