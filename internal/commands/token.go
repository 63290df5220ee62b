package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/anchor/internal/auth"
	"evalgo.org/anchor/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an API access token",
	Long: `Generate a JWT for the API server.

The token is signed with security.jwt_secret from the configuration file
unless --secret is given. Roles are admin, operator and viewer; viewers may
only read, operators may also start, stop and remove the cluster.

Examples:
  anchor token --subject ci --roles operator
  anchor token --subject dashboard --roles viewer --expiration 720h
  anchor token --subject me --roles admin --secret "my-custom-secret"`,
	Args: cobra.NoArgs,
	RunE: runGenerateToken,
}

var (
	tokenSubject    string
	tokenRoles      string
	tokenExpiration time.Duration
	tokenSecret     string
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (who the token is for)")
	tokenCmd.Flags().StringVar(&tokenRoles, "roles", string(auth.RoleViewer), "comma-separated roles: admin, operator, viewer")
	tokenCmd.Flags().DurationVar(&tokenExpiration, "expiration", 0, "token lifetime (default: security.jwt_expiration)")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "signing secret (default: security.jwt_secret)")
	_ = tokenCmd.MarkFlagRequired("subject")
}

func runGenerateToken(cmd *cobra.Command, args []string) error {
	roles, err := auth.ParseRoles(tokenRoles)
	if err != nil {
		return err
	}

	sec := config.SecurityConfig{JWTSecret: tokenSecret, JWTExpiration: tokenExpiration}
	if cfg != nil {
		if sec.JWTSecret == "" {
			sec.JWTSecret = cfg.Security.JWTSecret
		}
		if sec.JWTExpiration == 0 {
			sec.JWTExpiration = cfg.Security.JWTExpiration
		}
	}
	if sec.JWTExpiration <= 0 {
		sec.JWTExpiration = 24 * time.Hour
	}
	if sec.JWTSecret == "" {
		return fmt.Errorf(`jwt_secret not found in config file and --secret not provided

Please either:
  1. Add to your anchor.yaml:
     security:
       jwt_secret: your-secret-here

  2. Or use the --secret flag:
     anchor token --subject %s --secret "your-secret-here"`, tokenSubject)
	}

	token, err := auth.NewJWTService(sec).GenerateToken(tokenSubject, roles)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Subject:    %s\n", tokenSubject)
	fmt.Fprintf(out, "Roles:      %s\n", tokenRoles)
	fmt.Fprintf(out, "Expiration: %s\n", sec.JWTExpiration)
	fmt.Fprintf(out, "\nToken:\n%s\n\n", token)
	fmt.Fprintln(out, "Send it as 'Authorization: Bearer <token>'.")
	return nil
}
