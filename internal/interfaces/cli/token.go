package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/ConstructOps/internal/infrastructure/auth/jwt"
	"github.com/turtacn/ConstructOps/internal/security/auth"
	"github.com/turtacn/ConstructOps/internal/security/authz"
)

type tokenOptions struct {
	Subject string
	Email   string
	Role    string
	TTL     time.Duration
}

type issuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t issuedToken) String() string { return t.Token }

func newTokenCmd() *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for development",
		Long:  "Mint an HS256 bearer token signed with auth.jwt_secret. Intended for local\ndevelopment and tests; production tokens come from the identity provider.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return runToken(cmd, cliCtx, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Subject, "sub", "", "user id (required)")
	f.StringVar(&opts.Email, "email", "", "user email")
	f.StringVar(&opts.Role, "role", "", "user role (required), one of: "+authz.JoinRoles(authz.AllRoles))
	f.DurationVar(&opts.TTL, "ttl", 0, "token lifetime (default auth.token_ttl)")
	_ = cmd.MarkFlagRequired("sub")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func runToken(cmd *cobra.Command, cliCtx *CLIContext, opts *tokenOptions) error {
	role := authz.Role(strings.ToLower(strings.TrimSpace(opts.Role)))
	if !role.IsValid() {
		return fmt.Errorf("token: unknown role %q", opts.Role)
	}
	authCfg := cliCtx.Config.Auth
	if opts.TTL > 0 {
		authCfg.TokenTTL = opts.TTL
	}
	issuer, err := jwt.NewIssuer(authCfg)
	if err != nil {
		return err
	}
	signed, exp, err := issuer.Issue(auth.User{ID: opts.Subject, Email: opts.Email, Role: string(role)})
	if err != nil {
		return err
	}
	return PrintResult(cmd, cliCtx.OutputFormat, issuedToken{Token: signed, ExpiresAt: exp.UTC()})
}
