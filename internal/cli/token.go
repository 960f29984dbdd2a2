package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	grpcadapter "github.com/KlistenesLima/krt-bank-sub000/internal/adapter/grpc"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the intake API",
		Long:  `Signs a short-lived HS256 token with auth.jwt_secret. Meant for local testing and smoke checks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}

			token, err := grpcadapter.IssueToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "local-dev", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}
