package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/service/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}

	var owner string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a bearer token for an owner",
		Long: "Print a bearer token whose subject is the owner ID. Every persona, " +
			"product and session created with the token belongs to that owner. " +
			"Without --owner a new owner ID is generated.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ownerID := uuid.New()
			if owner != "" {
				parsed, err := uuid.Parse(owner)
				if err != nil || parsed == uuid.Nil {
					return fmt.Errorf("--owner must be a non-nil UUID")
				}
				ownerID = parsed
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			jwtService, err := auth.NewJWTService(cfg.Auth, log)
			if err != nil {
				return err
			}
			token, err := jwtService.GenerateToken(cmd.Context(), ownerID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "owner: %s (valid for %s)\n", ownerID, cfg.Auth.TokenLifetime)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	issue.Flags().StringVar(&owner, "owner", "", "owner ID to issue the token for")

	cmd.AddCommand(issue)
	return cmd
}
