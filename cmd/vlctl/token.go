package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jrmce/VersionLifecycle-sub000/internal/service/auth"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/config"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/logger"
)

func (c *cli) tokenCmd() *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}

	var (
		userID   int64
		tenantID int64
		role     string
		ttl      time.Duration
		secret   string
		save     bool
	)
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Sign an access token with the API's JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID <= 0 {
				return errors.New("--user is required")
			}
			key := secret
			if key == "" {
				key = config.GetString("JWT_SECRET", "")
			}
			if key == "" {
				var err error
				if key, err = c.readSecret("JWT secret: "); err != nil {
					return fmt.Errorf("read secret: %w", err)
				}
			}
			if key == "" {
				return errors.New("a JWT secret is required")
			}
			pair, err := auth.New(key, ttl, logger.Discard()).IssueToken(userID, tenantID, role)
			if err != nil {
				return err
			}
			if save {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				cfg.AccessToken = pair.AccessToken
				if err := c.saveConfig(cfg); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), pair.AccessToken)
			return nil
		},
	}
	flags := mint.Flags()
	flags.Int64Var(&userID, "user", 0, "user id carried by the token")
	flags.Int64Var(&tenantID, "tenant", 0, "tenant id (required unless --role operator)")
	flags.StringVar(&role, "role", "member", "token role (member|operator)")
	flags.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flags.StringVar(&secret, "secret", "", "JWT secret (default $JWT_SECRET, else prompt)")
	flags.BoolVar(&save, "save", false, "store the token in the saved config")
	token.AddCommand(mint)
	return token
}
