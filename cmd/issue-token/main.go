// Command issue-token creates a community member if needed and prints a
// bearer token for it. Development tooling only.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"peersupport-chat/internal/auth"
	"peersupport-chat/internal/config"
	"peersupport-chat/internal/domain"
	"peersupport-chat/internal/observability"
	"peersupport-chat/internal/repository/postgres"

	"github.com/spf13/cobra"
)

func main() {
	var (
		avatar string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue-token <name>",
		Short: "Upsert a user by name and print a signed bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			observability.InitLogger(cfg.LogLevel, "text")

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			db, err := config.NewPostgresConnection(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := config.EnsureSchema(ctx, db); err != nil {
				return err
			}

			user, err := upsertUser(ctx, postgres.NewUserRepository(db), args[0], avatar)
			if err != nil {
				return err
			}

			tokenCfg := cfg.TokenConfig()
			if ttl != 0 {
				tokenCfg.TTL = ttl
			}
			token, err := auth.NewTokenService(tokenCfg).Issue(user.ID)
			if err != nil {
				return err
			}

			slog.Info("issued token", slog.String("user_id", user.ID), slog.String("name", user.Name))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&avatar, "avatar", "", "avatar URL for a newly created user")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to TOKEN_TTL)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// upsertUser returns the user with the given name, creating it first if needed
func upsertUser(ctx context.Context, users domain.UserRepository, name, avatar string) (*domain.User, error) {
	user := &domain.User{Name: name, Avatar: avatar}
	err := users.Create(ctx, user)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserExists) {
		return nil, err
	}
	return users.GetByName(ctx, name)
}
