package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/spf13/cobra"

	"social-dm/internal/auth"
	"social-dm/internal/seed"
	"social-dm/internal/server"
)

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "social-dm",
		Short:         "Real-time direct messaging server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.sync()
		},
	}
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "Optional file of environment variables loaded before parsing config")

	cmd.AddCommand(
		buildServeCmd(a),
		buildMigrateCmd(a),
		buildSeedCmd(a),
		buildTokenCmd(a),
	)
	return cmd
}

func buildServeCmd(a *app) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve websocket streams and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.sugar.Info("Application is starting")

			cfg := server.EnvConfig{}
			if err := env.Parse(&cfg); err != nil {
				return fmt.Errorf("cannot parse env config: %w", err)
			}

			store, err := a.openStore(ctx, migrate)
			if err != nil {
				return err
			}

			srv, err := server.NewServer(a.sugar, store,
				server.WithEnvConfig(cfg),
				server.ReadTimeout(5*time.Second),
				server.TimeoutHandler(15*time.Second, "Request timed out"),
				server.RegisterAfterShutdown(func() {
					a.sugar.Info("All streams are closed")
				}),
			)
			if err != nil {
				store.Close()
				return fmt.Errorf("cannot create Server instance: %w", err)
			}

			if cfg.JWTSecret == "" {
				a.sugar.Warn("JWT_SECRET is not set, stream identities are trusted as given")
			}

			return srv.Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply schema migrations before serving")
	return cmd
}

func buildMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			store.Close()
			return nil
		},
	}
}

func buildSeedCmd(a *app) *cobra.Command {
	var (
		plan    seed.Plan
		source  int64
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the store with random conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == 0 {
				source = time.Now().UnixNano()
			}

			messages, err := seed.Generate(rand.New(rand.NewSource(source)), plan)
			if err != nil {
				return err
			}

			store, err := a.openStore(cmd.Context(), migrate)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Seed(cmd.Context(), messages)
			if err != nil {
				return fmt.Errorf("cannot seed store: %w", err)
			}

			a.sugar.Infof("Seeded %d messages between %d users (source %d)", n, plan.Users, source)
			return nil
		},
	}
	cmd.Flags().IntVar(&plan.Users, "users", 15, "Number of users, ids start at 1")
	cmd.Flags().IntVar(&plan.Messages, "messages", 200, "Number of messages to generate")
	cmd.Flags().Float64Var(&plan.ReadRatio, "read-ratio", 0.5, "Share of generated messages already read")
	cmd.Flags().DurationVar(&plan.Spacing, "spacing", time.Minute, "Time between consecutive messages")
	cmd.Flags().Int64Var(&source, "rand-seed", 0, "Random source, zero picks one from the clock")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply schema migrations before seeding")
	return cmd
}

func buildTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token [user id]",
		Short: "Issue a stream token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("user id must be a 64-bit integer value: %w", err)
			}

			cfg := server.EnvConfig{}
			if err := env.Parse(&cfg); err != nil {
				return fmt.Errorf("cannot parse env config: %w", err)
			}

			verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTTTL)
			if verifier == nil {
				return fmt.Errorf("JWT_SECRET is not set")
			}

			token, err := verifier.Issue(userID)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}
