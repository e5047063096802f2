// Command docgen-admin bootstraps and inspects a docgen deployment: admin key,
// users, access tokens and the executor request log.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngoyal88/docgen/pkg/cache"
	"github.com/ngoyal88/docgen/pkg/config"
	"github.com/ngoyal88/docgen/pkg/middleware"
	"github.com/ngoyal88/docgen/pkg/storage"
	"github.com/ngoyal88/docgen/pkg/users"
)

var (
	cfgFile string
	envFile string
	asJSON  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docgen-admin",
		Short:         "Administer a docgen deployment",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/config.yaml)")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	root.AddCommand(newInitCmd(), newCreateUserCmd(), newListUsersCmd(), newIssueTokenCmd(), newLogsCmd())
	return root
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate an admin key and a JWT secret and store them in .env",
		RunE: func(cmd *cobra.Command, _ []string) error {
			adminKey, err := users.GenerateSecret("admin_")
			if err != nil {
				return fmt.Errorf("generate admin key: %w", err)
			}
			jwtSecret, err := users.GenerateSecret("")
			if err != nil {
				return fmt.Errorf("generate jwt secret: %w", err)
			}
			if err := upsertEnv(envFile, map[string]string{"ADMIN_KEY": adminKey, "JWT_SECRET": jwtSecret}); err != nil {
				return fmt.Errorf("write %s: %w", envFile, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "AdminKey: %s\nSaved ADMIN_KEY and JWT_SECRET to %s.\n", adminKey, envFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "file to write the secrets to")
	return cmd
}

type deps struct {
	cfg *config.Config
	rdb *cache.Client
}

func connect() (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if !cfg.Redis.Enabled {
		return nil, fmt.Errorf("redis is not enabled in config")
	}
	rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	return &deps{cfg: cfg, rdb: rdb}, nil
}

func (d *deps) Close() { _ = d.rdb.Close() }

func newCreateUserCmd() *cobra.Command {
	var email, name, org, role string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := connect()
			if err != nil {
				return err
			}
			defer d.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			u, err := users.New(d.rdb).Create(ctx, email, name, org, role)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			return printUsers(cmd.OutOrStdout(), []*users.User{u})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&org, "org", "", "organization")
	cmd.Flags().StringVar(&role, "role", users.RoleUser, "role: admin or user")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newListUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "List all users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := connect()
			if err != nil {
				return err
			}
			defer d.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			list, err := users.New(d.rdb).List(ctx)
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			if len(list) == 0 && !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), "No users found")
				return nil
			}
			return printUsers(cmd.OutOrStdout(), list)
		},
	}
}

func newIssueTokenCmd() *cobra.Command {
	var userID, email string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an access token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (userID == "") == (email == "") {
				return fmt.Errorf("exactly one of --user or --email is required")
			}
			d, err := connect()
			if err != nil {
				return err
			}
			defer d.Close()

			if d.cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (or JWT_SECRET) must be set so the server accepts the token")
			}
			if ttl <= 0 {
				ttl = d.cfg.Auth.TokenTTL
			}
			tokens, err := middleware.NewTokenIssuer(d.cfg.Auth.JWTSecret, d.cfg.Auth.Issuer, ttl)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			dir := users.New(d.rdb)
			var u *users.User
			if userID != "" {
				u, err = dir.Get(ctx, userID)
			} else {
				u, err = dir.GetByEmail(ctx, email)
			}
			if err != nil {
				return fmt.Errorf("find user: %w", err)
			}

			token, exp, err := tokens.Issue(u)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(map[string]any{"token": token, "expires_at": exp, "user_id": u.ID})
			}
			fmt.Fprintf(out, "Token for %s (expires %s):\n%s\n", u.Email, exp.Format(time.RFC3339), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var f storage.LogFilters
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show executor request log entries, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			store, closeStore, err := openLogStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if since > 0 {
				f.From = time.Now().UTC().Add(-since)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			entries, err := store.ListRequestLogs(ctx, f)
			if err != nil {
				return fmt.Errorf("list logs: %w", err)
			}
			return printLogs(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&f.UserID, "user", "", "filter by user id")
	cmd.Flags().StringVar(&f.Operation, "operation", "", "filter by operation, e.g. chat_completion")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status: success, error, timeout, rate_limited")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum entries")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this, e.g. 24h")
	return cmd
}

func openLogStore(cfg *config.Config) (storage.Store, func(), error) {
	switch cfg.RequestLog.Backend {
	case "redis":
		rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisStore(rdb, time.Duration(cfg.RequestLog.RetentionDays)*24*time.Hour), func() { _ = rdb.Close() }, nil
	case "sql":
		db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, nil)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("request logging is disabled (request_log.backend=%s)", cfg.RequestLog.Backend)
	}
}

func printUsers(w io.Writer, list []*users.User) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tORG\tROLE\tCREATED")
	for _, u := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			u.ID, u.Email, u.FullName, u.Organization, u.Role, u.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printLogs(w io.Writer, entries []*storage.RequestLogEntry) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "No log entries found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOPERATION\tSTATUS\tRETRIES\tTOKENS\tDURATION\tUSER\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Operation, e.Status, e.RetryCount, e.TokenCount,
			time.Duration(e.DurationMs)*time.Millisecond, e.UserID, truncate(e.ErrorMessage, 60))
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
