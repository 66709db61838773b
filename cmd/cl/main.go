package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/repo"
	"caseline/internal/server"
	"caseline/internal/telemetry"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Caseline CLI",
	Long: `Caseline records school incident cases and their review history.
Core concepts:
- Case: an incident registered by staff, numbered with a yearly correlative (INC-2025-00001).
- Status: registered -> read -> attention -> resolved. Reviewers move cases forward; only an administrator reopens a resolved case.
- Log: every status change is an entry with a comment. The case always mirrors its newest entry, so editing or deleting entries re-derives the case status.
- Roles: teacher and secretary register cases and see their own; supervisor, counselor and administrator review all of them.
- Journal: every change is also recorded as an event, view with 'cl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger(viper.GetString("log-level"), viper.GetString("log-format")))
		if err := telemetry.Init(cmd.Context(), "caseline", version); err != nil {
			slog.Warn("telemetry disabled", "err", err)
		}
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return telemetry.Shutdown(ctx)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier (must be registered with cl actor add)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func initCmd() *cobra.Command {
	var schoolID, adminID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create caseline.yml and the database in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("%s already exists, keeping it\n", path)
			} else {
				if strings.TrimSpace(schoolID) == "" {
					return fmt.Errorf("--school required")
				}
				if err := os.WriteFile(path, []byte(config.GenerateDefault(schoolID)), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if adminID == "" {
					return nil
				}
				a, err := app.EnsureActor(ctx, e.Repo, e.Config, adminID, string(domain.RoleAdministrator), "")
				if err != nil {
					return err
				}
				fmt.Printf("registered %s as %s\n", a.ID, a.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&schoolID, "school", "", "school id")
	cmd.Flags().StringVar(&adminID, "admin", "", "register this actor as administrator")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect caseline.yml",
		Long:  "caseline.yml holds the school id, role aliases, the correlative format, lifecycle comments, the referral hook and journal webhooks.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate caseline.yml, or another file with --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file to validate")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				logger := slog.Default()
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: basePath,
					Auth:     server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: legacyHeader,
						EnableDevLogin:         devLogin,
						Logger:                 logger,
					},
					Logger:   logger,
				})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, e, logger)
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving caseline API", "addr", addr, "base_path", basePath, "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (dev only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login to mint tokens (dev only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := app.ResolveConfig(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	// Referral deliveries run in the background; let them finish first.
	defer e.Wait()
	return fn(ctx, e)
}

// withActor resolves --actor-id to a registered actor and its role.
func withActor(ctx context.Context, fn func(context.Context, engine.Engine, string, domain.Role) error) error {
	actorID := strings.TrimSpace(viper.GetString("actor-id"))
	if actorID == "" {
		return fmt.Errorf("--actor-id required (or CASELINE_ACTOR_ID)")
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		role, err := app.ActorRole(ctx, e.Repo, e.Config, actorID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("actor %s is not registered; add it with cl actor add", actorID)
		}
		if err != nil {
			return err
		}
		return fn(ctx, e, actorID, role)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
