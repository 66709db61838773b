package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/app"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
)

func actorCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "actor",
		Short: "Manage staff actors",
		Long:  "Actors are staff members. Each one holds a role; deployment names such as docente or psicologo are mapped to canonical roles by caseline.yml.",
	}
	c.AddCommand(actorAddCmd())
	c.AddCommand(actorListCmd())
	return c
}

func actorAddCmd() *cobra.Command {
	var role, name string
	cmd := &cobra.Command{
		Use:   "add <actor-id>",
		Short: "Register an actor or change its role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if role == "" {
				return fmt.Errorf("--role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := app.EnsureActor(ctx, e.Repo, e.Config, args[0], role, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("%s is %s\n", a.ID, a.Role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role or role alias")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func actorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actors, err := e.Repo.ListActors(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actors)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Created"})
				for _, a := range actors {
					tw.AppendRow(table.Row{a.ID, a.DisplayName, a.Role, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apiKeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	c.AddCommand(apiKeyCreateCmd())
	c.AddCommand(apiKeyListCmd())
	c.AddCommand(apiKeyDeleteCmd())
	return c
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				return fmt.Errorf("--actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetActor(ctx, actorID); err != nil {
					return fmt.Errorf("actor %s: %w", actorID, err)
				}
				key := "ck_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actorID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: repo.FormatTime(time.Now()),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": rec.ID, "actor_id": actorID, "key": key})
				}
				fmt.Printf("id:  %s\nkey: %s\n", rec.ID, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("revoked %s\n", args[0])
				return nil
			})
		},
	}
}
