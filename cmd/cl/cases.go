package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
)

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Register and review incident cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseOpenCmd())
	c.AddCommand(caseTransitionCmd())
	c.AddCommand(caseDescribeCmd())
	c.AddCommand(caseDeleteCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var in engine.CaseInput
	var caseType string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				in.Type = domain.CaseType(caseType)
				in.CreatedBy = actorID
				in.Role = role
				c, err := e.CreateCase(ctx, in)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	cmd.Flags().StringVar(&caseType, "type", "", "student, classroom or general")
	cmd.Flags().StringVar(&in.IncidentDate, "date", "", "incident date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.CategoryID, "category", "", "category id")
	cmd.Flags().StringVar(&in.OtherCategory, "other-category", "", "free-text category when none fits")
	cmd.Flags().StringVar(&in.RoomName, "room", "", "room name")
	cmd.Flags().StringVar(&in.ClassroomID, "classroom", "", "classroom id")
	cmd.Flags().StringVar(&in.StudentName, "student", "", "student name")
	cmd.Flags().StringVar(&in.ImageURL, "image-url", "", "evidence image url")
	cmd.Flags().StringVar(&in.Description, "description", "", "what happened")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	var status, caseType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible cases, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				f.Status = domain.Status(status)
				f.Type = domain.CaseType(caseType)
				cases, err := e.ListCases(ctx, f, actorID, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Correlative", "ID", "Type", "Status", "Date", "Room", "Student", "Owner"})
				for _, c := range cases {
					tw.AppendRow(table.Row{c.Correlative, c.ID, c.Type, c.Status, c.IncidentDate, c.RoomName, c.StudentName, c.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&caseType, "type", "", "type filter")
	cmd.Flags().StringVar(&f.CategoryID, "category", "", "category filter")
	cmd.Flags().StringVar(&f.RoomName, "room", "", "room filter")
	cmd.Flags().StringVar(&f.From, "from", "", "earliest incident date")
	cmd.Flags().StringVar(&f.To, "to", "", "latest incident date")
	cmd.Flags().StringVarP(&f.Search, "query", "q", "", "search correlative, description and student")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case without marking it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				c, err := e.GetCase(ctx, args[0], actorID, role)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
}

func caseOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <case-id>",
		Short: "Open a case; reviewers mark registered cases as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				c, err := e.OpenCase(ctx, args[0], actorID, role)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
}

func caseTransitionCmd() *cobra.Command {
	var status, justification string
	var refer bool
	cmd := &cobra.Command{
		Use:   "transition <case-id>",
		Short: "Move a case to another status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				c, err := e.RequestTransition(ctx, engine.TransitionRequest{
					CaseID:          args[0],
					Status:          domain.Status(status),
					Justification:   justification,
					ActorID:         actorID,
					Role:            role,
					ReferCounseling: refer,
				})
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status")
	cmd.Flags().StringVarP(&justification, "justification", "m", "", "comment recorded in the log")
	cmd.Flags().BoolVar(&refer, "refer", false, "request a counseling referral (attention only)")
	return cmd
}

func caseDescribeCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "describe <case-id>",
		Short: "Edit the description of a registered case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				c, err := e.EditDescription(ctx, args[0], description, actorID, role)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func caseDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <case-id>",
		Short: "Delete a case and its log (administrator only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				if err := e.DeleteCase(ctx, args[0], actorID, role); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Case audit log and journal"}
	c.AddCommand(logListCmd())
	c.AddCommand(logEditCmd())
	c.AddCommand(logDeleteCmd())
	c.AddCommand(logTailCmd())
	return c
}

func logListCmd() *cobra.Command {
	var order string
	cmd := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List a case's log entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				entries, err := e.ListLogEntries(ctx, args[0], engine.LogOrder(order), actorID, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "At", "Status", "Actor", "Comment"})
				for _, l := range entries {
					comment := l.Comment
					if l.System {
						comment = "(system) " + comment
					}
					tw.AppendRow(table.Row{l.ID, l.CreatedAt, l.Status, l.ActorID, comment})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&order, "order", string(engine.OrderDesc), "asc or desc")
	return cmd
}

func logEditCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "edit <log-id>",
		Short: "Rewrite a log entry comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				c, err := e.EditLogComment(ctx, args[0], comment, actorID, role)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "new comment")
	return cmd
}

func logDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <log-id>",
		Short: "Delete a log entry and re-derive its case status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				c, err := e.DeleteLogEntry(ctx, args[0], actorID, role)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Case counts visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				stats, err := e.Stats(ctx, actorID, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Metric", "Count"})
				tw.AppendRow(table.Row{"total", stats.Total})
				tw.AppendRow(table.Row{"pending", stats.Pending})
				tw.AppendRow(table.Row{"resolved", stats.Resolved})
				tw.AppendRow(table.Row{"this month", stats.ThisMonth})
				tw.AppendSeparator()
				for _, s := range domain.Statuses {
					tw.AppendRow(table.Row{string(s), stats.ByStatus[string(s)]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func printCase(c domain.Case) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	rows := []table.Row{
		{"correlative", c.Correlative},
		{"id", c.ID},
		{"type", c.Type},
		{"status", c.Status},
		{"justification", c.Justification},
		{"incident date", c.IncidentDate},
		{"category", firstNonEmpty(c.CategoryID, c.OtherCategory)},
		{"room", c.RoomName},
		{"student", c.StudentName},
		{"description", c.Description},
		{"owner", c.CreatedBy},
		{"updated", c.UpdatedAt},
	}
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		tw.AppendRow(r)
	}
	tw.Render()
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
