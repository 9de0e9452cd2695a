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
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sprintsheet/internal/app"
	"sprintsheet/internal/config"
	"sprintsheet/internal/engine"
	"sprintsheet/internal/events"
	"sprintsheet/internal/report"
	"sprintsheet/internal/server"
)

func newRootCmd() *cobra.Command {
	var output string
	root := &cobra.Command{
		Use:   "sprintsheet",
		Short: "Sprint tracking workbook generator",
		Long: `Sprintsheet turns a sprint plan into a two-sheet tracking workbook.
- Plan: sprints and their tasks, read from --plan, ./sprintsheet.yml or the built-in default.
- Sprint & Task Tracking: one row per task with a Status drop-down (Not Started, In Progress, Code Complete, Review, Done).
- Sprint Summary: one row per sprint; Remaining is a formula (Planned SP - Done) that updates as Done is edited.
Running with no subcommand generates the workbook.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), output)
		},
	}
	root.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to the plan's project.output)")
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SPRINTSHEET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	root.PersistentFlags().String("plan", "", "plan file (defaults to <workspace>/sprintsheet.yml, then the built-in plan)")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().Bool("strict", false, "fail when planned points or task counts disagree with the tasks")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "plan", "json", "strict", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(generateCmd())
	root.AddCommand(planCmd())
	root.AddCommand(inspectCmd())
	root.AddCommand(serveCmd())
}

func newLogger() *slog.Logger {
	return events.NewLogger(os.Stderr, viper.GetString("log-level"), viper.GetString("log-format"))
}

// withEngine resolves the plan and hands a configured engine to fn.
func withEngine(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, e engine.Engine) error) error {
	logger := newLogger()
	workspace := viper.GetString("workspace")
	cfg, source, err := app.ResolvePlan(workspace, viper.GetString("plan"))
	if err != nil {
		return err
	}
	e := engine.New(cfg.Registry(), logger)
	e.Strict = viper.GetBool("strict")
	e.Events.Append(ctx, slog.LevelDebug, "plan.loaded", "plan", cfg.Project.Name, events.EventPayload{
		"source":  source,
		"tasks":   len(cfg.Tasks),
		"sprints": len(cfg.Sprints),
	})
	return fn(ctx, cfg, e)
}

func runGenerate(ctx context.Context, output string) error {
	return withEngine(ctx, func(ctx context.Context, cfg *config.Config, e engine.Engine) error {
		path := output
		if path == "" {
			path = cfg.OutputPath(viper.GetString("workspace"))
		}
		if err := e.Generate(ctx, path); err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printJSON(map[string]string{"saved": path})
		}
		fmt.Printf("Saved: %s\n", path)
		return nil
	})
}

func generateCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write the tracking workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to the plan's project.output)")
	return cmd
}

func planCmd() *cobra.Command {
	p := &cobra.Command{Use: "plan", Short: "Inspect the sprint plan"}
	p.AddCommand(planShowCmd())
	p.AddCommand(planCheckCmd())
	p.AddCommand(planDefaultCmd())
	return p
}

func planShowCmd() *cobra.Command {
	var sprint int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "List sprints and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, cfg *config.Config, e engine.Engine) error {
				reg := e.Registry
				tasks := reg.Tasks
				if sprint > 0 {
					tasks = reg.TasksInSprint(sprint)
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": reg.Project, "sprints": reg.SprintsByNumber(), "tasks": tasks})
				}
				st := table.NewWriter()
				st.SetOutputMirror(os.Stdout)
				st.SetTitle(reg.Project)
				st.AppendHeader(table.Row{"Sprint #", "Sprint Name", "Capacity (SP)", "Planned SP", "Tasks", "Done", "Remaining"})
				for _, s := range reg.SprintsByNumber() {
					st.AppendRow(table.Row{s.Number, s.Name, s.CapacityPoints, s.PlannedPoints, s.TaskCount, s.DoneCount, s.Remaining()})
				}
				st.Render()
				fmt.Println()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task ID", "Sprint #", "Title", "Type", "AI", "Risk", "SP", "Dependencies"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.SprintNumber, t.Title, t.Type, t.AIFlag, t.Risk, t.StoryPoints, t.Dependencies})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&sprint, "sprint", 0, "only tasks of this sprint")
	return cmd
}

func planCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the plan for integrity problems and drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, cfg *config.Config, e engine.Engine) error {
				res := e.Check(ctx)
				if viper.GetBool("json") {
					if err := printJSON(res); err != nil {
						return err
					}
					return res.Err()
				}
				if len(res.Problems) == 0 && len(res.Drift) == 0 {
					fmt.Println("plan ok")
					return nil
				}
				if len(res.Problems) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.SetTitle("Problems")
					tw.AppendHeader(table.Row{"Task ID", "Sprint #", "Reason"})
					for _, p := range res.Problems {
						tw.AppendRow(table.Row{p.TaskID, p.SprintNumber, p.Reason})
					}
					tw.Render()
				}
				if len(res.Drift) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.SetTitle("Drift")
					tw.AppendHeader(table.Row{"Sprint #", "Field", "Supplied", "From Tasks"})
					for _, d := range res.Drift {
						tw.AppendRow(table.Row{d.SprintNumber, d.Field, d.Supplied, d.FromTasks})
					}
					tw.Render()
				}
				if err := res.Err(); err != nil {
					return fmt.Errorf("%d problem(s) found: %w", len(res.Problems), err)
				}
				return nil
			})
		},
	}
}

func planDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default",
		Short: "Print the built-in plan as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := os.Stdout.Write(config.DefaultYAML())
			return err
		},
	}
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Describe a generated workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ins, err := report.InspectFile(args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(ins)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "Sheet", "Columns", "Data Rows", "Headers"})
			for i, s := range ins.Sheets {
				tw.AppendRow(table.Row{i, s.Name, len(s.Headers), s.DataRows, strings.Join(s.Headers, " | ")})
			}
			tw.Render()
			if ins.StatusRule != nil {
				fmt.Printf("Status rule on %s: %s (blank allowed: %t)\n", ins.StatusRule.Range, strings.Join(ins.StatusRule.Values, ", "), ins.StatusRule.AllowBlank)
			}
			if ins.Identifier != "" {
				fmt.Printf("Identifier: %s\n", ins.Identifier)
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the plan and generated workbook over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, cfg *config.Config, e engine.Engine) error {
				logger := e.Events.Logger
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), Logger: logger}
				if authCfg.JWTSecret == "" {
					logger.Warn("SPRINTSHEET_JWT_SECRET not set; serving without authentication")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Sprintsheet API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
