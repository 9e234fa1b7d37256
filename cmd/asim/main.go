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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentsim/internal/app"
	"agentsim/internal/config"
	"agentsim/internal/schema"
	"agentsim/internal/server"
	"agentsim/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "asim",
	Short: "Agent simulation CLI",
	Long: `asim runs agent simulation sessions where a human plays the agent.
Pick an agent, submit the user query, invoke tools with real arguments,
write the final response, and export the whole trace as an evaluation case.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ASIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("collection", "", "collection file (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("collection", rootCmd.PersistentFlags().Lookup("collection"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(formCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(collectionCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agents", Short: "Inspect available agents"}
	cmd.AddCommand(agentsListCmd())
	cmd.AddCommand(agentsShowCmd())
	return cmd
}

func agentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				profiles := a.Catalog.Profiles()
				if viper.GetBool("json") {
					return printJSON(profiles)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Tools", "Instruction"})
				for _, p := range profiles {
					names := make([]string, 0, len(p.Tools))
					for _, t := range p.Tools {
						names = append(names, t.Name)
					}
					tw.AppendRow(table.Row{p.Name, strings.Join(names, ", "), truncate(p.Instruction, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func agentsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent>",
		Short: "Show an agent profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agent, err := a.Catalog.Get(args[0])
				if err != nil {
					return err
				}
				return printJSON(agent.Profile)
			})
		},
	}
}

func formCmd() *cobra.Command {
	var query, response bool
	cmd := &cobra.Command{
		Use:   "form <agent> [tool]",
		Short: "Print the form descriptor for a tool, query, or response schema",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				agent, err := a.Catalog.Get(args[0])
				if err != nil {
					return err
				}
				var fs schema.FieldSchema
				switch {
				case query:
					if agent.Profile.InputSchema == nil {
						return fmt.Errorf("agent %s declares no input schema", args[0])
					}
					fs = *agent.Profile.InputSchema
				case response:
					if agent.Profile.OutputSchema == nil {
						return fmt.Errorf("agent %s declares no output schema", args[0])
					}
					fs = *agent.Profile.OutputSchema
				default:
					if len(args) < 2 {
						return fmt.Errorf("tool name required unless --query or --response is set")
					}
					tool, ok := agent.Profile.Tool(args[1])
					if !ok {
						return fmt.Errorf("agent %s has no tool %s", args[0], args[1])
					}
					fs = tool.Parameters
				}
				form, err := schema.Generate(fs, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(form)
				}
				printFormTree(form, "", true)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&query, "query", false, "show the agent input schema form")
	cmd.Flags().BoolVar(&response, "response", false, "show the agent output schema form")
	return cmd
}

func callCmd() *cobra.Command {
	var agentName, queryText, finalText string
	var tools, argsJSON []string
	var export bool
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Run a whole session in one shot",
		Long: `call drives a full session non-interactively: select the agent, submit
the query, invoke each --tool with the paired --args JSON, submit the final
response, and optionally export the trace into the collection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentName == "" || queryText == "" {
				return fmt.Errorf("--agent and --query are required")
			}
			if len(argsJSON) != len(tools) {
				return fmt.Errorf("each --tool needs a matching --args (got %d tools, %d args)", len(tools), len(argsJSON))
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				e := a.Engine
				e.NewSession()
				if err := e.SelectAgent(agentName); err != nil {
					return err
				}
				if err := e.SubmitQuery(queryText); err != nil {
					return err
				}
				for i, tool := range tools {
					var toolArgs map[string]any
					if err := json.Unmarshal([]byte(argsJSON[i]), &toolArgs); err != nil {
						return fmt.Errorf("--args %d: %w", i+1, err)
					}
					callID, err := e.InvokeTool(ctx, tool, toolArgs)
					if err != nil {
						return err
					}
					if err := e.Wait(ctx, callID); err != nil {
						return err
					}
				}
				if finalText != "" {
					if err := e.SubmitFinalResponse(finalText); err != nil {
						return err
					}
				}
				if export {
					if finalText == "" {
						return fmt.Errorf("--export requires --final")
					}
					artifact, err := e.ExportArtifact(collectionPath(a.Config))
					if err != nil {
						return err
					}
					fmt.Printf("exported %s to %s\n", artifact.ArtifactID, collectionPath(a.Config))
				}
				entries, err := e.History()
				if err != nil {
					return err
				}
				return printJSON(entries)
			})
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "agent to roleplay")
	cmd.Flags().StringVar(&queryText, "query", "", "user query text")
	cmd.Flags().StringArrayVar(&tools, "tool", nil, "tool to invoke (repeatable)")
	cmd.Flags().StringArrayVar(&argsJSON, "args", nil, "JSON arguments for the paired --tool (repeatable)")
	cmd.Flags().StringVar(&finalText, "final", "", "final response text")
	cmd.Flags().BoolVar(&export, "export", false, "export the trace after completion")
	return cmd
}

func collectionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "collection", Short: "Inspect the evaluation-case collection"}
	cmd.AddCommand(collectionListCmd())
	cmd.AddCommand(collectionShowCmd())
	return cmd
}

func collectionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List exported artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(cfg *config.Config) error {
				col, err := store.New().Load(collectionPath(cfg))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(col)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Artifact", "Query", "Calls", "Created"})
				for _, a := range col.Artifacts {
					created := time.Unix(a.CreatedAt, 0).UTC().Format(time.RFC3339)
					tw.AppendRow(table.Row{a.ArtifactID, truncate(a.UserQuery, 40), len(a.ToolInvocations), created})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func collectionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <artifact-id>",
		Short: "Show one exported artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(cfg *config.Config) error {
				col, err := store.New().Load(collectionPath(cfg))
				if err != nil {
					return err
				}
				for _, a := range col.Artifacts {
					if a.ArtifactID == args[0] {
						return printJSON(a)
					}
				}
				return fmt.Errorf("artifact %s not found in %s", args[0], collectionPath(cfg))
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage agentsim.yml"}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default agentsim.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(cfg *config.Config) error {
				return printJSON(cfg)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate agentsim.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				handler, err := server.New(server.Config{
					Engine:     a.Engine,
					BasePath:   basePath,
					Collection: collectionPath(a.Config),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving agent simulation API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Bootstrap(ctx, viper.GetString("workspace"), newLogger())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withConfig(fn func(*config.Config) error) error {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	return fn(cfg)
}

func collectionPath(cfg *config.Config) string {
	if override := viper.GetString("collection"); override != "" {
		return override
	}
	return cfg.CollectionPath()
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(viper.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printFormTree(f schema.FormField, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	label := f.Path
	if label == "" {
		label = "(root)"
	}
	marker := ""
	if f.Required {
		marker = " *"
	}
	detail := string(f.Widget)
	if len(f.Options) > 0 {
		detail += " " + strings.Join(f.Options, "|")
	}
	fmt.Printf("%s%s%s [%s]%s\n", prefix, connector, label, detail, marker)
	for i, c := range f.Children {
		printFormTree(c, newPrefix, i == len(f.Children)-1)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
