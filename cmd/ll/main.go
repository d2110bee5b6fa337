package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leaseline/internal/app"
	"leaseline/internal/catalog"
	"leaseline/internal/config"
	"leaseline/internal/domain"
	"leaseline/internal/engine"
	"leaseline/internal/repo"
	"leaseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ll",
	Short: "Leaseline CLI",
	Long: `Leaseline moves vehicle lease deals through a fixed origination pipeline.
Each stage has an owning role, exit guards and an SLA; guards are fulfilled
by completing tasks and uploading the required documents. Deals advance one
stage at a time, never backwards, and every change lands in the audit log.`,
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
	viper.SetEnvPrefix("LEASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("roles", "", "comma-separated actor roles (e.g. OP_MANAGER,FINANCE)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("roles", rootCmd.PersistentFlags().Lookup("roles"))
}

func registerCommands() {
	rootCmd.AddCommand(dealCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func dealCmd() *cobra.Command {
	deal := &cobra.Command{Use: "deal", Short: "Manage deals"}
	deal.AddCommand(dealCreateCmd())
	deal.AddCommand(dealListCmd())
	deal.AddCommand(dealShowCmd())
	deal.AddCommand(dealMoveCmd())
	deal.AddCommand(dealCancelCmd())
	deal.AddCommand(dealChecklistCmd())
	deal.AddCommand(dealBoardCmd())
	return deal
}

func dealCreateCmd() *cobra.Command {
	var title, client string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a deal at the start of the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDeal(ctx, engine.DealCreateOptions{
					Title:      title,
					ClientName: client,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "deal title")
	cmd.Flags().StringVar(&client, "client", "", "client name")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func dealListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDeals(ctx, repo.DealFilters{Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Client", "Stage", "Owner", "Updated"})
				for _, d := range items {
					owner := ""
					if d.OwnerRole != nil {
						owner = *d.OwnerRole
					}
					tw.AppendRow(table.Row{d.ID, d.Title, d.ClientName, d.StatusKey, owner, d.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by stage key")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func dealShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <deal-id>",
		Short: "Show one deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDeal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	return cmd
}

func dealMoveCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "move <deal-id>",
		Short: "Advance a deal to the next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				dealID := args[0]
				toStatus := to
				if toStatus == "" {
					d, err := e.Repo.GetDeal(ctx, dealID)
					if err != nil {
						return err
					}
					next, ok := catalog.Next(d.StatusKey)
					if !ok {
						return fmt.Errorf("deal %s has no next stage", dealID)
					}
					toStatus = next.Key
				}
				d, err := e.TransitionDeal(ctx, engine.TransitionOptions{
					DealID:     dealID,
					ToStatus:   toStatus,
					ActorID:    viper.GetString("actor-id"),
					ActorRoles: actorRoles(),
				})
				if err != nil {
					return err
				}
				fmt.Printf("deal %s -> %s\n", d.ID, d.StatusKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target stage key (defaults to the next stage)")
	return cmd
}

func dealCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <deal-id>",
		Short: "Cancel a deal (supervisors only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CancelDeal(ctx, args[0], reason, viper.GetString("actor-id"), actorRoles())
				if err != nil {
					return err
				}
				fmt.Printf("deal %s cancelled\n", d.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func dealChecklistCmd() *cobra.Command {
	var guardKey string
	cmd := &cobra.Command{
		Use:   "checklist <deal-id>",
		Short: "Show the document checklist for a guard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if guardKey == "" {
					guardKey = catalog.GuardDocsUploaded
				}
				checklist, _, err := e.ReconcileChecklist(ctx, args[0], guardKey)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(checklist)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Fulfilled", "Matches"})
				for _, it := range checklist.Items {
					tw.AppendRow(table.Row{it.Type, it.Fulfilled, it.Matches})
				}
				tw.Render()
				fmt.Printf("fulfilled: %v\n", checklist.Fulfilled)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&guardKey, "guard", "", "guard key (defaults to the document collection guard)")
	return cmd
}

func dealBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the pipeline as a board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDeals(ctx, repo.DealFilters{Limit: 500})
				if err != nil {
					return err
				}
				byStage := map[string][]domain.Deal{}
				for _, d := range items {
					byStage[d.StatusKey] = append(byStage[d.StatusKey], d)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Deals"})
				for _, s := range catalog.Stages {
					titles := make([]string, 0, len(byStage[s.Key]))
					for _, d := range byStage[s.Key] {
						titles = append(titles, d.Title)
					}
					tw.AppendRow(table.Row{s.Key, strings.Join(titles, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskClaimCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskReopenCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var dealID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{DealID: dealID, Status: status, Limit: 100})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Deal", "Type", "Title", "Status", "Assignee", "SLA"})
				for _, t := range items {
					assignee := ""
					if t.AssigneeID != nil {
						assignee = *t.AssigneeID
					}
					sla := ""
					if t.SLAStatus != nil {
						sla = *t.SLAStatus
					}
					tw.AppendRow(table.Row{t.ID, t.DealID, t.Type, t.Title, t.Status, assignee, sla})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dealID, "deal", "", "filter by deal id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ClaimTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("task %s claimed by %s\n", t.ID, viper.GetString("actor-id"))
				return nil
			})
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var note, fieldsJSON, file, docType string
	var save bool
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Submit a task form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TaskCompleteOptions{
					TaskID:     args[0],
					Intent:     engine.IntentComplete,
					Note:       note,
					ActorID:    viper.GetString("actor-id"),
					ActorRoles: actorRoles(),
				}
				if save {
					opts.Intent = engine.IntentSave
				}
				if fieldsJSON != "" {
					if err := json.Unmarshal([]byte(fieldsJSON), &opts.Fields); err != nil {
						return fmt.Errorf("invalid --fields JSON: %w", err)
					}
				}
				if file != "" {
					data, err := os.ReadFile(file)
					if err != nil {
						return err
					}
					opts.Documents = []engine.DocumentUpload{{
						Type:     docType,
						FileName: fileBase(file),
						Content:  data,
					}}
				}
				res, err := e.CompleteTask(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(res.Outcome)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note to record on the task")
	cmd.Flags().StringVar(&fieldsJSON, "fields", "", "form fields as JSON object")
	cmd.Flags().StringVar(&file, "file", "", "document file to attach")
	cmd.Flags().StringVar(&docType, "doc-type", "", "document type of the attachment")
	cmd.Flags().BoolVar(&save, "save", false, "save a draft instead of completing")
	return cmd
}

func taskReopenCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reopen <task-id>",
		Short: "Reopen a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReopenTask(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("task %s reopened\n", t.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the task is being reopened")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{Use: "doc", Short: "Manage deal documents"}
	doc.AddCommand(docListCmd())
	doc.AddCommand(docAddCmd())
	doc.AddCommand(docRmCmd())
	return doc
}

func docListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <deal-id>",
		Short: "List a deal's documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDealDocuments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "File", "Guard", "Uploaded"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Type, d.FileName, d.Metadata.GuardKey, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func docAddCmd() *cobra.Command {
	var file, docType, guardKey string
	var optional bool
	cmd := &cobra.Command{
		Use:   "add <deal-id>",
		Short: "Record a document on a deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				doc, err := e.RecordDocument(ctx, engine.DocumentRecordOptions{
					DealID:   args[0],
					GuardKey: guardKey,
					Upload: engine.DocumentUpload{
						Type:     docType,
						FileName: fileBase(file),
						Content:  data,
						Optional: optional,
					},
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				fmt.Printf("document %s recorded as %s\n", doc.ID, doc.Type)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file to upload")
	cmd.Flags().StringVar(&docType, "type", "", "document type")
	cmd.Flags().StringVar(&guardKey, "guard", "", "guard key the upload belongs to")
	cmd.Flags().BoolVar(&optional, "optional", false, "mark the upload optional for checklists")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func docRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <document-id>",
		Short: "Remove a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RemoveDocument(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("document removed")
				return nil
			})
		},
	}
	return cmd
}

func stageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages",
		Short: "Show the pipeline stages and their guards",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(catalog.Stages)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Stage", "Owner", "Exit role", "SLA (h)", "Guards"})
			for _, s := range catalog.Stages {
				keys := make([]string, 0, len(s.ExitGuards))
				for _, g := range s.ExitGuards {
					keys = append(keys, g.Key)
				}
				tw.AppendRow(table.Row{s.Key, s.OwnerRole, s.ExitRole, s.SLAHours, strings.Join(keys, ", ")})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var dealID string
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.LatestEvents(ctx, limit, dealID, "", "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for i := len(items) - 1; i >= 0; i-- {
					evt := items[i]
					fmt.Printf("%s %-22s deal=%s actor=%s %s\n", evt.TS, evt.Type, evt.DealID, evt.ActorID, evt.Payload)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dealID, "deal", "", "filter by deal id")
	cmd.Flags().IntVar(&limit, "limit", 20, "max events")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyRevokeCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, name, roles string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				secret := uuid.New().String()
				k := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Name:    name,
					Roles:   roles,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				fmt.Printf("api key created for %s\nsecret (shown once): %s\n", actorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringVar(&roles, "roles", "", "comma-separated roles the key carries")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Roles", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.Roles, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("api key revoked")
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.Save(workspace, config.Default()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			actx, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer actx.Close()
			return printJSON(actx.Config)
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			actx, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer actx.Close()
			e := engine.New(actx.DB, actx.Config)
			e.Store = actx.Store
			if addr == "" {
				addr = actx.Config.Server.Addr
			}
			if basePath == "" {
				basePath = actx.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              actx.Config.Auth.JWTSecret,
				AllowLegacyActorHeader: actx.Config.Auth.AllowLegacyActorHeader,
			}
			if s := os.Getenv("LEASELINE_JWT_SECRET"); s != "" {
				authCfg.JWTSecret = s
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Leaseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	actx, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer actx.Close()
	e := engine.New(actx.DB, actx.Config)
	e.Store = actx.Store
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func actorRoles() []catalog.Role {
	var roles []catalog.Role
	for _, r := range strings.Split(viper.GetString("roles"), ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, catalog.Role(strings.ToUpper(r)))
		}
	}
	return roles
}

func fileBase(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
