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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"revloop/internal/app"
	"revloop/internal/config"
	"revloop/internal/db"
	"revloop/internal/domain"
	"revloop/internal/engine"
	"revloop/internal/migrate"
	"revloop/internal/repo"
	"revloop/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Revloop CLI",
	Long: `Revloop runs the weekly revenue accountability loop for founder programs.
Core concepts:
- Workspace: your .revloop directory with the database; the rulebook lives in the DB and is imported explicitly.
- Program: one cohort with one rulebook (deadlines, banned phrases, stage requirements).
- Weekly loop: Commit -> Execute -> Report -> Diagnose -> Adjust, every week, with hard deadlines.
- Commits: one concrete revenue action with a dollar target and a date; vague language is rejected.
- Reports: revenue, hours, narrative, and evidence; no evidence means no acceptance.
- Escalation: consecutive missed reports lock submissions until a mentor resolves the review.
- Stages: five gates from first dollars to graduation; progress is earned, never granted.
- Intents: queued mentor notifications, drained with 'rl intents drain'.
- Event log: diary of changes, view with 'rl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return config.InitLogger(viper.GetString("log-level"), viper.GetString("log-format"))
	},
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
	viper.SetEnvPrefix("REVLOOP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("program", "", "program id (overrides config default)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("program", rootCmd.PersistentFlags().Lookup("program"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(programCmd())
	rootCmd.AddCommand(enrollCmd())
	rootCmd.AddCommand(participantCmd())
	rootCmd.AddCommand(commitCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(adjustCmd())
	rootCmd.AddCommand(weekCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(escalationCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(exitInterviewCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(intentsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func programCmd() *cobra.Command {
	prg := &cobra.Command{Use: "program", Short: "Manage programs"}
	prg.AddCommand(programCreateCmd())
	prg.AddCommand(programListCmd())
	prg.AddCommand(programShowCmd())
	prg.AddCommand(programConfigCmd())
	return prg
}

func programCreateCmd() *cobra.Command {
	var id, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create program",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			p, err := e.InitProgram(cmd.Context(), id, desc)
			if err != nil {
				return err
			}
			return printJSONOrPretty(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "program id")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func programListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPrograms(ctx)
				if err != nil {
					return err
				}
				return printJSONOrPretty(items)
			})
		},
	}
}

func programShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a program",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProgram(ctx, e.Config.Program.ID)
				if err != nil {
					return err
				}
				return printJSONOrPretty(p)
			})
		},
	}
}

func programConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage the program rulebook"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the rulebook stored in the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrPretty(e.Config)
			})
		},
	})
	cfg.AddCommand(programConfigImportCmd())
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default revloop.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			programID := viper.GetString("program")
			if programID == "" {
				programID = "default"
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(programID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	return cfg
}

func programConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import the rulebook from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			programID := cfg.Program.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if programID == "" {
					programID = e.Config.Program.ID
				}
				if err := e.Repo.UpsertProgramConfig(ctx, programID, cfg); err != nil {
					return err
				}
				return printJSONOrPretty(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML rulebook")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func enrollCmd() *cobra.Command {
	var id string
	var baseline30, baseline90 float64
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Enroll(ctx, engine.EnrollOptions{
					ParticipantID: id,
					ProgramID:     e.Config.Program.ID,
					Baseline30:    baseline30,
					Baseline90:    baseline90,
					Now:           e.Now(),
				})
				if err != nil {
					return err
				}
				return printJSONOrPretty(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "participant id (generated when empty)")
	cmd.Flags().Float64Var(&baseline30, "baseline-30", 0, "trailing 30-day revenue at intake")
	cmd.Flags().Float64Var(&baseline90, "baseline-90", 0, "trailing 90-day revenue at intake")
	return cmd
}

func participantCmd() *cobra.Command {
	p := &cobra.Command{Use: "participant", Short: "Inspect participants"}
	p.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListParticipants(ctx, e.Config.Program.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "Stage", "Week", "Status", "Misses"})
				for _, p := range items {
					t.AppendRow(table.Row{p.ID, p.CurrentStage, p.CurrentWeek, p.Status, p.ConsecutiveMisses})
				}
				t.Render()
				return nil
			})
		},
	})
	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a participant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetParticipant(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrPretty(p)
			})
		},
	}
	p.AddCommand(showCmd)
	return p
}

func commitCmd() *cobra.Command {
	var participant, action, tactic, targetDate string
	var week int
	var targetRevenue float64
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Submit the weekly commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SubmitCommit(ctx, engine.CommitOptions{
					ParticipantID: participant,
					Week:          week,
					Action:        action,
					Tactic:        tactic,
					TargetRevenue: targetRevenue,
					TargetDate:    targetDate,
					Now:           e.Now(),
				})
				if err != nil {
					return err
				}
				return printJSONOrPretty(c)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().IntVar(&week, "week", 0, "week number")
	cmd.Flags().StringVar(&action, "action", "", "the one concrete revenue action")
	cmd.Flags().StringVar(&tactic, "tactic", "", "tactic label (used for stage-two distinctness)")
	cmd.Flags().Float64Var(&targetRevenue, "target", 0, "dollar target")
	cmd.Flags().StringVar(&targetDate, "date", "", "target completion date")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}

func reportCmd() *cobra.Command {
	var participant, narrative string
	var week, evidence int
	var revenue, hours float64
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Submit the weekly report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SubmitReport(ctx, engine.ReportOptions{
					ParticipantID: participant,
					Week:          week,
					Revenue:       revenue,
					Hours:         hours,
					Narrative:     narrative,
					EvidenceCount: evidence,
					Now:           e.Now(),
				})
				if err != nil {
					return err
				}
				return printJSONOrPretty(c)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().IntVar(&week, "week", 0, "week number")
	cmd.Flags().Float64Var(&revenue, "revenue", 0, "revenue collected this week")
	cmd.Flags().Float64Var(&hours, "hours", 0, "hours spent")
	cmd.Flags().StringVar(&narrative, "narrative", "", "what actually happened")
	cmd.Flags().IntVar(&evidence, "evidence", 0, "number of evidence items")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}

func adjustCmd() *cobra.Command {
	var participant, notes string
	var week int
	cmd := &cobra.Command{
		Use:   "adjust",
		Short: "Submit the weekly adjustment and close the week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SubmitAdjust(ctx, engine.AdjustOptions{
					ParticipantID: participant,
					Week:          week,
					Notes:         notes,
					Now:           e.Now(),
				})
				if err != nil {
					return err
				}
				return printJSONOrPretty(c)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().IntVar(&week, "week", 0, "week number")
	cmd.Flags().StringVar(&notes, "notes", "", "what changes next week")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}

func weekCmd() *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Show the current week state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.CurrentWeekState(ctx, participant, e.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				c := st.Cycle
				fmt.Printf("Week %d (%s -> next: %s)\n", c.Week, st.Participant.Status, st.NextAction)
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"Step", "Status", "Deadline"})
				t.AppendRow(table.Row{"commit", c.CommitStatus, c.CommitDeadline})
				t.AppendRow(table.Row{"execute", c.ExecuteStatus, ""})
				t.AppendRow(table.Row{"report", c.ReportStatus, c.ReportDeadline})
				t.AppendRow(table.Row{"diagnose", c.DiagnoseStatus, ""})
				t.AppendRow(table.Row{"adjust", c.AdjustStatus, c.AdjustDeadline})
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func historyCmd() *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every week of a participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				records, err := e.History(ctx, participant)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"Week", "Commit", "Report", "Revenue", "$/h", "Win%", "Credit"})
				for _, rec := range records {
					revenue, dph, win := "", "", ""
					if rec.Report != nil {
						revenue = fmt.Sprintf("%.2f", rec.Report.Revenue)
						dph = fmt.Sprintf("%.2f", rec.Report.DollarPerHour)
						win = fmt.Sprintf("%.1f", rec.Report.WinRate)
					}
					t.AppendRow(table.Row{
						rec.Cycle.Week, rec.Cycle.CommitStatus, rec.Cycle.ReportStatus,
						revenue, dph, win, rec.Cycle.StageCredit,
					})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func stageCmd() *cobra.Command {
	var participant string
	var check int
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Show stage progression, or check access to a stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if cmd.Flags().Changed("check") {
					if err := e.StageAccess(ctx, participant, check, e.Now()); err != nil {
						return err
					}
					fmt.Printf("stage %d content is open\n", check)
					return nil
				}
				st, err := e.StageStatus(ctx, participant)
				if err != nil {
					return err
				}
				return printJSONOrPretty(st)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().IntVar(&check, "check", 0, "stage number to check access for")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func escalationCmd() *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "escalation",
		Short: "Show escalation status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.EscalationStatus(ctx, participant)
				if err != nil {
					return err
				}
				return printJSONOrPretty(st)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func reviewCmd() *cobra.Command {
	var participant, outcome string
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Resolve a mandatory review",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch outcome {
			case domain.ReviewReinstate, domain.ReviewDeferCohort, domain.ReviewRemove:
			default:
				return fmt.Errorf("--outcome must be one of reinstate, defer_cohort, remove")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ResolveReview(ctx, participant, outcome, e.Now())
				if err != nil {
					return err
				}
				return printJSONOrPretty(p)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().StringVar(&outcome, "outcome", "", "reinstate, defer_cohort, or remove")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func docCmd() *cobra.Command {
	doc := &cobra.Command{Use: "doc", Short: "Manage the system document"}
	doc.AddCommand(docSubmitCmd())
	doc.AddCommand(docApproveCmd())
	return doc
}

func docSubmitCmd() *cobra.Command {
	var participant, filePath string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the system document from a JSON sections file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var sections map[string]string
			if err := json.Unmarshal(data, &sections); err != nil {
				return fmt.Errorf("parse sections file: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.SubmitSystemDocument(ctx, participant, sections, e.Now())
				if err != nil {
					return err
				}
				return printJSONOrPretty(d)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	cmd.Flags().StringVar(&filePath, "file", "", "JSON file mapping section name to text")
	_ = cmd.MarkFlagRequired("participant")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func docApproveCmd() *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the latest system document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ApproveSystemDocument(ctx, participant, e.Now())
				if err != nil {
					return err
				}
				return printJSONOrPretty(d)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func exitInterviewCmd() *cobra.Command {
	var participant string
	cmd := &cobra.Command{
		Use:   "exit-interview",
		Short: "Record a completed exit interview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.RecordExitInterview(ctx, participant, e.Now())
				if err != nil {
					return err
				}
				return printJSONOrPretty(p)
			})
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant id")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

func tickCmd() *cobra.Command {
	var atFlag string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run the deadline sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if atFlag != "" {
				parsed, err := time.Parse(time.RFC3339, atFlag)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				now = parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Tick(ctx, now)
				if err != nil {
					return err
				}
				return printJSONOrPretty(res)
			})
		},
	}
	cmd.Flags().StringVar(&atFlag, "at", "", "sweep as of this RFC3339 instant (defaults to now)")
	return cmd
}

func intentsCmd() *cobra.Command {
	in := &cobra.Command{Use: "intents", Short: "Manage notification intents"}
	var limit int
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Drain pending intents (each is returned exactly once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				intents, err := e.DrainNotificationIntents(ctx, limit, time.Now())
				if err != nil {
					return err
				}
				return printJSONOrPretty(intents)
			})
		},
	}
	drain.Flags().IntVar(&limit, "limit", 0, "max intents to drain (0 = all)")
	in.AddCommand(drain)

	var participant string
	list := &cobra.Command{
		Use:   "list",
		Short: "List intents for a participant without consuming them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				intents, err := e.Repo.ListIntents(ctx, participant, 0)
				if err != nil {
					return err
				}
				return printJSONOrPretty(intents)
			})
		},
	}
	list.Flags().StringVar(&participant, "participant", "", "participant id")
	_ = list.MarkFlagRequired("participant")
	in.AddCommand(list)
	return in
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var n int
	var evtType, entityKind, participant string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Program.ID, evtType, entityKind, participant)
				if err != nil {
					return err
				}
				return printJSONOrPretty(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&participant, "participant", "", "participant id")
	lg.AddCommand(tail)
	return lg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var insecure bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveProgramAndConfig(cmd.Context(), viper.GetString("program"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("REVLOOP_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				if !insecure {
					return fmt.Errorf("REVLOOP_JWT_SECRET is required for bearer auth (or pass --insecure for a local workspace)")
				}
				authCfg.Disabled = true
				zap.S().Warn("serving without authentication")
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
			fmt.Printf("Serving Revloop API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "disable authentication (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveProgramAndConfig(ctx, viper.GetString("program"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrPretty(v any) error {
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
