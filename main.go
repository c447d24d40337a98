package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modguard/internal/change"
	"modguard/internal/config"
	"modguard/internal/engine"
	"modguard/internal/watcher"
)

var (
	cfgPath string
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "modguard",
		Short:         "Guarded self-modification engine",
		Long:          "modguard gates, validates, snapshots and verifies changes a program makes to its own source tree, rolling back anything that leaves the system unhealthy.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config (defaults apply when omitted)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		statusCmd(),
		healthCmd(),
		applyCmd(),
		deferCmd(),
		checkpointCmd(),
		rollbackLastGoodCmd(),
		resetBreakerCmd(),
		logCmd(),
		watchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads config, builds the logger and the engine.
func setup() (*config.Config, *engine.Engine, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}

	var log *zap.Logger
	if verbose || cfg.DevMode {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, nil, err
	}

	eng, err := engine.New(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, eng, log, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show guardrail, rate limit and staging state",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()
			return printJSON(eng.CurrentStatus())
		},
	}
}

func healthCmd() *cobra.Command {
	var quick bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run the layered health verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			if quick {
				return printJSON(eng.RunQuickHealthCheck(cmd.Context()))
			}
			return printJSON(eng.RunHealthCheck(cmd.Context()))
		},
	}
	cmd.Flags().BoolVar(&quick, "quick", false, "skip compile and test subprocess checks")
	return cmd
}

func applyCmd() *cobra.Command {
	var requestedBy string
	cmd := &cobra.Command{
		Use:   "apply <batch.json>",
		Short: "Run a modification batch through the full pipeline",
		Long:  "The batch file is a JSON array of {file_path, action, content, description} requests. The batch is gated, validated, snapshotted, applied and health-verified; an unhealthy result is rolled back.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var reqs []change.Request
			if err := json.Unmarshal(data, &reqs); err != nil {
				return fmt.Errorf("parse batch: %w", err)
			}

			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			res, err := eng.ApplyModifications(cmd.Context(), reqs, requestedBy, "")
			if res != nil {
				printJSON(res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&requestedBy, "requested-by", "cli", "actor recorded in the audit trail")
	return cmd
}

func deferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "defer <enable|disable|flush|list>",
		Short: "Control deferred staging of validated changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			switch args[0] {
			case "enable":
				eng.EnableDeferredMode()
				fmt.Println("deferred mode enabled")
			case "disable":
				dropped := eng.DisableDeferredMode()
				fmt.Printf("deferred mode disabled, %d staged change(s) discarded\n", dropped)
			case "flush":
				res, err := eng.FlushStagedChanges(cmd.Context())
				if res != nil {
					printJSON(res)
				}
				return err
			case "list":
				return printJSON(eng.StagedChanges())
			default:
				return fmt.Errorf("unknown subcommand %q", args[0])
			}
			return nil
		},
	}
	return cmd
}

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage full-project checkpoints",
	}

	save := &cobra.Command{
		Use:   "save [name]",
		Short: "Capture a named full-project checkpoint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := time.Now().UTC().Format("2006-01-02T15-04-05")
			if len(args) == 1 {
				name = args[0]
			}
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			snap, err := eng.SaveCheckpoint(name)
			if err != nil {
				return err
			}
			fmt.Printf("checkpoint %q saved (%s, %d files)\n", name, snap.ID, snap.FileCount)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			cps, err := eng.ListCheckpoints()
			if err != nil {
				return err
			}
			if len(cps) == 0 {
				fmt.Println("no checkpoints")
				return nil
			}
			for _, cp := range cps {
				fmt.Printf("%s  %-24s  %4d files  %s\n",
					cp.CreatedAt.Format(time.RFC3339), cp.CheckpointName(), cp.FileCount, cp.ID)
			}
			return nil
		},
	}

	rollback := &cobra.Command{
		Use:   "rollback [id]",
		Short: "Restore a checkpoint (the latest when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			cp, safetyID, restored, err := eng.RollbackToCheckpoint(id)
			if err != nil {
				return err
			}
			fmt.Printf("restored checkpoint %q (%d files); pre-rollback state saved as snapshot %s\n",
				cp.CheckpointName(), restored, safetyID)
			return nil
		},
	}

	cmd.AddCommand(save, list, rollback)
	return cmd
}

func rollbackLastGoodCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback-last-good",
		Short: "Restore the most recent known-good snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			snap, restored, err := eng.RollbackToLastGood()
			if err != nil {
				return err
			}
			fmt.Printf("restored %d file(s) from snapshot %s (%s)\n",
				restored, snap.ID, snap.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func resetBreakerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-breaker",
		Short: "Manually re-arm the circuit breaker",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			eng.ResetCircuitBreaker()
			fmt.Println("circuit breaker reset")
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the newest modification audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, eng, _, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			entries, err := eng.RecentLog(limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				flags := []string{}
				if e.Applied {
					flags = append(flags, "applied")
				}
				if e.Staged {
					flags = append(flags, "staged")
				}
				if e.RolledBack {
					flags = append(flags, "rolled-back")
				}
				fmt.Printf("%s  %-6s  %-8s  %-40s  %s\n",
					e.CreatedAt.Format(time.RFC3339), e.Action, e.ValidationResult,
					e.TargetFile, strings.Join(flags, ","))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func watchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the engine with the scheduled checkpointer and restart trigger watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, eng, log, err := setup()
			if err != nil {
				return err
			}
			defer eng.Close()

			eng.Start()

			var w *watcher.Watcher
			if cfg.DevMode {
				if err := os.MkdirAll(filepath.Dir(cfg.RestartTriggerPath()), 0755); err != nil {
					return err
				}
				w, err = watcher.New(cfg.RestartTriggerPath(), debounce, func(t watcher.Trigger) {
					log.Info("restart requested via trigger file", zap.Time("at", t.At))
					os.Exit(0)
				}, log)
				if err != nil {
					// Keep running with the scheduler only.
					log.Warn("restart trigger watcher unavailable", zap.Error(err))
				} else {
					if err := w.Start(); err != nil {
						return err
					}
					defer w.Close()
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log.Info("watching", zap.String("root", cfg.ProjectRoot))
			<-ctx.Done()
			log.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "trigger debounce interval")
	return cmd
}
