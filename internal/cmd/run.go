package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/gateway"
	"github.com/planforge/planforge/internal/knowledge"
	"github.com/planforge/planforge/internal/monitor"
	"github.com/planforge/planforge/internal/workflow"
)

func init() {
	runCmd.Flags().StringP("subject", "s", "", "Lesson subject (required)")
	runCmd.Flags().StringP("grade", "g", "", "Grade band, e.g. \"grades 6-8\" (required)")
	runCmd.Flags().StringArrayP("objective", "o", nil, "Learning objective (repeatable, at least one required)")
	runCmd.Flags().Int("max-rounds", 0, "Override configured round limit")
	runCmd.Flags().Float64("threshold", 0, "Override configured quality threshold")
	runCmd.Flags().Bool("probe", false, "Probe all backends before starting")
	runCmd.Flags().BoolP("quiet", "q", false, "Suppress progress output")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one refinement session",
	Long: `Run a full refinement session: every configured model drafts a plan,
the models critique each other, and plans are improved round by round
until the quality threshold is met, quality plateaus, or the round
limit is reached. The best plan is printed at the end.`,
	Example: `
# Refine a middle-school biology plan
planforge run -s "photosynthesis" -g "grades 6-8" \
  -o "explain how plants convert light to energy" \
  -o "identify the inputs and outputs of photosynthesis"

# Tighter quality bar, more rounds
planforge run -s "fractions" -g "grades 3-5" -o "compare unit fractions" \
  --threshold 0.9 --max-rounds 8
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		debug, _ := cmd.Flags().GetBool("debug")
		quiet, _ := cmd.Flags().GetBool("quiet")
		probe, _ := cmd.Flags().GetBool("probe")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.Logging, debug)

		tracker := monitor.NewTracker()
		gw, err := gateway.New(backendConfigs(cfg), gateway.WithTracker(tracker))
		if err != nil {
			return err
		}

		if probe {
			for _, id := range gw.Models() {
				if err := gw.Probe(ctx, id); err != nil {
					logger.Warn("backend probe failed", "model", id, "error", err)
				}
			}
		}

		opts := []workflow.EngineOption{
			workflow.WithMaxParallel(cfg.System.MaxParallel),
			workflow.WithLogger(logger),
		}
		if cfg.Knowledge.Enabled {
			store, kerr := knowledge.NewSQLiteStore(cfg.Knowledge.Path)
			if kerr != nil {
				logger.Warn("knowledge store unavailable, continuing without it", "error", kerr)
			} else {
				defer store.Close()
				opts = append(opts, workflow.WithInsightStore(store))
			}
		}

		engine, err := workflow.NewEngine(gw, gw.Models(), opts...)
		if err != nil {
			return err
		}

		wf, err := engine.StartWorkflow(ctx, sessionInput(cmd, cfg))
		if err != nil {
			return err
		}

		events, stop := wf.Events(128)
		defer stop()

		var result *workflow.Result
		for {
			select {
			case <-ctx.Done():
				// First signal: ask for a clean stop, keep draining so the
				// terminal event still arrives.
				if cerr := wf.Cancel(); cerr != nil && !errors.Is(cerr, workflow.ErrAlreadyTerminal) {
					return cerr
				}
				ctx = context.Background()
			case ev, ok := <-events:
				if !ok {
					if result == nil {
						res, _ := wf.Result()
						result = res
					}
					if debug {
						printBackendStats(cmd, tracker)
					}
					return printResult(cmd, result)
				}
				if ev.Type == workflow.EventWorkflowComplete {
					result = ev.Result
				}
				if !quiet {
					printEvent(cmd, ev)
				}
			}
		}
	},
}

func sessionInput(cmd *cobra.Command, cfg config.Config) workflow.SessionInput {
	subject, _ := cmd.Flags().GetString("subject")
	grade, _ := cmd.Flags().GetString("grade")
	objectives, _ := cmd.Flags().GetStringArray("objective")
	maxRounds, _ := cmd.Flags().GetInt("max-rounds")
	threshold, _ := cmd.Flags().GetFloat64("threshold")

	if maxRounds == 0 {
		maxRounds = cfg.System.MaxRounds
	}
	if threshold == 0 {
		threshold = cfg.System.QualityThreshold
	}

	return workflow.SessionInput{
		Subject:          subject,
		GradeBand:        grade,
		Objectives:       objectives,
		MaxRounds:        maxRounds,
		QualityThreshold: threshold,
	}
}

func backendConfigs(cfg config.Config) []gateway.BackendConfig {
	out := make([]gateway.BackendConfig, len(cfg.Models))
	for i, m := range cfg.Models {
		out[i] = gateway.BackendConfig{
			Name:          m.Name,
			Endpoint:      m.Endpoint,
			APIKey:        m.APIKey,
			Model:         m.Model,
			MaxTokens:     m.MaxTokens,
			Temperature:   m.Temperature,
			Timeout:       m.Timeout,
			RetryAttempts: m.RetryAttempts,
			RetryDelay:    m.RetryDelay,
			RateLimit:     m.RateLimit,
			Fallbacks:     m.Fallbacks,
		}
	}
	return out
}

func printEvent(cmd *cobra.Command, ev workflow.Event) {
	out := cmd.OutOrStdout()
	switch ev.Type {
	case workflow.EventRoundStart:
		if ev.Round == 0 {
			fmt.Fprintln(out, "Generating initial plans...")
		} else {
			fmt.Fprintf(out, "Round %d\n", ev.Round)
		}
	case workflow.EventGenerationComplete:
		fmt.Fprintf(out, "  %s: %s\n", ev.ModelID, ev.Message)
	case workflow.EventAnalysisComplete:
		fmt.Fprintf(out, "  %s\n", ev.Message)
	case workflow.EventQualityComputed:
		fmt.Fprintf(out, "  quality %.3f (threshold %.2f)\n", ev.Score, ev.Threshold)
	case workflow.EventImprovementComplete:
		fmt.Fprintf(out, "  %s\n", ev.Message)
	}
}

func printResult(cmd *cobra.Command, res *workflow.Result) error {
	out := cmd.OutOrStdout()
	if res == nil {
		return fmt.Errorf("workflow produced no result")
	}

	fmt.Fprintf(out, "\nFinished: %s (%s) after %d rounds, quality %.3f\n",
		res.Status, res.Reason, res.RoundsCompleted, res.FinalScore)

	if res.Winner != nil {
		w := res.Winner
		fmt.Fprintf(out, "\nBest plan (by %s):\n", w.ModelID)
		if len(w.Fields.Objectives) > 0 {
			fmt.Fprintln(out, "  Objectives:")
			for _, obj := range w.Fields.Objectives {
				fmt.Fprintf(out, "    - %s\n", obj)
			}
		}
		if len(w.Fields.Activities) > 0 {
			fmt.Fprintln(out, "  Activities:")
			for _, act := range w.Fields.Activities {
				fmt.Fprintf(out, "    - %s (%d min)\n", act.Name, act.Duration)
			}
		}
		if len(w.Fields.Assessment) > 0 {
			fmt.Fprintln(out, "  Assessment:")
			methods := make([]string, 0, len(w.Fields.Assessment))
			for m := range w.Fields.Assessment {
				methods = append(methods, m)
			}
			sort.Strings(methods)
			for _, m := range methods {
				fmt.Fprintf(out, "    - %s: %s\n", m, w.Fields.Assessment[m])
			}
		}
		if w.Fields.Differentiation != "" {
			fmt.Fprintf(out, "  Differentiation: %s\n", w.Fields.Differentiation)
		}
		if w.Fields.IsEmpty() {
			fmt.Fprintln(out, strings.TrimSpace(w.RawText))
		}
	}

	if len(res.Report.Recommendations) > 0 {
		fmt.Fprintln(out, "\nRecommendations:")
		for _, rec := range res.Report.Recommendations {
			fmt.Fprintf(out, "  - %s\n", rec)
		}
	}

	if res.Status == workflow.StatusFailed {
		return fmt.Errorf("workflow failed: %s", res.Reason)
	}
	return nil
}

func printBackendStats(cmd *cobra.Command, tracker *monitor.Tracker) {
	out := cmd.OutOrStdout()
	stats := tracker.Snapshot()
	if len(stats) == 0 {
		return
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "\nBackend statistics:")
	for _, name := range names {
		s := stats[name]
		fmt.Fprintf(out, "  %-20s calls=%d failures=%d success=%.0f%% avg=%s\n",
			name, s.Calls, s.Failures, s.SuccessRate()*100, s.AvgDuration().Round(time.Millisecond))
	}
}
