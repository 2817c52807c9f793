package shell

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aikernel/core/internal/agent"
	"github.com/aikernel/core/internal/dataflow"
	"github.com/aikernel/core/internal/llm"
	"github.com/aikernel/core/internal/task"
)

// jsonMode reports whether a --json flag reachable from cmd (its own
// flags or an ancestor's persistent flags) was set, per §4.11's "a
// --json flag where recognized switches the command to a JSON
// payload."
func jsonMode(cmd *cobra.Command) bool {
	f := cmd.Flags().Lookup("json")
	if f == nil {
		return false
	}
	on, _ := strconv.ParseBool(f.Value.String())
	return on
}

func metric(cmd *cobra.Command, kv ...any) {
	if jsonMode(cmd) {
		obj := make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			obj[fmt.Sprint(kv[i])] = kv[i+1]
		}
		b, err := json.Marshal(obj)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "{}")
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return
	}

	var b strings.Builder
	b.WriteString("METRIC")
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	fmt.Fprintln(cmd.OutOrStdout(), b.String())
}

func traceLine(cmd *cobra.Command, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if jsonMode(cmd) {
		b, err := json.Marshal(map[string]string{"trace": msg})
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "{}")
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), "[TRACE] "+msg)
}

// newRootCommand builds the full §4.11 command tree fresh for each
// dispatched line (cobra command state is not safely reusable across
// calls with differing flags).
func newRootCommand(k *Kernel) *cobra.Command {
	root := &cobra.Command{Use: "kernel", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(
		newDetCommand(k),
		newGraphctlCommand(k),
		newLLMCtlCommand(k),
		newLLMInferCommand(k),
		newCoordctlCommand(k),
		newAutoctlCommand(k),
		newOtelctlCommand(k),
		newMailboxCommand(k),
		newVersionctlCommand(k),
		newDeployctlCommand(k),
	)
	return root
}

// ---- det ----

func newDetCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "det"}
	cmd.AddCommand(&cobra.Command{
		Use:  "on <wcet_ns> <period_ns> <deadline_ns>",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			wcet, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			period, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return err
			}
			deadline, err := strconv.ParseUint(args[2], 10, 64)
			if err != nil {
				return err
			}
			tk, ok := k.Tasks.Get(k.ShellPID)
			if !ok {
				return fmt.Errorf("shell: no such task")
			}
			tk.CBS = &task.CBSParams{WCET: wcet, Period: period, Deadline: deadline}
			admitted, total := k.Sched.AdmitCBS(tk)
			if !admitted {
				tk.CBS = nil
			}
			metric(cmd, "admitted", boolInt(admitted), "total_utilization", total)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "off",
		RunE: func(cmd *cobra.Command, args []string) error {
			k.Sched.WithdrawCBS(k.ShellPID)
			if tk, ok := k.Tasks.Get(k.ShellPID); ok {
				tk.CBS = nil
			}
			metric(cmd, "cbs_enabled", 0)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, ok := k.Tasks.Get(k.ShellPID)
			if !ok || tk.CBS == nil {
				metric(cmd, "cbs_enabled", 0)
				return nil
			}
			metric(cmd, "cbs_enabled", 1, "budget_ns", tk.CBS.Budget, "deadline_misses", tk.CBS.DeadlineMisses,
				"utilization", tk.CBS.Utilization())
			return nil
		},
	})
	return cmd
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- graphctl ----

func newGraphctlCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "graphctl"}

	create := &cobra.Command{Use: "create"}
	numOps := create.Flags().Int("num-operators", 0, "graph capacity")
	create.RunE = func(cmd *cobra.Command, args []string) error {
		k.Graph = dataflow.Create(*numOps)
		metric(cmd, "created", 1, "capacity", *numOps)
		return nil
	}
	cmd.AddCommand(create)

	addOp := &cobra.Command{Use: "add-operator <id>", Args: cobra.ExactArgs(1)}
	in := addOp.Flags().String("in", "none", "comma-separated input channels, or none")
	outCh := addOp.Flags().String("out", "", "comma-separated output channels")
	prio := addOp.Flags().Int("prio", 0, "scheduling priority")
	addOp.RunE = func(cmd *cobra.Command, args []string) error {
		if k.Graph == nil {
			return fmt.Errorf("shell: graphctl: no graph created")
		}
		var inputs, outputs []string
		if *in != "none" && *in != "" {
			inputs = strings.Split(*in, ",")
		}
		if *outCh != "" {
			outputs = strings.Split(*outCh, ",")
		}
		if err := k.Graph.AddOperator(args[0], inputs, outputs, *prio); err != nil {
			return err
		}
		metric(cmd, "operators", k.Graph.OperatorCount())
		return nil
	}
	cmd.AddCommand(addOp)

	start := &cobra.Command{
		Use:  "start <steps>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if k.Graph == nil {
				return fmt.Errorf("shell: graphctl: no graph created")
			}
			steps, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			res := k.Graph.Start(steps)
			metric(cmd, "activations", res.Activations, "completed", boolInt(res.Completed))
			return nil
		},
	}
	cmd.AddCommand(start)
	return cmd
}

// ---- llmctl / llminfer ----

func newLLMCtlCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "llmctl"}

	load := &cobra.Command{Use: "load"}
	wcetCycles := load.Flags().Int64("wcet-cycles", 0, "declared worst-case cycle budget")
	load.RunE = func(cmd *cobra.Command, args []string) error {
		if k.Backend == nil {
			return fmt.Errorf("shell: llmctl: no backend installed")
		}
		if err := k.Backend.LoadModel(fmt.Sprintf("model@wcet=%d", *wcetCycles)); err != nil {
			return err
		}
		metric(cmd, "loaded", 1, "wcet_cycles", *wcetCycles)
		return nil
	}
	cmd.AddCommand(load)

	budget := &cobra.Command{Use: "budget"}
	periodNS := budget.Flags().Int64("period-ns", 0, "admission period, nanoseconds")
	maxTokens := budget.Flags().Int("max-tokens-per-period", 0, "max tokens admitted per period")
	budget.RunE = func(cmd *cobra.Command, args []string) error {
		k.TokenBudget = llm.NewTokenBudget(time.Duration(*periodNS), *maxTokens, nil)
		metric(cmd, "period_ns", *periodNS, "max_tokens_per_period", *maxTokens)
		return nil
	}
	cmd.AddCommand(budget)

	cmd.AddCommand(&cobra.Command{
		Use: "status",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded := 0
			var stats llm.Stats
			if k.Backend != nil {
				if k.Backend.IsLoaded() {
					loaded = 1
				}
				stats = k.Backend.Stats()
			}
			remaining := -1
			if k.TokenBudget != nil {
				remaining = k.TokenBudget.Remaining()
			}
			metric(cmd, "loaded", loaded, "total_inferences", stats.TotalInferences,
				"total_tokens", stats.TotalTokens, "failures", stats.Failures, "tokens_remaining", remaining)
			return nil
		},
	})

	shadowDeploy := &cobra.Command{Use: "shadow-deploy"}
	sdID := shadowDeploy.Flags().String("id", "", "version to deploy as shadow")
	sdTraffic := shadowDeploy.Flags().Int("traffic", 0, "shadow traffic percent, 0-100")
	shadowDeploy.RunE = func(cmd *cobra.Command, args []string) error {
		if k.Registry == nil {
			return fmt.Errorf("shell: llmctl: no registry installed")
		}
		if err := k.Registry.SetShadow(*sdID, *sdTraffic); err != nil {
			return err
		}
		k.shadowTraffic = *sdTraffic
		metric(cmd, "shadow", *sdID, "traffic_pct", *sdTraffic)
		return nil
	}
	cmd.AddCommand(shadowDeploy)

	shadowTraffic := &cobra.Command{Use: "shadow-traffic"}
	stPct := shadowTraffic.Flags().Int("percent", 0, "new shadow traffic percent")
	shadowTraffic.RunE = func(cmd *cobra.Command, args []string) error {
		k.shadowTraffic = *stPct
		metric(cmd, "traffic_pct", *stPct)
		return nil
	}
	cmd.AddCommand(shadowTraffic)

	cmd.AddCommand(&cobra.Command{
		Use: "shadow-compare",
		RunE: func(cmd *cobra.Command, args []string) error {
			if k.Registry == nil {
				return fmt.Errorf("shell: llmctl: no registry installed")
			}
			active, shadow, _ := k.Registry.CurrentRoles()
			activeEntry, _ := k.Registry.Get(active)
			shadowEntry, _ := k.Registry.Get(shadow)
			metric(cmd, "active", active, "shadow", shadow,
				"active_p99_ms", activeEntry.Health.InferenceP99MS, "shadow_p99_ms", shadowEntry.Health.InferenceP99MS,
				"active_accuracy", activeEntry.Health.TestAccuracy, "shadow_accuracy", shadowEntry.Health.TestAccuracy)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use: "shadow-promote",
		RunE: func(cmd *cobra.Command, args []string) error {
			if k.Registry == nil {
				return fmt.Errorf("shell: llmctl: no registry installed")
			}
			_, shadow, _ := k.Registry.CurrentRoles()
			if shadow == "" {
				return fmt.Errorf("shell: llmctl: no shadow version set")
			}
			if err := k.Registry.Promote(shadow); err != nil {
				return err
			}
			metric(cmd, "promoted", shadow)
			return nil
		},
	})

	return cmd
}

func newLLMInferCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "llminfer <tag> <prompt>", Args: cobra.MinimumNArgs(2)}
	maxTokens := cmd.Flags().Int("max-tokens", 64, "token cap for this inference")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if k.Backend == nil {
			return fmt.Errorf("shell: llminfer: no backend installed")
		}
		prompt := strings.Join(args[1:], " ")
		if k.TokenBudget != nil {
			ok, err := k.TokenBudget.Admit(*maxTokens)
			if !ok {
				return err
			}
		}
		res, err := k.Backend.Infer(cmd.Context(), prompt, *maxTokens)
		if err != nil {
			return err
		}
		traceLine(cmd, "inference tag=%s text=%s", args[0], res.Text)
		metric(cmd, "tokens", res.Tokens, "latency_ms", res.LatencyMS)
		return nil
	}
	return cmd
}

// ---- coordctl ----

func newCoordctlCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "coordctl"}
	cmd.PersistentFlags().Bool("json", false, "emit JSON instead of METRIC/[TRACE] lines")

	cmd.AddCommand(&cobra.Command{
		Use: "status",
		RunE: func(cmd *cobra.Command, args []string) error {
			metric(cmd, "utilization", k.Sched.Utilization(), "tasks", k.Tasks.Count())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "history",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, line := range k.coordHistorySnapshot() {
				traceLine(cmd, "%s", line)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			allows, denies := k.Policy.Counters()
			metric(cmd, "policy_allows", allows, "policy_denies", denies)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "conflict-stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			metric(cmd, "conflicts", 0)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "conflict-history",
		RunE: func(cmd *cobra.Command, args []string) error {
			traceLine(cmd, "no conflicts recorded")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "priorities",
		RunE: func(cmd *cobra.Command, args []string) error {
			metric(cmd, "priority_levels", task.NumPriorities)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "process",
		RunE: func(cmd *cobra.Command, args []string) error {
			metric(cmd, "live_tasks", k.Tasks.Count(), "forks", k.Tasks.ForkCount())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			metric(cmd, "utilization", k.Sched.Utilization())
			k.logCoord("stats queried")
			return nil
		},
	})
	return cmd
}

// ---- autoctl ----

func newAutoctlCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "autoctl"}
	cmd.AddCommand(&cobra.Command{
		Use: "on",
		RunE: func(cmd *cobra.Command, args []string) error {
			k.autoctlEnabled = true
			metric(cmd, "autoctl", 1)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "off",
		RunE: func(cmd *cobra.Command, args []string) error {
			k.autoctlEnabled = false
			metric(cmd, "autoctl", 0)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			allows, denies := k.Policy.Counters()
			metrics := k.Gateway.Metrics()
			metric(cmd, "policy_allows", allows, "policy_denies", denies, "providers_tracked", len(metrics),
				"fallback_count", k.Gateway.FallbackCount, "rate_limit_hits", k.Gateway.RateLimitHits)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "export-decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, statErr := os.Stat(k.DecisionsPath); os.IsNotExist(statErr) {
				metric(cmd, "decisions", 0)
				return nil
			}
			records, err := agent.LoadDecisionRecords(k.DecisionsPath)
			if err != nil {
				return err
			}
			metric(cmd, "decisions", len(records))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "replay-decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := agent.LoadDecisionRecords(k.DecisionsPath)
			if err != nil {
				if _, statErr := os.Stat(k.DecisionsPath); !os.IsNotExist(statErr) {
					return err
				}
				// decisions file not yet created: replay an empty set
			}
			if err := k.Replay.Start(records); err != nil {
				return err
			}
			count := 0
			for {
				_, ok := k.Replay.Next()
				if !ok {
					break
				}
				count++
			}
			metric(cmd, "replayed", count, "state", k.Replay.State().String())
			return nil
		},
	})
	return cmd
}

// ---- otelctl ----

func newOtelctlCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "otelctl"}

	initCmd := &cobra.Command{Use: "init"}
	endpoint := initCmd.Flags().String("endpoint", "", "collector endpoint (recorded, not dialed)")
	initCmd.RunE = func(cmd *cobra.Command, args []string) error {
		metric(cmd, "otel_initialized", 1, "endpoint", *endpoint)
		return nil
	}
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use: "enable-tracing",
		RunE: func(cmd *cobra.Command, args []string) error {
			k.tracingEnabled = true
			k.Meta.EnableTracing(true)
			metric(cmd, "tracing_enabled", 1)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "export-traces",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := k.Meta.ExportTraces(); err != nil {
				return err
			}
			metric(cmd, "exported", 1)
			return nil
		},
	})
	return cmd
}

// ---- mailbox ----

// mailbox surfaces a mocked firmware-info panel: this hosted model has
// no real platform mailbox to query, so it reports static
// representative values rather than leaving the command unimplemented.
func newMailboxCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "mailbox"}
	report := func(cmd *cobra.Command, which string) {
		switch which {
		case "temp":
			metric(cmd, "temp_c", 45.2)
		case "info":
			metric(cmd, "board", "aikernel-virt", "revision", 1)
		case "serial":
			metric(cmd, "serial", "0000000000000000")
		case "fw":
			metric(cmd, "firmware_version", "1.0.0")
		case "mem":
			const memTotalBytes = 4096 * 1024 * 1024
			metric(cmd, "mem_total_mb", 4096, "mem_total_human", humanize.IBytes(memTotalBytes))
		case "all":
			report(cmd, "temp")
			report(cmd, "info")
			report(cmd, "serial")
			report(cmd, "fw")
			report(cmd, "mem")
		}
	}
	for _, name := range []string{"temp", "info", "serial", "fw", "mem", "all"} {
		name := name
		cmd.AddCommand(&cobra.Command{Use: name, RunE: func(cmd *cobra.Command, args []string) error {
			report(cmd, name)
			return nil
		}})
	}
	return cmd
}

// ---- versionctl ----

func newVersionctlCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "versionctl"}

	cmd.AddCommand(&cobra.Command{
		Use: "list",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, e := range k.Registry.All() {
				metric(cmd, "version", e.Version, "status", e.Status)
			}
			return nil
		},
	})

	commitCmd := &cobra.Command{Use: "commit <version>", Args: cobra.ExactArgs(1)}
	hash := commitCmd.Flags().String("hash", "", "content hash")
	desc := commitCmd.Flags().String("desc", "", "description")
	env := commitCmd.Flags().String("env", "", "environment tag")
	commitCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := k.Registry.Commit(args[0], *hash, *desc, *env); err != nil {
			return err
		}
		metric(cmd, "committed", args[0])
		return nil
	}
	cmd.AddCommand(commitCmd)

	cmd.AddCommand(&cobra.Command{
		Use:  "rollback <version>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := k.Registry.Rollback(args[0]); err != nil {
				return err
			}
			metric(cmd, "rolled_back_to", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "tag <version> <tag>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := k.Registry.Tag(args[0], args[1]); err != nil {
				return err
			}
			metric(cmd, "tagged", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "gc <retain_newest>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			removed := k.Registry.GC(n)
			metric(cmd, "removed", len(removed))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "diff <v1> <v2>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e1, ok1 := k.Registry.Get(args[0])
			e2, ok2 := k.Registry.Get(args[1])
			if !ok1 || !ok2 {
				return fmt.Errorf("shell: versionctl: unknown version")
			}
			metric(cmd, "p99_delta_ms", e2.Health.InferenceP99MS-e1.Health.InferenceP99MS,
				"accuracy_delta", e2.Health.TestAccuracy-e1.Health.TestAccuracy)
			return nil
		},
	})

	return cmd
}

// ---- deployctl ----

func newDeployctlCommand(k *Kernel) *cobra.Command {
	cmd := &cobra.Command{Use: "deployctl"}

	cmd.AddCommand(&cobra.Command{
		Use: "status",
		RunE: func(cmd *cobra.Command, args []string) error {
			active, shadow, rollback := k.Registry.CurrentRoles()
			metric(cmd, "active", active, "shadow", shadow, "rollback", rollback)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "history",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, e := range k.Registry.All() {
				traceLine(cmd, "version=%s status=%s parent=%s", e.Version, e.Status, e.Parent)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "advance",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, shadow, _ := k.Registry.CurrentRoles()
			if shadow == "" {
				return fmt.Errorf("shell: deployctl: no shadow version to advance")
			}
			if err := k.Registry.Promote(shadow); err != nil {
				return err
			}
			metric(cmd, "advanced_to", shadow)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:  "rollback <version>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := k.Registry.Rollback(args[0]); err != nil {
				return err
			}
			metric(cmd, "rolled_back_to", args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "config",
		RunE: func(cmd *cobra.Command, args []string) error {
			remaining := -1
			if k.TokenBudget != nil {
				remaining = k.TokenBudget.Remaining()
			}
			metric(cmd, "shadow_traffic_pct", k.shadowTraffic, "tokens_remaining", remaining)
			return nil
		},
	})
	return cmd
}
