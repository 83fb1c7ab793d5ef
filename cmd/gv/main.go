// Command gv validates and applies grievance claim transitions and reports
// on SLA compliance.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/grievance/internal/config"
	"github.com/steveyegge/grievance/internal/debug"
	"github.com/steveyegge/grievance/internal/telemetry"
	"github.com/steveyegge/grievance/internal/ui"
)

var (
	jsonOutput  bool
	actorFlag   string
	policyFlag  string
	verboseFlag bool
	quietFlag   bool

	// Signal-aware context for graceful cancellation
	rootCtx    context.Context
	rootCancel context.CancelFunc

	stopTelemetry telemetry.ShutdownFunc
)

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Actor id for the audit trail (default: $GV_ACTOR, $USER)")
	rootCmd.PersistentFlags().StringVar(&policyFlag, "policy", "", "Policy file (YAML or TOML; default: policy.path or built-in)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddGroup(&cobra.Group{ID: "rules", Title: "Rules & Validation:"})
	rootCmd.AddGroup(&cobra.Group{ID: "claims", Title: "Working With Claims:"})
	rootCmd.AddGroup(&cobra.Group{ID: "reports", Title: "SLA & Audit:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Policy & Configuration:"})
}

var rootCmd = &cobra.Command{
	Use:           "gv",
	Short:         "gv - grievance claim lifecycle and SLA engine",
	Long:          `Validates claim state transitions against a role-gated rule table, applies admitted ones under a compare-and-swap guard, audits every decision, and reports SLA compliance.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Fprintf(cmd.OutOrStdout(), "gv version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyVerbosityFlags()
		applyViperOverrides(cmd)
		ui.ConfigureColor()
		shutdown, err := telemetry.Init(rootCtx, telemetry.SettingsFromEnv("gv", Version))
		if err != nil {
			debug.Warnf("telemetry disabled: %v\n", err)
			return
		}
		stopTelemetry = shutdown
	},
}

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getRootContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

// applyViperOverrides pushes explicitly set global flags into config so that
// flag > env > config file > default holds for every reader.
func applyViperOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("json") {
		config.Set(config.KeyJSON, jsonOutput)
	}
	if flags.Changed("actor") {
		config.Set(config.KeyActor, actorFlag)
	}
	if flags.Changed("policy") {
		config.Set(config.KeyPolicyPath, policyFlag)
	}
	jsonOutput = config.GetBool(config.KeyJSON)
}

// execute runs the command tree and maps the outcome to an exit code:
// 0 success, 1 error, 2 transition denied.
func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	debug.SetOutput(stdout, stderr)
	defer debug.SetOutput(nil, nil)

	err := rootCmd.Execute()
	closeResources()
	if rootCancel != nil {
		rootCancel()
	}

	if err == nil {
		return 0
	}
	var denied *deniedError
	if errors.As(err, &denied) {
		return 2
	}
	reportError(stderr, err)
	return 1
}

func closeResources() {
	if store != nil {
		if err := store.Close(); err != nil {
			debug.Warnf("failed to close store: %v\n", err)
		}
		store = nil
	}
	holder = nil
	auditLog = nil

	if stopTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTelemetry(ctx); err != nil {
			debug.Logf("telemetry shutdown: %v\n", err)
		}
		stopTelemetry = nil
	}
}

func main() {
	if name := os.Getenv("GV_NAME"); name != "" {
		rootCmd.Use = name
	}
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
