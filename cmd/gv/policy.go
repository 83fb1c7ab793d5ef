package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/grievance/internal/config"
	"github.com/steveyegge/grievance/internal/debug"
	"github.com/steveyegge/grievance/internal/policy"
	"github.com/steveyegge/grievance/internal/ui"
)

var policyCmd = &cobra.Command{
	Use:     "policy",
	GroupID: "setup",
	Short:   "Validate, print and watch policy files",
	Long: `A policy file (YAML or TOML) may override the documentation options, the
SLA standards and the transition graph. Each section present replaces its
built-in counterpart entirely; omitted sections keep the built-in values.`,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a policy file without using it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := policy.Load(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, map[string]interface{}{
				"source": p.Source,
				"valid":  true,
				"rules":  p.Table.Len(),
			})
		}
		debug.PrintNormal("%s %s is valid (%d rules)\n", ui.RenderPassIcon(), p.Source, p.Table.Len())
		return nil
	},
}

var policyDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the policy in force as a complete policy file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		formatStr, _ := cmd.Flags().GetString("format")
		format, err := policy.ParseFormat(formatStr)
		if err != nil {
			return err
		}
		p, err := getPolicy()
		if err != nil {
			return err
		}
		data, err := policy.Encode(p, format)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var policyWatchCmd = &cobra.Command{
	Use:   "watch [file]",
	Short: "Watch a policy file and report each reload until interrupted",
	Long: `Watch a policy file and validate it on every change. A change that fails
validation is reported and the previous policy stays in force.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetPolicyPath()
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no policy file to watch (pass one or set policy.path)")
		}
		p, err := policy.Load(path)
		if err != nil {
			return err
		}
		h := policy.NewHolder(p)
		w := cmd.OutOrStdout()
		errW := cmd.ErrOrStderr()

		watcher, err := policy.NewWatcher(path, h, config.GetPolicyDebounce(), func(p *policy.Policy, err error) {
			if err != nil {
				fmt.Fprintf(errW, "%s rejected change, keeping previous policy: %v\n", ui.RenderFailIcon(), err)
				return
			}
			fmt.Fprintf(w, "%s reloaded %s (%d rules)\n", ui.RenderPassIcon(), p.Source, p.Table.Len())
		})
		if err != nil {
			return err
		}
		debug.PrintNormal("%s watching %s (Ctrl+C to stop)\n", ui.RenderInfoIcon(), p.Source)
		return watcher.Run(getRootContext())
	},
}

func init() {
	policyDumpCmd.Flags().String("format", string(policy.FormatYAML), "Output format (yaml, toml)")

	policyCmd.AddCommand(policyValidateCmd, policyDumpCmd, policyWatchCmd)
	rootCmd.AddCommand(policyCmd)
}
