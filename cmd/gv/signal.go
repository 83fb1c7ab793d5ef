package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/grievance/internal/debug"
	"github.com/steveyegge/grievance/internal/types"
	"github.com/steveyegge/grievance/internal/ui"
)

var signalCmd = &cobra.Command{
	Use:     "signal",
	GroupID: "claims",
	Short:   "Raise and resolve critical signals",
	Long: `Critical signals are risk conditions detected outside gv (retaliation,
safety, legal hold). While any is unresolved, a claim cannot be closed.`,
}

var signalRaiseCmd = &cobra.Command{
	Use:   "raise <claim-id> <summary>",
	Short: "Raise a critical signal on a claim",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		sig := &types.CriticalSignal{
			ClaimID:  args[0],
			Summary:  strings.Join(args[1:], " "),
			RaisedAt: clk.Now().UTC(),
		}
		if err := s.RaiseSignal(getRootContext(), sig); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, sig)
		}
		debug.PrintNormal("%s Raised %s on %s\n", ui.RenderWarnIcon(), ui.RenderAccent(sig.ID), sig.ClaimID)
		return nil
	},
}

var signalResolveCmd = &cobra.Command{
	Use:   "resolve <signal-id>",
	Short: "Resolve a critical signal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		if err := s.ResolveSignal(getRootContext(), args[0], clk.Now().UTC()); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, map[string]string{"id": args[0], "status": "resolved"})
		}
		debug.PrintNormal("%s Resolved %s\n", ui.RenderPassIcon(), args[0])
		return nil
	},
}

var signalListCmd = &cobra.Command{
	Use:   "list <claim-id>",
	Short: "List a claim's critical signals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		ctx := getRootContext()
		if _, err := s.GetClaim(ctx, args[0]); err != nil {
			return err
		}
		signals, err := s.ListSignals(ctx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			if signals == nil {
				signals = []*types.CriticalSignal{}
			}
			return outputJSON(cmd, signals)
		}
		if len(signals) == 0 {
			debug.PrintNormal("%s no signals on %s\n", ui.RenderInfoIcon(), args[0])
			return nil
		}
		for _, sig := range signals {
			icon, status := ui.RenderFailIcon(), "unresolved"
			if sig.IsResolved() {
				icon, status = ui.RenderPassIcon(), "resolved"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n", icon, sig.ID, sig.Summary, ui.RenderMuted("("+status+")"))
		}
		return nil
	},
}

func init() {
	signalCmd.AddCommand(signalRaiseCmd, signalResolveCmd, signalListCmd)
	rootCmd.AddCommand(signalCmd)
}
