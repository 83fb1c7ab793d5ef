package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/grievance/internal/debug"
	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/types"
	"github.com/steveyegge/grievance/internal/ui"
)

var claimCmd = &cobra.Command{
	Use:     "claim",
	GroupID: "claims",
	Short:   "Create and inspect claims",
}

var claimCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a claim",
	Long: `Create a claim. New claims start in submitted unless --state is given,
which is meant for importing claims already in flight.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		id, _ := flags.GetString("id")
		priorityStr, _ := flags.GetString("priority")
		stateStr, _ := flags.GetString("state")
		enteredStr, _ := flags.GetString("entered")

		priority, err := types.ParsePriority(priorityStr)
		if err != nil {
			return err
		}
		state, err := types.ParseClaimState(stateStr)
		if err != nil {
			return err
		}
		now := clk.Now().UTC()
		entered, err := parseTimeFlag("entered", enteredStr, now)
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}

		claim := &types.Claim{
			ID:             id,
			Title:          strings.TrimSpace(args[0]),
			State:          state,
			Priority:       priority,
			StateEnteredAt: entered.UTC(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.CreateClaim(getRootContext(), claim); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, claim)
		}
		debug.PrintNormal("%s Created claim %s (%s, %s)\n", ui.RenderPassIcon(), ui.RenderAccent(claim.ID), claim.State, claim.Priority)
		return nil
	},
}

var claimShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a claim with its SLA position and signals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		p, err := getPolicy()
		if err != nil {
			return err
		}
		ctx := getRootContext()
		claim, err := s.GetClaim(ctx, args[0])
		if err != nil {
			return err
		}
		signals, err := s.ListSignals(ctx, claim.ID)
		if err != nil {
			return err
		}
		st := p.SLA.Evaluate(claim, clk.Now(), p.Options.SLAWarnWithinDays)
		for _, sig := range signals {
			if !sig.IsResolved() {
				st.CriticalSignals = true
			}
		}
		if jsonOutput {
			return outputJSON(cmd, map[string]interface{}{
				"claim":   claim,
				"sla":     st,
				"signals": signals,
			})
		}
		ui.RenderClaim(cmd.OutOrStdout(), claim, st, signals)
		return nil
	},
}

var claimListCmd = &cobra.Command{
	Use:   "list",
	Short: "List claims (closed claims are hidden unless --all or --state is given)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		statesStr, _ := flags.GetString("state")
		priorityStr, _ := flags.GetString("priority")
		all, _ := flags.GetBool("all")

		filter := storage.ClaimFilter{IncludeClosed: all}
		if statesStr != "" {
			for _, part := range strings.Split(statesStr, ",") {
				st, err := types.ParseClaimState(part)
				if err != nil {
					return err
				}
				filter.States = append(filter.States, st)
			}
		}
		if priorityStr != "" {
			p, err := types.ParsePriority(priorityStr)
			if err != nil {
				return err
			}
			filter.Priority = p
		}

		s, err := getStore()
		if err != nil {
			return err
		}
		claims, err := s.ListClaims(getRootContext(), filter)
		if err != nil {
			return err
		}
		if jsonOutput {
			if claims == nil {
				claims = []*types.Claim{}
			}
			return outputJSON(cmd, claims)
		}
		ui.RenderClaimList(cmd.OutOrStdout(), claims)
		return nil
	},
}

func init() {
	claimCreateCmd.Flags().String("id", "", "Claim id (default: generated)")
	claimCreateCmd.Flags().StringP("priority", "p", string(types.PriorityMedium), "Priority (low, medium, high, critical)")
	claimCreateCmd.Flags().String("state", string(types.StateSubmitted), "Initial state")
	claimCreateCmd.Flags().String("entered", "", "When the claim entered its initial state (default: now)")

	claimListCmd.Flags().String("state", "", "Comma-separated states to include")
	claimListCmd.Flags().String("priority", "", "Only claims with this priority")
	claimListCmd.Flags().Bool("all", false, "Include closed claims")

	claimCmd.AddCommand(claimCreateCmd, claimShowCmd, claimListCmd)
	rootCmd.AddCommand(claimCmd)
}

