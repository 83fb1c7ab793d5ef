package main

import (
	"github.com/spf13/cobra"

	"github.com/steveyegge/grievance/internal/config"
	"github.com/steveyegge/grievance/internal/types"
	"github.com/steveyegge/grievance/internal/ui"
)

var checkCmd = &cobra.Command{
	Use:     "check",
	GroupID: "rules",
	Short:   "Validate a hypothetical transition without touching any claim",
	Long: `Validate a hypothetical transition request. Nothing is stored or audited.

Time flags accept RFC3339 timestamps, dates (2025-03-10), compact offsets
(-3d, +2w, -36h) and natural language ("3 days ago", "last monday").

Exits 0 when the transition would be allowed and 2 when it would be denied.`,
	Example: `  gv check --from resolved --to closed --role admin --entered "8 days ago" --signals
  gv check --from under_review --to investigation --role steward --entered -1h`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		fromStr, _ := flags.GetString("from")
		toStr, _ := flags.GetString("to")
		roleStr, _ := flags.GetString("role")
		priorityStr, _ := flags.GetString("priority")
		enteredStr, _ := flags.GetString("entered")
		nowStr, _ := flags.GetString("now")
		docs, _ := flags.GetBool("docs")
		notes, _ := flags.GetString("notes")
		signals, _ := flags.GetBool("signals")

		from, to, err := parseEdge([]string{fromStr, toStr})
		if err != nil {
			return err
		}
		role, err := types.ParseRole(roleStr)
		if err != nil {
			return err
		}
		priority, err := types.ParsePriority(priorityStr)
		if err != nil {
			return err
		}
		now, err := resolveNow(nowStr)
		if err != nil {
			return err
		}
		entered, err := parseTimeFlag("entered", enteredStr, now)
		if err != nil {
			return err
		}
		p, err := getPolicy()
		if err != nil {
			return err
		}

		req := types.TransitionRequest{
			CurrentState:                 from,
			TargetState:                  to,
			ActorID:                      config.GetActor(),
			ActorRole:                    role,
			Priority:                     priority,
			StateEnteredAt:               entered,
			HasUnresolvedCriticalSignals: signals,
			HasRequiredDocumentation:     docs,
			Notes:                        notes,
		}
		res := p.Validator().Validate(req, now)

		if jsonOutput {
			if err := outputJSON(cmd, map[string]interface{}{"request": req, "result": res}); err != nil {
				return err
			}
		} else {
			ui.RenderDecision(cmd.OutOrStdout(), req, res)
		}
		if !res.Allowed {
			return &deniedError{code: res.Code}
		}
		return nil
	},
}

func init() {
	flags := checkCmd.Flags()
	flags.String("from", "", "Current state")
	flags.String("to", "", "Target state")
	flags.String("role", "", "Actor role (member, steward, admin, system)")
	flags.String("priority", string(types.PriorityMedium), "Claim priority")
	flags.String("entered", "", "When the claim entered its current state (default: now)")
	flags.String("now", "", "Evaluation time (default: current time)")
	flags.Bool("docs", false, "Required documentation is attached")
	flags.String("notes", "", "Free-text notes")
	flags.Bool("signals", false, "The claim has unresolved critical signals")
	_ = checkCmd.MarkFlagRequired("from")
	_ = checkCmd.MarkFlagRequired("to")
	_ = checkCmd.MarkFlagRequired("role")

	rootCmd.AddCommand(checkCmd)
}
