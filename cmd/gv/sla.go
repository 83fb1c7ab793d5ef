package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/grievance/internal/sla"
	"github.com/steveyegge/grievance/internal/timeparsing"
	"github.com/steveyegge/grievance/internal/types"
	"github.com/steveyegge/grievance/internal/ui"
)

var slaCmd = &cobra.Command{
	Use:     "sla",
	GroupID: "reports",
	Short:   "SLA deadlines and compliance",
}

// deadlineResult is the JSON shape of gv sla deadline.
type deadlineResult struct {
	State           types.ClaimState `json:"state"`
	Priority        types.Priority   `json:"priority"`
	EnteredAt       time.Time        `json:"entered_at"`
	Deadline        *time.Time       `json:"deadline,omitempty"`
	Compliant       bool             `json:"compliant"`
	DaysUntilBreach int              `json:"days_until_breach"`
}

var slaDeadlineCmd = &cobra.Command{
	Use:   "deadline <state> <priority>",
	Short: "Compute the SLA deadline for a state and priority",
	Example: `  gv sla deadline investigation high --entered 2025-03-01
  gv sla deadline submitted critical --entered "yesterday"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := types.ParseClaimState(args[0])
		if err != nil {
			return err
		}
		priority, err := types.ParsePriority(args[1])
		if err != nil {
			return err
		}
		enteredStr, _ := cmd.Flags().GetString("entered")
		nowStr, _ := cmd.Flags().GetString("now")
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

		res := deadlineResult{
			State:           state,
			Priority:        priority,
			EnteredAt:       entered,
			Compliant:       p.SLA.IsCompliant(state, priority, entered, now),
			DaysUntilBreach: p.SLA.DaysUntilBreach(state, priority, entered, now),
		}
		if d, ok := p.SLA.Deadline(state, priority, entered); ok {
			res.Deadline = &d
		}

		if jsonOutput {
			return outputJSON(cmd, res)
		}
		w := cmd.OutOrStdout()
		if res.Deadline == nil {
			fmt.Fprintf(w, "%s %s carries no SLA\n", ui.RenderInfoIcon(), ui.RenderState(state))
			return nil
		}
		allowance, _ := p.SLA.Allowance(state, priority)
		fmt.Fprintf(w, "%s/%s: %s allowed, due %s\n", ui.RenderState(state), ui.RenderPriority(priority),
			timeparsing.FormatDuration(allowance), res.Deadline.UTC().Format(time.RFC3339))
		switch {
		case !res.Compliant:
			fmt.Fprintf(w, "%s %s\n", ui.RenderFailIcon(), ui.RenderFail(fmt.Sprintf("breached, %d day(s) overdue", -res.DaysUntilBreach)))
		case res.DaysUntilBreach <= p.Options.SLAWarnWithinDays:
			fmt.Fprintf(w, "%s %s\n", ui.RenderWarnIcon(), ui.RenderWarn(fmt.Sprintf("%d day(s) left", res.DaysUntilBreach)))
		default:
			fmt.Fprintf(w, "%s %d day(s) left\n", ui.RenderPassIcon(), res.DaysUntilBreach)
		}
		return nil
	},
}

var slaReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report SLA compliance for every open claim, most overdue first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		nowStr, _ := cmd.Flags().GetString("now")
		failOnBreach, _ := cmd.Flags().GetBool("fail-on-breach")
		now, err := resolveNow(nowStr)
		if err != nil {
			return err
		}
		svc, err := newService()
		if err != nil {
			return err
		}
		statuses, err := svc.SLAReport(getRootContext(), now)
		if err != nil {
			return err
		}
		if jsonOutput {
			if statuses == nil {
				statuses = []sla.Status{}
			}
			if err := outputJSON(cmd, statuses); err != nil {
				return err
			}
		} else {
			ui.RenderSLAReport(cmd.OutOrStdout(), statuses)
		}
		if failOnBreach {
			for _, st := range statuses {
				if !st.Compliant {
					return fmt.Errorf("%s is past its SLA deadline", st.ClaimID)
				}
			}
		}
		return nil
	},
}

func init() {
	slaDeadlineCmd.Flags().String("entered", "", "When the claim entered the state (default: now)")
	slaDeadlineCmd.Flags().String("now", "", "Evaluation time (default: current time)")
	slaReportCmd.Flags().String("now", "", "Evaluation time (default: current time)")
	slaReportCmd.Flags().Bool("fail-on-breach", false, "Exit 1 when any claim is past its deadline")

	slaCmd.AddCommand(slaDeadlineCmd, slaReportCmd)
	rootCmd.AddCommand(slaCmd)
}
