package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/grievance/internal/types"
	"github.com/steveyegge/grievance/internal/ui"
)

var rulesCmd = &cobra.Command{
	Use:     "rules",
	GroupID: "rules",
	Short:   "Print the transition rule table",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := getPolicy()
		if err != nil {
			return err
		}
		rules := p.Table.Rules()
		if jsonOutput {
			reqs := make([]types.Requirements, len(rules))
			for i, r := range rules {
				reqs[i] = r.Requirements()
			}
			return outputJSON(cmd, reqs)
		}
		var buf bytes.Buffer
		ui.RenderRules(&buf, rules)
		noPager, _ := cmd.Flags().GetBool("no-pager")
		return ui.ToPager(cmd.OutOrStdout(), buf.String(), ui.PagerOptions{NoPager: noPager})
	},
}

var allowedCmd = &cobra.Command{
	Use:     "allowed <state>",
	GroupID: "rules",
	Short:   "List the states a role may move a claim to",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := types.ParseClaimState(args[0])
		if err != nil {
			return err
		}
		roleStr, _ := cmd.Flags().GetString("role")
		role, err := types.ParseRole(roleStr)
		if err != nil {
			return err
		}
		p, err := getPolicy()
		if err != nil {
			return err
		}
		targets := p.Validator().AllowedTransitions(state, role)
		if jsonOutput {
			return outputJSON(cmd, map[string]interface{}{
				"state":   state,
				"role":    role,
				"allowed": targets,
			})
		}
		ui.RenderAllowed(cmd.OutOrStdout(), state, role, targets)
		return nil
	},
}

// parseEdge parses the <from> <to> arguments shared by requirements and explain.
func parseEdge(args []string) (types.ClaimState, types.ClaimState, error) {
	from, err := types.ParseClaimState(args[0])
	if err != nil {
		return "", "", err
	}
	to, err := types.ParseClaimState(args[1])
	if err != nil {
		return "", "", err
	}
	return from, to, nil
}

func lookupRequirements(args []string) (types.Requirements, error) {
	from, to, err := parseEdge(args)
	if err != nil {
		return types.Requirements{}, err
	}
	p, err := getPolicy()
	if err != nil {
		return types.Requirements{}, err
	}
	return p.Validator().RequirementsFor(from, to)
}

var requirementsCmd = &cobra.Command{
	Use:     "requirements <from> <to>",
	GroupID: "rules",
	Short:   "Show what a transition requires",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := lookupRequirements(args)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, req)
		}
		ui.RenderRequirements(cmd.OutOrStdout(), req)
		return nil
	},
}

var explainCmd = &cobra.Command{
	Use:     "explain <from> <to>",
	GroupID: "rules",
	Short:   "Explain a transition's requirements in plain language",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := lookupRequirements(args)
		if err != nil {
			return err
		}
		md := ui.RequirementsMarkdown(req)
		if jsonOutput {
			return outputJSON(cmd, map[string]interface{}{"requirements": req, "markdown": md})
		}
		fmt.Fprint(cmd.OutOrStdout(), ui.RenderMarkdown(md))
		return nil
	},
}

func init() {
	rulesCmd.Flags().Bool("no-pager", false, "Do not pipe output through a pager")
	allowedCmd.Flags().String("role", "", "Actor role (member, steward, admin, system)")
	_ = allowedCmd.MarkFlagRequired("role")

	rootCmd.AddCommand(rulesCmd, allowedCmd, requirementsCmd, explainCmd)
}
