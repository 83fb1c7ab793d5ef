package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/grievance/internal/config"
	"github.com/steveyegge/grievance/internal/debug"
	"github.com/steveyegge/grievance/internal/transition"
	"github.com/steveyegge/grievance/internal/types"
	"github.com/steveyegge/grievance/internal/ui"
)

var transitionCmd = &cobra.Command{
	Use:     "transition <claim-id> [target]",
	Aliases: []string{"move"},
	GroupID: "claims",
	Short:   "Validate and apply a state change to a claim",
	Long: `Validate a state change against the current policy and apply it when
admitted. Every attempt, allowed or denied, is written to the audit log.

If another writer changes the claim between validation and apply, the
conflict is audited and the change is re-validated against the fresh claim
(up to transition.max-attempts).

Exits 0 when applied (or allowed with --dry-run) and 2 when denied.`,
	Example: `  gv transition gv-1a2b3c4d resolved --role steward --docs
  gv transition gv-1a2b3c4d --role steward --interactive`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTransition,
}

func runTransition(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	roleStr, _ := flags.GetString("role")
	docs, _ := flags.GetBool("docs")
	notes, _ := flags.GetString("notes")
	dryRun, _ := flags.GetBool("dry-run")
	interactive, _ := flags.GetBool("interactive")

	role, err := types.ParseRole(roleStr)
	if err != nil {
		return err
	}
	svc, err := newService()
	if err != nil {
		return err
	}

	cmdArgs := transition.Command{
		ClaimID:          args[0],
		Actor:            config.GetActor(),
		Role:             role,
		HasDocumentation: docs,
		Notes:            notes,
	}

	switch {
	case len(args) == 2:
		target, err := types.ParseClaimState(args[1])
		if err != nil {
			return err
		}
		cmdArgs.Target = target
	case interactive:
		if err := pickTarget(&cmdArgs); err != nil {
			return err
		}
	default:
		return fmt.Errorf("target state is required (or use --interactive)")
	}

	ctx := getRootContext()
	var out *transition.Outcome
	if dryRun {
		out, err = svc.Preview(ctx, cmdArgs)
	} else {
		out, err = svc.Apply(ctx, cmdArgs)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		if err := outputJSON(cmd, out); err != nil {
			return err
		}
	} else {
		ui.RenderDecision(cmd.OutOrStdout(), out.Request, out.Result)
		if out.Applied {
			debug.PrintNormal("%s %s is now %s\n", ui.RenderPassIcon(), out.Claim.ID, ui.RenderState(out.Claim.State))
		}
		if out.Attempts > 1 {
			debug.PrintNormal("%s re-validated after %d concurrent change(s)\n", ui.RenderInfoIcon(), out.Attempts-1)
		}
	}
	if !out.Result.Allowed {
		return &deniedError{code: out.Result.Code}
	}
	return nil
}

// pickTarget prompts for a target among the states the role may reach, and
// for notes when none were given.
func pickTarget(c *transition.Command) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("--interactive requires a terminal")
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	p, err := getPolicy()
	if err != nil {
		return err
	}
	claim, err := s.GetClaim(getRootContext(), c.ClaimID)
	if err != nil {
		return err
	}
	targets := p.Validator().AllowedTransitions(claim.State, c.Role)
	if len(targets) == 0 {
		return fmt.Errorf("%s may not move %s out of %s", c.Role, claim.ID, claim.State)
	}

	options := make([]huh.Option[types.ClaimState], len(targets))
	for i, t := range targets {
		label := string(t)
		if req, err := p.Validator().RequirementsFor(claim.State, t); err == nil && req.RequiresDocumentation {
			label += " (needs documentation)"
		}
		options[i] = huh.NewOption(label, t)
	}

	fields := []huh.Field{
		huh.NewSelect[types.ClaimState]().
			Title(fmt.Sprintf("Move %s from %s to", claim.ID, claim.State)).
			Description(claim.Title).
			Options(options...).
			Value(&c.Target),
	}
	if c.Notes == "" {
		fields = append(fields, huh.NewText().
			Title("Notes").
			Description("Explain the decision (accepted as documentation when policy allows)").
			CharLimit(5000).
			Value(&c.Notes))
	}
	if !c.HasDocumentation {
		fields = append(fields, huh.NewConfirm().
			Title("Is the required documentation attached?").
			Affirmative("Yes").
			Negative("No").
			Value(&c.HasDocumentation))
	}

	form := huh.NewForm(huh.NewGroup(fields...)).WithTheme(huh.ThemeDracula())
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("transition cancelled")
		}
		return fmt.Errorf("form error: %w", err)
	}
	return nil
}

func init() {
	flags := transitionCmd.Flags()
	flags.String("role", "", "Role you are acting in (member, steward, admin, system)")
	flags.Bool("docs", false, "Required documentation is attached")
	flags.String("notes", "", "Free-text notes recorded with the decision")
	flags.Bool("dry-run", false, "Validate only; do not apply or audit")
	flags.BoolP("interactive", "i", false, "Pick the target state from a menu")
	_ = transitionCmd.MarkFlagRequired("role")

	rootCmd.AddCommand(transitionCmd)
}
