package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/grievance/internal/audit"
	"github.com/steveyegge/grievance/internal/config"
	"github.com/steveyegge/grievance/internal/debug"
	"github.com/steveyegge/grievance/internal/ui"
)

var auditCmd = &cobra.Command{
	Use:     "audit",
	GroupID: "reports",
	Short:   "Inspect and archive the decision audit log",
	Long: `Every transition attempt is appended to the audit log. Entries are never
deleted; 'gv audit archive' moves the current log aside.`,
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		claimID, _ := flags.GetString("claim")
		kind, _ := flags.GetString("kind")
		limit, _ := flags.GetInt("limit")
		archive, _ := flags.GetString("archive")
		noPager, _ := flags.GetBool("no-pager")

		filter := audit.Filter{ClaimID: claimID, Kind: kind, Limit: limit}
		var (
			entries []*audit.Entry
			err     error
		)
		if archive != "" {
			entries, err = audit.ReadArchive(archive, filter)
		} else {
			entries, err = getAuditLog().Read(filter)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			if entries == nil {
				entries = []*audit.Entry{}
			}
			return outputJSON(cmd, entries)
		}
		var buf bytes.Buffer
		ui.RenderAuditEntries(&buf, entries)
		return ui.ToPager(cmd.OutOrStdout(), buf.String(), ui.PagerOptions{NoPager: noPager})
	},
}

var auditArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Move the current audit log into the archive directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, err := getAuditLog().Archive(config.GetAuditArchiveDir(), clk.Now())
		if errors.Is(err, audit.ErrNoLog) {
			if jsonOutput {
				return outputJSON(cmd, map[string]string{"status": "empty"})
			}
			debug.PrintNormal("%s nothing to archive\n", ui.RenderInfoIcon())
			return nil
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cmd, map[string]string{"status": "archived", "path": dest})
		}
		debug.PrintNormal("%s Archived audit log to %s\n", ui.RenderPassIcon(), dest)
		return nil
	},
}

func init() {
	flags := auditListCmd.Flags()
	flags.String("claim", "", "Only entries for this claim")
	flags.String("kind", "", fmt.Sprintf("Only entries of this kind (%s, %s)", audit.KindValidation, audit.KindConflict))
	flags.Int("limit", 0, "Only the most recent N entries")
	flags.String("archive", "", "Read an archived log file instead of the current one")
	flags.Bool("no-pager", false, "Do not pipe output through a pager")

	auditCmd.AddCommand(auditListCmd, auditArchiveCmd)
	rootCmd.AddCommand(auditCmd)
}
