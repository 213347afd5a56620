package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/quantfabric/opscore/internal/intent"
)

// ApproveOptions holds flags for the approve and reject commands.
type ApproveOptions struct {
	*RootOptions
	Approver string
	Reason   string
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApproveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "approve <intent-id>",
		Short: "Approve a gated intent so it executes",
		Long: `Approve a gated intent so it executes.

FLATTEN and OVERRIDE_RISK wait in ACCEPTED until a risk owner approves
them. The approver must hold the risk_owner role on the daemon.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApproval(opts, args[0], "approve", cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Approver, "approver", "", "risk owner id (required)")
	_ = cmd.MarkFlagRequired("approver")

	return cmd
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApproveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "reject <intent-id>",
		Short:         "Reject a gated intent before it executes",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApproval(opts, args[0], "reject", cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Approver, "approver", "", "risk owner id (required)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the intent is being rejected")
	_ = cmd.MarkFlagRequired("approver")

	return cmd
}

func runApproval(opts *ApproveOptions, id, action string, cmd *cobra.Command) error {
	body := map[string]string{
		"approver_id": opts.Approver,
		"reason":      opts.Reason,
	}
	var in intent.Intent
	path := "/api/intents/" + url.PathEscape(id) + "/" + action
	if err := newClient(opts.Addr).do(cmd.Context(), "POST", path, body, &in); err != nil {
		return err
	}

	if opts.Format == "json" {
		return printJSON(cmd, in)
	}
	past := "approved"
	if action == "reject" {
		past = "rejected"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "intent %s %s: status %s\n", in.ID, past, in.Status)
	return nil
}
