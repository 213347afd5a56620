package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/posture"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Limit int
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "status [intent-id]",
		Short:         "Show posture and recent intents, or one intent in full",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runIntentStatus(opts, args[0], cmd)
			}
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "number of recent intents to show")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	c := newClient(opts.Addr)
	ctx := cmd.Context()

	var post struct {
		Posture   posture.Snapshot `json:"posture"`
		StateHash string           `json:"state_hash"`
	}
	if err := c.do(ctx, "GET", "/api/posture", nil, &post); err != nil {
		return err
	}
	var sums struct {
		Summaries []intent.Summary `json:"summaries"`
	}
	path := fmt.Sprintf("/api/summaries?limit=%d", opts.Limit)
	if err := c.do(ctx, "GET", path, nil, &sums); err != nil {
		return err
	}

	if opts.Format == "json" {
		return printJSON(cmd, map[string]interface{}{
			"posture":    post.Posture,
			"state_hash": post.StateHash,
			"summaries":  sums.Summaries,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "mode:       %s\n", post.Posture.Mode)
	fmt.Fprintf(out, "armed:      %t\n", post.Posture.Armed)
	fmt.Fprintf(out, "halted:     %t\n", post.Posture.Halted)
	fmt.Fprintf(out, "state hash: %s\n", post.StateHash)
	if len(sums.Summaries) == 0 {
		fmt.Fprintln(out, "no recent intents")
		return nil
	}
	fmt.Fprintln(out, "recent intents:")
	for _, s := range sums.Summaries {
		fmt.Fprintf(out, "  %s  %-14s %-11s %s  %s\n",
			s.SubmittedAt.Format("15:04:05"), s.Type, s.Status, s.ID, s.OperatorID)
	}
	return nil
}

func runIntentStatus(opts *StatusOptions, id string, cmd *cobra.Command) error {
	var in intent.Intent
	path := "/api/intents/" + url.PathEscape(id)
	if err := newClient(opts.Addr).do(cmd.Context(), "GET", path, nil, &in); err != nil {
		return err
	}

	if opts.Format == "json" {
		return printJSON(cmd, in)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "intent:    %s %s\n", in.Type, in.ID)
	fmt.Fprintf(out, "status:    %s\n", in.Status)
	fmt.Fprintf(out, "operator:  %s\n", in.OperatorID)
	fmt.Fprintf(out, "submitted: %s\n", in.SubmittedAt.Format("2006-01-02 15:04:05 MST"))
	if in.Reason != "" {
		fmt.Fprintf(out, "reason:    %s\n", in.Reason)
	}
	if in.ApproverID != "" {
		fmt.Fprintf(out, "approver:  %s\n", in.ApproverID)
	}
	if in.RejectionReason != "" {
		fmt.Fprintf(out, "rejected:  %s\n", in.RejectionReason)
	}
	if in.Receipt != nil {
		fmt.Fprintf(out, "effect:    %s\n", in.Receipt.Effect)
		if in.Receipt.Verification != nil {
			fmt.Fprintf(out, "verified:  %t\n", *in.Receipt.Verification)
		}
		if in.Receipt.Error != "" {
			fmt.Fprintf(out, "error:     %s\n", in.Receipt.Error)
		}
	}
	return nil
}
