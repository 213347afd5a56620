package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quantfabric/opscore/internal/control"
	"github.com/quantfabric/opscore/internal/intent"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	Params    string
	Operator  string
	StateHash string
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview <type>",
		Short: "Ask the daemon what an intent would do, without executing it",
		Long: `Ask the daemon what an intent would do, without executing it.

Preview needs no signature; it is a read-only dry run.

Example:
  opsctl preview FLATTEN --operator alice --params '{"symbol":"BTC-PERP"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(opts, strings.ToUpper(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Params, "params", "{}", "intent params as JSON")
	cmd.Flags().StringVar(&opts.Operator, "operator", "", "operator id (required)")
	cmd.Flags().StringVar(&opts.StateHash, "state-hash", "", "expected posture state hash")
	_ = cmd.MarkFlagRequired("operator")

	return cmd
}

func runPreview(opts *PreviewOptions, typ string, cmd *cobra.Command) error {
	params, err := parseParams(opts.Params)
	if err != nil {
		return err
	}

	req := control.PreviewRequest{
		Type:       intent.Type(typ),
		Params:     params,
		OperatorID: opts.Operator,
		StateHash:  opts.StateHash,
	}
	var res intent.PreviewResult
	if err := newClient(opts.Addr).do(cmd.Context(), "POST", "/api/preview", req, &res); err != nil {
		return err
	}

	if opts.Format == "json" {
		return printJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "allowed:           %t\n", res.Allowed)
	fmt.Fprintf(out, "rbac:              %t\n", res.RBACAllowed)
	fmt.Fprintf(out, "state hash valid:  %t\n", res.StateHashValid)
	fmt.Fprintf(out, "requires approval: %t\n", res.RequiresApproval)
	if res.Reason != "" {
		fmt.Fprintf(out, "reason:            %s\n", res.Reason)
	}
	if res.RiskDelta.PostureChange != "" {
		fmt.Fprintf(out, "posture change:    %s\n", res.RiskDelta.PostureChange)
	}
	if res.RiskDelta.ThrottleDelta != 0 {
		fmt.Fprintf(out, "throttle delta:    %.2f\n", res.RiskDelta.ThrottleDelta)
	}
	if res.RiskDelta.EstimatedNotional != 0 {
		fmt.Fprintf(out, "est. notional:     %.2f\n", res.RiskDelta.EstimatedNotional)
	}
	if len(res.BlastRadius.Phases) > 0 {
		fmt.Fprintf(out, "phases:            %s\n", strings.Join(res.BlastRadius.Phases, ", "))
	}
	if len(res.BlastRadius.Symbols) > 0 {
		fmt.Fprintf(out, "symbols:           %s\n", strings.Join(res.BlastRadius.Symbols, ", "))
	}
	return nil
}
