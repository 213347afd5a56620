package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quantfabric/opscore/internal/control"
	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/signature"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Params    string
	Operator  string
	Reason    string
	Key       string
	StateHash string
	Fresh     bool
	TTL       int
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <type>",
		Short: "Sign and submit an intent to the daemon",
		Long: `Sign and submit an intent to the daemon.

The intent id and idempotency key default to fresh UUIDs. Unless
--no-state-hash is given, the daemon's current state hash is fetched
first and attached, so the submission fails closed if posture changes
between read and write.

Example:
  opsctl submit ARM --operator alice --reason "resume after deploy"
  opsctl submit FLATTEN --operator alice --params '{"symbol":"*"}' --reason "risk event"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(opts, strings.ToUpper(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Params, "params", "{}", "intent params as JSON")
	cmd.Flags().StringVar(&opts.Operator, "operator", "", "operator id (required)")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "free-text reason recorded with the intent")
	cmd.Flags().StringVar(&opts.Key, "key", "", "idempotency key (default: a new UUID)")
	cmd.Flags().StringVar(&opts.StateHash, "state-hash", "", "expected posture state hash")
	cmd.Flags().BoolVar(&opts.Fresh, "no-state-hash", false, "submit without optimistic concurrency")
	cmd.Flags().IntVar(&opts.TTL, "ttl", 0, "execution TTL in seconds (0 = daemon default)")
	_ = cmd.MarkFlagRequired("operator")

	return cmd
}

func runSubmit(opts *SubmitOptions, typ string, cmd *cobra.Command) error {
	if opts.Secret == "" {
		return fmt.Errorf("no signing secret: pass --secret or set OPSCORE_HMAC_SECRET")
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return err
	}

	c := newClient(opts.Addr)
	ctx := cmd.Context()

	stateHash := opts.StateHash
	if stateHash == "" && !opts.Fresh {
		var resp struct {
			StateHash string `json:"state_hash"`
		}
		if err := c.do(ctx, "GET", "/api/statehash", nil, &resp); err != nil {
			return fmt.Errorf("fetch state hash: %w", err)
		}
		stateHash = resp.StateHash
	}

	sub := intent.Submission{
		ID:             uuid.NewString(),
		IdempotencyKey: opts.Key,
		Version:        1,
		Type:           intent.Type(typ),
		Params:         params,
		OperatorID:     opts.Operator,
		Reason:         opts.Reason,
		StateHash:      stateHash,
		TTLSeconds:     opts.TTL,
	}
	if sub.IdempotencyKey == "" {
		sub.IdempotencyKey = uuid.NewString()
	}
	sub.Signature, err = signature.NewVerifier(opts.Secret).Sign(sub.ID, sub.Type, sub.Params, sub.OperatorID)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	var res control.SubmitResult
	err = c.do(ctx, "POST", "/api/intents", sub, &res)
	if res.Status == "" {
		return err
	}

	if opts.Format == "json" {
		return printJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "submit:   %s\n", res.Status)
	fmt.Fprintf(out, "intent:   %s %s\n", res.Intent.Type, res.Intent.ID)
	fmt.Fprintf(out, "status:   %s\n", res.Intent.Status)
	if res.Code != "" {
		fmt.Fprintf(out, "error:    %s\n", res.Code)
	}
	if res.Intent.RejectionReason != "" {
		fmt.Fprintf(out, "reason:   %s\n", res.Intent.RejectionReason)
	}
	for _, v := range res.Violations {
		fmt.Fprintf(out, "  %s: %s\n", v.Field, v.Message)
	}
	if res.Status == control.SubmitAccepted && intent.RequiresApproval(res.Intent.Type) {
		fmt.Fprintf(out, "awaiting risk_owner approval: opsctl approve %s --approver <id>\n", res.Intent.ID)
	}
	return err
}
