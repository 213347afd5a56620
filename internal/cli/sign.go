package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quantfabric/opscore/internal/intent"
	"github.com/quantfabric/opscore/internal/signature"
)

// SignOptions holds flags for the sign command.
type SignOptions struct {
	*RootOptions
	ID       string
	Params   string
	Operator string
}

// NewSignCommand creates the sign command. It never talks to the daemon;
// signing is purely local so secrets stay off the wire.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign <type>",
		Short: "Compute the HMAC signature for an intent without submitting it",
		Long: `Compute the HMAC signature for an intent without submitting it.

Example:
  opsctl sign ARM --operator alice
  opsctl sign THROTTLE_PHASE --operator alice --params '{"phase":"maker","pct":50}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(opts, strings.ToUpper(args[0]), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "intent id (default: a new UUID)")
	cmd.Flags().StringVar(&opts.Params, "params", "{}", "intent params as JSON")
	cmd.Flags().StringVar(&opts.Operator, "operator", "", "operator id (required)")
	_ = cmd.MarkFlagRequired("operator")

	return cmd
}

func runSign(opts *SignOptions, typ string, cmd *cobra.Command) error {
	if opts.Secret == "" {
		return fmt.Errorf("no signing secret: pass --secret or set OPSCORE_HMAC_SECRET")
	}
	params, err := parseParams(opts.Params)
	if err != nil {
		return err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	sig, err := signature.NewVerifier(opts.Secret).Sign(id, intent.Type(typ), params, opts.Operator)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	if opts.Format == "json" {
		return printJSON(cmd, map[string]string{"id": id, "signature": sig})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "id:        %s\n", id)
	fmt.Fprintf(cmd.OutOrStdout(), "signature: %s\n", sig)
	return nil
}

func parseParams(raw string) (map[string]any, error) {
	params := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("invalid --params JSON: %w", err)
	}
	return params, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
