package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"shaper/internal/headers"
	"shaper/internal/models"
)

type inspectOptions struct {
	policies   []string
	limits     []string
	retryAfter string
	output     string
}

func newInspectCommand() *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Decode rate limit header values",
		Example: `  shaper inspect --policy '"default";q=100;w=60' --limit '"default";r=5;t=30'
  shaper inspect --retry-after 120 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.policies) == 0 && len(opts.limits) == 0 && opts.retryAfter == "" {
				return errors.New("at least one of --policy, --limit or --retry-after is required")
			}
			return runInspect(cmd.OutOrStdout(), opts, time.Now())
		},
	}

	cmd.Flags().StringArrayVar(&opts.policies, "policy", nil, "RateLimit-Policy header value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.limits, "limit", nil, "RateLimit header value (repeatable)")
	cmd.Flags().StringVar(&opts.retryAfter, "retry-after", "", "Retry-After header value")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	return cmd
}

type inspectResult struct {
	Snapshot models.HeaderSnapshot `json:"snapshot"`
	Errors   []string              `json:"errors,omitempty"`
}

func runInspect(out io.Writer, opts *inspectOptions, now time.Time) error {
	h := http.Header{}
	for _, v := range opts.policies {
		h.Add(headers.HeaderRateLimitPolicy, v)
	}
	for _, v := range opts.limits {
		h.Add(headers.HeaderRateLimit, v)
	}
	if opts.retryAfter != "" {
		h.Set(headers.HeaderRetryAfter, opts.retryAfter)
	}

	snap, err := headers.NewDecoder(nil).Decode(h, now)
	result := inspectResult{Snapshot: snap}

	var perr *headers.ParseError
	if errors.As(err, &perr) {
		for _, e := range perr.Errors {
			result.Errors = append(result.Errors, e.Error())
		}
	}

	switch opts.output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "table":
		fmt.Fprint(out, renderSnapshot(snap))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "dropped: %s\n", e)
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", opts.output)
	}
}
