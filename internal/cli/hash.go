package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/restcache/internal/ir"
	"github.com/roach88/restcache/internal/resolver"
)

// HashOptions holds flags for the hash command.
type HashOptions struct {
	*RootOptions
	URL    string
	Method string
	Params string // JSON object
}

// HashResult is the request key and the metadata it was derived from.
type HashResult struct {
	RequestKey   string   `json:"request_key"`
	Method       string   `json:"method"`
	URL          string   `json:"url"`
	Params       ir.Value `json:"params,omitempty"`
	ResourceType string   `json:"resource_type"`
	ResourceID   string   `json:"resource_id,omitempty"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HashOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the request key of a request descriptor",
		Long: `Compute the request key the cache uses for a request.

The query string is merged into the params and the method is
upper-cased, so logically identical requests print the same key.

Examples:
  restcache hash --url /articles
  restcache hash --url "/articles?page=2" --method get
  restcache hash --url /articles --params '{"page":"2"}' --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "request URL (required)")
	_ = cmd.MarkFlagRequired("url")
	cmd.Flags().StringVar(&opts.Method, "method", "GET", "HTTP method")
	cmd.Flags().StringVar(&opts.Params, "params", "", "params as a JSON object")

	return cmd
}

func runHash(opts *HashOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var params ir.Value
	if opts.Params != "" {
		v, err := ir.ParseJSON([]byte(opts.Params))
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid --params", err)
		}
		params = v
	}

	r, err := resolver.Canonicalize(resolver.Descriptor{
		Method: opts.Method,
		URL:    opts.URL,
		Params: params,
	})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "invalid request", err)
	}
	key, err := r.Key()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidInput, "cannot derive request key", err)
	}

	result := HashResult{
		RequestKey:   key,
		Method:       r.Method,
		URL:          r.URL,
		Params:       r.Params,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, key)
	formatter.VerboseLog("%s %s (%s)", result.Method, result.URL, result.ResourceType)
	return nil
}
