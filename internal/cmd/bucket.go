package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/chrisboulton/fluxer-go/rest"
)

func newBucketCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bucket <method> <endpoint>...",
		Short: "Show the rate limit bucket of each endpoint",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := args[0]
			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Endpoint", "Bucket"})
			for _, endpoint := range args[1:] {
				t.AppendRow(table.Row{endpoint, rest.BucketKey(method, endpoint)})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return err
		},
	}
}

// bucketTable renders the state of every bucket a client has used.
func bucketTable(states []rest.BucketState) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Bucket", "Limit", "Remaining", "Reset", "Queued"})
	for _, s := range states {
		limit := "-"
		if s.Limit >= 0 {
			limit = fmt.Sprint(s.Limit)
		}
		reset := "-"
		if !s.Reset.IsZero() {
			reset = s.Reset.Format("15:04:05.000")
		}
		t.AppendRow(table.Row{s.Key, limit, s.Remaining, reset, s.Queued})
	}
	return t.Render()
}
