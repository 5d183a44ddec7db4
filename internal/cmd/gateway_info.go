package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newGatewayInfoCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "gateway-info",
		Short: "Show the gateway URL, recommended shards and session start limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			info, err := c.BotInfo(ctx)
			if err != nil {
				return err
			}

			limit := info.SessionStartLimit
			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Field", "Value"})
			t.AppendRows([]table.Row{
				{"URL", info.URL},
				{"Recommended shards", info.Shards},
				{"Session starts", fmt.Sprintf("%d / %d", limit.Remaining, limit.Total)},
				{"Resets in", (time.Duration(limit.ResetAfter) * time.Millisecond).String()},
				{"Max concurrency", strconv.Itoa(limit.MaxConcurrency)},
			})
			_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}
