package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chrisboulton/fluxer-go"
	"github.com/chrisboulton/fluxer-go/gateway"
)

func newShardForCmd(a *app) *cobra.Command {
	var shards int

	cmd := &cobra.Command{
		Use:   "shard-for <guild-id>...",
		Short: "Show which shard receives the events of a guild",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if shards < 1 {
				return fmt.Errorf("--shards must be at least 1")
			}
			for _, arg := range args {
				id, err := fluxer.ParseSnowflake(arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tshard %d/%d\tcreated %s\n",
					id, gateway.ShardIDForGuild(uint64(id), shards), shards, id.Time().UTC().Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&shards, "shards", 1, "total shard count")
	return cmd
}
