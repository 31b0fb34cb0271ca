package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/propwatch/ingest-cli/internal/monitoring"
)

var (
	statusJSON   bool
	statusCycles int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog completeness and recent crawl cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		collector := monitoring.NewCollector(st.Pool(), st)

		snap, err := collector.Collect(ctx)
		if err != nil {
			return err
		}
		cycles, err := collector.RecentCycles(ctx, statusCycles)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"completeness": snap,
				"cycles":       cycles,
			})
		}

		fmt.Printf("active listings: %d\n", snap.ActiveListings)
		fmt.Println("unclassified:")
		for dim, count := range snap.Unclassified {
			fmt.Printf("  %-14s %d\n", dim, count)
		}
		fmt.Println("field coverage:")
		for _, f := range snap.Fields {
			fmt.Printf("  %-14s %6d  %5.1f%%\n", f.Field, f.Populated, f.Coverage*100)
		}

		if len(cycles) > 0 {
			fmt.Println("recent cycles:")
			for _, c := range cycles {
				fmt.Printf("  %s  %-9s region=%-12s seen=%-6d ok=%-6d partial=%-5d failed=%-5d errors=%d\n",
					c.StartedAt.Format("2006-01-02 15:04"), c.Status, c.RegionCode,
					c.ListingsSeen, c.Succeeded, c.Partial, c.Failed, c.Errors.Total())
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit JSON instead of a table")
	statusCmd.Flags().IntVar(&statusCycles, "cycles", 10, "number of recent cycles to show")
	rootCmd.AddCommand(statusCmd)
}
