package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/propwatch/ingest-cli/internal/model"
	"github.com/propwatch/ingest-cli/internal/pipeline"
)

var (
	crawlRegion      string
	crawlWorkers     int
	crawlMaxPages    int
	crawlMaxListings int
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run one crawl cycle for a region",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client, err := initCatalog()
		if err != nil {
			return err
		}
		norm, err := initNormalizer(st)
		if err != nil {
			return err
		}

		workers := crawlWorkers
		if workers == 0 {
			workers = cfg.Crawl.Workers
		}
		maxPages := crawlMaxPages
		if maxPages == 0 {
			maxPages = cfg.Crawl.MaxPages
		}

		runner := pipeline.New(client, norm, st, initGeocoder(), pipeline.Options{
			Region:      crawlRegion,
			Workers:     workers,
			MaxPages:    maxPages,
			MaxListings: crawlMaxListings,
			DelistGrace: cfg.Crawl.DelistGrace,
		})

		report, err := runner.Run(ctx)
		if report != nil {
			fmt.Printf("cycle %s: %s\n", report.ID, report.Status)
			fmt.Printf("  pages=%d seen=%d ok=%d partial=%d failed=%d\n",
				report.PagesFetched, report.ListingsSeen, report.Succeeded, report.Partial, report.Failed)
			fmt.Printf("  new=%d price_changes=%d delisted=%d errors=%d\n",
				report.NewListings, report.PriceChanges, report.Delisted, report.Errors.Total())
			if err == nil && report.Status != model.CycleComplete {
				exitCode = 2
			}
		}
		return err
	},
}

func init() {
	crawlCmd.Flags().StringVar(&crawlRegion, "region", "", "region code to crawl (required)")
	crawlCmd.Flags().IntVar(&crawlWorkers, "workers", 0, "concurrent listing workers (default from config)")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "page cap, 0 = all pages (default from config)")
	crawlCmd.Flags().IntVar(&crawlMaxListings, "max-listings", 0, "listing cap per cycle, 0 = no cap")
	_ = crawlCmd.MarkFlagRequired("region")
	rootCmd.AddCommand(crawlCmd)
}
