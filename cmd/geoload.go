package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/propwatch/ingest-cli/internal/geo"
)

var (
	geoCodeField string
	geoNameField string
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Region boundary utilities",
}

var geoLoadCmd = &cobra.Command{
	Use:   "load <shapefile>",
	Short: "Load region bounding boxes from a shapefile or ZIP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		loaded, err := geo.LoadRegions(ctx, st, args[0], geo.LoadOptions{
			CodeField: geoCodeField,
			NameField: geoNameField,
		})
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d regions\n", loaded)
		return nil
	},
}

func init() {
	geoLoadCmd.Flags().StringVar(&geoCodeField, "code-field", "", "shapefile attribute holding the region code")
	geoLoadCmd.Flags().StringVar(&geoNameField, "name-field", "", "shapefile attribute holding the region name")
	geoCmd.AddCommand(geoLoadCmd)
	rootCmd.AddCommand(geoCmd)
}
