package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rasterline/imagery-retriever/core"
)

var gridCmd = &cobra.Command{
	Use:   "grid [key...]",
	Short: "Print grid zone bounds and projections",
	Long: `grid prints one line per zone key: the key, its projected
coordinate system, and its geographic bounds as west, south, east,
north. With no arguments every zone is listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := core.NewGridRegistry()
		keys := args
		if len(keys) == 0 {
			keys = registry.Keys()
		}
		for _, key := range keys {
			bounds, err := registry.Lookup(key)
			if err != nil {
				return err
			}
			proj, err := core.ResolveProjection(key)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\t%g\t%g\t%g\t%g\n",
				key, proj.Code(), bounds.West, bounds.South, bounds.East, bounds.North)
		}
		return nil
	},
}
