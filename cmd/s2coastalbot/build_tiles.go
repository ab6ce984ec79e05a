package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"S2CoastalBot/internal/coastal"
)

var (
	gridPath      string
	coastlinePath string
	tilesOutPath  string
)

var buildTilesCmd = &cobra.Command{
	Use:   "build-tiles",
	Short: "Build the coastal tile dataset",
	Long:  "Intersect a Sentinel-2 tiling grid with a coastline dataset (both GeoJSON) and write one point per coastal tile.",
	RunE:  runBuildTiles,
}

func init() {
	rootCmd.AddCommand(buildTilesCmd)

	buildTilesCmd.Flags().StringVar(&gridPath, "grid", "", "Sentinel-2 tiling grid as a GeoJSON FeatureCollection")
	buildTilesCmd.Flags().StringVar(&coastlinePath, "coastline", "", "Coastline lines as a GeoJSON FeatureCollection")
	buildTilesCmd.Flags().StringVarP(&tilesOutPath, "out", "o", "data/coastal_tiles.geojson", "Output path")
	_ = buildTilesCmd.MarkFlagRequired("grid")
	_ = buildTilesCmd.MarkFlagRequired("coastline")
}

func runBuildTiles(cmd *cobra.Command, _ []string) error {
	logger := standaloneLogger()

	grid, err := readFeatureCollection(gridPath)
	if err != nil {
		return err
	}
	coastline, err := readFeatureCollection(coastlinePath)
	if err != nil {
		return err
	}

	tiles, err := coastal.BuildCoastalTiles(grid, coastline, logger)
	if err != nil {
		return err
	}

	raw, err := tiles.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode tiles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(tilesOutPath), 0o750); err != nil {
		return err
	}
	if err := os.WriteFile(tilesOutPath, raw, 0o644); err != nil {
		return fmt.Errorf("write tiles: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d coastal tiles written to %s\n", len(tiles.Features), tilesOutPath)
	return nil
}

func readFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}
