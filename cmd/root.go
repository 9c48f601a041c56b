package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/solarmap/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "solarmap",
	Short: "Solar output estimates for drawn map areas",
	Long:  "Turns polygons drawn on a map into PVWatts solar production estimates, either live over HTTP for a map view or one-off from a GeoJSON, WKT or shapefile input.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
