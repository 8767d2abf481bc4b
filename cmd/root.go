package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "car-market-analyzer",
	Short: "Used-car marketplace listing tracker and analyzer",
	Long:  "Stores scraped car listings compactly, serves filtered queries, and runs cached statistical analyses over the market.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
