package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/model"
)

var (
	analyzePeriod string
	analyzeLimit  int
)

var analyzeCmd = &cobra.Command{
	Use:       "analyze <type>",
	Short:     "Run one analysis and print the result as JSON",
	Long:      "Types: price_trends, price_distribution, mileage_vs_price, year_vs_price, popularity.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"price_trends", "price_distribution", "mileage_vs_price", "year_vs_price", "popularity"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		params := model.AnalysisParams{
			Filter:     listingFilterFromFlags(),
			TimePeriod: model.TimePeriod(analyzePeriod),
			Limit:      analyzeLimit,
		}

		id, err := env.Runner.Start(ctx, model.AnalysisType(args[0]), params)
		if err != nil {
			return eris.Wrap(err, "start analysis")
		}

		info, err := env.Runner.Wait(ctx, id)
		if err != nil {
			return eris.Wrap(err, "wait for analysis")
		}
		if info.Status != model.JobStatusCompleted {
			return eris.Errorf("analysis %s: %s", info.Status, info.Error)
		}

		result, _, err := env.Runner.Result(id)
		if err != nil {
			return eris.Wrap(err, "fetch result")
		}

		zap.L().Debug("analysis finished", zap.String("job_id", id))
		return printJSON(result)
	},
}

func init() {
	addFilterFlags(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzePeriod, "period", "", "time window: week, month, quarter, year, all")
	analyzeCmd.Flags().IntVar(&analyzeLimit, "limit", 0, "top-N size for popularity")
	rootCmd.AddCommand(analyzeCmd)
}
