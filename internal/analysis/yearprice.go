package analysis

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/batch"
	"github.com/coder895/car-market-analyzer/internal/model"
)

func (e *Engine) yearVsPrice(ctx context.Context, params model.AnalysisParams, progress func(float64)) (*model.YearPriceResult, error) {
	var cached model.YearPriceResult
	key, hit := e.lookupCache(ctx, model.AnalysisYearVsPrice, params, &cached)
	if hit {
		return &cached, nil
	}

	type yearPrices map[int][]float64
	byYear, err := foldListings(ctx, e, params.Filter, progress, yearPrices{},
		func(acc yearPrices, page []model.Listing) (yearPrices, error) {
			for _, l := range page {
				if l.Price == nil || *l.Price <= 0 || l.Year == nil || *l.Year <= 0 {
					continue
				}
				acc[*l.Year] = append(acc[*l.Year], *l.Price)
			}
			return acc, nil
		})
	if eris.Is(err, batch.ErrNoData) || (err == nil && len(byYear) == 0) {
		res := &model.YearPriceResult{NoData: true}
		e.saveCache(ctx, key, res)
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	res := &model.YearPriceResult{Years: years}
	var allPrices []float64
	for _, y := range years {
		prices := byYear[y]
		lo, hi := minMax(prices)
		res.AvgPrices = append(res.AvgPrices, mean(prices))
		res.MedianPrices = append(res.MedianPrices, discreteMedian(prices))
		res.MinPrices = append(res.MinPrices, lo)
		res.MaxPrices = append(res.MaxPrices, hi)
		res.Counts = append(res.Counts, len(prices))
		allPrices = append(allPrices, prices...)
	}

	xs := make([]float64, len(years))
	for i, y := range years {
		xs[i] = float64(y)
	}
	reg, err := linearRegression(xs, res.AvgPrices)
	if err != nil {
		zap.L().Debug("analysis: year regression skipped", zap.Error(err))
	} else {
		res.Regression = reg

		direction := "depreciation"
		if reg.Slope > 0 {
			direction = "appreciation"
		}
		overallMean := mean(allPrices)
		change := model.PriceChange{
			PerYear:   reg.Slope,
			Direction: direction,
		}
		if overallMean > 0 {
			change.PercentPerYear = reg.Slope / overallMean * 100
		}
		res.PriceChange = change
	}

	e.saveCache(ctx, key, res)
	return res, nil
}
