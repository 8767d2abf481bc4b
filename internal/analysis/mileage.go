package analysis

import (
	"context"
	"math/rand/v2"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/coder895/car-market-analyzer/internal/batch"
	"github.com/coder895/car-market-analyzer/internal/model"
)

type mileagePoint struct {
	mileage, price float64
}

func (e *Engine) mileageVsPrice(ctx context.Context, params model.AnalysisParams, progress func(float64)) (*model.MileagePriceResult, error) {
	var cached model.MileagePriceResult
	key, hit := e.lookupCache(ctx, model.AnalysisMileageVsPrice, params, &cached)
	if hit {
		return &cached, nil
	}

	points, err := foldListings(ctx, e, params.Filter, progress, []mileagePoint(nil),
		func(acc []mileagePoint, page []model.Listing) ([]mileagePoint, error) {
			for _, l := range page {
				if l.Price == nil || *l.Price <= 0 || l.Mileage == nil || *l.Mileage <= 0 {
					continue
				}
				acc = append(acc, mileagePoint{float64(*l.Mileage), *l.Price})
			}
			return acc, nil
		})
	if eris.Is(err, batch.ErrNoData) || (err == nil && len(points) == 0) {
		res := &model.MileagePriceResult{NoData: true}
		e.saveCache(ctx, key, res)
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	mileages := make([]float64, len(points))
	prices := make([]float64, len(points))
	for i, p := range points {
		mileages[i] = p.mileage
		prices[i] = p.price
	}

	res := &model.MileagePriceResult{
		Count:      len(points),
		AvgMileage: mean(mileages),
		AvgPrice:   mean(prices),
	}

	reg, err := linearRegression(mileages, prices)
	if err != nil {
		zap.L().Debug("analysis: mileage regression skipped", zap.Error(err))
	} else {
		res.Regression = reg
		res.Correlation = stat.Correlation(mileages, prices, nil)
		res.PredictionMileage, res.PredictionPrices = predictionLine(mileages, reg)
		if reg.Slope < 0 && res.AvgPrice > 0 {
			perMile := -reg.Slope
			res.Depreciation = &model.Depreciation{
				PerMile:            perMile,
				Per1000Miles:       perMile * 1000,
				PercentPer1000Mile: perMile * 1000 / res.AvgPrice * 100,
			}
		}
	}

	res.ScatterMileages, res.ScatterPrices = downsampleScatter(mileages, prices, e.cfg.MaxChartPoints)

	e.saveCache(ctx, key, res)
	return res, nil
}

// predictionLine spaces up to min(20, n/5) points evenly across the observed
// mileage range and evaluates the fit at each.
func predictionLine(mileages []float64, reg model.Regression) ([]float64, []float64) {
	n := len(mileages) / 5
	if n > 20 {
		n = 20
	}
	if n < 2 {
		n = 2
	}
	lo, hi := minMax(mileages)
	step := (hi - lo) / float64(n-1)

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		x := lo + float64(i)*step
		xs[i] = x
		ys[i] = reg.Intercept + reg.Slope*x
	}
	return xs, ys
}

// downsampleScatter takes a uniform random sample without replacement when
// the scatter exceeds the chart ceiling. Intentionally non-deterministic:
// repeated cache-expired calls may plot different subsets of the same data.
func downsampleScatter(xs, ys []float64, maxPoints int) ([]float64, []float64) {
	n := len(xs)
	if n <= maxPoints {
		return xs, ys
	}
	perm := rand.Perm(n)[:maxPoints]

	outX := make([]float64, maxPoints)
	outY := make([]float64, maxPoints)
	for i, idx := range perm {
		outX[i] = xs[idx]
		outY[i] = ys[idx]
	}
	return outX, outY
}
