package analysis

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/coder895/car-market-analyzer/internal/batch"
	"github.com/coder895/car-market-analyzer/internal/model"
)

func (e *Engine) priceDistribution(ctx context.Context, params model.AnalysisParams, progress func(float64)) (*model.PriceDistributionResult, error) {
	var cached model.PriceDistributionResult
	key, hit := e.lookupCache(ctx, model.AnalysisPriceDistribution, params, &cached)
	if hit {
		return &cached, nil
	}

	prices, err := foldListings(ctx, e, params.Filter, progress, []float64(nil),
		func(acc []float64, page []model.Listing) ([]float64, error) {
			for _, l := range page {
				if l.Price != nil && *l.Price > 0 {
					acc = append(acc, *l.Price)
				}
			}
			return acc, nil
		})
	if eris.Is(err, batch.ErrNoData) || (err == nil && len(prices) == 0) {
		res := &model.PriceDistributionResult{NoData: true}
		e.saveCache(ctx, key, res)
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res := &model.PriceDistributionResult{
		Buckets: bucketize(prices),
		Stats:   overallStats(prices),
		Mode:    sampleMode(prices),
	}
	e.saveCache(ctx, key, res)
	return res, nil
}

// bucketize builds the price histogram. Bucket count scales with sample size
// as clamp(n/10, 5, 20). Bounds are inclusive on both ends, so a price on a
// shared edge lands in both neighbors; chart tooltips rely on that.
func bucketize(prices []float64) []model.PriceBucket {
	lo, hi := minMax(prices)
	if lo == hi {
		return []model.PriceBucket{{
			Label: fmt.Sprintf("$%.0f-$%.0f", lo, hi),
			Min:   lo,
			Max:   hi,
			Count: len(prices),
		}}
	}

	n := len(prices) / 10
	if n < 5 {
		n = 5
	}
	if n > 20 {
		n = 20
	}

	width := (hi - lo) / float64(n)
	buckets := make([]model.PriceBucket, n)
	for i := range buckets {
		bMin := lo + float64(i)*width
		bMax := bMin + width
		if i == n-1 {
			// Absorb float rounding so the top price always lands.
			bMax = hi
		}
		count := 0
		for _, p := range prices {
			if p >= bMin && p <= bMax {
				count++
			}
		}
		buckets[i] = model.PriceBucket{
			Label: fmt.Sprintf("$%.0f-$%.0f", bMin, bMax),
			Min:   bMin,
			Max:   bMax,
			Count: count,
		}
	}
	return buckets
}
