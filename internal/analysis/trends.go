package analysis

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/coder895/car-market-analyzer/internal/batch"
	"github.com/coder895/car-market-analyzer/internal/model"
)

const dateLayout = "2006-01-02"

func (e *Engine) priceTrends(ctx context.Context, params model.AnalysisParams, progress func(float64)) (*model.PriceTrendResult, error) {
	var cached model.PriceTrendResult
	key, hit := e.lookupCache(ctx, model.AnalysisPriceTrends, params, &cached)
	if hit {
		return &cached, nil
	}

	f := params.Filter
	cutoff := params.TimePeriod.Cutoff(e.now())
	if cutoff != nil {
		f.ListingDateMin = cutoff
	}

	scoped := f.Make != "" && f.Model != ""

	if scoped && e.cfg.Precompute {
		res, err := e.trendsFromAggregates(ctx, params, f)
		if err != nil {
			zap.L().Warn("analysis: precomputed trend path failed, falling back to scan", zap.Error(err))
		} else if res != nil {
			e.saveCache(ctx, key, res)
			return res, nil
		}
	}

	// Group valid prices by the calendar date of the listing.
	type dayPrices map[string][]float64
	byDay, err := foldListings(ctx, e, f, progress, dayPrices{},
		func(acc dayPrices, page []model.Listing) (dayPrices, error) {
			for _, l := range page {
				if l.Price == nil || *l.Price <= 0 {
					continue
				}
				day := l.ListingDate.Format(dateLayout)
				acc[day] = append(acc[day], *l.Price)
			}
			return acc, nil
		})
	if eris.Is(err, batch.ErrNoData) {
		res := &model.PriceTrendResult{NoData: true}
		e.saveCache(ctx, key, res)
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	if len(byDay) == 0 {
		res := &model.PriceTrendResult{NoData: true}
		e.saveCache(ctx, key, res)
		return res, nil
	}

	dates := make([]string, 0, len(byDay))
	for d := range byDay {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	res := &model.PriceTrendResult{Dates: dates}
	var allPrices []float64
	for _, d := range dates {
		prices := byDay[d]
		lo, hi := minMax(prices)
		res.AvgPrices = append(res.AvgPrices, mean(prices))
		res.MedianPrices = append(res.MedianPrices, discreteMedian(prices))
		res.MinPrices = append(res.MinPrices, lo)
		res.MaxPrices = append(res.MaxPrices, hi)
		res.Counts = append(res.Counts, len(prices))
		allPrices = append(allPrices, prices...)
	}
	res.Overall = overallStats(allPrices)

	binTrendSeries(res, e.cfg.MaxChartPoints)
	res.Trend = fitTrend(res.AvgPrices)

	if scoped && e.cfg.Precompute {
		e.writeBackAggregates(ctx, f, res.Overall)
	}

	e.saveCache(ctx, key, res)
	return res, nil
}

// fitTrend regresses the mean-price series against its index. Degenerate
// input drops the trend block rather than failing the analysis.
func fitTrend(avgPrices []float64) *model.TrendInfo {
	if len(avgPrices) < 3 {
		return nil
	}
	xs := make([]float64, len(avgPrices))
	for i := range xs {
		xs[i] = float64(i)
	}
	reg, err := linearRegression(xs, avgPrices)
	if err != nil {
		zap.L().Debug("analysis: trend regression skipped", zap.Error(err))
		return nil
	}

	direction := "down"
	if reg.Slope > 0 {
		direction = "up"
	}
	return &model.TrendInfo{
		Direction:   direction,
		Slope:       reg.Slope,
		RSquared:    reg.RSquared,
		PValue:      reg.PValue,
		Significant: reg.PValue < 0.05,
	}
}

// binTrendSeries downsamples the date series in place to at most maxPoints
// by merging contiguous runs of equal size. The last date of each run
// becomes the bin label, preserving chronological order.
func binTrendSeries(res *model.PriceTrendResult, maxPoints int) {
	n := len(res.Dates)
	if n <= maxPoints {
		return
	}
	binSize := (n + maxPoints - 1) / maxPoints

	var (
		dates      []string
		avgs, meds []float64
		mins, maxs []float64
		counts     []int
	)
	for start := 0; start < n; start += binSize {
		end := start + binSize
		if end > n {
			end = n
		}
		dates = append(dates, res.Dates[end-1])
		avgs = append(avgs, mean(res.AvgPrices[start:end]))
		meds = append(meds, mean(res.MedianPrices[start:end]))
		lo, _ := minMax(res.MinPrices[start:end])
		_, hi := minMax(res.MaxPrices[start:end])
		mins = append(mins, lo)
		maxs = append(maxs, hi)
		total := 0
		for _, c := range res.Counts[start:end] {
			total += c
		}
		counts = append(counts, total)
	}

	res.Dates = dates
	res.AvgPrices = avgs
	res.MedianPrices = meds
	res.MinPrices = mins
	res.MaxPrices = maxs
	res.Counts = counts
}

// trendsFromAggregates reconstructs the trend series from stored per-day
// MarketStat rows. Returns (nil, nil) when no aggregates exist so the caller
// falls through to the full scan. The fast path reports a count-weighted
// overall mean and no standard deviation, since raw prices are unavailable.
func (e *Engine) trendsFromAggregates(ctx context.Context, params model.AnalysisParams, f model.ListingFilter) (*model.PriceTrendResult, error) {
	q := model.MarketStatQuery{Make: f.Make, Model: f.Model}
	if f.YearMin != nil {
		q.YearMin = f.YearMin
	}
	if f.YearMax != nil {
		q.YearMax = f.YearMax
	}
	if cutoff := params.TimePeriod.Cutoff(e.now()); cutoff != nil {
		q.DateFrom = cutoff.Format(dateLayout)
	}

	stats, err := e.store.GetMarketStats(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: load aggregates")
	}
	if len(stats) == 0 {
		return nil, nil
	}

	type day struct {
		avg, median, min, max float64
		count                 int
		hasAvg, hasCount      bool
	}
	byDay := map[string]*day{}
	for _, st := range stats {
		d := byDay[st.Date]
		if d == nil {
			d = &day{}
			byDay[st.Date] = d
		}
		switch st.Type {
		case model.StatAvgPrice:
			d.avg, d.hasAvg = st.Value, true
		case model.StatMedianPrice:
			d.median = st.Value
		case model.StatMinPrice:
			d.min = st.Value
		case model.StatMaxPrice:
			d.max = st.Value
		case model.StatCount:
			d.count, d.hasCount = int(st.Value), true
		}
	}

	dates := make([]string, 0, len(byDay))
	for date, d := range byDay {
		if d.hasAvg && d.hasCount && d.count > 0 {
			dates = append(dates, date)
		}
	}
	if len(dates) == 0 {
		return nil, nil
	}
	sort.Strings(dates)

	res := &model.PriceTrendResult{Dates: dates, Precomputed: true}
	var (
		weightedSum float64
		totalCount  int
		medians     []float64
	)
	for _, date := range dates {
		d := byDay[date]
		res.AvgPrices = append(res.AvgPrices, d.avg)
		res.MedianPrices = append(res.MedianPrices, d.median)
		res.MinPrices = append(res.MinPrices, d.min)
		res.MaxPrices = append(res.MaxPrices, d.max)
		res.Counts = append(res.Counts, d.count)
		weightedSum += d.avg * float64(d.count)
		totalCount += d.count
		medians = append(medians, d.median)
	}

	lo, _ := minMax(res.MinPrices)
	_, hi := minMax(res.MaxPrices)
	res.Overall = model.OverallStats{
		Count: totalCount,
		Avg:   weightedSum / float64(totalCount),
		// Middle element of the date-ordered daily medians, not a true
		// median; raw prices are unavailable on this path.
		Median: medians[len(medians)/2],
		Min:    lo,
		Max:    hi,
		StdDev: 0,
	}

	binTrendSeries(res, e.cfg.MaxChartPoints)
	res.Trend = fitTrend(res.AvgPrices)
	return res, nil
}

// writeBackAggregates persists today's overall stats as MarketStat rows so
// later queries for the same make+model can take the fast path. Best effort;
// aggregates only accumulate going forward, there is no historical backfill.
func (e *Engine) writeBackAggregates(ctx context.Context, f model.ListingFilter, overall model.OverallStats) {
	if overall.Count == 0 {
		return
	}
	today := e.now().Format(dateLayout)
	stats := []model.MarketStat{
		{Type: model.StatAvgPrice, Value: overall.Avg},
		{Type: model.StatMedianPrice, Value: overall.Median},
		{Type: model.StatMinPrice, Value: overall.Min},
		{Type: model.StatMaxPrice, Value: overall.Max},
		{Type: model.StatCount, Value: float64(overall.Count)},
	}
	for _, st := range stats {
		st.Date = today
		st.Make = f.Make
		st.Model = f.Model
		st.YearMin = f.YearMin
		st.YearMax = f.YearMax
		st.SampleSize = overall.Count
		if err := e.store.SaveMarketStat(ctx, st); err != nil {
			zap.L().Warn("analysis: aggregate write-back failed",
				zap.String("stat_type", string(st.Type)), zap.Error(err))
		}
	}
}
