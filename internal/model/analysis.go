package model

import "time"

// AnalysisType names one of the supported analysis query shapes.
type AnalysisType string

const (
	AnalysisPriceTrends       AnalysisType = "price_trends"
	AnalysisPriceDistribution AnalysisType = "price_distribution"
	AnalysisMileageVsPrice    AnalysisType = "mileage_vs_price"
	AnalysisYearVsPrice       AnalysisType = "year_vs_price"
	AnalysisPopularity        AnalysisType = "popularity"
)

// TimePeriod is the trend-analysis window token.
type TimePeriod string

const (
	PeriodWeek    TimePeriod = "week"
	PeriodMonth   TimePeriod = "month"
	PeriodQuarter TimePeriod = "quarter"
	PeriodYear    TimePeriod = "year"
	PeriodAll     TimePeriod = "all"
)

// Cutoff translates the period into a listing_date lower bound relative to
// now. PeriodAll returns nil (no bound); unknown tokens fall back to a month.
func (p TimePeriod) Cutoff(now time.Time) *time.Time {
	var days int
	switch p {
	case PeriodAll:
		return nil
	case PeriodWeek:
		days = 7
	case PeriodMonth:
		days = 30
	case PeriodQuarter:
		days = 90
	case PeriodYear:
		days = 365
	default:
		days = 30
	}
	t := now.AddDate(0, 0, -days)
	return &t
}

// AnalysisParams is the full parameter set for one analysis request. The
// cache fingerprint is derived from its canonical JSON form.
type AnalysisParams struct {
	Filter     ListingFilter `json:"filters"`
	TimePeriod TimePeriod    `json:"time_period,omitempty"`
	Limit      int           `json:"limit,omitempty"`
}

// OverallStats summarizes a raw price sample.
type OverallStats struct {
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// Regression holds an ordinary least-squares fit.
type Regression struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  float64 `json:"r_squared"`
	PValue    float64 `json:"p_value"`
	StdErr    float64 `json:"std_err"`
}

// TrendInfo reports direction and significance of a fitted price trend.
type TrendInfo struct {
	Direction   string  `json:"direction"` // "up" or "down"
	Slope       float64 `json:"slope"`
	RSquared    float64 `json:"r_squared"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
}

// PriceTrendResult is the output of the price-trend analysis. The parallel
// slices share one index per (possibly binned) calendar date.
type PriceTrendResult struct {
	Dates        []string     `json:"dates"`
	AvgPrices    []float64    `json:"avg_prices"`
	MedianPrices []float64    `json:"median_prices"`
	MinPrices    []float64    `json:"min_prices"`
	MaxPrices    []float64    `json:"max_prices"`
	Counts       []int        `json:"counts"`
	Overall      OverallStats `json:"overall_stats"`
	Trend        *TrendInfo   `json:"trend,omitempty"`

	// Precomputed marks a fast-path answer reconstructed from stored
	// daily aggregates. In that mode Overall.StdDev is reported as 0
	// because the raw prices are unavailable.
	Precomputed bool `json:"precomputed,omitempty"`

	// NoData marks a run whose filter matched nothing. It is a normal,
	// cacheable outcome rather than an error.
	NoData bool `json:"no_data,omitempty"`
}

// PriceBucket is one histogram bin. Bounds are inclusive on both ends, so a
// price landing exactly on a shared edge counts toward both neighbors.
type PriceBucket struct {
	Label string  `json:"label"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// PriceDistributionResult is the output of the price-distribution analysis.
type PriceDistributionResult struct {
	Buckets []PriceBucket `json:"buckets"`
	Stats   OverallStats  `json:"stats"`
	// Mode is only reported when the sample has enough repeated values
	// for a mode to be meaningful.
	Mode *float64 `json:"mode,omitempty"`

	NoData bool `json:"no_data,omitempty"`
}

// Depreciation reports price loss per mile driven, derived from a negative
// regression slope.
type Depreciation struct {
	PerMile            float64 `json:"per_mile"`
	Per1000Miles       float64 `json:"per_1000_miles"`
	PercentPer1000Mile float64 `json:"percent_per_1000_miles"`
}

// MileagePriceResult is the output of the mileage-vs-price analysis.
type MileagePriceResult struct {
	ScatterMileages   []float64     `json:"scatter_mileages"`
	ScatterPrices     []float64     `json:"scatter_prices"`
	PredictionMileage []float64     `json:"prediction_mileages"`
	PredictionPrices  []float64     `json:"prediction_prices"`
	Regression        Regression    `json:"regression"`
	Count             int           `json:"count"`
	AvgMileage        float64       `json:"avg_mileage"`
	AvgPrice          float64       `json:"avg_price"`
	Correlation       float64       `json:"correlation"`
	Depreciation      *Depreciation `json:"depreciation,omitempty"`

	NoData bool `json:"no_data,omitempty"`
}

// PriceChange reports per-model-year appreciation or depreciation.
type PriceChange struct {
	PerYear        float64 `json:"per_year"`
	PercentPerYear float64 `json:"percent_per_year"`
	Direction      string  `json:"direction"` // "appreciation" or "depreciation"
}

// YearPriceResult is the output of the year-vs-price analysis.
type YearPriceResult struct {
	Years        []int       `json:"years"`
	AvgPrices    []float64   `json:"avg_prices"`
	MedianPrices []float64   `json:"median_prices"`
	MinPrices    []float64   `json:"min_prices"`
	MaxPrices    []float64   `json:"max_prices"`
	Counts       []int       `json:"counts"`
	Regression   Regression  `json:"regression"`
	PriceChange  PriceChange `json:"price_change"`

	NoData bool `json:"no_data,omitempty"`
}

// MakeCount is a grouped listing count for one make.
type MakeCount struct {
	Make  string `json:"make"`
	Count int    `json:"count"`
}

// ModelCount is a grouped listing count for one make/model pair.
type ModelCount struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Count int    `json:"count"`
}

// PopularityResult lists the most common makes and models by listing count.
type PopularityResult struct {
	PopularMakes  []MakeCount  `json:"popular_makes"`
	PopularModels []ModelCount `json:"popular_models"`
}
