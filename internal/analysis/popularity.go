package analysis

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// popularity answers from grouped store counts directly; the result set is
// small enough that the batch scan machinery would be overhead.
func (e *Engine) popularity(ctx context.Context, params model.AnalysisParams) (*model.PopularityResult, error) {
	var cached model.PopularityResult
	key, hit := e.lookupCache(ctx, model.AnalysisPopularity, params, &cached)
	if hit {
		return &cached, nil
	}

	limit := params.Limit
	if limit <= 0 {
		limit = e.cfg.PopularityLimit
	}

	makes, err := e.store.TopMakes(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: top makes")
	}
	models, err := e.store.TopModels(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: top models")
	}

	res := &model.PopularityResult{PopularMakes: makes, PopularModels: models}
	e.saveCache(ctx, key, res)
	return res, nil
}
