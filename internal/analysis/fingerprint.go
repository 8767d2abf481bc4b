package analysis

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/coder895/car-market-analyzer/internal/model"
)

// Fingerprint derives the cache key for one analysis request. Parameters are
// canonicalized through a key-sorted JSON round trip first, so two requests
// with the same fields always share a key regardless of construction order.
func Fingerprint(typ model.AnalysisType, params model.AnalysisParams) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", eris.Wrap(err, "analysis: marshal params")
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", eris.Wrap(err, "analysis: canonicalize params")
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", eris.Wrap(err, "analysis: remarshal params")
	}

	sum := md5.Sum(append([]byte(string(typ)+":"), canonical...))
	return string(typ) + ":" + hex.EncodeToString(sum[:]), nil
}
