package feed

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ParseJSON decodes a JSON array of listing records streaming, so large
// feed exports never load fully into memory. Rows that fail to map are
// counted and skipped; malformed JSON aborts the whole parse.
func ParseJSON(ctx context.Context, r io.Reader) (Result, error) {
	var res Result

	decoder := json.NewDecoder(r)

	tok, err := decoder.Token()
	if err != nil {
		if err == io.EOF {
			return res, nil
		}
		return res, eris.Wrap(err, "feed: read opening token")
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '[' {
		return res, eris.Errorf("feed: expected '[', got %v", tok)
	}

	for decoder.More() {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "feed: context cancelled")
		}

		var rec record
		if err := decoder.Decode(&rec); err != nil {
			return res, eris.Wrap(err, "feed: decode record")
		}

		l, err := rec.toListing()
		if err != nil {
			zap.L().Warn("skipping feed record", zap.String("id", rec.ID), zap.Error(err))
			res.Skipped++
			continue
		}
		res.Listings = append(res.Listings, l)
	}

	if _, err := decoder.Token(); err != nil && err != io.EOF {
		return res, eris.Wrap(err, "feed: read closing token")
	}

	return res, nil
}
