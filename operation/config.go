package operation

import (
	"strconv"

	"github.com/cockroachdb/errors"
)

const (
	CacheSizeOption = "resultset.cache.size"

	DefaultMaxCacheRows = 100000
	DefaultFetchSize    = 1024
)

// Config is how an operation caches its results, resolved once from the
// options overlay of the statement.
type Config struct {
	CachingEnabled bool
	RowLimit       int
}

// ParseConfig resolves the overlay into a Config. Caching is enabled only when
// the overlay names a row limit which is an integer from 0 to maxRows.
func ParseConfig(overlay map[string]string, maxRows int) (Config, error) {
	val, ok := overlay[CacheSizeOption]
	if !ok {
		return Config{}, nil
	}

	n, err := strconv.ParseUint(val, 10, 63)
	if err == nil && n > uint64(maxRows) {
		return Config{}, errors.Mark(
			errors.Newf("Requested result-cache size of %d exceeds the server's maximum of %d",
				n, maxRows),
			ErrConfig)
	} else if errors.Is(err, strconv.ErrRange) {
		return Config{}, errors.Mark(
			errors.Newf("Requested result-cache size of %s exceeds the server's maximum of %d",
				val, maxRows),
			ErrConfig)
	} else if err != nil {
		return Config{}, errors.Mark(
			errors.Newf("Invalid value '%s' for '%s' option", val, CacheSizeOption),
			ErrConfig)
	}

	return Config{
		CachingEnabled: true,
		RowLimit:       int(n),
	}, nil
}
