package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errUnsatisfiableRange = errors.New("unsatisfiable range")

// parseRange parses a single-range header of the form
// "bytes=<start>-<end>", where either side may be omitted. Omitted start with
// a suffix length means "last N bytes". The returned span satisfies
// 0 <= start <= end < size.
func parseRange(spec string, size int64) (int64, int64, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(spec, prefix) {
		return 0, 0, fmt.Errorf("%w: missing bytes unit", errUnsatisfiableRange)
	}
	spec = strings.TrimSpace(strings.TrimPrefix(spec, prefix))
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("%w: multiple ranges not supported", errUnsatisfiableRange)
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, fmt.Errorf("%w: missing separator", errUnsatisfiableRange)
	}
	startStr := strings.TrimSpace(spec[:dash])
	endStr := strings.TrimSpace(spec[dash+1:])

	if startStr == "" {
		// suffix range: last N bytes
		if endStr == "" {
			return 0, 0, fmt.Errorf("%w: empty range", errUnsatisfiableRange)
		}
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, fmt.Errorf("%w: bad suffix length", errUnsatisfiableRange)
		}
		if suffix > size {
			suffix = size
		}
		if size == 0 {
			return 0, 0, fmt.Errorf("%w: empty resource", errUnsatisfiableRange)
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("%w: bad start", errUnsatisfiableRange)
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return 0, 0, fmt.Errorf("%w: bad end", errUnsatisfiableRange)
		}
	}

	if start >= size || start > end || end >= size {
		return 0, 0, fmt.Errorf("%w: span outside resource", errUnsatisfiableRange)
	}
	return start, end, nil
}
