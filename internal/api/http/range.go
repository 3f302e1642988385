package apihttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"moviestream/internal/domain"
)

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange resolves a Range header against a resource of size bytes.
// An empty header selects the whole resource with status 200. An open-ended
// range "bytes=N-" is limited to chunk bytes.
func parseByteRange(value string, size, chunk int64) (domain.Range, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Range{Start: 0, End: size - 1, Status: http.StatusOK}, nil
	}
	if size <= 0 {
		return domain.Range{}, errRangeNotSatisfiable
	}

	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "bytes=") {
		return domain.Range{}, errInvalidRange
	}

	spec := strings.TrimSpace(value[len("bytes="):])
	if spec == "" || strings.Contains(spec, ",") {
		return domain.Range{}, errInvalidRange
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return domain.Range{}, errInvalidRange
	}

	startStr := strings.TrimSpace(parts[0])
	endStr := strings.TrimSpace(parts[1])

	if startStr == "" {
		if endStr == "" {
			return domain.Range{}, errInvalidRange
		}
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return domain.Range{}, errInvalidRange
		}
		if suffix > size {
			suffix = size
		}
		return partial(size-suffix, size-1), nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return domain.Range{}, errInvalidRange
	}

	if endStr == "" {
		if start >= size {
			return domain.Range{}, errRangeNotSatisfiable
		}
		end := size - 1
		if chunk > 0 && start+chunk-1 < end {
			end = start + chunk - 1
		}
		return partial(start, end), nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 || end < start {
		return domain.Range{}, errInvalidRange
	}
	if start >= size {
		return domain.Range{}, errRangeNotSatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return partial(start, end), nil
}

func partial(start, end int64) domain.Range {
	return domain.Range{Start: start, End: end, Status: http.StatusPartialContent}
}
