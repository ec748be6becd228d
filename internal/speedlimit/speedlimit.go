// Package speedlimit converts bandwidth limits into the whole-kilobyte
// form aria2 expects for max-download-limit.
package speedlimit

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ghermez/ariabridge/internal/rpc"
)

// OptionKey is the aria2 option a normalized limit is applied to.
const OptionKey = "max-download-limit"

// Unlimited disables throttling.
const Unlimited = "0"

const kibPerMiB = 1024

// ErrInvalidLimit is returned for a limit that is empty, has no numeric
// part, or is negative.
var ErrInvalidLimit = errors.New("invalid speed limit")

// Normalize converts limit to whole kilobytes with a "K" suffix.
//
// The last character is the unit. A "K" value is rounded as is; any other
// unit is taken as megabytes and multiplied by 1024. "0" passes through
// unchanged.
func Normalize(limit string) (string, error) {
	limit = strings.TrimSpace(limit)
	if limit == Unlimited {
		return limit, nil
	}
	if len(limit) < 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidLimit, limit)
	}

	unit := limit[len(limit)-1]
	value, err := strconv.ParseFloat(limit[:len(limit)-1], 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLimit, limit)
	}
	if value < 0 {
		return "", fmt.Errorf("%w: %q is negative", ErrInvalidLimit, limit)
	}

	if unit != 'K' {
		value *= kibPerMiB
	}

	return strconv.FormatInt(int64(math.Round(value)), 10) + "K", nil
}

// Option returns the aria2 option map that applies limit to a task.
func Option(limit string) (rpc.Options, error) {
	normalized, err := Normalize(limit)
	if err != nil {
		return nil, err
	}
	return rpc.Options{OptionKey: normalized}, nil
}
