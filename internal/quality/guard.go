// Package quality keeps untrustworthy viewer counts out of the store: inline checks for
// the sampler and finalizer, an offline backfill over historical rows, and review flags
// for creators that stay unresolved for too long.
package quality

import (
	"errors"
	"fmt"

	"github.com/shinypull/backend/internal/models"
	"github.com/shinypull/backend/internal/platform"
)

// ErrRejectedViewerCount is the parent of every inline rejection.
var ErrRejectedViewerCount = errors.New("viewer count rejected")

var (
	// ErrSentinelViewerCount marks a count the client produced on a failure path.
	ErrSentinelViewerCount = fmt.Errorf("%w: client-error fallback", ErrRejectedViewerCount)
	// ErrNegativeViewerCount marks a count no platform can report.
	ErrNegativeViewerCount = fmt.Errorf("%w: negative", ErrRejectedViewerCount)
)

// CheckViewerCount returns the observed count, or an error when the value must not be stored.
// An explicit 0 reported by the platform is valid.
func CheckViewerCount(vc platform.ViewerCount) (int, error) {
	n, ok := vc.Get()
	if !ok {
		return 0, fmt.Errorf("%w (%s)", ErrSentinelViewerCount, vc.Reason())
	}
	if n < 0 {
		return 0, fmt.Errorf("%w (%d)", ErrNegativeViewerCount, n)
	}
	return n, nil
}

// FilterSamples drops samples that could not have been observed and reports how many were dropped.
func FilterSamples(samples []models.Sample) ([]models.Sample, int) {
	kept := samples[:0:0]
	for _, s := range samples {
		if s.ViewerCount >= 0 {
			kept = append(kept, s)
		}
	}
	return kept, len(samples) - len(kept)
}
