package domain

import (
	"fmt"
	"strings"
)

// PartialPolicy decides the job-level outcome when some but not all images
// of a batch restore successfully.
type PartialPolicy string

const (
	// PartialBestEffort completes the job when at least one image succeeded;
	// the completion notice carries links for the succeeded images only.
	PartialBestEffort PartialPolicy = "best_effort"

	// PartialAllOrNothing fails the job if any image failed.
	PartialAllOrNothing PartialPolicy = "all_or_nothing"
)

func ParsePartialPolicy(raw string) (PartialPolicy, error) {
	switch PartialPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case PartialBestEffort, "":
		return PartialBestEffort, nil
	case PartialAllOrNothing:
		return PartialAllOrNothing, nil
	default:
		return "", fmt.Errorf("unsupported partial-success policy: %s", raw)
	}
}
