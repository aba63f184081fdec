package ml

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSplit is returned when the requested test fraction leaves either
// partition empty.
var ErrSplit = errors.New("invalid train/test split")

// UnsupportedAlgorithmError reports an algorithm that is not available for
// the requested task type.
type UnsupportedAlgorithmError struct {
	Algorithm string
	Task      string
	Supported []string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported algorithm %q for %s; choose from [%s]",
		e.Algorithm, e.Task, strings.Join(e.Supported, ", "))
}

// QualityGateError reports a held-out score below the configured minimum.
type QualityGateError struct {
	Metric    string
	Value     float64
	Threshold float64
}

func (e *QualityGateError) Error() string {
	return fmt.Sprintf("quality gate failed: %s %.4f < threshold %.4f", e.Metric, e.Value, e.Threshold)
}
