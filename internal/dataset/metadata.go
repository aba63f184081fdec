package dataset

import (
	"encoding/json"
	"fmt"
)

const (
	keyModelName    = "model_name"
	keyFeatureNames = "feature_names"
	keyTaskType     = "task_type"
	keyAlgorithm    = "algorithm"
	keyMetrics      = "metrics"
	keyTrainedAt    = "trained_at"
)

// Metadata describes the model the payload is meant to train. It is read-only
// after loading; upstream keys the trainer does not interpret are carried
// through untouched.
type Metadata struct {
	ModelName    string
	FeatureNames []string
	TaskType     string

	fields map[string]json.RawMessage
}

// Extended builds the sidecar record written next to the exported model:
// every upstream field, the resolved feature names and task type, the
// algorithm used, the held-out metrics and a null trained_at placeholder
// for the caller to fill in. The receiver is not modified.
func (m Metadata) Extended(algorithm string, metrics map[string]float64) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(m.fields)+5)
	for k, v := range m.fields {
		out[k] = v
	}

	set := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		out[key] = b
		return nil
	}

	if m.ModelName != "" {
		if err := set(keyModelName, m.ModelName); err != nil {
			return nil, err
		}
	}
	if err := set(keyFeatureNames, m.FeatureNames); err != nil {
		return nil, err
	}
	if err := set(keyTaskType, m.TaskType); err != nil {
		return nil, err
	}
	if err := set(keyAlgorithm, algorithm); err != nil {
		return nil, err
	}
	if err := set(keyMetrics, metrics); err != nil {
		return nil, err
	}
	out[keyTrainedAt] = json.RawMessage("null")

	return out, nil
}
