// Package dataset loads labeled training payloads produced by the upstream
// feature extractor. A payload is a JSON document holding a feature matrix,
// a label vector and an optional metadata object describing the model.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"prisml-train/internal/common"

	"github.com/rs/zerolog/log"
)

// ErrMalformedInput is returned when the payload is missing, unparseable or
// structurally inconsistent.
var ErrMalformedInput = errors.New("malformed input")

// Dataset is a feature matrix paired 1:1 with a label vector.
// Rows are samples, columns are the named features in Metadata.
type Dataset struct {
	Features [][]float64
	Labels   []float64
	Metadata Metadata
}

// NumSamples returns the number of rows.
func (d *Dataset) NumSamples() int {
	return len(d.Features)
}

// NumFeatures returns the number of columns.
func (d *Dataset) NumFeatures() int {
	if len(d.Features) == 0 {
		return 0
	}
	return len(d.Features[0])
}

// payload decodes numbers through pointers so that a JSON null is seen as
// missing rather than read as zero.
type payload struct {
	Features [][]*float64               `json:"features"`
	Labels   []*float64                 `json:"labels"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// Load reads and validates the payload at path.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrMalformedInput, path, err)
	}

	ds, err := Parse(data)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("file", path).
		Int("samples", ds.NumSamples()).
		Int("features", ds.NumFeatures()).
		Str("task", ds.Metadata.TaskType).
		Msg("Training data loaded")

	return ds, nil
}

// Parse validates a payload already held in memory.
func Parse(data []byte) (*Dataset, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedInput, err)
	}

	if p.Features == nil {
		return nil, fmt.Errorf("%w: missing required field \"features\"", ErrMalformedInput)
	}
	if p.Labels == nil {
		return nil, fmt.Errorf("%w: missing required field \"labels\"", ErrMalformedInput)
	}
	if len(p.Features) == 0 {
		return nil, fmt.Errorf("%w: \"features\" is empty", ErrMalformedInput)
	}
	if len(p.Features) != len(p.Labels) {
		return nil, fmt.Errorf("%w: %d feature rows but %d labels",
			ErrMalformedInput, len(p.Features), len(p.Labels))
	}

	width := len(p.Features[0])
	if width == 0 {
		return nil, fmt.Errorf("%w: feature rows must not be empty", ErrMalformedInput)
	}

	features := make([][]float64, len(p.Features))
	for i, row := range p.Features {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, expected %d",
				ErrMalformedInput, i, len(row), width)
		}
		coerced := make([]float64, width)
		for j, pv := range row {
			if pv == nil {
				return nil, fmt.Errorf("%w: row %d column %d is null", ErrMalformedInput, i, j)
			}
			v := *pv
			// Values travel through the graph as float32.
			f := float64(float32(v))
			if math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: row %d column %d value %g overflows float32",
					ErrMalformedInput, i, j, v)
			}
			coerced[j] = f
		}
		features[i] = coerced
	}

	labels := make([]float64, len(p.Labels))
	for i, pv := range p.Labels {
		if pv == nil {
			return nil, fmt.Errorf("%w: label %d is null", ErrMalformedInput, i)
		}
		labels[i] = *pv
	}

	meta, err := parseMetadata(p.Metadata, width)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		Features: features,
		Labels:   labels,
		Metadata: meta,
	}, nil
}

func parseMetadata(raw map[string]json.RawMessage, width int) (Metadata, error) {
	meta := Metadata{
		TaskType: common.DefaultTaskType,
		fields:   make(map[string]json.RawMessage, len(raw)),
	}
	for k, v := range raw {
		meta.fields[k] = v
	}

	if v, ok := raw[keyModelName]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &meta.ModelName); err != nil {
			return Metadata{}, fmt.Errorf("%w: metadata.model_name must be a string", ErrMalformedInput)
		}
	}

	if v, ok := raw[keyTaskType]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &meta.TaskType); err != nil {
			return Metadata{}, fmt.Errorf("%w: metadata.task_type must be a string", ErrMalformedInput)
		}
	}
	if meta.TaskType != common.TaskClassification && meta.TaskType != common.TaskRegression {
		return Metadata{}, fmt.Errorf("%w: unknown task_type %q, expected %q or %q",
			ErrMalformedInput, meta.TaskType, common.TaskClassification, common.TaskRegression)
	}

	if v, ok := raw[keyFeatureNames]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &meta.FeatureNames); err != nil {
			return Metadata{}, fmt.Errorf("%w: metadata.feature_names must be a list of strings", ErrMalformedInput)
		}
		if len(meta.FeatureNames) != width {
			return Metadata{}, fmt.Errorf("%w: %d feature names for %d feature columns",
				ErrMalformedInput, len(meta.FeatureNames), width)
		}
	} else {
		meta.FeatureNames = DefaultFeatureNames(width)
	}

	return meta, nil
}

// DefaultFeatureNames returns f0..f{n-1}.
func DefaultFeatureNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("f%d", i)
	}
	return names
}

func isNull(v json.RawMessage) bool {
	return string(v) == "null"
}
