// Package export writes a trained model as an ONNX graph plus the sidecar
// metadata file the inference runtime loads next to it.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"prisml-train/internal/common"
	"prisml-train/internal/dataset"
	"prisml-train/internal/ml"
	"prisml-train/internal/onnx"

	"github.com/rs/zerolog/log"
)

// ErrExport is returned when the model cannot be converted, when either
// artifact cannot be written, or when the written graph fails verification.
var ErrExport = errors.New("export failed")

// DefaultTolerance bounds the difference between in-memory predictions and
// the exported graph's outputs during verification.
const DefaultTolerance = 1e-4

// Request is everything needed to produce one artifact pair.
type Request struct {
	Model     ml.Model
	ModelPath string
	Metadata  dataset.Metadata
	Algorithm string
	Metrics   ml.Metrics

	// Rows the written graph is evaluated on when verification is enabled.
	VerifyRows [][]float64
}

// Artifacts are the files written by a successful export.
type Artifacts struct {
	ModelPath    string
	MetadataPath string
	ModelBytes   int
	Verified     bool
}

// Exporter writes artifact pairs. Verify re-reads the graph from disk and
// checks it against the in-memory model before reporting success.
type Exporter struct {
	Verify    bool
	Tolerance float64
}

// New returns an exporter with verification set as requested.
func New(verify bool) *Exporter {
	return &Exporter{Verify: verify, Tolerance: DefaultTolerance}
}

// MetadataPath derives the sidecar path by replacing the model file's
// extension: models/churn.onnx -> models/churn.metadata.json.
func MetadataPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + common.MetadataExtension
}

// Export converts req.Model and writes both files. Each file is written to a
// temporary name and renamed into place; on any failure neither file is left
// at its final path.
func (e *Exporter) Export(req Request) (*Artifacts, error) {
	featureNames := req.Metadata.FeatureNames
	graph, err := onnx.Convert(req.Model, len(featureNames), graphName(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}
	graph.Metadata = []onnx.KeyValue{
		{Key: "model_name", Value: req.Metadata.ModelName},
		{Key: "task_type", Value: req.Metadata.TaskType},
		{Key: "algorithm", Value: req.Algorithm},
		{Key: "feature_names", Value: strings.Join(featureNames, ",")},
	}
	modelBytes := graph.Marshal()

	sidecar, err := req.Metadata.Extended(req.Algorithm, req.Metrics.Map())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExport, err)
	}
	sidecarBytes, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encode metadata: %w", ErrExport, err)
	}

	art := &Artifacts{
		ModelPath:    req.ModelPath,
		MetadataPath: MetadataPath(req.ModelPath),
		ModelBytes:   len(modelBytes),
	}
	if art.MetadataPath == art.ModelPath {
		return nil, fmt.Errorf("%w: model path %s collides with its metadata path", ErrExport, req.ModelPath)
	}

	if err := writeFileAtomic(art.ModelPath, modelBytes, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write model: %w", ErrExport, err)
	}
	if err := writeFileAtomic(art.MetadataPath, append(sidecarBytes, '\n'), 0o644); err != nil {
		removeArtifacts(art.ModelPath)
		return nil, fmt.Errorf("%w: write metadata: %w", ErrExport, err)
	}

	if e.Verify {
		if err := e.verify(art.ModelPath, req); err != nil {
			removeArtifacts(art.ModelPath, art.MetadataPath)
			return nil, fmt.Errorf("%w: verify %s: %w", ErrExport, art.ModelPath, err)
		}
		art.Verified = true
	}

	log.Info().
		Str("model", art.ModelPath).
		Str("metadata", art.MetadataPath).
		Int("bytes", art.ModelBytes).
		Bool("verified", art.Verified).
		Msg("Model exported")
	return art, nil
}

func graphName(req Request) string {
	if req.Metadata.ModelName != "" {
		return req.Metadata.ModelName
	}
	base := filepath.Base(req.ModelPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func removeArtifacts(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("Failed to remove partial artifact")
		}
	}
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
