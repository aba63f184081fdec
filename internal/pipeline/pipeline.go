// Package pipeline drives one training run: load the dataset, train and gate
// the model, export the artifact pair. Every stage either advances the run or
// fails it; nothing is retried.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"prisml-train/internal/dataset"
	"prisml-train/internal/export"
	"prisml-train/internal/ml"
	"prisml-train/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Stage names a unit of work that can fail a run.
type Stage string

const (
	StageLoad   Stage = "load"
	StageTrain  Stage = "train"
	StageExport Stage = "export"
)

// State is the position of a run in Start → Loaded → TrainedEvaluated →
// Exported → Done. Any stage may move it to Failed instead.
type State int

const (
	StateStart State = iota
	StateLoaded
	StateTrainedEvaluated
	StateExported
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateLoaded:
		return "loaded"
	case StateTrainedEvaluated:
		return "trained_evaluated"
	case StateExported:
		return "exported"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageError wraps the error that failed a run with the stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// Recorder receives run metrics.
type Recorder interface {
	ObserveStage(stage string, d time.Duration)
	RecordDataset(samples, features int)
	RecordTraining(train, test int, scores map[string]float64)
	RecordArtifact(bytes int)
	RecordOutcome(succeeded bool, finished time.Time)
	WriteTextfile(path string) error
}

// HistoryStore persists a record of every run.
type HistoryStore interface {
	StoreRun(run storage.Run) error
}

// Notifier announces a finished run.
type Notifier interface {
	Send(ctx context.Context, payload any) error
}

// Config is the resolved input of one run.
type Config struct {
	InputPath    string
	OutputPath   string
	Algorithm    string
	TestSplit    float64
	MinScore     float64
	Seed         int64
	VerifyExport bool
	MetricsFile  string
}

// Outcome describes a run, finished or failed. On failure the fields reached
// before the failing stage are filled in.
type Outcome struct {
	RunID      string
	State      State
	ModelName  string
	Algorithm  string
	Task       string
	Samples    int
	Features   int
	TrainSize  int
	TestSize   int
	Scores     map[string]float64
	Artifacts  *export.Artifacts
	StartedAt  time.Time
	FinishedAt time.Time
}

// Option configures a Driver.
type Option func(*Driver)

// WithRecorder sends run metrics to r.
func WithRecorder(r Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithHistory stores a record of the run in h.
func WithHistory(h HistoryStore) Option {
	return func(d *Driver) { d.history = h }
}

// WithNotifier announces the finished run through n.
func WithNotifier(n Notifier) Option {
	return func(d *Driver) { d.notifier = n }
}

// Driver runs the pipeline for one Config.
type Driver struct {
	cfg      Config
	recorder Recorder
	history  HistoryStore
	notifier Notifier
	now      func() time.Time
}

// New creates a driver. Metrics, history and notification are off unless
// configured through options.
func New(cfg Config, opts ...Option) *Driver {
	d := &Driver{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes the pipeline. The returned Outcome is never nil; the error is
// nil exactly when the run reached StateDone, and is otherwise a *StageError.
// Recording the run (metrics, history, webhook) happens after the terminal
// state and never changes the result.
func (d *Driver) Run(ctx context.Context) (*Outcome, error) {
	out := &Outcome{
		RunID:     uuid.NewString(),
		State:     StateStart,
		ModelName: modelNameFromPath(d.cfg.OutputPath),
		Algorithm: d.cfg.Algorithm,
		StartedAt: d.now(),
	}

	log.Info().
		Str("run_id", out.RunID).
		Str("input", d.cfg.InputPath).
		Str("algorithm", d.cfg.Algorithm).
		Msg("Training run started")

	err := d.run(ctx, out)
	out.FinishedAt = d.now()
	if err != nil {
		out.State = StateFailed
		// The caller reports err; logging it here too would print it twice.
		log.Debug().Err(err).Str("run_id", out.RunID).Msg("Training run failed")
	} else {
		out.State = StateDone
		log.Info().
			Str("run_id", out.RunID).
			Dur("duration", out.FinishedAt.Sub(out.StartedAt)).
			Msg("Training run completed")
	}

	d.record(ctx, out, err)
	return out, err
}

func (d *Driver) run(ctx context.Context, out *Outcome) error {
	var ds *dataset.Dataset
	err := d.stage(ctx, StageLoad, func() (err error) {
		ds, err = dataset.Load(d.cfg.InputPath)
		return err
	})
	if err != nil {
		return err
	}
	if ds.Metadata.ModelName != "" {
		out.ModelName = ds.Metadata.ModelName
	}
	out.Task = ds.Metadata.TaskType
	out.Samples = ds.NumSamples()
	out.Features = ds.NumFeatures()
	out.State = StateLoaded
	if d.recorder != nil {
		d.recorder.RecordDataset(out.Samples, out.Features)
	}

	var res *ml.Result
	err = d.stage(ctx, StageTrain, func() (err error) {
		res, err = ml.Train(ds.Features, ds.Labels, ml.TrainOptions{
			Algorithm: d.cfg.Algorithm,
			Task:      ds.Metadata.TaskType,
			TestSplit: d.cfg.TestSplit,
			MinScore:  d.cfg.MinScore,
			Seed:      d.cfg.Seed,
		})
		return err
	})
	if err != nil {
		var gate *ml.QualityGateError
		if errors.As(err, &gate) {
			out.Scores = map[string]float64{gate.Metric: gate.Value}
		}
		return err
	}
	out.TrainSize = res.TrainSize
	out.TestSize = res.TestSize
	out.Scores = res.Metrics.Map()
	out.State = StateTrainedEvaluated
	if d.recorder != nil {
		d.recorder.RecordTraining(out.TrainSize, out.TestSize, out.Scores)
	}

	var art *export.Artifacts
	err = d.stage(ctx, StageExport, func() (err error) {
		art, err = export.New(d.cfg.VerifyExport).Export(export.Request{
			Model:      res.Model,
			ModelPath:  d.cfg.OutputPath,
			Metadata:   ds.Metadata,
			Algorithm:  res.Algorithm,
			Metrics:    res.Metrics,
			VerifyRows: res.TestFeatures,
		})
		return err
	})
	if err != nil {
		return err
	}
	out.Artifacts = art
	out.State = StateExported
	if d.recorder != nil {
		d.recorder.RecordArtifact(art.ModelBytes)
	}
	return nil
}

// stage times fn and wraps its error. A cancelled context fails the stage
// before it starts.
func (d *Driver) stage(ctx context.Context, s Stage, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: s, Err: err}
	}
	start := time.Now()
	err := fn()
	if d.recorder != nil {
		d.recorder.ObserveStage(string(s), time.Since(start))
	}
	if err != nil {
		return &StageError{Stage: s, Err: err}
	}
	return nil
}

// record performs the post-run side effects. Their failures are logged only.
func (d *Driver) record(ctx context.Context, out *Outcome, runErr error) {
	run := out.Record(d.cfg, runErr)

	if d.recorder != nil {
		d.recorder.RecordOutcome(runErr == nil, out.FinishedAt)
		if d.cfg.MetricsFile != "" {
			if err := d.recorder.WriteTextfile(d.cfg.MetricsFile); err != nil {
				log.Warn().Err(err).Str("path", d.cfg.MetricsFile).Msg("Failed to write metrics textfile")
			}
		}
	}

	if d.history != nil {
		if err := d.history.StoreRun(run); err != nil {
			log.Warn().Err(err).Str("run_id", out.RunID).Msg("Failed to store run history")
		}
	}

	if d.notifier != nil {
		// The run context may already be cancelled; the webhook carries its
		// own timeout.
		if err := d.notifier.Send(context.WithoutCancel(ctx), run); err != nil {
			log.Warn().Err(err).Str("run_id", out.RunID).Msg("Failed to send run notification")
		}
	}
}

// Record converts the outcome into a history record.
func (o *Outcome) Record(cfg Config, runErr error) storage.Run {
	run := storage.Run{
		ID:         o.RunID,
		ModelName:  o.ModelName,
		Algorithm:  o.Algorithm,
		TaskType:   o.Task,
		Seed:       cfg.Seed,
		InputPath:  cfg.InputPath,
		TrainSize:  o.TrainSize,
		TestSize:   o.TestSize,
		Metrics:    o.Scores,
		Outcome:    storage.OutcomeSucceeded,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
	if o.Artifacts != nil {
		run.ModelPath = o.Artifacts.ModelPath
		run.MetadataPath = o.Artifacts.MetadataPath
	}
	if runErr != nil {
		run.Outcome = storage.OutcomeFailed
		run.Error = runErr.Error()
		var se *StageError
		if errors.As(runErr, &se) {
			run.FailedStage = string(se.Stage)
		}
	}
	return run
}

func modelNameFromPath(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
