package common

import "time"

// Task types
const (
	TaskClassification = "classification"
	TaskRegression     = "regression"
)

// Algorithm identifiers
const (
	AlgoRandomForest       = "RandomForest"
	AlgoLogisticRegression = "LogisticRegression"
	AlgoDecisionTree       = "DecisionTree"
)

// Environment variable keys
const (
	EnvConfigFile    = "CONFIG_FILE"
	EnvAlgorithm     = "PRISML_ALGORITHM"
	EnvTestSplit     = "PRISML_TEST_SPLIT"
	EnvMinAccuracy   = "PRISML_MIN_ACCURACY"
	EnvSeed          = "PRISML_SEED"
	EnvLogLevel      = "LOG_LEVEL"
	EnvMetricsFile   = "PRISML_METRICS_FILE"
	EnvHistoryDB     = "PRISML_HISTORY_DB"
	EnvNotifyURL     = "PRISML_NOTIFY_URL"
	EnvNotifyTimeout = "PRISML_NOTIFY_TIMEOUT"
	EnvVerifyExport  = "PRISML_VERIFY_EXPORT"
)

// Configuration defaults
const (
	DefaultAlgorithm     = AlgoRandomForest
	DefaultTaskType      = TaskClassification
	DefaultTestSplit     = 0.2
	DefaultMinAccuracy   = 0.7
	DefaultSeed          = 42
	DefaultLogLevel      = "info"
	DefaultVerifyExport  = true
	DefaultNotifyTimeout = 5 * time.Second
)

// Model hyperparameters. These are fixed; there is no search.
const (
	ForestEstimators  = 100
	ForestMaxDepth    = 10
	TreeMaxDepth      = 10
	LogisticMaxIter   = 1000
	LogisticC         = 1.0
	LogisticTolerance = 1e-4
)

// Artifact naming
const (
	ModelExtension    = ".onnx"
	MetadataExtension = ".metadata.json"
	ProducerName      = "prisml-train"
	ProducerVersion   = "1.0.0"
)

// Validation constants
const (
	MaxMinAccuracy   = 1.0
	MinNotifyTimeout = time.Second
	MaxNotifyTimeout = time.Minute
)

// Common error messages
const (
	ErrMsgInputRequired  = "input path is required"
	ErrMsgOutputRequired = "output path is required"
)
