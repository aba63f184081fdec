package ml

import (
	"prisml-train/internal/common"
)

type constructor func(seed int64) Model

type catalogEntry struct {
	task      string
	algorithm string
	build     constructor
}

// catalog enumerates every supported (task, algorithm) pair. Hyperparameters
// are fixed.
var catalog = []catalogEntry{
	{common.TaskClassification, common.AlgoRandomForest, func(seed int64) Model {
		return NewRandomForestClassifier(
			WithEstimators(common.ForestEstimators),
			WithMaxDepth(common.ForestMaxDepth),
			WithSeed(seed),
		)
	}},
	{common.TaskClassification, common.AlgoLogisticRegression, func(int64) Model {
		return NewLogisticRegression(common.LogisticMaxIter, common.LogisticC, common.LogisticTolerance)
	}},
	{common.TaskClassification, common.AlgoDecisionTree, func(seed int64) Model {
		return NewDecisionTreeClassifier(WithMaxDepth(common.TreeMaxDepth), WithSeed(seed))
	}},
	{common.TaskRegression, common.AlgoRandomForest, func(seed int64) Model {
		return NewRandomForestRegressor(
			WithEstimators(common.ForestEstimators),
			WithMaxDepth(common.ForestMaxDepth),
			WithSeed(seed),
		)
	}},
	{common.TaskRegression, common.AlgoDecisionTree, func(seed int64) Model {
		return NewDecisionTreeRegressor(WithMaxDepth(common.TreeMaxDepth), WithSeed(seed))
	}},
}

// NewModel returns a fresh, unfitted model for the algorithm and task.
func NewModel(algorithm, task string, seed int64) (Model, error) {
	for _, e := range catalog {
		if e.task == task && e.algorithm == algorithm {
			return e.build(seed), nil
		}
	}
	return nil, &UnsupportedAlgorithmError{
		Algorithm: algorithm,
		Task:      task,
		Supported: SupportedAlgorithms(task),
	}
}

// SupportedAlgorithms lists the algorithm identifiers valid for task in
// catalog order. It is empty for an unknown task.
func SupportedAlgorithms(task string) []string {
	var out []string
	for _, e := range catalog {
		if e.task == task {
			out = append(out, e.algorithm)
		}
	}
	return out
}
