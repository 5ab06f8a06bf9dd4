// Package anomaly scores feature projections against a model fitted on
// known-normal traffic.
package anomaly

import (
	"Go2NetSentinel/internal/errors"
	"fmt"
	"math"
)

// Model is an unsupervised outlier detector.
type Model interface {
	// Name identifies the model in persisted state.
	Name() string
	// Fit trains the model on rows of equal width. The data has been validated.
	Fit(data [][]float64) error
	// PredictOne returns the anomaly score of a single sample. Higher is more anomalous.
	PredictOne(sample []float64) (float64, error)
	// Threshold is the score at and above which a sample is anomalous.
	Threshold() float64
	// Width is the number of features the fitted model expects.
	Width() int
}

// constructors maps persisted model names to empty models ready to be decoded into.
var constructors = map[string]func() Model{
	ZScoreName:  func() Model { return NewZScore(ZScoreOptions{}) },
	IForestName: func() Model { return NewIsolationForest(ForestOptions{}) },
}

// validate checks the training set and returns its width.
func validate(samples [][]float64) (int, error) {
	if len(samples) == 0 {
		return 0, errors.New(errors.KindValidation, "training set is empty")
	}
	width := len(samples[0])
	if width == 0 {
		return 0, errors.New(errors.KindValidation, "training samples have no features")
	}
	for i, row := range samples {
		if len(row) != width {
			return 0, errors.Errorf(errors.KindValidation, "training sample %d has %d features, want %d", i, len(row), width)
		}
		if err := checkFinite(row); err != nil {
			return 0, errors.Wrap(err, errors.KindValidation, fmt.Sprintf("training sample %d", i))
		}
	}
	return width, nil
}

func checkFinite(row []float64) error {
	for j, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("feature %d is not finite", j)
		}
	}
	return nil
}
