package neuralnet

import "github.com/pkg/errors"

// DataPoint is one training or testing sample. Treat it as immutable once
// built; batches and LearnData hold references to its slices.
type DataPoint struct {
	Inputs          []float64
	ExpectedOutputs []float64
	ExpectedLabel   int
}

// NewDataPoint builds a sample whose expected outputs are the one-hot
// encoding of label.
func NewDataPoint(inputs []float64, label, numClasses int) (DataPoint, error) {
	if label < 0 || label >= numClasses {
		return DataPoint{}, errors.Wrapf(ErrLabel, "label %d with %d classes", label, numClasses)
	}
	expected := make([]float64, numClasses)
	expected[label] = 1
	return DataPoint{
		Inputs:          inputs,
		ExpectedOutputs: expected,
		ExpectedLabel:   label,
	}, nil
}
