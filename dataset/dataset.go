// Package dataset converts loader output into the samples the trainer
// consumes. Decoding files is left to the caller.
package dataset

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"gonet/neuralnet"
)

// ErrShape is returned when inputs and labels do not line up.
var ErrShape = errors.New("dataset: shape mismatch")

// FromTensor splits a [N, features...] tensor into N samples. Trailing
// dimensions are flattened, so a [N, 3, 32, 32] image batch yields 3072
// inputs per sample. Float32 and Float64 tensors are accepted; the values are
// copied so later writes to the tensor do not reach the samples.
func FromTensor(inputs tensor.Tensor, labels []int, numClasses int) ([]neuralnet.DataPoint, error) {
	shape := inputs.Shape()
	if shape.Dims() < 2 {
		return nil, errors.Wrapf(ErrShape, "inputs shape %v, want [N, features...]", shape)
	}
	n := shape[0]
	if n != len(labels) {
		return nil, errors.Wrapf(ErrShape, "%d rows, %d labels", n, len(labels))
	}
	if v, ok := inputs.(interface{ IsView() bool }); ok && v.IsView() {
		return nil, errors.Wrap(ErrShape, "views must be materialized first")
	}
	values, err := float64s(inputs)
	if err != nil {
		return nil, err
	}
	if len(values) != shape.TotalSize() {
		return nil, errors.Wrapf(ErrShape, "backing has %d values, shape %v", len(values), shape)
	}

	rows := make([][]float64, n)
	features := shape.TotalSize() / n
	for i := range rows {
		rows[i] = values[i*features : (i+1)*features : (i+1)*features]
	}
	return FromSlices(rows, labels, numClasses)
}

// FromSlices pairs each input vector with its label. The vectors are used as
// given, not copied.
func FromSlices(inputs [][]float64, labels []int, numClasses int) ([]neuralnet.DataPoint, error) {
	if len(inputs) != len(labels) {
		return nil, errors.Wrapf(ErrShape, "%d inputs, %d labels", len(inputs), len(labels))
	}
	points := make([]neuralnet.DataPoint, len(inputs))
	for i, in := range inputs {
		dp, err := neuralnet.NewDataPoint(in, labels[i], numClasses)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d", i)
		}
		points[i] = dp
	}
	return points, nil
}

// OneHot encodes labels as an [N, numClasses] Float64 tensor.
func OneHot(labels []int, numClasses int) (tensor.Tensor, error) {
	if numClasses <= 0 {
		return nil, errors.Wrapf(ErrShape, "%d classes", numClasses)
	}
	norm := make([]float64, len(labels)*numClasses)
	for i, label := range labels {
		if label < 0 || label >= numClasses {
			return nil, errors.Wrapf(neuralnet.ErrLabel, "sample %d: label %d with %d classes", i, label, numClasses)
		}
		norm[i*numClasses+label] = 1.0
	}
	return tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(len(labels), numClasses), tensor.WithBacking(norm)), nil
}

func float64s(t tensor.Tensor) ([]float64, error) {
	switch data := t.Data().(type) {
	case []float64:
		return append([]float64(nil), data...), nil
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrShape, "unsupported dtype %v", t.Dtype())
	}
}

// XOR returns the four-point exclusive-or set for a network with a single
// output node. ExpectedOutputs holds the target; ExpectedLabel is always 0,
// the index of that node.
func XOR() []neuralnet.DataPoint {
	cases := []struct {
		a, b, y float64
	}{
		{0, 0, 0},
		{0, 1, 1},
		{1, 0, 1},
		{1, 1, 0},
	}
	points := make([]neuralnet.DataPoint, len(cases))
	for i, c := range cases {
		points[i] = neuralnet.DataPoint{
			Inputs:          []float64{c.a, c.b},
			ExpectedOutputs: []float64{c.y},
		}
	}
	return points
}
