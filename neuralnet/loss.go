package neuralnet

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Cost selects the loss the output layer is trained against.
type Cost int

const (
	MeanSquaredError Cost = iota
	CrossEntropy
)

// minCrossEntropyDenominator keeps the cross-entropy derivative finite when a
// sigmoid output saturates to exactly 0 or 1.
const minCrossEntropyDenominator = 1e-12

var costNames = map[Cost]string{
	MeanSquaredError: "mse",
	CrossEntropy:     "cross-entropy",
}

func (c Cost) String() string {
	if name, ok := costNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cost(%d)", int(c))
}

// Valid reports whether c is one of the declared variants.
func (c Cost) Valid() bool {
	_, ok := costNames[c]
	return ok
}

func (c Cost) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, errors.Wrapf(ErrConfig, "unknown cost %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Cost) UnmarshalText(text []byte) error {
	for k, name := range costNames {
		if name == string(text) {
			*c = k
			return nil
		}
	}
	return errors.Wrapf(ErrConfig, "unknown cost %q", text)
}

// Calculate returns the cost averaged over the output dimension.
func (c Cost) Calculate(outputs, expected []float64) float64 {
	if len(outputs) == 0 {
		return 0
	}
	var cost float64
	switch c {
	case MeanSquaredError:
		for i, o := range outputs {
			e := o - expected[i]
			cost += e * e
		}
	case CrossEntropy:
		// A log(0) term is dropped instead of poisoning the sum.
		for i, o := range outputs {
			e := expected[i]
			if v := e * math.Log(o); isFinite(v) {
				cost -= v
			}
			if v := (1 - e) * math.Log(1-o); isFinite(v) {
				cost -= v
			}
		}
	default:
		panic(fmt.Sprintf("neuralnet: %v", c))
	}
	return cost / float64(len(outputs))
}

// Derivative returns d(cost)/d(output) for one output node.
func (c Cost) Derivative(output, expected float64) float64 {
	switch c {
	case MeanSquaredError:
		return 2 * (output - expected)
	case CrossEntropy:
		return (output - expected) / math.Max(output*(1-output), minCrossEntropyDenominator)
	default:
		panic(fmt.Sprintf("neuralnet: %v", c))
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
