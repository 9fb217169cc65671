package neuralnet

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Activation selects the nonlinearity a layer applies to its weighted inputs.
type Activation int

const (
	Sigmoid Activation = iota
	// SigmoidFast replaces exp with a bit-level approximation.
	SigmoidFast
	ReLU
	Tanh
	// SoftMax normalizes the whole vector rather than each element.
	SoftMax
	Linear
)

var activationNames = map[Activation]string{
	Sigmoid:     "sigmoid",
	SigmoidFast: "sigmoid-fast",
	ReLU:        "relu",
	Tanh:        "tanh",
	SoftMax:     "softmax",
	Linear:      "linear",
}

func (a Activation) String() string {
	if name, ok := activationNames[a]; ok {
		return name
	}
	return fmt.Sprintf("activation(%d)", int(a))
}

// Valid reports whether a is one of the declared variants.
func (a Activation) Valid() bool {
	_, ok := activationNames[a]
	return ok
}

func (a Activation) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, errors.Wrapf(ErrConfig, "unknown activation %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Activation) UnmarshalText(text []byte) error {
	for k, name := range activationNames {
		if name == string(text) {
			*a = k
			return nil
		}
	}
	return errors.Wrapf(ErrConfig, "unknown activation %q", text)
}

// Apply writes the activation of weightedInputs into dst. dst and
// weightedInputs may be the same slice.
func (a Activation) Apply(dst, weightedInputs []float64) {
	switch a {
	case Sigmoid:
		for i, x := range weightedInputs {
			dst[i] = sigmoid(x)
		}
	case SigmoidFast:
		for i, x := range weightedInputs {
			dst[i] = 1 / (1 + fastExp(-x))
		}
	case ReLU:
		for i, x := range weightedInputs {
			dst[i] = math.Max(x, 0)
		}
	case Tanh:
		for i, x := range weightedInputs {
			dst[i] = math.Tanh(x)
		}
	case SoftMax:
		softmax(dst, weightedInputs)
	case Linear:
		copy(dst, weightedInputs)
	default:
		panic(fmt.Sprintf("neuralnet: %v", a))
	}
}

// Derivatives writes d(activation)/d(weightedInput) into dst. For SoftMax each
// entry is the sum of a row of the Jacobian.
func (a Activation) Derivatives(dst, weightedInputs []float64) {
	switch a {
	case Sigmoid:
		for i, x := range weightedInputs {
			s := sigmoid(x)
			dst[i] = s * (1 - s)
		}
	case SigmoidFast:
		for i, x := range weightedInputs {
			s := 1 / (1 + fastExp(-x))
			dst[i] = s * (1 - s)
		}
	case ReLU:
		for i, x := range weightedInputs {
			if x > 0 {
				dst[i] = 1
			} else {
				dst[i] = 0
			}
		}
	case Tanh:
		for i, x := range weightedInputs {
			sech := 1 / math.Cosh(x)
			dst[i] = sech * sech
		}
	case SoftMax:
		softmaxDerivatives(dst, weightedInputs)
	case Linear:
		for i := range weightedInputs {
			dst[i] = 1
		}
	default:
		panic(fmt.Sprintf("neuralnet: %v", a))
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// fastExp is Schraudolph's approximation: the scaled input is written
// straight into the high word of an IEEE-754 double.
func fastExp(x float64) float64 {
	x = math.Max(-700, math.Min(700, x))
	bits := int64(1512775*x + 1072632447)
	return math.Float64frombits(uint64(bits) << 32)
}

func softmax(dst, weightedInputs []float64) {
	if len(weightedInputs) == 0 {
		return
	}
	peak := weightedInputs[0]
	for _, x := range weightedInputs[1:] {
		if x > peak {
			peak = x
		}
	}
	var sum float64
	for i, x := range weightedInputs {
		dst[i] = math.Exp(x - peak)
		sum += dst[i]
	}
	if sum == 0 {
		sum = 1
	}
	for i := range dst[:len(weightedInputs)] {
		dst[i] /= sum
	}
}

func softmaxDerivatives(dst, weightedInputs []float64) {
	n := len(weightedInputs)
	s := make([]float64, n)
	softmax(s, weightedInputs)
	for i := 0; i < n; i++ {
		var row float64
		for j := 0; j < n; j++ {
			if i == j {
				row += s[i] * (1 - s[i])
			} else {
				row -= s[i] * s[j]
			}
		}
		dst[i] = row
	}
}
