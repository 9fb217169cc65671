package neuralnet

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layer is a fully connected stage between numNodesIn and numNodesOut nodes.
//
// weights is row-major [numNodesOut x numNodesIn], so the weight from input
// node k to output node j lives at j*numNodesIn + k. w and gw are gonum views
// over the same backing arrays.
type Layer struct {
	numNodesIn  int
	numNodesOut int
	activation  Activation
	cost        Cost

	weights []float64
	biases  []float64
	w       *mat.Dense

	// mu guards gradWeights and gradBiases while samples are in flight.
	mu          sync.Mutex
	gradWeights []float64
	gradBiases  []float64
	gw          *mat.Dense

	velocityWeights []float64
	velocityBiases  []float64
}

func newLayer(numNodesIn, numNodesOut int, activation Activation, cost Cost, rng *rand.Rand) *Layer {
	l := allocLayer(numNodesIn, numNodesOut, activation, cost)
	for i := range l.weights {
		l.weights[i] = rng.Float64()*2 - 1
	}
	for i := range l.biases {
		l.biases[i] = rng.Float64()*2 - 1
	}
	return l
}

func allocLayer(numNodesIn, numNodesOut int, activation Activation, cost Cost) *Layer {
	l := &Layer{
		numNodesIn:      numNodesIn,
		numNodesOut:     numNodesOut,
		activation:      activation,
		cost:            cost,
		weights:         make([]float64, numNodesIn*numNodesOut),
		biases:          make([]float64, numNodesOut),
		gradWeights:     make([]float64, numNodesIn*numNodesOut),
		gradBiases:      make([]float64, numNodesOut),
		velocityWeights: make([]float64, numNodesIn*numNodesOut),
		velocityBiases:  make([]float64, numNodesOut),
	}
	l.w = mat.NewDense(numNodesOut, numNodesIn, l.weights)
	l.gw = mat.NewDense(numNodesOut, numNodesIn, l.gradWeights)
	return l
}

func (l *Layer) NumNodesIn() int { return l.numNodesIn }
func (l *Layer) NumNodesOut() int { return l.numNodesOut }
func (l *Layer) Activation() Activation { return l.activation }

func (l *Layer) weightIndex(nodeIn, nodeOut int) int {
	return nodeOut*l.numNodesIn + nodeIn
}

// ForwardPass computes the activations of this layer without recording
// anything.
func (l *Layer) ForwardPass(inputs []float64) ([]float64, error) {
	out := make([]float64, l.numNodesOut)
	if err := l.forward(inputs, out, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ForwardPassLearn computes the activations and records inputs, weighted
// inputs and activations in d for the backward pass. The returned slice is
// owned by d.
func (l *Layer) ForwardPassLearn(inputs []float64, d *LearnData) ([]float64, error) {
	if err := l.forward(inputs, d.weightedInputs, d.activations); err != nil {
		return nil, err
	}
	d.inputs = inputs
	return d.activations, nil
}

func (l *Layer) forward(inputs, weightedInputs, activations []float64) error {
	if len(inputs) != l.numNodesIn {
		return errors.Wrapf(ErrInputSize, "got %d inputs, layer takes %d", len(inputs), l.numNodesIn)
	}
	z := mat.NewVecDense(l.numNodesOut, weightedInputs)
	z.MulVec(l.w, mat.NewVecDense(l.numNodesIn, inputs))
	floats.Add(weightedInputs, l.biases)
	l.activation.Apply(activations, weightedInputs)
	return nil
}

// CalculateOutputNodeValues seeds backpropagation at the output layer:
// nodeValue = dCost/dActivation * dActivation/dWeightedInput.
func (l *Layer) CalculateOutputNodeValues(d *LearnData, expectedOutputs []float64) error {
	if len(expectedOutputs) != l.numNodesOut {
		return errors.Wrapf(ErrExpectedSize, "got %d expected outputs, layer has %d nodes", len(expectedOutputs), l.numNodesOut)
	}
	l.activation.Derivatives(d.derivatives, d.weightedInputs)
	for i, a := range d.activations {
		d.nodeValues[i] = l.cost.Derivative(a, expectedOutputs[i]) * d.derivatives[i]
	}
	return nil
}

// CalculateNodeValues propagates next's node values back through next's
// weights and this layer's activation derivative.
func (l *Layer) CalculateNodeValues(d *LearnData, next *Layer, nextNodeValues []float64) {
	nv := mat.NewVecDense(l.numNodesOut, d.nodeValues)
	nv.MulVec(next.w.T(), mat.NewVecDense(next.numNodesOut, nextNodeValues))
	l.activation.Derivatives(d.derivatives, d.weightedInputs)
	floats.Mul(d.nodeValues, d.derivatives)
}

// UpdateGradients adds this sample's contribution to the shared
// accumulators. Safe for concurrent use; the lock is taken once per call.
func (l *Layer) UpdateGradients(d *LearnData) {
	nodeValues := mat.NewVecDense(l.numNodesOut, d.nodeValues)
	inputs := mat.NewVecDense(l.numNodesIn, d.inputs)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.gw.RankOne(l.gw, 1, nodeValues, inputs)
	floats.Add(l.gradBiases, d.nodeValues)
}

func (l *Layer) clearGradients() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.gradWeights)
	clear(l.gradBiases)
}

func (l *Layer) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d -> %d (%v)\n", l.numNodesIn, l.numNodesOut, l.activation))
	sb.WriteString(fmt.Sprintf("Biases: %.3f\n", l.biases))
	return sb.String()
}
