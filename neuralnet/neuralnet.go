// Package neuralnet implements a fully connected feed-forward network trained
// by backpropagation with momentum and L2 weight decay.
package neuralnet

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"gonet/parallel"
)

// Config describes the shape and coefficients of a network.
type Config struct {
	// LayerSizes is [inputSize, hidden..., outputSize].
	LayerSizes       []int
	HiddenActivation Activation
	OutputActivation Activation
	Cost             Cost
	// Regularisation is the L2 coefficient shared by every layer.
	Regularisation float64
	Momentum       float64
	// Seed for weight initialisation. Zero derives one from LayerSizes.
	Seed int64
}

// DefaultConfig returns sigmoid layers trained against cross-entropy.
func DefaultConfig(layerSizes ...int) Config {
	return Config{
		LayerSizes:       layerSizes,
		HiddenActivation: Sigmoid,
		OutputActivation: Sigmoid,
		Cost:             CrossEntropy,
	}
}

// Validate checks the config without building anything.
func (c Config) Validate() error {
	if len(c.LayerSizes) < 2 {
		return errors.Wrapf(ErrLayerSizes, "got %v", c.LayerSizes)
	}
	for _, size := range c.LayerSizes {
		if size <= 0 {
			return errors.Wrapf(ErrLayerSizes, "got %v", c.LayerSizes)
		}
	}
	if !c.HiddenActivation.Valid() || !c.OutputActivation.Valid() {
		return errors.Wrapf(ErrConfig, "activations %v/%v", c.HiddenActivation, c.OutputActivation)
	}
	if !c.Cost.Valid() {
		return errors.Wrapf(ErrConfig, "%v", c.Cost)
	}
	if c.Regularisation < 0 {
		return errors.Wrapf(ErrConfig, "regularisation %g < 0", c.Regularisation)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return errors.Wrapf(ErrConfig, "momentum %g outside [0, 1)", c.Momentum)
	}
	return nil
}

// NNSeed derives a deterministic seed from the layer sizes.
func NNSeed(layerSizes []int) int64 {
	var seed int64
	for _, size := range layerSizes {
		seed += int64(size)
	}
	return seed
}

// Network is an ordered chain of layers. Inference and training must not run
// concurrently on the same Network; use Restore(n.Snapshot(), nil) for a
// frozen copy.
type Network struct {
	layers         []*Layer
	cost           Cost
	regularisation float64
	momentum       float64

	pool *parallel.Pool
	// batchLearnData grows to the largest batch seen and is reused.
	batchLearnData []sampleData
}

// NewNetwork builds a network with weights and biases drawn uniformly from
// [-1, 1). pool runs the per-sample tasks of Learn; a nil pool runs them on
// the calling goroutine.
func NewNetwork(cfg Config, pool *parallel.Pool) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = NNSeed(cfg.LayerSizes)
	}
	rng := rand.New(rand.NewSource(seed))

	n := newNetwork(cfg, pool)
	for i := 0; i < len(cfg.LayerSizes)-1; i++ {
		n.layers[i] = newLayer(cfg.LayerSizes[i], cfg.LayerSizes[i+1], n.activationFor(cfg, i), cfg.Cost, rng)
	}
	return n, nil
}

func newNetwork(cfg Config, pool *parallel.Pool) *Network {
	return &Network{
		layers:         make([]*Layer, len(cfg.LayerSizes)-1),
		cost:           cfg.Cost,
		regularisation: cfg.Regularisation,
		momentum:       cfg.Momentum,
		pool:           pool,
	}
}

func (n *Network) activationFor(cfg Config, layerIndex int) Activation {
	if layerIndex == len(n.layers)-1 {
		return cfg.OutputActivation
	}
	return cfg.HiddenActivation
}

func (n *Network) NumLayers() int { return len(n.layers) }
func (n *Network) InputSize() int { return n.layers[0].numNodesIn }
func (n *Network) OutputSize() int { return n.layers[len(n.layers)-1].numNodesOut }
func (n *Network) CostFunction() Cost { return n.cost }
func (n *Network) Regularisation() float64 { return n.regularisation }
func (n *Network) Momentum() float64 { return n.momentum }

// LayerSizes returns [inputSize, hidden..., outputSize].
func (n *Network) LayerSizes() []int {
	sizes := make([]int, 0, len(n.layers)+1)
	sizes = append(sizes, n.InputSize())
	for _, l := range n.layers {
		sizes = append(sizes, l.numNodesOut)
	}
	return sizes
}

// CalculateOutputs runs inputs through every layer. It reads the parameters
// but changes nothing.
func (n *Network) CalculateOutputs(inputs []float64) ([]float64, error) {
	var err error
	for _, l := range n.layers {
		if inputs, err = l.ForwardPass(inputs); err != nil {
			return nil, err
		}
	}
	return inputs, nil
}

// Cost returns the cost averaged over batch.
func (n *Network) Cost(batch []DataPoint) (float64, error) {
	if len(batch) == 0 {
		return 0, ErrEmptyBatch
	}
	var total float64
	for i, dp := range batch {
		if len(dp.ExpectedOutputs) != n.OutputSize() {
			return 0, errors.Wrapf(ErrExpectedSize, "sample %d", i)
		}
		outputs, err := n.CalculateOutputs(dp.Inputs)
		if err != nil {
			return 0, errors.Wrapf(err, "sample %d", i)
		}
		total += n.cost.Calculate(outputs, dp.ExpectedOutputs)
	}
	return total / float64(len(batch)), nil
}

// Learn runs one gradient-descent step over batch. Every sample is pushed
// forward and back on the pool; once all of them are done the averaged
// gradient is applied to each layer. If any sample fails nothing is applied,
// the partial gradients are discarded and the error is returned.
func (n *Network) Learn(batch []DataPoint, learnRate float64) error {
	if len(batch) == 0 {
		return ErrEmptyBatch
	}
	if err := n.accumulate(batch); err != nil {
		n.clearGradients()
		return err
	}
	rate := learnRate / float64(len(batch))
	for _, l := range n.layers {
		l.ApplyGradients(rate, n.regularisation, n.momentum)
	}
	return nil
}

func (n *Network) accumulate(batch []DataPoint) error {
	for len(n.batchLearnData) < len(batch) {
		n.batchLearnData = append(n.batchLearnData, newSampleData(n.layers))
	}
	return n.forEach(len(batch), func(i int) error {
		if err := n.updateGradients(batch[i], n.batchLearnData[i]); err != nil {
			return errors.Wrapf(err, "sample %d", i)
		}
		return nil
	})
}

func (n *Network) forEach(count int, body func(i int) error) error {
	if n.pool == nil {
		for i := 0; i < count; i++ {
			if err := body(i); err != nil {
				return err
			}
		}
		return nil
	}
	return n.pool.For(count, body)
}

// updateGradients is the task for one sample: forward through every layer,
// then backward from the output layer, accumulating as it goes.
func (n *Network) updateGradients(dp DataPoint, data sampleData) error {
	if len(dp.ExpectedOutputs) != n.OutputSize() {
		return errors.Wrapf(ErrExpectedSize, "got %d, network has %d outputs", len(dp.ExpectedOutputs), n.OutputSize())
	}
	inputs := dp.Inputs
	var err error
	for i, l := range n.layers {
		if inputs, err = l.ForwardPassLearn(inputs, data[i]); err != nil {
			return err
		}
	}

	out := len(n.layers) - 1
	outputLayer := n.layers[out]
	if err := outputLayer.CalculateOutputNodeValues(data[out], dp.ExpectedOutputs); err != nil {
		return err
	}
	outputLayer.UpdateGradients(data[out])

	for i := out - 1; i >= 0; i-- {
		n.layers[i].CalculateNodeValues(data[i], n.layers[i+1], data[i+1].nodeValues)
		n.layers[i].UpdateGradients(data[i])
	}
	return nil
}

func (n *Network) clearGradients() {
	for _, l := range n.layers {
		l.clearGradients()
	}
}

func (n *Network) String() string {
	var sb strings.Builder
	for i, l := range n.layers {
		sb.WriteString(fmt.Sprintf("Layer %d: %s", i, l.String()))
	}
	return sb.String()
}
