package neuralnet

import (
	"github.com/pkg/errors"

	"gonet/parallel"
)

// LayerSnapshot is the full state of one layer.
type LayerSnapshot struct {
	NumNodesIn       int       `json:"num_nodes_in" yaml:"num_nodes_in"`
	NumNodesOut      int       `json:"num_nodes_out" yaml:"num_nodes_out"`
	Weights          []float64 `json:"weights" yaml:"weights"`
	Biases           []float64 `json:"biases" yaml:"biases"`
	WeightVelocities []float64 `json:"weight_velocities" yaml:"weight_velocities"`
	BiasVelocities   []float64 `json:"bias_velocities" yaml:"bias_velocities"`
}

// Snapshot is an opaque deep copy of a network for persistence or for a
// frozen inference copy. Accumulated gradients are not part of it.
type Snapshot struct {
	HiddenActivation Activation      `json:"hidden_activation" yaml:"hidden_activation"`
	OutputActivation Activation      `json:"output_activation" yaml:"output_activation"`
	Cost             Cost            `json:"cost" yaml:"cost"`
	Regularisation   float64         `json:"regularisation" yaml:"regularisation"`
	Momentum         float64         `json:"momentum" yaml:"momentum"`
	Layers           []LayerSnapshot `json:"layers" yaml:"layers"`
}

// Snapshot copies the parameters and momentum state of every layer.
func (n *Network) Snapshot() Snapshot {
	s := Snapshot{
		HiddenActivation: n.layers[0].activation,
		OutputActivation: n.layers[len(n.layers)-1].activation,
		Cost:             n.cost,
		Regularisation:   n.regularisation,
		Momentum:         n.momentum,
		Layers:           make([]LayerSnapshot, len(n.layers)),
	}
	for i, l := range n.layers {
		s.Layers[i] = LayerSnapshot{
			NumNodesIn:       l.numNodesIn,
			NumNodesOut:      l.numNodesOut,
			Weights:          append([]float64(nil), l.weights...),
			Biases:           append([]float64(nil), l.biases...),
			WeightVelocities: append([]float64(nil), l.velocityWeights...),
			BiasVelocities:   append([]float64(nil), l.velocityBiases...),
		}
	}
	return s
}

// LayerSizes returns the sizes the snapshot describes, or nil if it has no
// layers.
func (s Snapshot) LayerSizes() []int {
	if len(s.Layers) == 0 {
		return nil
	}
	sizes := []int{s.Layers[0].NumNodesIn}
	for _, l := range s.Layers {
		sizes = append(sizes, l.NumNodesOut)
	}
	return sizes
}

// Restore rebuilds a network from s. The returned network does not share
// memory with s.
func Restore(s Snapshot, pool *parallel.Pool) (*Network, error) {
	cfg := Config{
		LayerSizes:       s.LayerSizes(),
		HiddenActivation: s.HiddenActivation,
		OutputActivation: s.OutputActivation,
		Cost:             s.Cost,
		Regularisation:   s.Regularisation,
		Momentum:         s.Momentum,
	}
	if err := cfg.Validate(); err != nil {
		return nil, &taggedError{sentinel: ErrSnapshot, err: err}
	}

	n := newNetwork(cfg, pool)
	for i, ls := range s.Layers {
		if i > 0 && ls.NumNodesIn != s.Layers[i-1].NumNodesOut {
			return nil, errors.Wrapf(ErrSnapshot, "layer %d takes %d inputs, previous layer has %d outputs", i, ls.NumNodesIn, s.Layers[i-1].NumNodesOut)
		}
		weights := ls.NumNodesIn * ls.NumNodesOut
		if len(ls.Weights) != weights || len(ls.WeightVelocities) != weights ||
			len(ls.Biases) != ls.NumNodesOut || len(ls.BiasVelocities) != ls.NumNodesOut {
			return nil, errors.Wrapf(ErrSnapshot, "layer %d parameter lengths", i)
		}
		l := allocLayer(ls.NumNodesIn, ls.NumNodesOut, n.activationFor(cfg, i), cfg.Cost)
		copy(l.weights, ls.Weights)
		copy(l.biases, ls.Biases)
		copy(l.velocityWeights, ls.WeightVelocities)
		copy(l.velocityBiases, ls.BiasVelocities)
		n.layers[i] = l
	}
	return n, nil
}
