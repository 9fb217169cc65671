package neuralnet

// LearnData holds what one sample leaves behind in one layer during a forward
// pass, so the backward pass can reuse it. Never shared between samples.
type LearnData struct {
	inputs         []float64
	weightedInputs []float64
	activations    []float64
	nodeValues     []float64
	derivatives    []float64
}

// NewLearnData allocates buffers sized for l.
func NewLearnData(l *Layer) *LearnData {
	return &LearnData{
		weightedInputs: make([]float64, l.numNodesOut),
		activations:    make([]float64, l.numNodesOut),
		nodeValues:     make([]float64, l.numNodesOut),
		derivatives:    make([]float64, l.numNodesOut),
	}
}

// Activations returns the outputs recorded by the last forward pass.
func (d *LearnData) Activations() []float64 {
	return d.activations
}

// NodeValues returns the error signal recorded by the last backward pass.
func (d *LearnData) NodeValues() []float64 {
	return d.nodeValues
}

// sampleData is the per-layer LearnData of one in-flight sample.
type sampleData []*LearnData

func newSampleData(layers []*Layer) sampleData {
	s := make(sampleData, len(layers))
	for i, l := range layers {
		s[i] = NewLearnData(l)
	}
	return s
}
