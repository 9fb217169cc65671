// Package trainer drives a Network through mini-batches and epochs with a
// decaying learning rate, and scores it on held-out data.
package trainer

import (
	"io"
	"log/slog"
	"math/rand"
	"sync/atomic"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"gonet/neuralnet"
	"gonet/parallel"
)

var (
	ErrEmptyData   = errors.New("trainer: no data")
	ErrInvalidData = errors.New("trainer: data does not fit the network")
	ErrBatchSize   = errors.New("trainer: mini-batch larger than the data set")
)

// State reports whether a Run is in progress.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Trainer owns a network, the batch partition of the training data and the
// learning-rate schedule. It is not safe for concurrent use.
type Trainer struct {
	network *neuralnet.Network
	batches [][]neuralnet.DataPoint

	initialLearnRate float64
	learnRateDecay   float64
	currentLearnRate float64
	miniBatchSize    int
	batchIndex       int
	epochCount       int

	state  atomic.Int32
	seed   int64
	rng    *rand.Rand
	logger *slog.Logger
}

// Option customises a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger for epoch and run events. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// WithRand replaces the source used for shuffling. A Snapshot only records
// the seed from Params, so pass the same source again to Restore.
func WithRand(rng *rand.Rand) Option {
	return func(t *Trainer) {
		t.rng = rng
	}
}

// New builds the network described by params and partitions trainingData
// into shuffled mini-batches; a trailing partial batch is dropped. The
// caller's slice is not reordered. pool runs the per-sample work and must
// outlive the Trainer.
func New(params Params, trainingData []neuralnet.DataPoint, pool *parallel.Pool, opts ...Option) (*Trainer, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := validateData(trainingData, params.LayerSizes[0], params.LayerSizes[len(params.LayerSizes)-1]); err != nil {
		return nil, err
	}
	if params.MiniBatchSize > len(trainingData) {
		return nil, errors.Wrapf(ErrBatchSize, "mini_batch_size %d, %d samples", params.MiniBatchSize, len(trainingData))
	}

	network, err := neuralnet.NewNetwork(params.networkConfig(), pool)
	if err != nil {
		return nil, err
	}

	seed := params.Seed
	if seed == 0 {
		seed = neuralnet.NNSeed(params.LayerSizes)
	}
	t := newTrainer(network, params.InitialLearnRate, params.LearnRateDecay, params.MiniBatchSize, seed, opts)
	t.currentLearnRate = t.initialLearnRate
	t.batches = splitData(trainingData, params.MiniBatchSize, t.rng)
	return t, nil
}

func newTrainer(network *neuralnet.Network, initialLearnRate, learnRateDecay float64, miniBatchSize int, seed int64, opts []Option) *Trainer {
	t := &Trainer{
		network:          network,
		initialLearnRate: initialLearnRate,
		learnRateDecay:   learnRateDecay,
		miniBatchSize:    miniBatchSize,
		seed:             seed,
		rng:              rand.New(rand.NewSource(seed)),
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func validateData(data []neuralnet.DataPoint, inputSize, outputSize int) error {
	if len(data) == 0 {
		return ErrEmptyData
	}
	for i, dp := range data {
		if len(dp.Inputs) != inputSize {
			return errors.Wrapf(ErrInvalidData, "sample %d has %d inputs, network takes %d", i, len(dp.Inputs), inputSize)
		}
		if len(dp.ExpectedOutputs) != outputSize {
			return errors.Wrapf(ErrInvalidData, "sample %d has %d expected outputs, network has %d", i, len(dp.ExpectedOutputs), outputSize)
		}
		if dp.ExpectedLabel < 0 || dp.ExpectedLabel >= outputSize {
			return errors.Wrapf(ErrInvalidData, "sample %d has label %d, network has %d outputs", i, dp.ExpectedLabel, outputSize)
		}
	}
	return nil
}

// splitData shuffles a copy of data and cuts it into len(data)/batchSize
// batches.
func splitData(data []neuralnet.DataPoint, batchSize int, rng *rand.Rand) [][]neuralnet.DataPoint {
	shuffled := append([]neuralnet.DataPoint(nil), data...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	batches := make([][]neuralnet.DataPoint, len(shuffled)/batchSize)
	for i := range batches {
		batches[i] = shuffled[i*batchSize : (i+1)*batchSize : (i+1)*batchSize]
	}
	return batches
}

// LearnRateAt is the schedule: initial / (1 + decay*epoch).
func LearnRateAt(initial, decay float64, epoch int) float64 {
	return initial / (1 + decay*float64(epoch))
}

// Run performs iterations learning steps, one mini-batch each. When the last
// batch of an epoch has been used the batch order is reshuffled and the
// learning rate recomputed. If a step fails the batch index is left on the
// failed batch and its gradients are discarded, so a later Run retries it.
func (t *Trainer) Run(iterations int) error {
	if iterations < 0 {
		return errors.Wrapf(ErrInvalidParams, "iterations must be >= 0 (got %d)", iterations)
	}
	t.state.Store(int32(Running))
	defer t.state.Store(int32(Idle))

	for i := 0; i < iterations; i++ {
		if err := t.network.Learn(t.batches[t.batchIndex], t.currentLearnRate); err != nil {
			t.logger.Error("batch aborted", "epoch", t.epochCount, "batch", t.batchIndex, "err", err)
			return errors.Wrapf(err, "epoch %d batch %d", t.epochCount, t.batchIndex)
		}
		t.batchIndex++
		if t.batchIndex >= len(t.batches) {
			t.epochCompleted()
		}
	}
	t.logger.Info("run complete", "iterations", iterations, "epoch", t.epochCount, "learn_rate", t.currentLearnRate)
	return nil
}

func (t *Trainer) epochCompleted() {
	t.batchIndex = 0
	t.epochCount++
	t.rng.Shuffle(len(t.batches), func(i, j int) {
		t.batches[i], t.batches[j] = t.batches[j], t.batches[i]
	})
	t.currentLearnRate = LearnRateAt(t.initialLearnRate, t.learnRateDecay, t.epochCount)
	t.logger.Debug("epoch completed", "epoch", t.epochCount, "learn_rate", t.currentLearnRate)
}

// TestAccuracy returns the fraction of testingData whose most active output
// matches ExpectedLabel. The samples are visited in a shuffled order; the
// caller's slice is left as it is.
func (t *Trainer) TestAccuracy(testingData []neuralnet.DataPoint) (float64, error) {
	correct := 0
	err := t.eachPrediction(testingData, func(dp neuralnet.DataPoint, predicted int) {
		if predicted == dp.ExpectedLabel {
			correct++
		}
	})
	if err != nil {
		return 0, err
	}
	return float64(correct) / float64(len(testingData)), nil
}

// Test returns how often each output node was the most active one over
// testingData.
func (t *Trainer) Test(testingData []neuralnet.DataPoint) ([]int, error) {
	results := make([]int, t.network.OutputSize())
	err := t.eachPrediction(testingData, func(_ neuralnet.DataPoint, predicted int) {
		results[predicted]++
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (t *Trainer) eachPrediction(data []neuralnet.DataPoint, visit func(neuralnet.DataPoint, int)) error {
	if len(data) == 0 {
		return ErrEmptyData
	}
	for _, i := range t.rng.Perm(len(data)) {
		outputs, err := t.network.CalculateOutputs(data[i].Inputs)
		if err != nil {
			return errors.Wrapf(err, "sample %d", i)
		}
		visit(data[i], floats.MaxIdx(outputs))
	}
	return nil
}

func (t *Trainer) Network() *neuralnet.Network { return t.network }
func (t *Trainer) CurrentLearnRate() float64 { return t.currentLearnRate }
func (t *Trainer) EpochCount() int { return t.epochCount }
func (t *Trainer) BatchIndex() int { return t.batchIndex }
func (t *Trainer) NumBatches() int { return len(t.batches) }
func (t *Trainer) State() State { return State(t.state.Load()) }
