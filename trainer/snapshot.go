package trainer

import (
	"github.com/pkg/errors"

	"gonet/neuralnet"
	"gonet/parallel"
)

// Snapshot is the full resumable state of a Trainer. The batch partition is
// not stored; Restore reshuffles the data it is given from Seed, which deals
// the same batches the Trainer was first built with.
type Snapshot struct {
	Network          neuralnet.Snapshot `json:"network" yaml:"network"`
	InitialLearnRate float64            `json:"initial_learn_rate" yaml:"initial_learn_rate"`
	LearnRateDecay   float64            `json:"learn_rate_decay" yaml:"learn_rate_decay"`
	CurrentLearnRate float64            `json:"current_learn_rate" yaml:"current_learn_rate"`
	MiniBatchSize    int                `json:"mini_batch_size" yaml:"mini_batch_size"`
	BatchIndex       int                `json:"batch_index" yaml:"batch_index"`
	EpochCount       int                `json:"epoch_count" yaml:"epoch_count"`
	Seed             int64              `json:"seed" yaml:"seed"`
}

// Snapshot copies the network and the schedule counters.
func (t *Trainer) Snapshot() Snapshot {
	return Snapshot{
		Network:          t.network.Snapshot(),
		InitialLearnRate: t.initialLearnRate,
		LearnRateDecay:   t.learnRateDecay,
		CurrentLearnRate: t.currentLearnRate,
		MiniBatchSize:    t.miniBatchSize,
		BatchIndex:       t.batchIndex,
		EpochCount:       t.epochCount,
		Seed:             t.seed,
	}
}

// Restore rebuilds a Trainer from s over trainingData.
func Restore(s Snapshot, trainingData []neuralnet.DataPoint, pool *parallel.Pool, opts ...Option) (*Trainer, error) {
	if s.InitialLearnRate <= 0 || s.CurrentLearnRate <= 0 || s.LearnRateDecay < 0 {
		return nil, errors.Wrap(neuralnet.ErrSnapshot, "learn rate schedule")
	}
	if s.MiniBatchSize <= 0 || s.EpochCount < 0 {
		return nil, errors.Wrap(neuralnet.ErrSnapshot, "batch counters")
	}
	network, err := neuralnet.Restore(s.Network, pool)
	if err != nil {
		return nil, err
	}
	if err := validateData(trainingData, network.InputSize(), network.OutputSize()); err != nil {
		return nil, err
	}
	if s.MiniBatchSize > len(trainingData) {
		return nil, errors.Wrapf(ErrBatchSize, "mini_batch_size %d, %d samples", s.MiniBatchSize, len(trainingData))
	}

	seed := s.Seed
	if seed == 0 {
		seed = neuralnet.NNSeed(network.LayerSizes())
	}
	t := newTrainer(network, s.InitialLearnRate, s.LearnRateDecay, s.MiniBatchSize, seed, opts)
	t.currentLearnRate = s.CurrentLearnRate
	t.epochCount = s.EpochCount
	t.batches = splitData(trainingData, s.MiniBatchSize, t.rng)
	if s.BatchIndex < 0 || s.BatchIndex >= len(t.batches) {
		return nil, errors.Wrapf(neuralnet.ErrSnapshot, "batch index %d out of %d batches", s.BatchIndex, len(t.batches))
	}
	t.batchIndex = s.BatchIndex
	return t, nil
}
