package trainer

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"gonet/neuralnet"
	"gonet/parallel"
)

// ErrInvalidParams is returned for hyperparameters that cannot train.
var ErrInvalidParams = errors.New("trainer: invalid params")

// invalidParams keeps the network's own validation error next to
// ErrInvalidParams, so errors.Is matches either.
type invalidParams struct {
	err error
}

func (e *invalidParams) Error() string { return ErrInvalidParams.Error() + ": " + e.err.Error() }
func (e *invalidParams) Unwrap() []error { return []error{ErrInvalidParams, e.err} }

// Params captures the knobs of a training run.
type Params struct {
	LayerSizes       []int                `yaml:"layer_sizes"`
	InitialLearnRate float64              `yaml:"initial_learn_rate"`
	LearnRateDecay   float64              `yaml:"learn_rate_decay"`
	Regularisation   float64              `yaml:"regularisation"`
	Momentum         float64              `yaml:"momentum"`
	MiniBatchSize    int                  `yaml:"mini_batch_size"`
	HiddenActivation neuralnet.Activation `yaml:"hidden_activation"`
	OutputActivation neuralnet.Activation `yaml:"output_activation"`
	Cost             neuralnet.Cost       `yaml:"cost"`
	// Seed drives weight initialisation and shuffling. Zero derives one from
	// LayerSizes.
	Seed int64 `yaml:"seed"`
	// Workers sizes the pool built by NewPool. Zero means one per logical core.
	Workers int `yaml:"workers"`
}

// DefaultParams returns the settings used for 28x28 digit classification.
func DefaultParams() Params {
	return Params{
		LayerSizes:       []int{28 * 28, 16, 16, 10},
		InitialLearnRate: 0.05,
		LearnRateDecay:   0.075,
		Regularisation:   0.1,
		Momentum:         0.9,
		MiniBatchSize:    32,
		HiddenActivation: neuralnet.Sigmoid,
		OutputActivation: neuralnet.Sigmoid,
		Cost:             neuralnet.CrossEntropy,
	}
}

// Validate verifies the params are runnable. Nothing is clamped.
func (p Params) Validate() error {
	if p.InitialLearnRate <= 0 {
		return errors.Wrapf(ErrInvalidParams, "initial_learn_rate must be > 0 (got %g)", p.InitialLearnRate)
	}
	if p.LearnRateDecay < 0 {
		return errors.Wrapf(ErrInvalidParams, "learn_rate_decay must be >= 0 (got %g)", p.LearnRateDecay)
	}
	if p.MiniBatchSize <= 0 {
		return errors.Wrapf(ErrInvalidParams, "mini_batch_size must be > 0 (got %d)", p.MiniBatchSize)
	}
	if p.Workers < 0 {
		return errors.Wrapf(ErrInvalidParams, "workers must be >= 0 (got %d)", p.Workers)
	}
	if err := p.networkConfig().Validate(); err != nil {
		return &invalidParams{err: err}
	}
	return nil
}

func (p Params) networkConfig() neuralnet.Config {
	return neuralnet.Config{
		LayerSizes:       p.LayerSizes,
		HiddenActivation: p.HiddenActivation,
		OutputActivation: p.OutputActivation,
		Cost:             p.Cost,
		Regularisation:   p.Regularisation,
		Momentum:         p.Momentum,
		Seed:             p.Seed,
	}
}

// NewPool starts a worker pool sized by Workers. The caller owns it.
func (p Params) NewPool() *parallel.Pool {
	return parallel.NewPool(p.Workers)
}

// LoadParams reads and validates Params from a YAML file. Keys that are
// absent keep their DefaultParams value.
func LoadParams(path string) (Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Params{}, errors.Wrap(err, "open params")
	}
	return ParseParams(bytes.NewReader(raw))
}

// ParseParams decodes YAML from r on top of DefaultParams. Unknown keys are
// rejected.
func ParseParams(r io.Reader) (Params, error) {
	p := DefaultParams()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return Params{}, errors.Wrap(err, "parse params")
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
