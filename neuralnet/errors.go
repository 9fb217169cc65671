package neuralnet

import "github.com/pkg/errors"

var (
	ErrLayerSizes   = errors.New("neuralnet: need at least two positive layer sizes")
	ErrInputSize    = errors.New("neuralnet: input length does not match layer")
	ErrExpectedSize = errors.New("neuralnet: expected output length does not match output layer")
	ErrLabel        = errors.New("neuralnet: label out of range")
	ErrEmptyBatch   = errors.New("neuralnet: empty batch")
	ErrSnapshot     = errors.New("neuralnet: snapshot does not describe a valid network")
	ErrConfig       = errors.New("neuralnet: invalid network config")
)

// taggedError marks err with a package sentinel. Both stay matchable with
// errors.Is.
type taggedError struct {
	sentinel error
	err      error
}

func (e *taggedError) Error() string { return e.sentinel.Error() + ": " + e.err.Error() }
func (e *taggedError) Unwrap() []error { return []error{e.sentinel, e.err} }
