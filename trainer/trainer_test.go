package trainer

import (
	"bytes"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"gonet/dataset"
	"gonet/neuralnet"
	"gonet/parallel"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func smallParams() Params {
	p := DefaultParams()
	p.LayerSizes = []int{3, 5, 4}
	p.InitialLearnRate = 0.1
	p.LearnRateDecay = 0.1
	p.MiniBatchSize = 3
	return p
}

func randomData(t *testing.T, rng *rand.Rand, n, inputs, classes int) []neuralnet.DataPoint {
	t.Helper()
	data := make([]neuralnet.DataPoint, n)
	for i := range data {
		in := make([]float64, inputs)
		for k := range in {
			in[k] = rng.Float64()
		}
		dp, err := neuralnet.NewDataPoint(in, rng.Intn(classes), classes)
		require.NoError(t, err)
		data[i] = dp
	}
	return data
}

func TestLearnRateAt(t *testing.T) {
	tests := []struct {
		description string
		initial     float64
		decay       float64
		epoch       int
		expectedLr  float64
	}{
		{"epoch zero is the initial rate", 0.05, 0.075, 0, 0.05},
		{"no decay keeps the rate", 0.5, 0, 100, 0.5},
		{"one epoch", 0.1, 0.1, 1, 0.1 / 1.1},
		{"ten epochs", 0.05, 0.075, 10, 0.05 / 1.75},
		{"decay of one halves after an epoch", 1, 1, 1, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			lr := LearnRateAt(tt.initial, tt.decay, tt.epoch)
			if !floatEquals(lr, tt.expectedLr, 1e-12) {
				t.Errorf("LearnRateAt(%v, %v, %d) = %v, want %v", tt.initial, tt.decay, tt.epoch, lr, tt.expectedLr)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := randomData(t, rng, 10, 3, 4)
	wrongInputs := randomData(t, rng, 10, 2, 4)
	wrongOutputs := randomData(t, rng, 10, 3, 5)
	badLabel := append([]neuralnet.DataPoint(nil), data...)
	badLabel[4].ExpectedLabel = 7

	tests := []struct {
		description string
		params      func() Params
		data        []neuralnet.DataPoint
		want        error
	}{
		{"no data", smallParams, nil, ErrEmptyData},
		{"input size", smallParams, wrongInputs, ErrInvalidData},
		{"output size", smallParams, wrongOutputs, ErrInvalidData},
		{"label out of range", smallParams, badLabel, ErrInvalidData},
		{"batch larger than data", func() Params {
			p := smallParams()
			p.MiniBatchSize = 11
			return p
		}, data, ErrBatchSize},
		{"zero learn rate", func() Params {
			p := smallParams()
			p.InitialLearnRate = 0
			return p
		}, data, ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			_, err := New(tt.params(), tt.data, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestXOR(t *testing.T) {
	pool := parallel.NewPool(4)
	defer pool.Close()

	params := Params{
		LayerSizes:       []int{2, 4, 1},
		InitialLearnRate: 0.5,
		Momentum:         0.9,
		MiniBatchSize:    4,
		HiddenActivation: neuralnet.Sigmoid,
		OutputActivation: neuralnet.Sigmoid,
		Cost:             neuralnet.MeanSquaredError,
	}
	data := dataset.XOR()
	tr, err := New(params, data, pool)
	require.NoError(t, err)
	require.NoError(t, tr.Run(10000))

	assert.Equal(t, 10000, tr.EpochCount())
	for _, dp := range data {
		out, err := tr.Network().CalculateOutputs(dp.Inputs)
		require.NoError(t, err)
		assert.InDelta(t, dp.ExpectedOutputs[0], out[0], 0.1, "inputs %v", dp.Inputs)
	}
}

func TestRunCyclesBatches(t *testing.T) {
	data := randomData(t, rand.New(rand.NewSource(2)), 10, 3, 4)
	tr, err := New(smallParams(), data, nil)
	require.NoError(t, err)
	require.Equal(t, 3, tr.NumBatches())

	require.NoError(t, tr.Run(2))
	assert.Equal(t, 2, tr.BatchIndex())
	assert.Equal(t, 0, tr.EpochCount())
	assert.Equal(t, 0.1, tr.CurrentLearnRate())

	require.NoError(t, tr.Run(1))
	assert.Equal(t, 0, tr.BatchIndex())
	assert.Equal(t, 1, tr.EpochCount())
	assert.InDelta(t, 0.1/1.1, tr.CurrentLearnRate(), 1e-12)

	require.NoError(t, tr.Run(4))
	assert.Equal(t, 1, tr.BatchIndex())
	assert.Equal(t, 2, tr.EpochCount())
	assert.Equal(t, Idle, tr.State())
}

func TestRunDecaysPerEpoch(t *testing.T) {
	p := smallParams()
	p.MiniBatchSize = 4
	data := randomData(t, rand.New(rand.NewSource(3)), 4, 3, 4)
	tr, err := New(p, data, nil)
	require.NoError(t, err)
	require.Equal(t, 1, tr.NumBatches())

	require.NoError(t, tr.Run(3))
	assert.Equal(t, 3, tr.EpochCount())
	assert.InDelta(t, 0.1/1.3, tr.CurrentLearnRate(), 1e-12)
}

func TestRunZeroIterations(t *testing.T) {
	data := randomData(t, rand.New(rand.NewSource(4)), 6, 3, 4)
	tr, err := New(smallParams(), data, nil)
	require.NoError(t, err)
	before := tr.Network().Snapshot()

	require.NoError(t, tr.Run(0))
	assert.Equal(t, before, tr.Network().Snapshot())
	assert.ErrorIs(t, tr.Run(-1), ErrInvalidParams)
}

func TestCallerDataUntouched(t *testing.T) {
	data := randomData(t, rand.New(rand.NewSource(5)), 12, 3, 4)
	want := make([]neuralnet.DataPoint, len(data))
	for i, dp := range data {
		want[i] = neuralnet.DataPoint{
			Inputs:          append([]float64(nil), dp.Inputs...),
			ExpectedOutputs: append([]float64(nil), dp.ExpectedOutputs...),
			ExpectedLabel:   dp.ExpectedLabel,
		}
	}

	tr, err := New(smallParams(), data, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Run(10))
	_, err = tr.TestAccuracy(data)
	require.NoError(t, err)
	_, err = tr.Test(data)
	require.NoError(t, err)

	assert.Equal(t, want, data)
}

// relabel gives every sample the label the network currently predicts,
// shifted by offset.
func relabel(t *testing.T, tr *Trainer, data []neuralnet.DataPoint, offset int) []neuralnet.DataPoint {
	t.Helper()
	k := tr.Network().OutputSize()
	out := make([]neuralnet.DataPoint, len(data))
	for i, dp := range data {
		outputs, err := tr.Network().CalculateOutputs(dp.Inputs)
		require.NoError(t, err)
		out[i], err = neuralnet.NewDataPoint(dp.Inputs, (floats.MaxIdx(outputs)+offset)%k, k)
		require.NoError(t, err)
	}
	return out
}

func TestTestAccuracy(t *testing.T) {
	data := randomData(t, rand.New(rand.NewSource(6)), 20, 3, 4)
	tr, err := New(smallParams(), data, nil)
	require.NoError(t, err)

	acc, err := tr.TestAccuracy(relabel(t, tr, data, 0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	acc, err = tr.TestAccuracy(relabel(t, tr, data, 1))
	require.NoError(t, err)
	assert.Equal(t, 0.0, acc)

	half := append(relabel(t, tr, data[:10], 0), relabel(t, tr, data[10:], 1)...)
	acc, err = tr.TestAccuracy(half)
	require.NoError(t, err)
	assert.Equal(t, 0.5, acc)

	_, err = tr.TestAccuracy(nil)
	assert.ErrorIs(t, err, ErrEmptyData)
}

func TestTestHistogram(t *testing.T) {
	data := randomData(t, rand.New(rand.NewSource(7)), 25, 3, 4)
	tr, err := New(smallParams(), data, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Run(5))

	want := make([]int, 4)
	for _, dp := range relabel(t, tr, data, 0) {
		want[dp.ExpectedLabel]++
	}
	got, err := tr.Test(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	total := 0
	for _, c := range got {
		total += c
	}
	assert.Equal(t, len(data), total)

	_, err = tr.Test(nil)
	assert.ErrorIs(t, err, ErrEmptyData)
}

func TestTestRejectsBadSample(t *testing.T) {
	data := randomData(t, rand.New(rand.NewSource(8)), 6, 3, 4)
	tr, err := New(smallParams(), data, nil)
	require.NoError(t, err)

	bad := randomData(t, rand.New(rand.NewSource(9)), 3, 2, 4)
	_, err = tr.Test(bad)
	assert.ErrorIs(t, err, neuralnet.ErrInputSize)
}

func TestRunOnClosedPool(t *testing.T) {
	pool := parallel.NewPool(2)
	data := randomData(t, rand.New(rand.NewSource(10)), 9, 3, 4)
	tr, err := New(smallParams(), data, pool)
	require.NoError(t, err)
	before := tr.Network().Snapshot()

	pool.Close()
	err = tr.Run(1)
	assert.ErrorIs(t, err, parallel.ErrClosed)
	assert.Equal(t, 0, tr.BatchIndex())
	assert.Equal(t, 0, tr.EpochCount())
	assert.Equal(t, Idle, tr.State())
	assert.Equal(t, before, tr.Network().Snapshot())
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	data := randomData(t, rand.New(rand.NewSource(11)), 6, 3, 4)
	tr, err := New(smallParams(), data, nil, WithLogger(logger))
	require.NoError(t, err)

	require.NoError(t, tr.Run(tr.NumBatches()))
	assert.Contains(t, buf.String(), "epoch completed")
	assert.Contains(t, buf.String(), "epoch=1")
	assert.Contains(t, buf.String(), "run complete")
}

func TestWithRand(t *testing.T) {
	data := randomData(t, rand.New(rand.NewSource(12)), 12, 3, 4)
	a, err := New(smallParams(), data, nil, WithRand(rand.New(rand.NewSource(99))))
	require.NoError(t, err)
	b, err := New(smallParams(), data, nil, WithRand(rand.New(rand.NewSource(99))))
	require.NoError(t, err)

	require.NoError(t, a.Run(7))
	require.NoError(t, b.Run(7))
	assert.Equal(t, a.Network().Snapshot(), b.Network().Snapshot())
}

func TestSnapshotRestore(t *testing.T) {
	data := randomData(t, rand.New(rand.NewSource(13)), 10, 3, 4)
	tr, err := New(smallParams(), data, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Run(5))

	raw, err := yaml.Marshal(tr.Snapshot())
	require.NoError(t, err)
	var s Snapshot
	require.NoError(t, yaml.Unmarshal(raw, &s))
	assert.Equal(t, tr.Snapshot(), s)

	restored, err := Restore(s, data, nil)
	require.NoError(t, err)
	assert.Equal(t, tr.CurrentLearnRate(), restored.CurrentLearnRate())
	assert.Equal(t, tr.EpochCount(), restored.EpochCount())
	assert.Equal(t, tr.BatchIndex(), restored.BatchIndex())
	assert.Equal(t, tr.NumBatches(), restored.NumBatches())
	for _, dp := range data {
		want, err := tr.Network().CalculateOutputs(dp.Inputs)
		require.NoError(t, err)
		got, err := restored.Network().CalculateOutputs(dp.Inputs)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, restored.Run(2))
	assert.Equal(t, 2, restored.EpochCount())
}

func TestRestoreDealsSameBatches(t *testing.T) {
	p := smallParams()
	p.Seed = 42
	data := randomData(t, rand.New(rand.NewSource(16)), 12, 3, 4)
	tr, err := New(p, data, nil)
	require.NoError(t, err)

	s := tr.Snapshot()
	assert.Equal(t, int64(42), s.Seed)
	restored, err := Restore(s, data, nil)
	require.NoError(t, err)
	assert.Equal(t, tr.batches, restored.batches)

	other := smallParams()
	other.Seed = 43
	differentSeed, err := New(other, data, nil)
	require.NoError(t, err)
	assert.NotEqual(t, tr.batches, differentSeed.batches)
}

func TestRestoreInvalid(t *testing.T) {
	data := randomData(t, rand.New(rand.NewSource(14)), 10, 3, 4)
	tr, err := New(smallParams(), data, nil)
	require.NoError(t, err)

	s := tr.Snapshot()
	s.BatchIndex = 3
	_, err = Restore(s, data, nil)
	assert.ErrorIs(t, err, neuralnet.ErrSnapshot)

	s = tr.Snapshot()
	s.CurrentLearnRate = 0
	_, err = Restore(s, data, nil)
	assert.ErrorIs(t, err, neuralnet.ErrSnapshot)

	s = tr.Snapshot()
	s.MiniBatchSize = 11
	_, err = Restore(s, data, nil)
	assert.ErrorIs(t, err, ErrBatchSize)

	_, err = Restore(tr.Snapshot(), randomData(t, rand.New(rand.NewSource(15)), 10, 2, 4), nil)
	assert.ErrorIs(t, err, ErrInvalidData)
}
