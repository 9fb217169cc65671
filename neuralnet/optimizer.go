package neuralnet

import "gonum.org/v1/gonum/floats"

// ApplyGradients takes one momentum step using the accumulated gradients and
// then zeroes them. learnRate must already be divided by the batch size.
// Only weights are decayed; biases follow the plain velocity update.
// Not safe to call while samples are still accumulating.
func (l *Layer) ApplyGradients(learnRate, regularisation, momentum float64) {
	weightDecay := 1 - regularisation*learnRate
	sgdStep(l.weights, l.velocityWeights, l.gradWeights, learnRate, weightDecay, momentum)
	sgdStep(l.biases, l.velocityBiases, l.gradBiases, learnRate, 1, momentum)
}

// sgdStep applies
//
//	velocity = velocity*momentum - grad*learnRate
//	param    = param*decay + velocity
//
// and clears grads.
func sgdStep(params, velocities, grads []float64, learnRate, decay, momentum float64) {
	floats.Scale(momentum, velocities)
	floats.AddScaled(velocities, -learnRate, grads)
	if decay != 1 {
		floats.Scale(decay, params)
	}
	floats.Add(params, velocities)
	clear(grads)
}
