package neuralnet

import "gonum.org/v1/gonum/mat"

// LossFunction defines the interface for computing loss and its gradient.
type LossFunction interface {
	// Compute returns the loss value given the model output and target, both N x C.
	Compute(output, target mat.Matrix) float64
	// Gradient returns ∂L/∂output with the same shape as output.
	Gradient(output, target mat.Matrix) *mat.Dense
}

// MSE is the mean squared error over every element of the batch.
type MSE struct{}

// Compute returns the mean of (output - target)^2 over all rows and columns.
func (MSE) Compute(output, target mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(output, target)
	diff.MulElem(&diff, &diff)
	r, c := diff.Dims()
	return mat.Sum(&diff) / float64(r*c)
}

// Gradient returns 2(output - target)/(N*C).
func (MSE) Gradient(output, target mat.Matrix) *mat.Dense {
	var grad mat.Dense
	grad.Sub(output, target)
	r, c := grad.Dims()
	grad.Scale(2/float64(r*c), &grad)
	return &grad
}

// DampedLoss scales an inner loss by a constant factor. The factor only
// changes the magnitude of the back-propagated gradient, not its direction.
type DampedLoss struct {
	Loss   LossFunction
	Factor float64
}

func (d DampedLoss) Compute(output, target mat.Matrix) float64 {
	return d.Factor * d.Loss.Compute(output, target)
}

func (d DampedLoss) Gradient(output, target mat.Matrix) *mat.Dense {
	grad := d.Loss.Gradient(output, target)
	grad.Scale(d.Factor, grad)
	return grad
}

// Undamped returns the inner loss value, which is what gets reported.
func (d DampedLoss) Undamped(output, target mat.Matrix) float64 {
	return d.Loss.Compute(output, target)
}
