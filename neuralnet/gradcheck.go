package neuralnet

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// CheckGradients compares back-propagated gradients of the damped training
// loss with central finite differences and returns the largest absolute
// difference. Parameters are left as they were on return.
func (nn *Network) CheckGradients(source, target mat.Matrix) (float64, error) {
	if err := nn.checkTarget(source, target); err != nil {
		return 0, err
	}
	criterion := newCriterion()
	params := nn.Params()

	nn.ZeroGrad()
	result, p, err := nn.forward(source, true)
	if err != nil {
		return 0, err
	}
	nn.backward(p, criterion.Gradient(result, target))
	analytic := flatten(params, func(p *Parameter) *mat.Dense { return p.Grad })
	nn.ZeroGrad()

	original := flatten(params, func(p *Parameter) *mat.Dense { return p.Value })
	defer unflatten(params, original)

	var forwardErr error
	loss := func(x []float64) float64 {
		unflatten(params, x)
		out, err := nn.Forward(source)
		if err != nil {
			forwardErr = err
			return math.NaN()
		}
		return criterion.Compute(out, target)
	}
	numeric := fd.Gradient(nil, loss, original, &fd.Settings{
		Formula: fd.Central,
	})
	if forwardErr != nil {
		return 0, forwardErr
	}

	var worst float64
	for i := range analytic {
		worst = math.Max(worst, math.Abs(analytic[i]-numeric[i]))
	}
	return worst, nil
}

func flatten(params []*Parameter, pick func(*Parameter) *mat.Dense) []float64 {
	var flat []float64
	for _, p := range params {
		m := pick(p)
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				flat = append(flat, m.At(i, j))
			}
		}
	}
	return flat
}

func unflatten(params []*Parameter, flat []float64) {
	k := 0
	for _, p := range params {
		r, c := p.Value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				p.Value.Set(i, j, flat[k])
				k++
			}
		}
	}
}
