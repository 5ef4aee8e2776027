package neuralnet

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Parameter is a trainable tensor and its accumulated gradient.
type Parameter struct {
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParameter(r, c int) *Parameter {
	return &Parameter{
		Value: mat.NewDense(r, c, nil),
		Grad:  mat.NewDense(r, c, nil),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Optimizer defines interface to apply accumulated gradients to parameters.
type Optimizer interface {
	Apply(params []*Parameter) error
}

// SGD implements stochastic gradient descent with classical momentum:
//
//	v = momentum*v + grad
//	p = p - lr*v
type SGD struct {
	LR       float64
	Momentum float64

	velocities []*mat.Dense
}

// NewSGD binds an optimizer to params with zeroed velocity buffers.
func NewSGD(params []*Parameter, lr, momentum float64) *SGD {
	o := &SGD{
		LR:         lr,
		Momentum:   momentum,
		velocities: make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		o.velocities[i] = mat.NewDense(r, c, nil)
	}
	return o
}

// Apply performs one update on every parameter.
func (o *SGD) Apply(params []*Parameter) error {
	if o.LR <= 0 {
		return errors.New("invalid learning rate")
	}
	if len(params) != len(o.velocities) {
		return fmt.Errorf("optimizer bound to %d parameters, got %d", len(o.velocities), len(params))
	}
	for i, p := range params {
		v := o.velocities[i]
		vr, vc := v.Dims()
		gr, gc := p.Grad.Dims()
		if vr != gr || vc != gc {
			return fmt.Errorf("parameter %d: %w", i, mat.ErrShape)
		}
		v.Scale(o.Momentum, v)
		v.Add(v, p.Grad)
		var step mat.Dense
		step.Scale(o.LR, v)
		p.Value.Sub(p.Value, &step)
	}
	return nil
}
