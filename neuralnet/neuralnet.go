package neuralnet

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultSeed is the seed every CPPN experiment starts from.
	DefaultSeed int64 = 4308271371631272292

	LearningRate = 0.1
	Momentum     = 0.9
	// LossDamping scales the back-propagated loss. Reported losses stay undamped.
	LossDamping = 0.01
)

// Config holds the construction parameters of a Network.
type Config struct {
	Activation ActivationFunction
	InputSize  int
	Neurons    int
	Layers     int
	OutputSize int
	Seed       int64
}

func DefaultConfig() Config {
	return Config{
		Activation: Tanh{},
		InputSize:  2,
		Neurons:    2,
		Layers:     9,
		OutputSize: 3,
		Seed:       DefaultSeed,
	}
}

// Validate checks the sizes are usable. NewNetwork does not call it.
func (c Config) Validate() error {
	if c.InputSize <= 0 {
		return fmt.Errorf("input size must be > 0 (got %d)", c.InputSize)
	}
	if c.Neurons <= 0 {
		return fmt.Errorf("neurons must be > 0 (got %d)", c.Neurons)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("layers must be > 0 (got %d)", c.Layers)
	}
	if c.OutputSize <= 0 {
		return fmt.Errorf("output size must be > 0 (got %d)", c.OutputSize)
	}
	return nil
}

// Callback observes the output of every training step. It must treat result
// as read-only and must not touch the network parameters.
type Callback func(result *mat.Dense)

// Reporter receives the undamped MSE of every training step, 1-based.
type Reporter func(step int, mse float64)

func logReporter(step int, mse float64) {
	log.Printf("step=%d loss: %.6f", step, mse)
}

type Layer struct {
	weights    *Parameter // in x out
	bias       *Parameter // 1 x out
	activation ActivationFunction
}

// Network is a CPPN: a fixed stack of affine layers mapping each coordinate
// row to a color row. The last layer is squashed by a sigmoid so outputs stay
// in [0,1]. A Network is not safe for concurrent use.
type Network struct {
	layers   []*Layer
	config   Config
	reporter Reporter
}

func NewNetwork(cfg Config) *Network {
	if cfg.Activation == nil {
		cfg.Activation = Tanh{}
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	nn := &Network{
		// first + hidden + output
		layers:   make([]*Layer, 0, cfg.Layers+1),
		config:   cfg,
		reporter: logReporter,
	}

	in := cfg.InputSize
	for i := 0; i < cfg.Layers; i++ {
		nn.layers = append(nn.layers, newLayer(rng, in, cfg.Neurons, cfg.Activation))
		in = cfg.Neurons
	}
	nn.layers = append(nn.layers, newLayer(rng, in, cfg.OutputSize, Sigmoid{}))

	return nn
}

// newLayer draws every weight from N(0,1); biases start at zero.
func newLayer(rng *rand.Rand, in, out int, activation ActivationFunction) *Layer {
	l := &Layer{
		weights:    newParameter(in, out),
		bias:       newParameter(1, out),
		activation: activation,
	}
	raw := l.weights.Value.RawMatrix()
	for i := 0; i < raw.Rows; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] = rng.NormFloat64()
		}
	}
	return l
}

func (nn *Network) Config() Config {
	return nn.config
}

// SetReporter replaces the per-step loss reporter. nil restores logging.
func (nn *Network) SetReporter(r Reporter) {
	if r == nil {
		r = logReporter
	}
	nn.reporter = r
}

// Params returns the trainable parameters in layer order, weights before bias.
func (nn *Network) Params() []*Parameter {
	params := make([]*Parameter, 0, 2*len(nn.layers))
	for _, l := range nn.layers {
		params = append(params, l.weights, l.bias)
	}
	return params
}

func (nn *Network) ZeroGrad() {
	for _, p := range nn.Params() {
		p.ZeroGrad()
	}
}

// pass keeps the per-layer values needed by backpropagation.
type pass struct {
	inputs []mat.Matrix // input of layer i
	pre    []*mat.Dense // pre-activation of layer i
}

// Forward maps every row of x (N x InputSize) to a color row (N x OutputSize).
func (nn *Network) Forward(x mat.Matrix) (*mat.Dense, error) {
	out, _, err := nn.forward(x, false)
	return out, err
}

func (nn *Network) forward(x mat.Matrix, keep bool) (*mat.Dense, *pass, error) {
	rows, cols := x.Dims()
	if cols != nn.config.InputSize {
		return nil, nil, fmt.Errorf("input has %d columns, network expects %d: %w", cols, nn.config.InputSize, mat.ErrShape)
	}
	if rows == 0 {
		return nil, nil, fmt.Errorf("empty input: %w", mat.ErrShape)
	}

	var p *pass
	if keep {
		p = &pass{
			inputs: make([]mat.Matrix, len(nn.layers)),
			pre:    make([]*mat.Dense, len(nn.layers)),
		}
	}

	current := x
	var out *mat.Dense
	for i, l := range nn.layers {
		_, width := l.weights.Value.Dims()
		z := mat.NewDense(rows, width, nil)
		z.Mul(current, l.weights.Value)
		bias := l.bias.Value.RawRowView(0)
		z.Apply(func(_, j int, v float64) float64 {
			return v + bias[j]
		}, z)

		act := l.activation
		out = mat.NewDense(rows, width, nil)
		out.Apply(func(_, _ int, v float64) float64 {
			return act.Activate(v)
		}, z)

		if keep {
			p.inputs[i] = current
			p.pre[i] = z
		}
		current = out
	}
	return out, p, nil
}

// backward accumulates parameter gradients given ∂L/∂output.
func (nn *Network) backward(p *pass, grad *mat.Dense) {
	delta := grad
	for i := len(nn.layers) - 1; i >= 0; i-- {
		l := nn.layers[i]
		act := l.activation

		// ∂L/∂z = ∂L/∂a * act'(z)
		var dz mat.Dense
		dz.Apply(func(r, c int, v float64) float64 {
			return v * act.Derivative(p.pre[i].At(r, c))
		}, delta)

		var dw mat.Dense
		dw.Mul(p.inputs[i].T(), &dz)
		l.weights.Grad.Add(l.weights.Grad, &dw)

		biasGrad := l.bias.Grad.RawRowView(0)
		rows, _ := dz.Dims()
		for r := 0; r < rows; r++ {
			for c, v := range dz.RawRowView(r) {
				biasGrad[c] += v
			}
		}

		if i > 0 {
			next := new(mat.Dense)
			next.Mul(&dz, l.weights.Value.T())
			delta = next
		}
	}
}

// newOptimizer and newCriterion build the training session of one Train call.
func newOptimizer(params []*Parameter) Optimizer {
	return NewSGD(params, LearningRate, Momentum)
}

func newCriterion() DampedLoss {
	return DampedLoss{Loss: MSE{}, Factor: LossDamping}
}

// Train fits the network toward target for exactly nSteps steps of momentum
// SGD. callback may be nil. The optimizer state is discarded on return.
// A failing step aborts the call; earlier updates are kept.
func (nn *Network) Train(source, target mat.Matrix, nSteps int, callback Callback) error {
	if err := nn.checkTarget(source, target); err != nil {
		return err
	}
	params := nn.Params()
	opt := newOptimizer(params)
	criterion := newCriterion()
	nn.ZeroGrad()

	for step := 1; step <= nSteps; step++ {
		result, p, err := nn.forward(source, true)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}

		if callback != nil {
			callback(result)
		}

		nn.reporter(step, criterion.Undamped(result, target))

		nn.backward(p, criterion.Gradient(result, target))
		if err := opt.Apply(params); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		nn.ZeroGrad()
	}
	return nil
}

func (nn *Network) checkTarget(source, target mat.Matrix) error {
	if source == nil || target == nil {
		return errors.New("source and target must be set")
	}
	sr, _ := source.Dims()
	tr, tc := target.Dims()
	if tr != sr {
		return fmt.Errorf("target has %d rows, source has %d: %w", tr, sr, mat.ErrShape)
	}
	if tc != nn.config.OutputSize {
		return fmt.Errorf("target has %d columns, network outputs %d: %w", tc, nn.config.OutputSize, mat.ErrShape)
	}
	return nil
}

// Define the String() method for the Network type
func (nn *Network) String() string {
	var sb strings.Builder

	for i, l := range nn.layers {
		in, out := l.weights.Value.Dims()
		sb.WriteString(fmt.Sprintf("Layer %d: %d -> %d %T\n", i, in, out, l.activation))
	}

	return sb.String()
}
