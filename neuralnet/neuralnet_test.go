package neuralnet

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Neurons = 4
	cfg.Layers = 2
	return cfg
}

func randomCoordinates(rng *rand.Rand, n int) *mat.Dense {
	data := make([]float64, n*2)
	for i := range data {
		data[i] = rng.Float64()*4 - 2
	}
	return mat.NewDense(n, 2, data)
}

// collect records every reported loss.
func collect(nn *Network) *[]float64 {
	var losses []float64
	nn.SetReporter(func(step int, mse float64) {
		losses = append(losses, mse)
	})
	return &losses
}

func TestNewNetworkLayerShapes(t *testing.T) {
	nn := NewNetwork(Config{Activation: Tanh{}, InputSize: 2, Neurons: 5, Layers: 3, OutputSize: 3, Seed: 1})
	want := [][2]int{{2, 5}, {5, 5}, {5, 5}, {5, 3}}
	if len(nn.layers) != len(want) {
		t.Fatalf("got %d layers; want %d", len(nn.layers), len(want))
	}
	for i, l := range nn.layers {
		r, c := l.weights.Value.Dims()
		if r != want[i][0] || c != want[i][1] {
			t.Errorf("layer %d weights %dx%d; want %dx%d", i, r, c, want[i][0], want[i][1])
		}
		if _, bc := l.bias.Value.Dims(); bc != want[i][1] {
			t.Errorf("layer %d bias width %d; want %d", i, bc, want[i][1])
		}
		if mat.Sum(l.bias.Value) != 0 {
			t.Errorf("layer %d bias not zero initialised", i)
		}
	}
	if _, ok := nn.layers[len(nn.layers)-1].activation.(Sigmoid); !ok {
		t.Errorf("last activation = %T; want Sigmoid", nn.layers[len(nn.layers)-1].activation)
	}
	for i := 0; i < len(nn.layers)-1; i++ {
		if _, ok := nn.layers[i].activation.(Tanh); !ok {
			t.Errorf("layer %d activation = %T; want Tanh", i, nn.layers[i].activation)
		}
	}
}

func TestNewNetworkDeterministic(t *testing.T) {
	a := NewNetwork(DefaultConfig())
	b := NewNetwork(DefaultConfig())
	pa, pb := a.Params(), b.Params()
	for i := range pa {
		if !mat.Equal(pa[i].Value, pb[i].Value) {
			t.Fatalf("parameter %d differs between identical constructions", i)
		}
	}

	x := randomCoordinates(rand.New(rand.NewSource(7)), 16)
	oa, err := a.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	ob, err := b.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(oa, ob) {
		t.Error("identical networks produced different outputs")
	}

	cfg := DefaultConfig()
	cfg.Seed = 1
	c := NewNetwork(cfg)
	if mat.Equal(pa[0].Value, c.Params()[0].Value) {
		t.Error("different seeds produced identical weights")
	}
}

func TestNewNetworkStandardNormalWeights(t *testing.T) {
	cfg := Config{Activation: Tanh{}, InputSize: 2, Neurons: 64, Layers: 4, OutputSize: 3, Seed: DefaultSeed}
	nn := NewNetwork(cfg)
	var all []float64
	for _, l := range nn.layers {
		all = append(all, flatten([]*Parameter{l.weights}, func(p *Parameter) *mat.Dense { return p.Value })...)
	}
	n := float64(len(all))
	mean := floats.Sum(all) / n
	var variance float64
	for _, v := range all {
		variance += (v - mean) * (v - mean)
	}
	variance /= n
	if math.Abs(mean) > 0.1 {
		t.Errorf("weight mean = %f; want near 0", mean)
	}
	if math.Abs(variance-1) > 0.1 {
		t.Errorf("weight variance = %f; want near 1", variance)
	}
}

func TestForwardOutputRangeAndShape(t *testing.T) {
	nn := NewNetwork(DefaultConfig())
	rng := rand.New(rand.NewSource(3))
	for _, n := range []int{1, 7, 256} {
		x := randomCoordinates(rng, n)
		x.Scale(50, x)
		out, err := nn.Forward(x)
		if err != nil {
			t.Fatal(err)
		}
		r, c := out.Dims()
		if r != n || c != 3 {
			t.Fatalf("Forward(%d rows) shape %dx%d; want %dx3", n, r, c, n)
		}
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if v := out.At(i, j); v < 0 || v > 1 || math.IsNaN(v) {
					t.Fatalf("output[%d][%d] = %v; want within [0,1]", i, j, v)
				}
			}
		}
	}
}

func TestForwardIsPure(t *testing.T) {
	nn := NewNetwork(smallConfig())
	x := randomCoordinates(rand.New(rand.NewSource(5)), 10)
	before := mat.DenseCopyOf(x)
	first, err := nn.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	second, err := nn.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(first, second) {
		t.Error("repeated Forward calls returned different outputs")
	}
	if !mat.Equal(before, x) {
		t.Error("Forward modified its input")
	}
}

func TestForwardRowIndependent(t *testing.T) {
	nn := NewNetwork(smallConfig())
	x := randomCoordinates(rand.New(rand.NewSource(9)), 6)
	batch, err := nn.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		row, err := nn.Forward(x.Slice(i, i+1, 0, 2))
		if err != nil {
			t.Fatal(err)
		}
		if !floats.EqualApprox(row.RawRowView(0), batch.RawRowView(i), 1e-12) {
			t.Errorf("row %d differs when evaluated alone", i)
		}
	}
}

func TestForwardShapeMismatch(t *testing.T) {
	nn := NewNetwork(smallConfig())
	_, err := nn.Forward(mat.NewDense(2, 3, nil))
	if !errors.Is(err, mat.ErrShape) {
		t.Errorf("Forward with 3 columns = %v; want mat.ErrShape", err)
	}
}

func TestTrainCallsCallbackExactlyNSteps(t *testing.T) {
	for _, steps := range []int{0, 1, 3, 10} {
		nn := NewNetwork(smallConfig())
		reported := collect(nn)
		source := randomCoordinates(rand.New(rand.NewSource(1)), 4)
		target := mat.NewDense(4, 3, nil)

		calls := 0
		err := nn.Train(source, target, steps, func(result *mat.Dense) {
			calls++
			if r, c := result.Dims(); r != 4 || c != 3 {
				t.Errorf("callback result shape %dx%d; want 4x3", r, c)
			}
		})
		if err != nil {
			t.Fatal(err)
		}
		if calls != steps {
			t.Errorf("callback called %d times; want %d", calls, steps)
		}
		if len(*reported) != steps {
			t.Errorf("reporter called %d times; want %d", len(*reported), steps)
		}
	}
}

func TestTrainWithoutCallback(t *testing.T) {
	nn := NewNetwork(smallConfig())
	collect(nn)
	before := mat.DenseCopyOf(nn.Params()[0].Value)
	source := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	if err := nn.Train(source, mat.NewDense(2, 3, nil), 3, nil); err != nil {
		t.Fatal(err)
	}
	if mat.Equal(before, nn.Params()[0].Value) {
		t.Error("Train did not update parameters")
	}
	for i, p := range nn.Params() {
		if mat.Sum(p.Grad) != 0 {
			t.Errorf("parameter %d gradient not reset after training", i)
		}
	}
}

func TestTrainReportsUndampedMSE(t *testing.T) {
	nn := NewNetwork(smallConfig())
	reported := collect(nn)
	source := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	target := mat.NewDense(2, 3, nil)

	out, err := nn.Forward(source)
	if err != nil {
		t.Fatal(err)
	}
	want := MSE{}.Compute(out, target)

	if err := nn.Train(source, target, 1, nil); err != nil {
		t.Fatal(err)
	}
	if !floatEquals((*reported)[0], want, 1e-12) {
		t.Errorf("reported loss %v; want undamped %v", (*reported)[0], want)
	}
}

func TestTrainShapeMismatch(t *testing.T) {
	nn := NewNetwork(smallConfig())
	source := mat.NewDense(2, 2, nil)
	tests := []struct {
		description string
		target      mat.Matrix
	}{
		{"target rows", mat.NewDense(3, 3, nil)},
		{"target columns", mat.NewDense(2, 2, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			calls := 0
			err := nn.Train(source, tt.target, 5, func(*mat.Dense) { calls++ })
			if !errors.Is(err, mat.ErrShape) {
				t.Errorf("Train = %v; want mat.ErrShape", err)
			}
			if calls != 0 {
				t.Errorf("callback ran %d times on invalid input", calls)
			}
		})
	}
	if err := nn.Train(mat.NewDense(2, 4, nil), mat.NewDense(2, 3, nil), 1, nil); !errors.Is(err, mat.ErrShape) {
		t.Errorf("Train with wrong source width = %v; want mat.ErrShape", err)
	}
}

func TestTrainConcreteScenario(t *testing.T) {
	nn := NewNetwork(Config{Activation: Tanh{}, InputSize: 2, Neurons: 4, Layers: 2, OutputSize: 3, Seed: DefaultSeed})
	source := mat.NewDense(2, 2, []float64{0, 0, 1, 1})

	out, err := nn.Forward(source)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := out.Dims(); r != 2 || c != 3 {
		t.Fatalf("output shape %dx%d; want 2x3", r, c)
	}
	for _, v := range out.RawMatrix().Data {
		if v < 0 || v > 1 {
			t.Fatalf("output value %v outside [0,1]", v)
		}
	}

	reported := collect(nn)
	if err := nn.Train(source, mat.NewDense(2, 3, nil), 5, nil); err != nil {
		t.Fatal(err)
	}
	losses := *reported
	if len(losses) != 5 {
		t.Fatalf("reported %d losses; want 5", len(losses))
	}
	if losses[4] > losses[0] {
		t.Errorf("loss at step 5 (%f) greater than at step 1 (%f)", losses[4], losses[0])
	}
}

func TestTrainDoesNotIncreaseLossOnConstantTarget(t *testing.T) {
	var first, last float64
	for trial := int64(0); trial < 5; trial++ {
		cfg := smallConfig()
		cfg.Seed = DefaultSeed + trial
		nn := NewNetwork(cfg)
		reported := collect(nn)

		source := randomCoordinates(rand.New(rand.NewSource(trial)), 4)
		target := mat.NewDense(4, 3, nil)
		for i := 0; i < 4; i++ {
			target.SetRow(i, []float64{0.2, 0.5, 0.8})
		}
		if err := nn.Train(source, target, 50, nil); err != nil {
			t.Fatal(err)
		}

		out, err := nn.Forward(source)
		if err != nil {
			t.Fatal(err)
		}
		first += (*reported)[0]
		last += MSE{}.Compute(out, target)
	}
	if last > first {
		t.Errorf("mean final MSE %f greater than mean initial MSE %f", last/5, first/5)
	}
}

func TestTrainFreshOptimizerPerCall(t *testing.T) {
	source := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	target := mat.NewDense(2, 3, nil)

	once := NewNetwork(smallConfig())
	collect(once)
	if err := once.Train(source, target, 2, nil); err != nil {
		t.Fatal(err)
	}

	split := NewNetwork(smallConfig())
	collect(split)
	for i := 0; i < 2; i++ {
		if err := split.Train(source, target, 1, nil); err != nil {
			t.Fatal(err)
		}
	}

	// Two one-step calls never build up momentum, so they differ from one two-step call.
	if mat.EqualApprox(once.Params()[0].Value, split.Params()[0].Value, 1e-15) {
		t.Error("momentum leaked across Train calls or was never applied")
	}
}

func TestCheckGradients(t *testing.T) {
	nn := NewNetwork(smallConfig())
	source := randomCoordinates(rand.New(rand.NewSource(11)), 5)
	target := mat.NewDense(5, 3, nil)
	target.Apply(func(i, j int, _ float64) float64 { return float64(i+j) / 8 }, target)

	before := flatten(nn.Params(), func(p *Parameter) *mat.Dense { return p.Value })
	worst, err := nn.CheckGradients(source, target)
	if err != nil {
		t.Fatal(err)
	}
	if worst > 1e-7 {
		t.Errorf("max gradient difference %g; want <= 1e-7", worst)
	}
	after := flatten(nn.Params(), func(p *Parameter) *mat.Dense { return p.Value })
	if !floats.Equal(before, after) {
		t.Error("CheckGradients left parameters modified")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	cfg := DefaultConfig()
	cfg.Layers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate with zero layers did not return error")
	}
}
