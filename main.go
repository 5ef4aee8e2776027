package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"cppn/features"
	"cppn/neuralnet"
	"cppn/render"
)

func main() {
	sizeX := flag.Int("size-x", 256, "Image rows")
	sizeY := flag.Int("size-y", 256, "Image columns")
	neurons := flag.Int("neurons", 20, "Neurons per hidden layer")
	layers := flag.Int("layers", 20, "Number of hidden layers")
	outputSize := flag.Int("output-size", 3, "Output channels (1, 3 or 4)")
	activation := flag.String("activation", "tanh", "Hidden activation: tanh, sigmoid, relu, leaky_relu, linear")
	seed := flag.Int64("seed", neuralnet.DefaultSeed, "Weight initialisation seed")
	scale := flag.Float64("scale", 0.5, "Pattern blend for the circle input")
	steps := flag.Int("steps", 20, "Training steps toward the target image")
	outDir := flag.String("out", "out", "Directory for rendered images")
	gradCheck := flag.Bool("gradcheck", false, "Compare backprop against finite differences and exit")

	flag.Parse()

	act, err := neuralnet.ActivationByName(*activation)
	if err != nil {
		log.Fatalf("invalid activation: %v", err)
	}
	cfg := neuralnet.Config{
		Activation: act,
		InputSize:  2,
		Neurons:    *neurons,
		Layers:     *layers,
		OutputSize: *outputSize,
		Seed:       *seed,
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if *outputSize < 3 {
		log.Fatalf("invalid config: the target image needs at least 3 channels (got %d)", *outputSize)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	out := func(name string) string { return filepath.Join(*outDir, name) }

	squareInput, err := features.Generate("square", *sizeX, *sizeY, 0)
	if err != nil {
		log.Fatalf("generate square input: %v", err)
	}
	circleInput, err := features.Generate("circle", *sizeX, *sizeY, *scale)
	if err != nil {
		log.Fatalf("generate circle input: %v", err)
	}
	if _, err := render.Input(circleInput, *sizeX, *sizeY, out("circle_input")); err != nil {
		log.Fatalf("render circle input: %v", err)
	}

	net := neuralnet.NewNetwork(cfg)
	log.Printf("network:\n%s", net)

	if *gradCheck {
		target := mat.NewDense(*sizeX**sizeY, *outputSize, nil)
		worst, err := net.CheckGradients(squareInput, target)
		if err != nil {
			log.Fatalf("gradient check: %v", err)
		}
		log.Printf("gradient check max_abs_diff=%g", worst)
		return
	}

	squareImg, err := net.Forward(squareInput)
	if err != nil {
		log.Fatalf("forward square: %v", err)
	}
	circleImg, err := net.Forward(circleInput)
	if err != nil {
		log.Fatalf("forward circle: %v", err)
	}
	if _, err := render.Plot(squareImg, *sizeX, *sizeY, *outputSize, out("square")); err != nil {
		log.Fatalf("render square: %v", err)
	}
	if _, err := render.Plot(circleImg, *sizeX, *sizeY, *outputSize, out("circle")); err != nil {
		log.Fatalf("render circle: %v", err)
	}

	// Target keeps only the third channel of the square rendering.
	target := mat.DenseCopyOf(squareImg)
	rows, _ := target.Dims()
	for i := 0; i < rows; i++ {
		target.Set(i, 0, 0)
		target.Set(i, 1, 0)
	}
	if _, err := render.Plot(target, *sizeX, *sizeY, *outputSize, out("target")); err != nil {
		log.Fatalf("render target: %v", err)
	}

	callback := render.Callback(*sizeX, *sizeY, *outputSize, out("train"))
	if err := net.Train(squareInput, target, *steps, callback); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
