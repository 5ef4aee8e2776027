// Package render turns color batches into PNG images.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"cppn/neuralnet"
)

// Grid reshapes a flat N x outputSize batch into a sizeX x sizeY x outputSize
// tensor with values scaled from [0,1] to [0,255].
func Grid(colors mat.Matrix, sizeX, sizeY, outputSize int) (tensor.Tensor, error) {
	r, c := colors.Dims()
	if r != sizeX*sizeY || c != outputSize {
		return nil, fmt.Errorf("render: batch %dx%d does not fit %dx%dx%d: %w", r, c, sizeX, sizeY, outputSize, mat.ErrShape)
	}
	backing := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			backing = append(backing, colors.At(i, j))
		}
	}
	flat := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(r*c), tensor.WithBacking(backing))
	if err := flat.Reshape(sizeX, sizeY, outputSize); err != nil {
		return nil, fmt.Errorf("render: reshape: %w", err)
	}
	return tensor.Mul(flat, 255.0)
}

// Image builds an image with sizeX rows and sizeY columns. outputSize 1 is
// rendered grey, 3 as RGB and 4 as RGBA.
func Image(colors mat.Matrix, sizeX, sizeY, outputSize int) (*image.RGBA, error) {
	if outputSize != 1 && outputSize != 3 && outputSize != 4 {
		return nil, fmt.Errorf("render: unsupported channel count %d", outputSize)
	}
	grid, err := Grid(colors, sizeX, sizeY, outputSize)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, sizeY, sizeX))
	channel := func(y, x, k int) (uint8, error) {
		v, err := grid.At(y, x, k)
		if err != nil {
			return 0, err
		}
		return toByte(v.(float64)), nil
	}
	for y := 0; y < sizeX; y++ {
		for x := 0; x < sizeY; x++ {
			px := color.RGBA{A: 255}
			var err error
			switch outputSize {
			case 1:
				px.R, err = channel(y, x, 0)
				px.G, px.B = px.R, px.R
			default:
				if px.R, err = channel(y, x, 0); err != nil {
					break
				}
				if px.G, err = channel(y, x, 1); err != nil {
					break
				}
				if px.B, err = channel(y, x, 2); err != nil {
					break
				}
				if outputSize == 4 {
					px.A, err = channel(y, x, 3)
				}
			}
			if err != nil {
				return nil, fmt.Errorf("render: pixel (%d,%d): %w", y, x, err)
			}
			img.Set(x, y, px)
		}
	}
	return img, nil
}

func toByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// Save writes img to <path>.png.
func Save(img image.Image, path string) error {
	if path == "" {
		return errors.New("render: empty path")
	}
	file, err := os.Create(path + ".png")
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Plot renders colors and saves the image when path is not empty.
func Plot(colors mat.Matrix, sizeX, sizeY, outputSize int, path string) (*image.RGBA, error) {
	img, err := Image(colors, sizeX, sizeY, outputSize)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := Save(img, path); err != nil {
			return nil, err
		}
		log.Printf("image saved as %s.png", path)
	}
	return img, nil
}

// Input renders every feature column of coords as a min-max normalised grey
// image, saved as <path>_<column>.png when path is not empty.
func Input(coords mat.Matrix, sizeX, sizeY int, path string) ([]*image.RGBA, error) {
	r, c := coords.Dims()
	if r != sizeX*sizeY {
		return nil, fmt.Errorf("render: %d coordinates do not fit %dx%d: %w", r, sizeX, sizeY, mat.ErrShape)
	}
	images := make([]*image.RGBA, 0, c)
	for k := 0; k < c; k++ {
		feature := mat.Col(nil, k, coords)
		lo := floats.Min(feature)
		floats.AddConst(-lo, feature)
		if hi := floats.Max(feature); hi > 0 {
			floats.Scale(1/hi, feature)
		}
		img, err := Plot(mat.NewDense(r, 1, feature), sizeX, sizeY, 1, framePath(path, k))
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// Callback saves every training step as <prefix>_<step>.png. Steps are
// counted from 1. Save failures are logged, training continues.
func Callback(sizeX, sizeY, outputSize int, prefix string) neuralnet.Callback {
	step := 0
	return func(result *mat.Dense) {
		step++
		if _, err := Plot(result, sizeX, sizeY, outputSize, framePath(prefix, step)); err != nil {
			log.Printf("render step=%d: %v", step, err)
		}
	}
}

func framePath(prefix string, n int) string {
	if prefix == "" {
		return ""
	}
	return fmt.Sprintf("%s_%d", prefix, n)
}
