// Package features builds the coordinate batches fed to a CPPN.
package features

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Distance measures how far a coordinate lies from the grid centre.
type Distance func(x, y float64) float64

var patterns = map[string]Distance{
	"square": func(x, y float64) float64 {
		return math.Max(math.Abs(x), math.Abs(y))
	},
	"circle": func(x, y float64) float64 {
		return math.Hypot(x, y)
	},
}

// Patterns lists the supported pattern names.
func Patterns() []string {
	names := make([]string, 0, len(patterns))
	for name := range patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate returns sizeX*sizeY rows of (x, y) features in row-major order:
// row i of the grid maps to x in [-1,1], column j to y in [-1,1]. scale blends
// the plain coordinates with the pattern distance; 0 keeps them unchanged.
func Generate(pattern string, sizeX, sizeY int, scale float64) (*mat.Dense, error) {
	dist, ok := patterns[pattern]
	if !ok {
		return nil, fmt.Errorf("unknown pattern %q", pattern)
	}
	if sizeX <= 0 || sizeY <= 0 {
		return nil, fmt.Errorf("grid must be at least 1x1 (got %dx%d)", sizeX, sizeY)
	}
	if scale < 0 || scale > 1 || math.IsNaN(scale) {
		return nil, fmt.Errorf("scale must be within [0,1] (got %v)", scale)
	}

	out := mat.NewDense(sizeX*sizeY, 2, nil)
	for i := 0; i < sizeX; i++ {
		x := axis(i, sizeX)
		for j := 0; j < sizeY; j++ {
			y := axis(j, sizeY)
			d := dist(x, y)
			out.SetRow(i*sizeY+j, []float64{
				(1-scale)*x + scale*d,
				(1-scale)*y + scale*d,
			})
		}
	}
	return out, nil
}

func axis(i, n int) float64 {
	if n == 1 {
		return 0
	}
	return 2*float64(i)/float64(n-1) - 1
}
