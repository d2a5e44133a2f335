package projection

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Compile time check to ensure PCA satisfies the Reducer interface.
var _ Reducer = PCA{}

// PCA projects vectors onto their first two principal components. It is
// deterministic for identical input, up to the sign of each axis.
type PCA struct{}

// Name implements Reducer.
func (PCA) Name() string { return "pca" }

// Reduce implements Reducer. A single sample centers to the origin and
// one-dimensional data has only one axis to offer; both are emitted
// with the missing coordinates at zero instead of failing the run.
func (PCA) Reduce(ctx context.Context, vectors [][]float32) ([][2]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(vectors)
	if n == 0 {
		return nil, nil
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, errors.New("projection: vectors must not be empty")
	}

	data := make([]float64, 0, n*dim)
	mean := make([]float64, dim)

	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("projection: vector %d has %d dimensions, want %d", i, len(vec), dim)
		}
		for j, v := range vec {
			f := float64(v)
			data = append(data, f)
			mean[j] += f
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	out := make([][2]float32, n)

	if n == 1 {
		return out, nil
	}
	if dim == 1 {
		for i := range out {
			out[i][0] = float32(data[i] - mean[0])
		}
		return out, nil
	}

	centered := mat.NewDense(n, dim, data)
	for i := 0; i < n; i++ {
		for j := 0; j < dim; j++ {
			centered.Set(i, j, centered.At(i, j)-mean[j])
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(centered, nil); !ok {
		return nil, errors.New("projection: principal component analysis failed")
	}

	// Scores are the centered data multiplied by the first two component
	// direction vectors. n >= 2 and dim >= 2 guarantee two columns.
	var components mat.Dense
	pc.VectorsTo(&components)

	var scores mat.Dense
	scores.Mul(centered, components.Slice(0, dim, 0, 2))

	for i := range out {
		out[i][0] = float32(scores.At(i, 0))
		out[i][1] = float32(scores.At(i, 1))
	}

	return out, nil
}
