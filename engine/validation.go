package engine

import (
	"fmt"
	"math"

	"github.com/hupe1980/embedspace/index"
)

// ValidationLimits bounds request inputs before they reach store or index.
type ValidationLimits struct {
	// MaxDimension is the maximum vector dimension.
	MaxDimension int

	// MaxBatchSize is the maximum number of records per add request.
	MaxBatchSize int

	// MaxK is the maximum number of neighbors per query.
	MaxK int
}

// DefaultLimits returns sensible default validation limits.
func DefaultLimits() ValidationLimits {
	return ValidationLimits{
		MaxDimension: 65536,
		MaxBatchSize: 10000,
		MaxK:         10000,
	}
}

// validateVector checks a vector for emptiness, dimension bounds and
// non-finite components. want > 0 pins the dimension the vector must have.
func validateVector(vector []float32, want int, limits ValidationLimits) error {
	if len(vector) == 0 {
		return index.ErrEmptyVector
	}

	if limits.MaxDimension > 0 && len(vector) > limits.MaxDimension {
		return fmt.Errorf("dimension %d exceeds maximum %d", len(vector), limits.MaxDimension)
	}

	if want > 0 && len(vector) != want {
		return &index.ErrDimensionMismatch{Expected: want, Actual: len(vector)}
	}

	for i, val := range vector {
		if math.IsNaN(float64(val)) {
			return fmt.Errorf("vector[%d] contains NaN", i)
		}
		if math.IsInf(float64(val), 0) {
			return fmt.Errorf("vector[%d] contains Inf", i)
		}
	}

	return nil
}

// validateK checks the neighbor count of a query.
func validateK(k int, limits ValidationLimits) error {
	if k <= 0 {
		return index.ErrInvalidK
	}

	if limits.MaxK > 0 && k > limits.MaxK {
		return fmt.Errorf("engine: k %d exceeds maximum %d", k, limits.MaxK)
	}

	return nil
}
