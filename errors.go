package embedspace

import (
	"errors"
	"fmt"

	"github.com/hupe1980/embedspace/engine"
	"github.com/hupe1980/embedspace/index"
	"github.com/hupe1980/embedspace/sampler"
)

var (
	// ErrClosed is returned by operations on a closed EmbedSpace.
	ErrClosed = errors.New("embedspace: closed")

	// ErrIndexNotBuilt is returned when an operation needs an index the
	// namespace does not have. Call BuildIndex first.
	ErrIndexNotBuilt = errors.New("index not built")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyFilterResult is returned when a query filter matches no
	// records, so there is nothing to search.
	ErrEmptyFilterResult = errors.New("filter matched no records")

	// ErrNoDriftScores is returned when sampling needs drift scores and
	// no analysis run has produced any yet.
	ErrNoDriftScores = errors.New("no drift scores")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Index lifecycle unification.
	if errors.Is(err, index.ErrNotBuilt) {
		return fmt.Errorf("%w: %w", ErrIndexNotBuilt, err)
	}
	if errors.Is(err, sampler.ErrIndexNotBuilt) {
		return fmt.Errorf("%w: %w", ErrIndexNotBuilt, err)
	}

	// Dimension and argument normalization.
	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, engine.ErrEmptyFilterResult) {
		return fmt.Errorf("%w: %w", ErrEmptyFilterResult, err)
	}
	if errors.Is(err, sampler.ErrNoDriftScores) {
		return fmt.Errorf("%w: %w", ErrNoDriftScores, err)
	}

	return err
}
