package engine

import (
	"errors"

	"github.com/hupe1980/embedspace/model"
)

// AddRequest carries the columns of one add call. The request arity is the
// longest column length; every column must hold either zero entries (the
// zero value applies to all records), exactly one entry (broadcast to all
// records) or one entry per record. Any other length is an
// ArityMismatchError.
type AddRequest struct {
	// Vectors are the embeddings. Required.
	Vectors [][]float32

	// SourceURIs point at the raw inputs the embeddings were computed
	// from.
	SourceURIs []string

	// InferenceClasses are the model-predicted classes.
	InferenceClasses []string

	// GroundTruthLabels are the known classes, empty when unlabeled.
	GroundTruthLabels []string

	// DatasetLabels are the partitions the records belong to. Empty
	// entries normalize to the unlabeled partition.
	DatasetLabels []model.DatasetLabel

	// Confidences are the per-class predicted confidences.
	Confidences []map[string]float32
}

// Arity returns the broadcast length of the request, its longest column.
// It is the number of records an expansion produces.
func (r AddRequest) Arity() int {
	n := len(r.Vectors)

	for _, l := range []int{
		len(r.SourceURIs),
		len(r.InferenceClasses),
		len(r.GroundTruthLabels),
		len(r.DatasetLabels),
		len(r.Confidences),
	} {
		if l > n {
			n = l
		}
	}

	return n
}

// expand checks the broadcast rule and materializes one record per arity
// slot.
func (r AddRequest) expand() ([]model.EmbeddingRecord, error) {
	n := r.Arity()
	if n == 0 {
		return nil, errors.New("engine: add request is empty")
	}

	for _, col := range []struct {
		field  string
		length int
	}{
		{"vectors", len(r.Vectors)},
		{"source_uris", len(r.SourceURIs)},
		{"inference_classes", len(r.InferenceClasses)},
		{"ground_truth_labels", len(r.GroundTruthLabels)},
		{"dataset_labels", len(r.DatasetLabels)},
		{"confidences", len(r.Confidences)},
	} {
		if col.length == 0 || col.length == 1 || col.length == n {
			continue
		}

		return nil, &ArityMismatchError{Field: col.field, Expected: n, Actual: col.length}
	}

	records := make([]model.EmbeddingRecord, n)
	for i := range records {
		records[i] = model.EmbeddingRecord{
			Vector:           pick(r.Vectors, i),
			SourceURI:        pick(r.SourceURIs, i),
			InferenceClass:   pick(r.InferenceClasses, i),
			GroundTruthLabel: pick(r.GroundTruthLabels, i),
			DatasetLabel:     pick(r.DatasetLabels, i),
			Confidences:      pick(r.Confidences, i),
		}

		if records[i].DatasetLabel == "" {
			records[i].DatasetLabel = model.DatasetUnlabeled
		}
	}

	return records, nil
}

// pick returns column[i] under the broadcast rule: a single-entry column
// serves every slot, an empty column yields the zero value.
func pick[T any](column []T, i int) T {
	switch len(column) {
	case 0:
		var zero T
		return zero
	case 1:
		return column[0]
	default:
		return column[i]
	}
}
