package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/embedspace/model"
)

func TestAddRequestExpand(t *testing.T) {
	t.Run("PerRecordColumns", func(t *testing.T) {
		records, err := AddRequest{
			Vectors:           [][]float32{{1, 0}, {0, 1}},
			SourceURIs:        []string{"s3://b/a.png", "s3://b/b.png"},
			InferenceClasses:  []string{"cat", "dog"},
			GroundTruthLabels: []string{"cat", ""},
			DatasetLabels:     []model.DatasetLabel{model.DatasetTraining, model.DatasetInference},
			Confidences:       []map[string]float32{{"cat": 0.9}, {"dog": 0.8}},
		}.expand()
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, []float32{1, 0}, records[0].Vector)
		assert.Equal(t, "s3://b/a.png", records[0].SourceURI)
		assert.Equal(t, "cat", records[0].InferenceClass)
		assert.Equal(t, "cat", records[0].GroundTruthLabel)
		assert.Equal(t, model.DatasetTraining, records[0].DatasetLabel)
		assert.Equal(t, map[string]float32{"cat": 0.9}, records[0].Confidences)

		assert.Equal(t, []float32{0, 1}, records[1].Vector)
		assert.Equal(t, "dog", records[1].InferenceClass)
		assert.Empty(t, records[1].GroundTruthLabel)
		assert.Equal(t, model.DatasetInference, records[1].DatasetLabel)
	})

	t.Run("SingleEntryColumnsBroadcast", func(t *testing.T) {
		records, err := AddRequest{
			Vectors:          [][]float32{{1}, {2}, {3}},
			InferenceClasses: []string{"cat"},
			DatasetLabels:    []model.DatasetLabel{model.DatasetTraining},
		}.expand()
		require.NoError(t, err)
		require.Len(t, records, 3)

		for _, rec := range records {
			assert.Equal(t, "cat", rec.InferenceClass)
			assert.Equal(t, model.DatasetTraining, rec.DatasetLabel)
		}
	})

	t.Run("SingleVectorBroadcasts", func(t *testing.T) {
		records, err := AddRequest{
			Vectors:          [][]float32{{1, 2}},
			InferenceClasses: []string{"cat", "dog"},
		}.expand()
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, []float32{1, 2}, records[0].Vector)
		assert.Equal(t, []float32{1, 2}, records[1].Vector)
		assert.Equal(t, "dog", records[1].InferenceClass)
	})

	t.Run("EmptyColumnsLeaveZeroValues", func(t *testing.T) {
		records, err := AddRequest{
			Vectors: [][]float32{{1}, {2}},
		}.expand()
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Empty(t, records[0].SourceURI)
		assert.Empty(t, records[0].InferenceClass)
		assert.Empty(t, records[0].GroundTruthLabel)
		assert.Nil(t, records[0].Confidences)
	})

	t.Run("EmptyDatasetLabelNormalizesToUnlabeled", func(t *testing.T) {
		records, err := AddRequest{
			Vectors:       [][]float32{{1}, {2}},
			DatasetLabels: []model.DatasetLabel{"", model.DatasetTraining},
		}.expand()
		require.NoError(t, err)

		assert.Equal(t, model.DatasetUnlabeled, records[0].DatasetLabel)
		assert.Equal(t, model.DatasetTraining, records[1].DatasetLabel)
	})

	t.Run("ArityMismatch", func(t *testing.T) {
		_, err := AddRequest{
			Vectors:          [][]float32{{1}, {2}},
			InferenceClasses: []string{"cat", "dog", "bird"},
		}.expand()

		var mismatch *ArityMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "vectors", mismatch.Field)
		assert.Equal(t, 3, mismatch.Expected)
		assert.Equal(t, 2, mismatch.Actual)
	})

	t.Run("ArityMismatchNamesShortColumn", func(t *testing.T) {
		_, err := AddRequest{
			Vectors:       [][]float32{{1}, {2}, {3}},
			DatasetLabels: []model.DatasetLabel{model.DatasetTraining, model.DatasetInference},
		}.expand()

		var mismatch *ArityMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "dataset_labels", mismatch.Field)
		assert.Equal(t, 3, mismatch.Expected)
		assert.Equal(t, 2, mismatch.Actual)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := AddRequest{}.expand()
		assert.ErrorContains(t, err, "empty")
	})
}
