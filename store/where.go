package store

import (
	"github.com/hupe1980/embedspace/model"
)

// Where is an equality filter over record labels. The zero value matches
// every record.
type Where struct {
	// InferenceClass matches records the model predicted as this class.
	InferenceClass string
	// GroundTruthLabel matches records with this known class.
	GroundTruthLabel string
	// DatasetLabel matches records of this partition.
	DatasetLabel model.DatasetLabel
	// Scored, when set, matches records that have (true) or lack (false) a
	// drift score.
	Scored *bool
}

// IsZero reports whether the filter matches everything.
func (w Where) IsZero() bool {
	return w.InferenceClass == "" && w.GroundTruthLabel == "" && w.DatasetLabel == "" && w.Scored == nil
}

// Matches reports whether r satisfies the filter.
func (w Where) Matches(r model.EmbeddingRecord) bool {
	if w.InferenceClass != "" && r.InferenceClass != w.InferenceClass {
		return false
	}
	if w.GroundTruthLabel != "" && r.GroundTruthLabel != w.GroundTruthLabel {
		return false
	}
	if w.DatasetLabel != "" && r.DatasetLabel != w.DatasetLabel {
		return false
	}
	if w.Scored != nil {
		scored := r.Derived.DistanceScore != nil
		if scored != *w.Scored {
			return false
		}
	}
	return true
}
