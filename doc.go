// Package embedspace provides an embedded coordination layer for ML
// embedding stores.
//
// Embedspace keeps a metadata store and a rebuild-oriented ANN index
// consistent per namespace and derives the artifacts an embedding-ops
// workflow needs:
//
//   - Metadata stores: in-memory and SQLite (modernc.org/sqlite)
//   - ANN indexes: exact (brute force, compressed snapshots) and Annoy
//   - Filtered nearest-neighbor queries; records outside the filter are
//     never returned, even when closer in embedding space
//   - Mahalanobis drift scoring per predicted class (gonum)
//   - 2-D PCA projections for dataset maps
//   - Active-learning sampling: activation uncertainty, boundary
//     uncertainty, cluster outliers, random
//   - Background analysis jobs with bounded retries
//   - Quota and rate admission guards
//
// The index never updates synchronously: Add writes to the store only,
// and an explicit BuildIndex rebuilds the namespace's index from a full
// store snapshot. Delete prunes deleted uuids from the index in between
// rebuilds, so queries never return deleted records.
//
// # Quick Start
//
// Create an instance over an in-memory store and an exact index:
//
//	ctx := context.Background()
//
//	idx, err := exact.New()
//	if err != nil {
//		panic(err)
//	}
//
//	es, err := embedspace.New(store.NewMemory(), idx)
//	if err != nil {
//		panic(err)
//	}
//	defer es.Close()
//
// Add records column-wise; single-entry columns broadcast:
//
//	ids, err := es.Add(ctx, "prod", embedspace.AddRequest{
//	    Vectors:          [][]float32{{0.1, 0.9}, {0.8, 0.2}},
//	    InferenceClasses: []string{"cat", "dog"},
//	    DatasetLabels:    []model.DatasetLabel{model.DatasetInference},
//	})
//
// Build the index and query with a metadata filter:
//
//	if err := es.BuildIndex(ctx, "prod"); err != nil {
//	    panic(err)
//	}
//
//	neighbors, err := es.Query(ctx, "prod", embedspace.QueryRequest{
//	    Vector: []float32{0.1, 0.8},
//	    K:      5,
//	    Where:  store.Where{InferenceClass: "cat"},
//	})
//
// Score drift and recompute the projection in the background:
//
//	job, err := es.RunAnalysis(ctx, "prod")
//	if err != nil {
//	    panic(err)
//	}
//	if err := job.Wait(ctx); err != nil {
//	    panic(err)
//	}
//
//	stats, _ := es.ClassStats(ctx, "prod")
//	points, _ := es.Projection(ctx, "prod")
//
// Pick records worth labeling next:
//
//	result, err := es.Sample(ctx, sampler.Request{
//	    Namespace: "prod",
//	    TotalN:    10,
//	    Strategies: map[model.Strategy]float64{
//	        model.StrategyActivationUncertainty:  0.5,
//	        model.StrategyClusterOutlier:         0.3,
//	        model.StrategyRandom:                 0.2,
//	    },
//	})
//
// For file-driven setup see Config, LoadConfig and Open.
package embedspace
