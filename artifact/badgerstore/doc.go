// Package badgerstore persists derived artifacts in BadgerDB so class
// statistics, projections, and generation counters survive restarts.
package badgerstore
