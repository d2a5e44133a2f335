// Package engine coordinates the metadata store, the ANN index and the
// artifact store of one deployment. The coordinator owns namespace
// registration and the per-namespace locks that keep structural operations
// (reset, index build, whole-namespace delete) exclusive, and it
// orchestrates filtered nearest-neighbor queries across store and index.
//
// The index is rebuild oriented: Add never touches it, Delete prunes
// deleted uuids from it, and BuildIndex replaces it from a full store
// snapshot. Between builds the store copy of every record is
// authoritative.
package engine
