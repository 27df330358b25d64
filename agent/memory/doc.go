// Package memory implements the per-agent memory triad: a bounded
// conversation log, an associative vector store, and a working-memory
// scratchpad. Each sub-store is guarded by its own lock; operations on the
// same agent serialize per sub-store while different agents stay independent.
package memory
