// Package pipeline runs a validation pass over a set of candidate proxies.
//
// A run is made of four cooperating parts:
//   - scheduler: launches probes with a fixed upper bound on in-flight work
//   - aggregator: keeps the tested/working/failed counters and decides when a
//     progress snapshot is emitted
//   - collector: records working candidates in completion order and notifies
//     the success callback
//   - Runner: wires the parts together and returns the final RunSummary
//
// Design decision: The aggregator and collector share a single mutex owned by
// the run state, so every probe result is applied as one critical section.
// Callbacks are invoked while that mutex is held, which means callers never
// observe two callbacks running at once and snapshots are delivered in
// monotonically increasing order. Callbacks must therefore be quick; a slow
// callback slows result recording but never the probes themselves.
//
// Concurrency is bounded with errgroup.SetLimit, the same primitive used for
// every fan-out in this module.
package pipeline
