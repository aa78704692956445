// Package model defines the core data structures used throughout proxyprobe.
//
// This package contains the following main types:
//   - Candidate: A normalized "host:port" proxy address waiting to be probed
//   - ProbeResult: The verdict of one probe against one Candidate
//   - Snapshot: A point-in-time view of run progress
//   - RunSummary: The immutable result of a complete validation run
//
// Design decision: We separate models into their own package to avoid circular
// dependencies. The probe, pipeline, report, and database packages all need
// these types, so centralizing them prevents import cycles.
//
// The models are designed to be serializable to JSON for report output and
// database storage.
package model
