// Package database provides SQLite-based run history for proxyprobe.
//
// Each completed (or cancelled) check is stored as a run row with its
// counters, failure reasons and a digest of the input list, plus the
// working proxies in the order they were confirmed. The history command
// reads it back to list runs, export a run's working list and diff two runs.
//
// Design decision: We use SQLite (via modernc.org/sqlite) because the
// database is a single file under the XDG data directory and the pure-Go
// driver keeps the binary CGO-free.
package database
