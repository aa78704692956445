// Package probe performs the network check that decides whether a single
// candidate proxy is usable.
//
// A probe opens one connection through the candidate, acting as an HTTP
// forward proxy (or a SOCKS5 proxy when configured), issues one GET request
// to the target URL and classifies the candidate as Working only if an HTTP
// 200 response arrives within the total timeout. Every other outcome,
// including panics inside the probe, is reported as Failed together with a
// diagnostic Reason. Probe never returns an error for a bad candidate; errors
// are reserved for invalid configuration, which New rejects up front.
//
// Each probe builds its own http.Transport with keep-alives disabled, so no
// connection is ever shared between two candidates.
package probe
