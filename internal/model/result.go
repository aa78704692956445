package model

import (
	"encoding/json"
	"time"
)

// Outcome is the binary verdict of a probe.
type Outcome int

const (
	// OutcomeFailed means the candidate could not forward a request successfully.
	// It is the zero value so that an unset result is never mistaken for a success.
	OutcomeFailed Outcome = iota

	// OutcomeWorking means the candidate returned HTTP 200 for the target URL.
	OutcomeWorking
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	if o == OutcomeWorking {
		return "working"
	}
	return "failed"
}

// MarshalJSON encodes the outcome by name.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// Reason explains why a probe ended the way it did.
// It is diagnostic only; the verdict is carried by Outcome.
type Reason int

const (
	// ReasonNone is used for working candidates.
	ReasonNone Reason = iota

	// ReasonTimeout indicates the connect or total timeout elapsed.
	ReasonTimeout

	// ReasonRefused indicates the candidate actively refused the connection.
	ReasonRefused

	// ReasonUnreachable indicates the candidate host or network was unreachable.
	ReasonUnreachable

	// ReasonTLS indicates the TLS handshake with the target failed through the proxy.
	ReasonTLS

	// ReasonBadStatus indicates a response was received with a status other than 200.
	ReasonBadStatus

	// ReasonProtocol indicates a malformed or truncated response.
	ReasonProtocol

	// ReasonCancelled indicates the probe was cancelled before it completed.
	ReasonCancelled

	// ReasonInternal indicates the probe itself misbehaved (for example a panic).
	ReasonInternal
)

// String returns a short human-readable description of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ok"
	case ReasonTimeout:
		return "timeout"
	case ReasonRefused:
		return "connection refused"
	case ReasonUnreachable:
		return "unreachable"
	case ReasonTLS:
		return "tls failure"
	case ReasonBadStatus:
		return "bad status"
	case ReasonProtocol:
		return "protocol error"
	case ReasonCancelled:
		return "cancelled"
	case ReasonInternal:
		return "internal error"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the reason by name.
func (r Reason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ProbeResult is the verdict for one candidate.
// It is created once by a probe and never mutated afterwards.
type ProbeResult struct {
	// Candidate is the proxy that was probed.
	Candidate Candidate `json:"candidate"`

	// Outcome is the binary verdict.
	Outcome Outcome `json:"outcome"`

	// Reason describes the failure mode; ReasonNone when working.
	Reason Reason `json:"reason"`

	// StatusCode is the HTTP status received, or 0 if no response arrived.
	StatusCode int `json:"status_code,omitempty"`

	// Latency is the time from request start to verdict.
	Latency time.Duration `json:"latency"`
}

// Working reports whether the result is a success.
func (r ProbeResult) Working() bool {
	return r.Outcome == OutcomeWorking
}

// Failed builds a failed result for c.
func Failed(c Candidate, reason Reason) ProbeResult {
	return ProbeResult{Candidate: c, Outcome: OutcomeFailed, Reason: reason}
}
