package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/nao1215/proxyprobe/internal/model"
)

// classify maps a transport error to a failure reason.
// The order matters: context errors are checked before the generic
// net.Error timeout because a cancelled parent also surfaces as a timeout
// on some platforms.
func classify(ctx context.Context, err error) model.Reason {
	if err == nil {
		return model.ReasonNone
	}

	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return model.ReasonCancelled
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ETIMEDOUT) {
		return model.ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ReasonTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return model.ReasonRefused
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return model.ReasonUnreachable
	}

	if isTLSError(err) {
		return model.ReasonTLS
	}

	return model.ReasonProtocol
}

// isTLSError reports whether err came from TLS negotiation. A plaintext
// answer to a ClientHello surfaces as http.ErrSchemeMismatch, which net/http
// substitutes for the underlying tls.RecordHeaderError.
func isTLSError(err error) bool {
	if errors.Is(err, http.ErrSchemeMismatch) {
		return true
	}

	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &recordErr) || errors.As(err, &alertErr) || errors.As(err, &certErr) {
		return true
	}

	// Alerts received from the peer are wrapped in a net.OpError.
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "remote error"
}
