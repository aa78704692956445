package probe

import "errors"

// Configuration errors returned by New.
// A Prober is never constructed from an invalid configuration, so Probe
// itself has no error return.
var (
	// ErrInvalidTargetURL is returned when the target URL is not an absolute
	// http or https URL.
	ErrInvalidTargetURL = errors.New("invalid target URL: must be an absolute http or https URL")

	// ErrUnsupportedScheme is returned when the proxy scheme is neither
	// "http" nor "socks5".
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme: must be http or socks5")

	// ErrInvalidTimeout is returned when a timeout is not positive or the
	// connect timeout exceeds the total timeout.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive and connect timeout must not exceed total timeout")
)
