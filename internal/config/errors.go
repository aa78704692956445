package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoInput is returned when no candidate source is specified.
	ErrNoInput = errors.New("no input specified: provide one or more proxy list files, or - for stdin")

	// ErrInvalidConcurrency is returned when the concurrency limit is not positive.
	// A limit of zero would mean no probe could ever start.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidTimeout is returned when a timeout is not positive or the
	// connect timeout is longer than the total timeout.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive and connect timeout must not exceed total timeout")

	// ErrInvalidTargetURL is returned when the target URL is not an absolute
	// http or https URL.
	ErrInvalidTargetURL = errors.New("invalid target URL: must be an absolute http or https URL")

	// ErrUnsupportedScheme is returned for proxy schemes other than http and socks5.
	ErrUnsupportedScheme = errors.New("unsupported proxy scheme: must be http or socks5")

	// ErrInvalidProgressEvery is returned when the progress cadence is not positive.
	ErrInvalidProgressEvery = errors.New("invalid progress cadence: must be positive")

	// ErrInvalidLaunchRate is returned when the launch rate is negative.
	// Use 0 to disable pacing.
	ErrInvalidLaunchRate = errors.New("invalid launch rate: must be non-negative")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrInvalidLanguage is returned when the report language is not a
	// valid BCP 47 tag.
	ErrInvalidLanguage = errors.New("invalid language: must be a BCP 47 tag such as en or de")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
