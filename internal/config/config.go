package config

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"golang.org/x/text/language"
)

// Default configuration values.
// Timeouts, target and headers match what proxy checkers in the wild use so
// that verdicts are comparable with other tools.
const (
	// DefaultConcurrency of 100 keeps a list of a few thousand proxies under a
	// couple of minutes without exhausting file descriptors on a default
	// Linux ulimit of 1024.
	DefaultConcurrency = 100

	// DefaultConnectTimeout bounds the TCP (and TLS) handshake with a candidate.
	// Public proxies that cannot accept a connection in 5 seconds are not
	// worth keeping.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultTotalTimeout bounds a whole probe, from dial to the last byte.
	DefaultTotalTimeout = 10 * time.Second

	// DefaultTargetURL is a small endpoint that echoes the caller's IP.
	DefaultTargetURL = "http://httpbin.org/ip"

	// DefaultUserAgent mimics a desktop browser; many open proxies block
	// obvious tool signatures.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// DefaultScheme probes candidates as HTTP forward proxies.
	DefaultScheme = "http"

	// DefaultProgressEvery emits a progress snapshot every 10 completions.
	DefaultProgressEvery = 10

	// DefaultMaxBodySize limits how much of the target's response is read.
	// 1MB is far above what an IP echo endpoint returns.
	DefaultMaxBodySize = 1024 * 1024

	// DefaultLanguage formats numbers in the text report with English
	// thousands separators.
	DefaultLanguage = "en"

	// AppName is the application name used for XDG directory paths.
	AppName = "proxyprobe"
)

// DefaultHeaders returns the headers sent with every probe request.
// A new map is returned on every call so callers may modify it.
func DefaultHeaders() map[string]string {
	return map[string]string{
		"Accept":     "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Connection": "close",
	}
}

// Config holds all configuration options for proxyprobe.
// This struct is populated from the configuration file and CLI flags and is
// passed through the application via dependency injection rather than
// global state.
//
// Design decision: We use a single flat struct instead of nested structs.
// The number of options is manageable and the CLI maps onto it one to one.
type Config struct {
	// Inputs are the candidate sources. "-" reads from stdin.
	Inputs []string

	// Concurrency is the maximum number of probes in flight.
	Concurrency int

	// ConnectTimeout bounds establishing the connection to a candidate.
	ConnectTimeout time.Duration

	// TotalTimeout bounds a whole probe.
	TotalTimeout time.Duration

	// TargetURL is fetched through every candidate.
	TargetURL string

	// UserAgent is the User-Agent header sent with probe requests.
	UserAgent string

	// RandomUserAgent sends a different browser User-Agent with every probe.
	RandomUserAgent bool

	// Headers are extra request headers sent with every probe.
	Headers map[string]string

	// Scheme is the proxy protocol spoken to candidates: "http" or "socks5".
	Scheme string

	// MaxBodySize is the maximum response body size in bytes to read.
	MaxBodySize int64

	// ProgressEvery is the completion cadence for progress snapshots.
	ProgressEvery int

	// LaunchRate caps probe launches per second. Zero disables pacing.
	LaunchRate float64

	// Unique removes duplicate candidates before probing.
	Unique bool

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .proxyprobe in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// JSONReport outputs the final summary as JSON.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport outputs the final summary as GitHub Flavored Markdown.
	// Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the report.
	// When empty, the report is written to stdout.
	ReportFile string

	// ListWorking includes the working proxies in the text report.
	ListWorking bool

	// Language is a BCP 47 tag selecting number formatting in the text
	// report, e.g. "en" or "de".
	Language string

	// WorkingFile receives the newline-separated working proxies after the run.
	// If it names an existing directory, a timestamped file is created inside.
	WorkingFile string

	// StreamFile receives each working proxy as soon as it is confirmed.
	StreamFile string

	// DBDir is the directory path for storing the SQLite run history.
	DBDir string

	// SaveToDB indicates whether to save the run summary to the database.
	SaveToDB bool

	// Verbose enables detailed log output using slog.LevelDebug.
	Verbose bool

	// NoProgress disables the live progress bar.
	NoProgress bool
}

// NewConfig creates a new Config with default values.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero (e.g., timeouts,
// concurrency). This also serves as documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		Concurrency:    DefaultConcurrency,
		ConnectTimeout: DefaultConnectTimeout,
		TotalTimeout:   DefaultTotalTimeout,
		TargetURL:      DefaultTargetURL,
		UserAgent:      DefaultUserAgent,
		Headers:        DefaultHeaders(),
		Scheme:         DefaultScheme,
		MaxBodySize:    DefaultMaxBodySize,
		ProgressEvery:  DefaultProgressEvery,
		Language:       DefaultLanguage,
	}
}

// XDGDataDir returns the XDG data directory for proxyprobe.
// On Linux: ~/.local/share/proxyprobe
// On macOS: ~/Library/Application Support/proxyprobe
// On Windows: %LOCALAPPDATA%\proxyprobe
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for proxyprobe.
// On Linux: ~/.config/proxyprobe
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast before any candidate is probed. We return the
// first error found because fixing one error often makes others irrelevant.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return ErrNoInput
	}

	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.ConnectTimeout <= 0 || c.TotalTimeout <= 0 || c.ConnectTimeout > c.TotalTimeout {
		return ErrInvalidTimeout
	}

	target, err := url.Parse(c.TargetURL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return ErrInvalidTargetURL
	}

	if c.Scheme != "http" && c.Scheme != "socks5" {
		return ErrUnsupportedScheme
	}

	if c.ProgressEvery <= 0 {
		return ErrInvalidProgressEvery
	}

	if c.LaunchRate < 0 {
		return ErrInvalidLaunchRate
	}

	if c.MaxBodySize < 0 {
		return ErrInvalidMaxBodySize
	}

	if _, err := language.Parse(c.Language); err != nil {
		return ErrInvalidLanguage
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	return nil
}
