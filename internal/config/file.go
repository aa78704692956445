package config

import "time"

// ProbeSection holds probe settings read from the configuration file.
// Zero values mean "not set" and leave the current setting untouched.
type ProbeSection struct {
	// TargetURL is fetched through every candidate.
	TargetURL string `yaml:"target_url,omitempty"`

	// ConnectTimeout bounds connecting to a candidate, e.g. "5s".
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`

	// TotalTimeout bounds a whole probe, e.g. "10s".
	TotalTimeout time.Duration `yaml:"total_timeout,omitempty"`

	// UserAgent replaces the default User-Agent.
	UserAgent string `yaml:"user_agent,omitempty"`

	// RandomUserAgent sends a random browser User-Agent per probe.
	RandomUserAgent bool `yaml:"random_user_agent,omitempty"`

	// Headers are merged over the default request headers.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Scheme is "http" or "socks5".
	Scheme string `yaml:"scheme,omitempty"`

	// MaxBodySize is the maximum number of body bytes read.
	MaxBodySize int64 `yaml:"max_body_size,omitempty"`
}

// RunSection holds run-level settings read from the configuration file.
type RunSection struct {
	// Concurrency is the maximum number of probes in flight.
	Concurrency int `yaml:"concurrency,omitempty"`

	// ProgressEvery is the completion cadence for progress snapshots.
	ProgressEvery int `yaml:"progress_every,omitempty"`

	// LaunchRate caps probe launches per second.
	LaunchRate float64 `yaml:"launch_rate,omitempty"`

	// Unique removes duplicate candidates before probing.
	Unique bool `yaml:"unique,omitempty"`
}

// ReportSection holds output settings read from the configuration file.
type ReportSection struct {
	// Language selects number formatting in the text report.
	Language string `yaml:"language,omitempty"`
}

// File represents the structure of the .proxyprobe configuration file.
type File struct {
	Probe  ProbeSection  `yaml:"probe,omitempty"`
	Run    RunSection    `yaml:"run,omitempty"`
	Report ReportSection `yaml:"report,omitempty"`
}

// Apply copies every value set in the file onto cfg.
// Headers are merged so that the file can add headers without repeating the
// defaults; a header with an empty value removes it.
func (f *File) Apply(cfg *Config) {
	p := f.Probe
	if p.TargetURL != "" {
		cfg.TargetURL = p.TargetURL
	}
	if p.ConnectTimeout != 0 {
		cfg.ConnectTimeout = p.ConnectTimeout
	}
	if p.TotalTimeout != 0 {
		cfg.TotalTimeout = p.TotalTimeout
	}
	if p.UserAgent != "" {
		cfg.UserAgent = p.UserAgent
	}
	if p.RandomUserAgent {
		cfg.RandomUserAgent = true
	}
	if len(p.Headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		for k, v := range p.Headers {
			if v == "" {
				delete(cfg.Headers, k)
				continue
			}
			cfg.Headers[k] = v
		}
	}
	if p.Scheme != "" {
		cfg.Scheme = p.Scheme
	}
	if p.MaxBodySize != 0 {
		cfg.MaxBodySize = p.MaxBodySize
	}

	r := f.Run
	if r.Concurrency != 0 {
		cfg.Concurrency = r.Concurrency
	}
	if r.ProgressEvery != 0 {
		cfg.ProgressEvery = r.ProgressEvery
	}
	if r.LaunchRate != 0 {
		cfg.LaunchRate = r.LaunchRate
	}
	if r.Unique {
		cfg.Unique = true
	}

	if f.Report.Language != "" {
		cfg.Language = f.Report.Language
	}
}
