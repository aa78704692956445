package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/corpix/uarand"
	"github.com/nao1215/proxyprobe/internal/model"
	"golang.org/x/net/proxy"
)

// Supported proxy schemes.
const (
	// SchemeHTTP treats candidates as HTTP forward proxies.
	SchemeHTTP = "http"

	// SchemeSOCKS5 treats candidates as SOCKS5 proxies without authentication.
	SchemeSOCKS5 = "socks5"
)

// Config holds the settings for a single probe.
type Config struct {
	// ConnectTimeout bounds establishing the connection to the candidate.
	ConnectTimeout time.Duration

	// TotalTimeout bounds the whole exchange, from dial to the last body byte.
	TotalTimeout time.Duration

	// TargetURL is fetched through the candidate.
	TargetURL string

	// UserAgent is sent with every request unless RandomUserAgent is set.
	UserAgent string

	// RandomUserAgent picks a different browser User-Agent for every probe.
	RandomUserAgent bool

	// Headers are extra request headers. A "User-Agent" entry here is
	// overridden by UserAgent or RandomUserAgent.
	Headers map[string]string

	// Scheme is SchemeHTTP or SchemeSOCKS5. Empty means SchemeHTTP.
	Scheme string

	// MaxBodySize limits how much of the response body is read.
	// Zero or negative disables reading the body beyond the headers.
	MaxBodySize int64
}

// Prober checks candidates against a fixed configuration.
// It holds no per-candidate state and is safe for concurrent use.
type Prober struct {
	cfg    Config
	target string
	logger *slog.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the logger used for debug output and recovered panics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// New validates cfg and returns a Prober.
func New(cfg Config, opts ...Option) (*Prober, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = SchemeHTTP
	}
	if cfg.Scheme != SchemeHTTP && cfg.Scheme != SchemeSOCKS5 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, cfg.Scheme)
	}

	if cfg.ConnectTimeout <= 0 || cfg.TotalTimeout <= 0 || cfg.ConnectTimeout > cfg.TotalTimeout {
		return nil, ErrInvalidTimeout
	}

	target, err := url.Parse(cfg.TargetURL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTargetURL, cfg.TargetURL)
	}

	p := &Prober{
		cfg:    cfg,
		target: target.String(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p, nil
}

// Timeout returns the total timeout of a single probe.
func (p *Prober) Timeout() time.Duration {
	return p.cfg.TotalTimeout
}

// Probe checks one candidate and returns its verdict.
// It never panics and never returns a Working result without an HTTP 200.
func (p *Prober) Probe(ctx context.Context, c model.Candidate) (result model.ProbeResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("probe panicked", "candidate", c.String(), "panic", r)
			result = model.Failed(c, model.ReasonInternal)
		}
		result.Latency = time.Since(start)
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.TotalTimeout)
	defer cancel()

	transport, err := p.newTransport(c)
	if err != nil {
		p.logger.Debug("failed to build transport", "candidate", c.String(), "error", err)
		return model.Failed(c, model.ReasonInternal)
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		// A redirect would mean a second request; the first response decides.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target, nil)
	if err != nil {
		return model.Failed(c, model.ReasonInternal)
	}
	req.Close = true
	p.setHeaders(req)

	resp, err := client.Do(req)
	if err != nil {
		reason := classify(ctx, err)
		p.logger.Debug("probe failed", "candidate", c.String(), "reason", reason.String(), "error", err)
		return model.Failed(c, reason)
	}
	defer resp.Body.Close()

	if p.cfg.MaxBodySize > 0 {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, p.cfg.MaxBodySize)); err != nil {
			reason := classify(ctx, err)
			if reason == model.ReasonNone {
				reason = model.ReasonProtocol
			}
			p.logger.Debug("incomplete response body", "candidate", c.String(), "reason", reason.String(), "error", err)
			result = model.Failed(c, reason)
			result.StatusCode = resp.StatusCode
			return result
		}
	}

	if resp.StatusCode != http.StatusOK {
		result = model.Failed(c, model.ReasonBadStatus)
		result.StatusCode = resp.StatusCode
		return result
	}

	return model.ProbeResult{
		Candidate:  c,
		Outcome:    model.OutcomeWorking,
		Reason:     model.ReasonNone,
		StatusCode: resp.StatusCode,
	}
}

// newTransport builds a single-use transport routed through c.
func (p *Prober) newTransport(c model.Candidate) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: p.cfg.ConnectTimeout}

	transport := &http.Transport{
		DialContext: dialer.DialContext,
		// Probes check reachability, not the target's certificate chain.
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // Only the status code is trusted
		},
		TLSHandshakeTimeout: p.cfg.ConnectTimeout,
		DisableKeepAlives:   true,
		DisableCompression:  true,
		MaxConnsPerHost:     1,
	}

	switch p.cfg.Scheme {
	case SchemeSOCKS5:
		d, err := proxy.SOCKS5("tcp", c.String(), nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	default:
		proxyURL, err := url.Parse(c.URL(SchemeHTTP))
		if err != nil {
			return nil, fmt.Errorf("failed to parse proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return transport, nil
}

// setHeaders applies configured headers and the User-Agent to req.
func (p *Prober) setHeaders(req *http.Request) {
	for key, value := range p.cfg.Headers {
		req.Header.Set(key, value)
	}

	switch {
	case p.cfg.RandomUserAgent:
		req.Header.Set("User-Agent", uarand.GetRandom())
	case p.cfg.UserAgent != "":
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
}
