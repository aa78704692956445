package probe

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// testTarget is never resolved: the fake proxy answers on its behalf.
const testTarget = "http://target.invalid/ip"

// testConfig returns a configuration with short timeouts suitable for tests.
func testConfig() Config {
	return Config{
		ConnectTimeout: 500 * time.Millisecond,
		TotalTimeout:   time.Second,
		TargetURL:      testTarget,
		UserAgent:      "proxyprobe-test",
		Headers:        map[string]string{"Accept": "*/*"},
		MaxBodySize:    1024,
	}
}

// candidateFor converts a listener address into a Candidate.
func candidateFor(t *testing.T, addr string) model.Candidate {
	t.Helper()

	c, ok := model.ParseCandidate(addr)
	if !ok {
		t.Fatalf("listener address %q is not a valid candidate", addr)
	}
	return c
}

// newFakeProxy starts an HTTP server that behaves like a forward proxy by
// answering proxied requests itself.
func newFakeProxy(t *testing.T, handler http.HandlerFunc) model.Candidate {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return candidateFor(t, srv.Listener.Addr().String())
}

// newRawServer starts a TCP server that writes reply to every connection and
// then closes it.
func newRawServer(t *testing.T, reply string) model.Candidate {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				buf := make([]byte, 4096)
				_, _ = conn.Read(buf) //nolint:errcheck // request content is irrelevant
				_, _ = io.WriteString(conn, reply)
			}(conn)
		}
	}()

	return candidateFor(t, ln.Addr().String())
}

// newConnectProxy starts a forward proxy that answers CONNECT by tunneling
// to upstream, whatever host the client asked for.
func newConnectProxy(t *testing.T, upstream string) model.Candidate {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		dst, err := net.Dial("tcp", upstream)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			_ = dst.Close()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			_ = dst.Close()
			return
		}
		_, _ = io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")

		go func() {
			_, _ = io.Copy(dst, conn)
			_ = dst.Close()
		}()
		_, _ = io.Copy(conn, dst)
		_ = conn.Close()
	}))
	t.Cleanup(srv.Close)
	return candidateFor(t, srv.Listener.Addr().String())
}

// newSOCKS5Server starts a no-auth SOCKS5 server that accepts every CONNECT
// and answers the tunneled HTTP request itself. The requested destination is
// sent on dest.
func newSOCKS5Server(t *testing.T, dest chan<- string) model.Candidate {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSOCKS5(conn, dest)
		}
	}()

	return candidateFor(t, ln.Addr().String())
}

func serveSOCKS5(conn net.Conn, dest chan<- string) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	br := bufio.NewReader(conn)

	// Greeting: VER NMETHODS METHODS...
	greeting := make([]byte, 2)
	if _, err := io.ReadFull(br, greeting); err != nil || greeting[0] != 5 {
		return
	}
	if _, err := io.ReadFull(br, make([]byte, greeting[1])); err != nil {
		return
	}
	if _, err := conn.Write([]byte{5, 0}); err != nil {
		return
	}

	// Request: VER CMD RSV ATYP DST.ADDR DST.PORT
	head := make([]byte, 4)
	if _, err := io.ReadFull(br, head); err != nil || head[1] != 1 {
		return
	}
	var host string
	switch head[3] {
	case 1, 4:
		size := net.IPv4len
		if head[3] == 4 {
			size = net.IPv6len
		}
		addr := make([]byte, size)
		if _, err := io.ReadFull(br, addr); err != nil {
			return
		}
		host = net.IP(addr).String()
	case 3:
		n, err := br.ReadByte()
		if err != nil {
			return
		}
		name := make([]byte, n)
		if _, err := io.ReadFull(br, name); err != nil {
			return
		}
		host = string(name)
	default:
		return
	}
	port := make([]byte, 2)
	if _, err := io.ReadFull(br, port); err != nil {
		return
	}
	select {
	case dest <- net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port)))):
	default:
	}
	if _, err := conn.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}

	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	_ = req.Body.Close()

	body := `{"origin":"1.2.3.4"}`
	_, _ = fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "valid socks5 config", mutate: func(c *Config) { c.Scheme = SchemeSOCKS5 }},
		{name: "https target", mutate: func(c *Config) { c.TargetURL = "https://example.com/" }},
		{name: "unsupported scheme", mutate: func(c *Config) { c.Scheme = "socks4" }, wantErr: ErrUnsupportedScheme},
		{name: "relative target", mutate: func(c *Config) { c.TargetURL = "/ip" }, wantErr: ErrInvalidTargetURL},
		{name: "ftp target", mutate: func(c *Config) { c.TargetURL = "ftp://example.com/" }, wantErr: ErrInvalidTargetURL},
		{name: "zero total timeout", mutate: func(c *Config) { c.TotalTimeout = 0 }, wantErr: ErrInvalidTimeout},
		{name: "zero connect timeout", mutate: func(c *Config) { c.ConnectTimeout = 0 }, wantErr: ErrInvalidTimeout},
		{name: "connect exceeds total", mutate: func(c *Config) { c.ConnectTimeout = 2 * time.Second }, wantErr: ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			tt.mutate(&cfg)

			p, err := New(cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Timeout() != cfg.TotalTimeout {
				t.Errorf("Timeout() = %v, want %v", p.Timeout(), cfg.TotalTimeout)
			}
		})
	}
}

func TestProberProbe(t *testing.T) {
	t.Parallel()

	t.Run("working proxy returns 200", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		var gotHost, gotUA, gotAccept string
		c := newFakeProxy(t, func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			gotHost = r.URL.Host
			gotUA = r.Header.Get("User-Agent")
			gotAccept = r.Header.Get("Accept")
			mu.Unlock()
			_, _ = io.WriteString(w, `{"origin":"1.2.3.4"}`)
		})

		p, err := New(testConfig())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		result := p.Probe(context.Background(), c)
		if !result.Working() {
			t.Fatalf("expected working, got %+v", result)
		}
		if result.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", result.StatusCode)
		}
		if result.Candidate != c {
			t.Errorf("expected candidate %q, got %q", c, result.Candidate)
		}

		mu.Lock()
		defer mu.Unlock()
		if gotHost != "target.invalid" {
			t.Errorf("proxy saw host %q, want target.invalid", gotHost)
		}
		if gotUA != "proxyprobe-test" {
			t.Errorf("proxy saw User-Agent %q", gotUA)
		}
		if gotAccept != "*/*" {
			t.Errorf("proxy saw Accept %q", gotAccept)
		}
	})

	t.Run("non-200 status fails", func(t *testing.T) {
		t.Parallel()

		c := newFakeProxy(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusProxyAuthRequired)
		})

		p, _ := New(testConfig()) //nolint:errcheck // config is valid
		result := p.Probe(context.Background(), c)
		if result.Working() {
			t.Fatal("expected failure for 407")
		}
		if result.Reason != model.ReasonBadStatus {
			t.Errorf("expected bad status, got %s", result.Reason)
		}
		if result.StatusCode != http.StatusProxyAuthRequired {
			t.Errorf("expected status 407, got %d", result.StatusCode)
		}
	})

	t.Run("redirect is not followed", func(t *testing.T) {
		t.Parallel()

		c := newFakeProxy(t, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "http://elsewhere.invalid/", http.StatusFound)
		})

		p, _ := New(testConfig()) //nolint:errcheck // config is valid
		result := p.Probe(context.Background(), c)
		if result.Working() {
			t.Fatal("expected failure for redirect")
		}
		if result.StatusCode != http.StatusFound {
			t.Errorf("expected status 302, got %d", result.StatusCode)
		}
	})

	t.Run("slow proxy times out", func(t *testing.T) {
		t.Parallel()

		c := newFakeProxy(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			w.WriteHeader(http.StatusOK)
		})

		cfg := testConfig()
		cfg.ConnectTimeout = 50 * time.Millisecond
		cfg.TotalTimeout = 150 * time.Millisecond
		p, _ := New(cfg) //nolint:errcheck // config is valid

		start := time.Now()
		result := p.Probe(context.Background(), c)
		if result.Working() {
			t.Fatal("expected timeout failure")
		}
		if result.Reason != model.ReasonTimeout {
			t.Errorf("expected timeout reason, got %s", result.Reason)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("probe ignored total timeout, took %v", elapsed)
		}
	})

	t.Run("closed port fails", func(t *testing.T) {
		t.Parallel()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		c := candidateFor(t, ln.Addr().String())
		_ = ln.Close()

		p, _ := New(testConfig()) //nolint:errcheck // config is valid
		result := p.Probe(context.Background(), c)
		if result.Working() {
			t.Fatal("expected failure for closed port")
		}
	})

	t.Run("truncated body fails", func(t *testing.T) {
		t.Parallel()

		c := newRawServer(t, "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nshort")

		p, _ := New(testConfig()) //nolint:errcheck // config is valid
		result := p.Probe(context.Background(), c)
		if result.Working() {
			t.Fatal("expected failure for truncated body")
		}
		if result.Reason != model.ReasonProtocol {
			t.Errorf("expected protocol reason, got %s", result.Reason)
		}
	})

	t.Run("garbage response fails", func(t *testing.T) {
		t.Parallel()

		c := newRawServer(t, "SSH-2.0-OpenSSH_9.6\r\n")

		p, _ := New(testConfig()) //nolint:errcheck // config is valid
		result := p.Probe(context.Background(), c)
		if result.Working() {
			t.Fatal("expected failure for non-HTTP response")
		}
	})

	t.Run("http server is not a socks5 proxy", func(t *testing.T) {
		t.Parallel()

		c := newFakeProxy(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		cfg := testConfig()
		cfg.Scheme = SchemeSOCKS5
		p, _ := New(cfg) //nolint:errcheck // config is valid
		result := p.Probe(context.Background(), c)
		if result.Working() {
			t.Fatal("expected failure when HTTP server is probed as SOCKS5")
		}
	})

	t.Run("https target through CONNECT tunnel", func(t *testing.T) {
		t.Parallel()

		upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"origin":"1.2.3.4"}`)
		}))
		t.Cleanup(upstream.Close)
		c := newConnectProxy(t, upstream.Listener.Addr().String())

		cfg := testConfig()
		cfg.TargetURL = "https://target.invalid/ip"
		p, _ := New(cfg) //nolint:errcheck // config is valid
		result := p.Probe(context.Background(), c)
		if !result.Working() {
			t.Fatalf("expected working, got %+v", result)
		}
		if result.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", result.StatusCode)
		}
	})

	t.Run("tls handshake with plain server fails as tls failure", func(t *testing.T) {
		t.Parallel()

		upstream := newRawServer(t, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n")
		c := newConnectProxy(t, upstream.String())

		cfg := testConfig()
		cfg.TargetURL = "https://target.invalid/ip"
		p, _ := New(cfg) //nolint:errcheck // config is valid
		result := p.Probe(context.Background(), c)
		if result.Working() {
			t.Fatal("expected failure when the tunnel ends at a plaintext server")
		}
		if result.Reason != model.ReasonTLS {
			t.Errorf("expected tls failure, got %s", result.Reason)
		}
	})

	t.Run("socks5 proxy returns 200", func(t *testing.T) {
		t.Parallel()

		dest := make(chan string, 1)
		c := newSOCKS5Server(t, dest)

		cfg := testConfig()
		cfg.Scheme = SchemeSOCKS5
		p, _ := New(cfg) //nolint:errcheck // config is valid
		result := p.Probe(context.Background(), c)
		if !result.Working() {
			t.Fatalf("expected working, got %+v", result)
		}

		select {
		case got := <-dest:
			if got != "target.invalid:80" {
				t.Errorf("socks5 server was asked for %q, want target.invalid:80", got)
			}
		default:
			t.Error("socks5 server never received a CONNECT request")
		}
	})

	t.Run("cancelled context fails as cancelled", func(t *testing.T) {
		t.Parallel()

		c := newFakeProxy(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p, _ := New(testConfig()) //nolint:errcheck // config is valid
		result := p.Probe(ctx, c)
		if result.Working() {
			t.Fatal("expected failure for cancelled context")
		}
		if result.Reason != model.ReasonCancelled {
			t.Errorf("expected cancelled reason, got %s", result.Reason)
		}
	})

	t.Run("random user agent is sent", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		var gotUA string
		c := newFakeProxy(t, func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			gotUA = r.Header.Get("User-Agent")
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		})

		cfg := testConfig()
		cfg.RandomUserAgent = true
		p, _ := New(cfg) //nolint:errcheck // config is valid
		if result := p.Probe(context.Background(), c); !result.Working() {
			t.Fatalf("expected working, got %+v", result)
		}

		mu.Lock()
		defer mu.Unlock()
		if gotUA == "" || gotUA == "proxyprobe-test" || strings.HasPrefix(gotUA, "Go-http-client") {
			t.Errorf("expected a random browser User-Agent, got %q", gotUA)
		}
	})
}

func TestClassify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want model.Reason
	}{
		{name: "nil error", ctx: ctx, err: nil, want: model.ReasonNone},
		{name: "deadline", ctx: ctx, err: context.DeadlineExceeded, want: model.ReasonTimeout},
		{name: "cancelled parent", ctx: cancelled, err: errors.New("boom"), want: model.ReasonCancelled},
		{name: "refused", ctx: ctx, err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, want: model.ReasonRefused},
		{name: "record header", ctx: ctx, err: tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}, want: model.ReasonTLS},
		{name: "plaintext answer to https", ctx: ctx, err: &url.Error{Op: "Get", URL: "https://target.invalid/", Err: http.ErrSchemeMismatch}, want: model.ReasonTLS},
		{name: "alert", ctx: ctx, err: tls.AlertError(40), want: model.ReasonTLS},
		{name: "remote alert", ctx: ctx, err: &net.OpError{Op: "remote error", Err: errors.New("tls: handshake failure")}, want: model.ReasonTLS},
		{name: "certificate", ctx: ctx, err: &tls.CertificateVerificationError{Err: errors.New("unknown authority")}, want: model.ReasonTLS},
		{name: "tls text without type", ctx: ctx, err: errors.New("tls: something"), want: model.ReasonProtocol},
		{name: "unknown error", ctx: ctx, err: io.ErrUnexpectedEOF, want: model.ReasonProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := classify(tt.ctx, tt.err); got != tt.want {
				t.Errorf("classify() = %s, want %s", got, tt.want)
			}
		})
	}
}
