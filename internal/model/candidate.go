package model

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// ipv4Octets is the number of dot-separated octets in an IPv4 address.
	ipv4Octets = 4

	// maxOctet is the largest value an IPv4 octet may hold.
	maxOctet = 255

	// maxPort is the largest TCP port number.
	maxPort = 65535

	// maxLineSize bounds a single input line. Proxy lists are line oriented and
	// a line longer than this is certainly not a proxy.
	maxLineSize = 64 * 1024
)

// Candidate is a proxy address in canonical "a.b.c.d:port" form.
// Values are only produced by ParseCandidate, so a Candidate always
// holds a well-formed IPv4 address and a port in [1,65535].
type Candidate string

// String returns the candidate as "host:port".
func (c Candidate) String() string {
	return string(c)
}

// URL returns the proxy URL for the given scheme, e.g. "http://1.2.3.4:8080".
func (c Candidate) URL(scheme string) string {
	return scheme + "://" + string(c)
}

// ParseCandidate normalizes one raw input line into a Candidate.
//
// The line is trimmed and split on ':'. The first part must be a dotted IPv4
// address with every octet in [0,255] and the second part a port in
// [1,65535]. Anything after the port (for example "user:pass" suffixes found
// in scraped lists) is ignored. The boolean result reports whether the line
// was accepted; malformed lines are never an error.
func ParseCandidate(line string) (Candidate, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	parts := strings.Split(line, ":")
	if len(parts) < 2 {
		return "", false
	}

	host, ok := parseIPv4(parts[0])
	if !ok {
		return "", false
	}

	port, ok := parseNumber(parts[1], maxPort)
	if !ok || port < 1 {
		return "", false
	}

	return Candidate(host + ":" + strconv.Itoa(port)), true
}

// ParseLines normalizes raw lines into candidates, silently dropping malformed
// entries. Input order is preserved and duplicates are kept.
func ParseLines(lines []string) []Candidate {
	candidates := make([]Candidate, 0, len(lines))
	for _, line := range lines {
		if c, ok := ParseCandidate(line); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

// ReadCandidates reads newline-separated candidates from r.
// Only a failing reader produces an error; malformed lines are dropped.
func ReadCandidates(r io.Reader) ([]Candidate, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	var candidates []Candidate
	for scanner.Scan() {
		if c, ok := ParseCandidate(scanner.Text()); ok {
			candidates = append(candidates, c)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}
	return candidates, nil
}

// Unique returns candidates with duplicates removed, keeping the first
// occurrence of each. The input slice is not modified.
func Unique(candidates []Candidate) []Candidate {
	seen := make(map[Candidate]struct{}, len(candidates))
	result := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		result = append(result, c)
	}
	return result
}

// parseIPv4 validates a dotted-quad address and returns it in canonical form
// (no leading zeros).
func parseIPv4(s string) (string, bool) {
	octets := strings.Split(s, ".")
	if len(octets) != ipv4Octets {
		return "", false
	}

	canonical := make([]string, ipv4Octets)
	for i, octet := range octets {
		n, ok := parseNumber(octet, maxOctet)
		if !ok {
			return "", false
		}
		canonical[i] = strconv.Itoa(n)
	}
	return strings.Join(canonical, "."), true
}

// parseNumber parses a non-empty run of ASCII digits not exceeding limit.
// We walk the digits by hand rather than calling strconv.Atoi so that signs
// and whitespace are rejected.
func parseNumber(s string, limit int) (int, bool) {
	if s == "" {
		return 0, false
	}

	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > limit {
			return 0, false
		}
	}
	return n, true
}
